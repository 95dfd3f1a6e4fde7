package enums

import "github.com/angelmondragon/forestcarbon-backend/pkg/fsm"

// OwnershipStatus maps to the ownerships.status column.
type OwnershipStatus string

const (
	OwnershipStatusPending     OwnershipStatus = "PENDING"
	OwnershipStatusActive      OwnershipStatus = "ACTIVE"
	OwnershipStatusExpired     OwnershipStatus = "EXPIRED"
	OwnershipStatusTransferred OwnershipStatus = "TRANSFERRED"
	OwnershipStatusTerminated  OwnershipStatus = "TERMINATED"
)

var validOwnershipStatuses = []OwnershipStatus{
	OwnershipStatusPending,
	OwnershipStatusActive,
	OwnershipStatusExpired,
	OwnershipStatusTransferred,
	OwnershipStatusTerminated,
}

// String implements fmt.Stringer.
func (o OwnershipStatus) String() string {
	return string(o)
}

// IsValid reports whether the value matches a known ownership status.
func (o OwnershipStatus) IsValid() bool {
	for _, candidate := range validOwnershipStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

const (
	OwnershipEventActivate  fsm.Event = "activate"
	OwnershipEventExpire    fsm.Event = "expire"
	OwnershipEventTransfer  fsm.Event = "transfer"
	OwnershipEventTerminate fsm.Event = "terminate"
)

var OwnershipMachine = fsm.New("ownership",
	[]OwnershipStatus{OwnershipStatusExpired, OwnershipStatusTransferred, OwnershipStatusTerminated},
	fsm.Rule[OwnershipStatus]{From: []OwnershipStatus{OwnershipStatusPending}, Event: OwnershipEventActivate, To: OwnershipStatusActive},
	fsm.Rule[OwnershipStatus]{From: []OwnershipStatus{OwnershipStatusActive}, Event: OwnershipEventExpire, To: OwnershipStatusExpired},
	fsm.Rule[OwnershipStatus]{From: []OwnershipStatus{OwnershipStatusActive}, Event: OwnershipEventTransfer, To: OwnershipStatusTransferred},
	fsm.Rule[OwnershipStatus]{From: []OwnershipStatus{OwnershipStatusPending, OwnershipStatusActive}, Event: OwnershipEventTerminate, To: OwnershipStatusTerminated},
)

// TransferStatus is shared by ownership and contract transfer requests.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusApproved  TransferStatus = "APPROVED"
	TransferStatusCompleted TransferStatus = "COMPLETED"
	TransferStatusRejected  TransferStatus = "REJECTED"
	TransferStatusCancelled TransferStatus = "CANCELLED"
)

var validTransferStatuses = []TransferStatus{
	TransferStatusPending,
	TransferStatusApproved,
	TransferStatusCompleted,
	TransferStatusRejected,
	TransferStatusCancelled,
}

func (t TransferStatus) String() string {
	return string(t)
}

func (t TransferStatus) IsValid() bool {
	for _, candidate := range validTransferStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

const (
	TransferEventApprove fsm.Event = "approve"
	TransferEventReject  fsm.Event = "reject"
	TransferEventCancel  fsm.Event = "cancel"
)

// OwnershipTransferMachine completes on approval.
var OwnershipTransferMachine = fsm.New("ownership transfer",
	[]TransferStatus{TransferStatusCompleted, TransferStatusRejected, TransferStatusCancelled},
	fsm.Rule[TransferStatus]{From: []TransferStatus{TransferStatusPending}, Event: TransferEventApprove, To: TransferStatusCompleted},
	fsm.Rule[TransferStatus]{From: []TransferStatus{TransferStatusPending}, Event: TransferEventReject, To: TransferStatusRejected},
	fsm.Rule[TransferStatus]{From: []TransferStatus{TransferStatusPending}, Event: TransferEventCancel, To: TransferStatusCancelled},
)

// ContractTransferMachine ends in APPROVED on approval.
var ContractTransferMachine = fsm.New("contract transfer",
	[]TransferStatus{TransferStatusApproved, TransferStatusRejected, TransferStatusCancelled},
	fsm.Rule[TransferStatus]{From: []TransferStatus{TransferStatusPending}, Event: TransferEventApprove, To: TransferStatusApproved},
	fsm.Rule[TransferStatus]{From: []TransferStatus{TransferStatusPending}, Event: TransferEventReject, To: TransferStatusRejected},
	fsm.Rule[TransferStatus]{From: []TransferStatus{TransferStatusPending}, Event: TransferEventCancel, To: TransferStatusCancelled},
)
