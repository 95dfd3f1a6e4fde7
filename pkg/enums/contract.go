package enums

import "github.com/angelmondragon/forestcarbon-backend/pkg/fsm"

// ContractStatus maps to the contracts.status column.
type ContractStatus string

const (
	ContractStatusDraft        ContractStatus = "DRAFT"
	ContractStatusPending      ContractStatus = "PENDING"
	ContractStatusActive       ContractStatus = "ACTIVE"
	ContractStatusExpiringSoon ContractStatus = "EXPIRING_SOON"
	ContractStatusExpired      ContractStatus = "EXPIRED"
	ContractStatusRenewed      ContractStatus = "RENEWED"
	ContractStatusTerminated   ContractStatus = "TERMINATED"
	ContractStatusCancelled    ContractStatus = "CANCELLED"
	ContractStatusCompleted    ContractStatus = "COMPLETED"
)

var validContractStatuses = []ContractStatus{
	ContractStatusDraft,
	ContractStatusPending,
	ContractStatusActive,
	ContractStatusExpiringSoon,
	ContractStatusExpired,
	ContractStatusRenewed,
	ContractStatusTerminated,
	ContractStatusCancelled,
	ContractStatusCompleted,
}

// String implements fmt.Stringer.
func (c ContractStatus) String() string {
	return string(c)
}

// IsValid reports whether the value matches a known contract status.
func (c ContractStatus) IsValid() bool {
	for _, candidate := range validContractStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

const (
	ContractEventSubmit       fsm.Event = "submit"
	ContractEventApprove      fsm.Event = "approve"
	ContractEventReject       fsm.Event = "reject"
	ContractEventCancel       fsm.Event = "cancel"
	ContractEventMarkExpiring fsm.Event = "mark_expiring"
	ContractEventExpire       fsm.Event = "expire"
	ContractEventRenew        fsm.Event = "renew"
	ContractEventComplete     fsm.Event = "complete"
	ContractEventTerminate    fsm.Event = "terminate"
)

// ContractMachine is the contract lifecycle transition table.
var ContractMachine = fsm.New("contract",
	[]ContractStatus{
		ContractStatusExpired,
		ContractStatusRenewed,
		ContractStatusTerminated,
		ContractStatusCancelled,
		ContractStatusCompleted,
	},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusDraft}, Event: ContractEventSubmit, To: ContractStatusPending},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusPending}, Event: ContractEventApprove, To: ContractStatusActive},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusPending}, Event: ContractEventReject, To: ContractStatusDraft},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusDraft, ContractStatusPending}, Event: ContractEventCancel, To: ContractStatusCancelled},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusActive}, Event: ContractEventMarkExpiring, To: ContractStatusExpiringSoon},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusActive, ContractStatusExpiringSoon}, Event: ContractEventExpire, To: ContractStatusExpired},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusActive, ContractStatusExpiringSoon}, Event: ContractEventRenew, To: ContractStatusRenewed},
	fsm.Rule[ContractStatus]{From: []ContractStatus{ContractStatusActive, ContractStatusExpiringSoon}, Event: ContractEventComplete, To: ContractStatusCompleted},
	fsm.Rule[ContractStatus]{
		From:  []ContractStatus{ContractStatusDraft, ContractStatusPending, ContractStatusActive, ContractStatusExpiringSoon},
		Event: ContractEventTerminate,
		To:    ContractStatusTerminated,
	},
)

// RenewalStatus maps to the contract_renewals.status column.
type RenewalStatus string

const (
	RenewalStatusPending  RenewalStatus = "PENDING"
	RenewalStatusApproved RenewalStatus = "APPROVED"
	RenewalStatusRejected RenewalStatus = "REJECTED"
)

var validRenewalStatuses = []RenewalStatus{
	RenewalStatusPending,
	RenewalStatusApproved,
	RenewalStatusRejected,
}

func (r RenewalStatus) String() string {
	return string(r)
}

func (r RenewalStatus) IsValid() bool {
	for _, candidate := range validRenewalStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

const (
	RenewalEventApprove fsm.Event = "approve"
	RenewalEventReject  fsm.Event = "reject"
)

var RenewalMachine = fsm.New("contract renewal",
	[]RenewalStatus{RenewalStatusApproved, RenewalStatusRejected},
	fsm.Rule[RenewalStatus]{From: []RenewalStatus{RenewalStatusPending}, Event: RenewalEventApprove, To: RenewalStatusApproved},
	fsm.Rule[RenewalStatus]{From: []RenewalStatus{RenewalStatusPending}, Event: RenewalEventReject, To: RenewalStatusRejected},
)
