package enums

import "github.com/angelmondragon/forestcarbon-backend/pkg/fsm"

// ReserveStatus maps to the carbon_reserves.status column.
type ReserveStatus string

const (
	ReserveStatusAvailable ReserveStatus = "AVAILABLE"
	ReserveStatusAllocated ReserveStatus = "ALLOCATED"
	ReserveStatusExpired   ReserveStatus = "EXPIRED"
)

var validReserveStatuses = []ReserveStatus{
	ReserveStatusAvailable,
	ReserveStatusAllocated,
	ReserveStatusExpired,
}

func (r ReserveStatus) String() string {
	return string(r)
}

func (r ReserveStatus) IsValid() bool {
	for _, candidate := range validReserveStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

const (
	ReserveEventExhaust fsm.Event = "exhaust"
	ReserveEventExpire  fsm.Event = "expire"
)

var ReserveMachine = fsm.New("carbon reserve",
	[]ReserveStatus{ReserveStatusAllocated, ReserveStatusExpired},
	fsm.Rule[ReserveStatus]{From: []ReserveStatus{ReserveStatusAvailable}, Event: ReserveEventExhaust, To: ReserveStatusAllocated},
	fsm.Rule[ReserveStatus]{From: []ReserveStatus{ReserveStatusAvailable}, Event: ReserveEventExpire, To: ReserveStatusExpired},
)

// CreditStatus maps to the carbon_credits.status column.
type CreditStatus string

const (
	CreditStatusAvailable CreditStatus = "AVAILABLE"
	CreditStatusSoldOut   CreditStatus = "SOLD_OUT"
	CreditStatusExpired   CreditStatus = "EXPIRED"
)

var validCreditStatuses = []CreditStatus{
	CreditStatusAvailable,
	CreditStatusSoldOut,
	CreditStatusExpired,
}

// String implements fmt.Stringer.
func (c CreditStatus) String() string {
	return string(c)
}

// IsValid reports whether the value matches a known credit status.
func (c CreditStatus) IsValid() bool {
	for _, candidate := range validCreditStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

const (
	CreditEventExhaust fsm.Event = "exhaust"
	CreditEventExpire  fsm.Event = "expire"
)

var CreditMachine = fsm.New("carbon credit",
	[]CreditStatus{CreditStatusExpired},
	fsm.Rule[CreditStatus]{From: []CreditStatus{CreditStatusAvailable}, Event: CreditEventExhaust, To: CreditStatusSoldOut},
	fsm.Rule[CreditStatus]{From: []CreditStatus{CreditStatusAvailable, CreditStatusSoldOut}, Event: CreditEventExpire, To: CreditStatusExpired},
)

// AllocationStatus maps to the credit_allocations.status column.
type AllocationStatus string

const (
	AllocationStatusAllocated AllocationStatus = "ALLOCATED"
	AllocationStatusClaimed   AllocationStatus = "CLAIMED"
	AllocationStatusSold      AllocationStatus = "SOLD"
	AllocationStatusRetired   AllocationStatus = "RETIRED"
)

var validAllocationStatuses = []AllocationStatus{
	AllocationStatusAllocated,
	AllocationStatusClaimed,
	AllocationStatusSold,
	AllocationStatusRetired,
}

func (a AllocationStatus) String() string {
	return string(a)
}

func (a AllocationStatus) IsValid() bool {
	for _, candidate := range validAllocationStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

const (
	AllocationEventClaim  fsm.Event = "claim"
	AllocationEventSell   fsm.Event = "sell"
	AllocationEventRetire fsm.Event = "retire"
)

var AllocationMachine = fsm.New("credit allocation",
	[]AllocationStatus{AllocationStatusSold, AllocationStatusRetired},
	fsm.Rule[AllocationStatus]{From: []AllocationStatus{AllocationStatusAllocated}, Event: AllocationEventClaim, To: AllocationStatusClaimed},
	fsm.Rule[AllocationStatus]{From: []AllocationStatus{AllocationStatusClaimed}, Event: AllocationEventSell, To: AllocationStatusSold},
	fsm.Rule[AllocationStatus]{From: []AllocationStatus{AllocationStatusClaimed}, Event: AllocationEventRetire, To: AllocationStatusRetired},
)

// TransactionStatus maps to the credit_transactions.status column.
type TransactionStatus string

const (
	TransactionStatusPurchased TransactionStatus = "PURCHASED"
	TransactionStatusRetired   TransactionStatus = "RETIRED"
)

func (t TransactionStatus) String() string {
	return string(t)
}

func (t TransactionStatus) IsValid() bool {
	return t == TransactionStatusPurchased || t == TransactionStatusRetired
}

const TransactionEventRetire fsm.Event = "retire"

var TransactionMachine = fsm.New("credit transaction",
	[]TransactionStatus{TransactionStatusRetired},
	fsm.Rule[TransactionStatus]{From: []TransactionStatus{TransactionStatusPurchased}, Event: TransactionEventRetire, To: TransactionStatusRetired},
)

// CreditLedgerEventType maps to the credit_ledger_events.type column.
type CreditLedgerEventType string

const (
	CreditLedgerIssued      CreditLedgerEventType = "ISSUED"
	CreditLedgerSold        CreditLedgerEventType = "SOLD"
	CreditLedgerRetired     CreditLedgerEventType = "RETIRED"
	CreditLedgerRetiredSold CreditLedgerEventType = "RETIRED_SOLD"
	CreditLedgerExpired     CreditLedgerEventType = "EXPIRED"
)

var validCreditLedgerEventTypes = []CreditLedgerEventType{
	CreditLedgerIssued,
	CreditLedgerSold,
	CreditLedgerRetired,
	CreditLedgerRetiredSold,
	CreditLedgerExpired,
}

func (t CreditLedgerEventType) String() string {
	return string(t)
}

func (t CreditLedgerEventType) IsValid() bool {
	for _, candidate := range validCreditLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

