package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
)

// Service records and replays the movement history of carbon credits.
type Service interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.CreditLedgerEvent, error)
	ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditLedgerEvent, error)
	HasEvent(ctx context.Context, creditID uuid.UUID, eventType enums.CreditLedgerEventType) (bool, error)
	Reconcile(ctx context.Context, credit *models.CarbonCredit) (*Reconciliation, error)
}

// RecordInput describes one movement. Credit carries the balances after the
// movement was applied.
type RecordInput struct {
	Credit     *models.CarbonCredit
	Type       enums.CreditLedgerEventType
	Quantity   int64
	OccurredAt time.Time
}

// Reconciliation compares the balances replayed from the ledger with the
// balances stored on the credit.
type Reconciliation struct {
	CreditID  uuid.UUID        `json:"credit_id"`
	Events    int              `json:"events"`
	Issued    int64            `json:"issued"`
	Available int64            `json:"available"`
	Sold      int64            `json:"sold"`
	Retired   int64            `json:"retired"`
	Balanced  bool             `json:"balanced"`
	Drift     map[string]int64 `json:"drift,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// RecordTx appends an event inside the caller's transaction so the ledger
// and the credit row commit together.
func (s *service) RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.CreditLedgerEvent, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to record ledger event")
	}
	if input.Credit == nil || input.Credit.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger event type %q", input.Type))
	}
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	event := &models.CreditLedgerEvent{
		CreditID:       input.Credit.ID,
		Type:           input.Type,
		Quantity:       input.Quantity,
		AvailableAfter: input.Credit.CreditsAvailable,
		SoldAfter:      input.Credit.CreditsSold,
		RetiredAfter:   input.Credit.CreditsRetired,
		OccurredAt:     occurredAt.UTC(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record credit ledger event")
	}
	return event, nil
}

func (s *service) ListByCredit(ctx context.Context, creditID uuid.UUID) ([]models.CreditLedgerEvent, error) {
	events, err := s.repo.ListByCredit(ctx, creditID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list credit ledger events")
	}
	return events, nil
}

func (s *service) HasEvent(ctx context.Context, creditID uuid.UUID, eventType enums.CreditLedgerEventType) (bool, error) {
	if creditID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "credit id is required")
	}
	if !eventType.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger event type %q", eventType))
	}
	events, err := s.ListByCredit(ctx, creditID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

// Reconcile replays every event of the credit from zero and reports any
// counter that disagrees with the stored row.
func (s *service) Reconcile(ctx context.Context, credit *models.CarbonCredit) (*Reconciliation, error) {
	if credit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit is required")
	}
	events, err := s.ListByCredit(ctx, credit.ID)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{CreditID: credit.ID, Events: len(events)}
	for _, event := range events {
		switch event.Type {
		case enums.CreditLedgerIssued:
			rec.Issued += event.Quantity
			rec.Available += event.Quantity
		case enums.CreditLedgerSold:
			rec.Available -= event.Quantity
			rec.Sold += event.Quantity
		case enums.CreditLedgerRetired:
			rec.Available -= event.Quantity
			rec.Retired += event.Quantity
		case enums.CreditLedgerRetiredSold:
			rec.Sold -= event.Quantity
			rec.Retired += event.Quantity
		}
	}

	drift := map[string]int64{}
	for name, pair := range map[string][2]int64{
		"credits_issued":    {rec.Issued, credit.CreditsIssued},
		"credits_available": {rec.Available, credit.CreditsAvailable},
		"credits_sold":      {rec.Sold, credit.CreditsSold},
		"credits_retired":   {rec.Retired, credit.CreditsRetired},
	} {
		if pair[0] != pair[1] {
			drift[name] = pair[1] - pair[0]
		}
	}
	rec.Balanced = len(drift) == 0
	if !rec.Balanced {
		rec.Drift = drift
	}
	return rec, nil
}
