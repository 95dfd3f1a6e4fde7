package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/forestcarbon-backend/internal/ledger"
	"github.com/angelmondragon/forestcarbon-backend/internal/notifications"
	"github.com/angelmondragon/forestcarbon-backend/pkg/carbon"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db"
	"github.com/angelmondragon/forestcarbon-backend/pkg/db/models"
	"github.com/angelmondragon/forestcarbon-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/metrics"
	"github.com/angelmondragon/forestcarbon-backend/pkg/pagination"
	"github.com/angelmondragon/forestcarbon-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MovementJournal appends credit balance movements to the ledger inside the
// moving transaction.
type MovementJournal interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.CreditLedgerEvent, error)
}

type notifier interface {
	Notify(ctx context.Context, n notifications.Notification)
}

// Service issues carbon credits, moves them out of the available balance
// and splits them across ownerships.
type Service interface {
	Issue(ctx context.Context, input IssueInput) (*models.CarbonCredit, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error)
	ListAvailable(ctx context.Context, params pagination.Params) (*pagination.Page[models.CarbonCredit], error)
	Sell(ctx context.Context, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error)
	Retire(ctx context.Context, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error)
	SellTx(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error)
	RetireSoldTx(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error)
	SweepExpired(ctx context.Context) (SweepResult, error)

	AllocateToOwnership(ctx context.Context, input AllocateInput) (*models.CreditAllocation, error)
	Allocations(ctx context.Context, creditID uuid.UUID) ([]models.CreditAllocation, error)
	Claim(ctx context.Context, allocationID, ownerID uuid.UUID) (*models.CreditAllocation, error)
	SellAllocation(ctx context.Context, allocationID uuid.UUID) (*models.CreditAllocation, error)
	RetireAllocation(ctx context.Context, allocationID uuid.UUID) (*models.CreditAllocation, error)
	RepointAllocations(ctx context.Context, tx *gorm.DB, fromOwnershipID uuid.UUID, to *models.Ownership) (int, error)
	SplitAllocations(ctx context.Context, tx *gorm.DB, fromOwnershipID uuid.UUID, to *models.Ownership, part, whole decimal.Decimal) (int, error)
}

// IssueInput records a verification result. ExpiresAt defaults to the
// configured credit lifetime.
type IssueInput struct {
	ProjectID    uuid.UUID       `json:"project_id" validate:"required"`
	ReportYear   int             `json:"report_year" validate:"required,gte=1990,lte=2200"`
	VerifiedTons decimal.Decimal `json:"verified_tons" validate:"required,gt=0"`
	Standard     string          `json:"standard" validate:"required,max=64"`
	ExpiresAt    *time.Time      `json:"expires_at"`
}

// SweepResult counts the outcome of an expiry sweep.
type SweepResult struct {
	Scanned    int
	Expired    int
	Failed     int
	ExpiredIDs []uuid.UUID
}

type movement string

const (
	movementSell       movement = "sell"
	movementRetire     movement = "retire"
	movementRetireSold movement = "retire_sold"
)

type service struct {
	repo     Repository
	tx       txRunner
	journal  MovementJournal
	notify   notifier
	metrics  *metrics.CarbonMetrics
	lifetime time.Duration
	now      func() time.Time
}

// NewService wires the credit engine. Credits issued without an explicit
// expiry lapse after lifetime; zero leaves them open-ended. The journal is
// optional.
func NewService(repo Repository, tx txRunner, journal MovementJournal, notify notifier, m *metrics.CarbonMetrics, lifetime time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("credit repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, journal: journal, notify: notify, metrics: m, lifetime: lifetime, now: time.Now}, nil
}

// Issue converts verified tons into whole credits, one per ton. A project
// gets one issuance per report year.
func (s *service) Issue(ctx context.Context, input IssueInput) (*models.CarbonCredit, error) {
	input.Standard = strings.TrimSpace(input.Standard)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	issued := carbon.CreditsForTons(input.VerifiedTons)
	if issued <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "verified tons must cover at least one credit")
	}

	now := s.now().UTC()
	expiresAt := input.ExpiresAt
	if expiresAt == nil && s.lifetime > 0 {
		at := now.Add(s.lifetime)
		expiresAt = &at
	}
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
		}
		at := expiresAt.UTC()
		expiresAt = &at
	}

	var credit *models.CarbonCredit
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.repo.WithTx(tx).Create(ctx, &models.CarbonCredit{
			ProjectID:        input.ProjectID,
			ReportYear:       input.ReportYear,
			Standard:         input.Standard,
			VerifiedTons:     input.VerifiedTons,
			CreditsIssued:    issued,
			CreditsAvailable: issued,
			Status:           enums.CreditStatusAvailable,
			IssuedAt:         now,
			ExpiresAt:        expiresAt,
		})
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "credits already issued for project and year").
					WithDetails(map[string]any{"project_id": input.ProjectID.String(), "report_year": input.ReportYear})
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue carbon credits")
		}
		credit = created
		return s.record(ctx, tx, credit, enums.CreditLedgerIssued, issued, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddIssued(credit.CreditsIssued)
	if s.notify != nil {
		s.notify.Notify(ctx, notifications.Notification{
			Type:       enums.NotificationTypeCreditVerified,
			EntityType: "carbon_credit",
			EntityID:   credit.ID,
			Title:      "Carbon credits verified",
			Message:    fmt.Sprintf("%d credits issued for report year %d", credit.CreditsIssued, credit.ReportYear),
			Data: map[string]any{
				"project_id":    credit.ProjectID.String(),
				"report_year":   credit.ReportYear,
				"standard":      credit.Standard,
				"verified_tons": credit.VerifiedTons.String(),
			},
		})
	}
	return credit, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.CarbonCredit, error) {
	credit, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, db.MapNotFound(err, "carbon credit")
	}
	return credit, nil
}

// ListAvailable pages through sellable credits. Expired credits are left
// out whatever their balance.
func (s *service) ListAvailable(ctx context.Context, params pagination.Params) (*pagination.Page[models.CarbonCredit], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAvailable(ctx, s.now().UTC(), cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list available credits")
	}
	page := pagination.Build(rows, params.Limit, func(c models.CarbonCredit) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
	return &page, nil
}

func (s *service) Sell(ctx context.Context, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error) {
	return s.moveInTx(ctx, creditID, quantity, movementSell)
}

func (s *service) Retire(ctx context.Context, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error) {
	return s.moveInTx(ctx, creditID, quantity, movementRetire)
}

// SellTx sells from the available balance inside the caller's transaction.
func (s *service) SellTx(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to sell credits")
	}
	return s.move(ctx, tx, creditID, quantity, movementSell, false)
}

// RetireSoldTx converts already sold credits into retired ones inside the
// caller's transaction.
func (s *service) RetireSoldTx(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64) (*models.CarbonCredit, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required to retire credits")
	}
	return s.move(ctx, tx, creditID, quantity, movementRetireSold, false)
}

func (s *service) moveInTx(ctx context.Context, creditID uuid.UUID, quantity int64, kind movement) (*models.CarbonCredit, error) {
	var updated *models.CarbonCredit
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = s.move(ctx, tx, creditID, quantity, kind, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// move applies one balance movement under a row lock and a version guard.
// Direct sells and retires may only draw on units not held by outstanding
// allocations; settling an allocation draws on its own held units.
func (s *service) move(ctx context.Context, tx *gorm.DB, creditID uuid.UUID, quantity int64, kind movement, settling bool) (*models.CarbonCredit, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than 0")
	}
	repo := s.repo.WithTx(tx)
	credit, err := repo.FindByIDForUpdate(ctx, creditID)
	if err != nil {
		return nil, db.MapNotFound(err, "carbon credit")
	}
	now := s.now().UTC()

	updates := map[string]any{}
	exhausted := false
	switch kind {
	case movementSell, movementRetire:
		if credit.IsExpired(now) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "carbon credit has expired").
				WithDetails(map[string]any{"credit_id": credit.ID.String()})
		}
		if quantity > credit.CreditsAvailable {
			return nil, insufficient(credit, quantity)
		}
		if !settling {
			outstanding, err := repo.SumOutstanding(ctx, credit.ID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum outstanding allocations")
			}
			if quantity > credit.CreditsAvailable-outstanding {
				return nil, heldBack(credit, outstanding, quantity)
			}
		}
		credit.CreditsAvailable -= quantity
		updates["credits_available"] = credit.CreditsAvailable
		if kind == movementSell {
			credit.CreditsSold += quantity
			updates["credits_sold"] = credit.CreditsSold
		} else {
			credit.CreditsRetired += quantity
			updates["credits_retired"] = credit.CreditsRetired
		}
		if credit.CreditsAvailable == 0 && credit.Status == enums.CreditStatusAvailable {
			next, err := enums.CreditMachine.Next(credit.Status, enums.CreditEventExhaust)
			if err != nil {
				return nil, err
			}
			credit.Status = next
			updates["status"] = next
			exhausted = true
		}
	case movementRetireSold:
		if quantity > credit.CreditsSold {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "not enough sold credits to retire").
				WithDetails(map[string]any{"credits_sold": credit.CreditsSold, "requested": quantity})
		}
		credit.CreditsSold -= quantity
		credit.CreditsRetired += quantity
		updates["credits_sold"] = credit.CreditsSold
		updates["credits_retired"] = credit.CreditsRetired
	}

	if !credit.Balanced() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit balance identity violated").
			WithDetails(map[string]any{"credit_id": credit.ID.String()})
	}
	if err := repo.UpdateVersioned(ctx, credit, updates); err != nil {
		return nil, err
	}
	credit.Version++
	if err := s.record(ctx, tx, credit, kind.ledgerType(), quantity, now); err != nil {
		return nil, err
	}

	switch kind {
	case movementSell:
		s.metrics.AddSold(quantity)
	case movementRetire, movementRetireSold:
		s.metrics.AddRetired(quantity)
	}
	if exhausted {
		s.metrics.IncTransition("carbon_credit", credit.Status.String())
	}
	return credit, nil
}

func heldBack(credit *models.CarbonCredit, outstanding, quantity int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "available credits are held by outstanding allocations").
		WithDetails(map[string]any{
			"credit_id":             credit.ID.String(),
			"credits_available":     credit.CreditsAvailable,
			"outstanding_allocated": outstanding,
			"requested":             quantity,
		})
}

func insufficient(credit *models.CarbonCredit, quantity int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "not enough available credits").
		WithDetails(map[string]any{
			"credit_id":         credit.ID.String(),
			"credits_available": credit.CreditsAvailable,
			"requested":         quantity,
		})
}

// SweepExpired marks AVAILABLE and SOLD_OUT credits past their expiry as
// EXPIRED. The balances are left as they are.
func (s *service) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var result SweepResult
	ids, err := s.repo.ListExpiredIDs(ctx, now)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired credits")
	}
	result.Scanned = len(ids)

	var errs error
	for _, id := range ids {
		expired, err := s.expire(ctx, id, now)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("expire credit %s: %w", id, err))
			continue
		}
		if expired {
			result.Expired++
			result.ExpiredIDs = append(result.ExpiredIDs, id)
			s.metrics.IncTransition("carbon_credit", enums.CreditStatusExpired.String())
		}
	}
	return result, errs
}

func (s *service) expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		credit, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return db.MapNotFound(err, "carbon credit")
		}
		if !enums.CreditMachine.Can(credit.Status, enums.CreditEventExpire) || !credit.IsExpired(now) {
			return nil
		}
		next, err := enums.CreditMachine.Next(credit.Status, enums.CreditEventExpire)
		if err != nil {
			return err
		}
		if err := repo.UpdateVersioned(ctx, credit, map[string]any{"status": next}); err != nil {
			return err
		}
		credit.Status = next
		credit.Version++
		expired = true
		return s.record(ctx, tx, credit, enums.CreditLedgerExpired, credit.CreditsAvailable, now)
	})
	return expired, err
}

func (m movement) ledgerType() enums.CreditLedgerEventType {
	switch m {
	case movementSell:
		return enums.CreditLedgerSold
	case movementRetire:
		return enums.CreditLedgerRetired
	default:
		return enums.CreditLedgerRetiredSold
	}
}

func (s *service) record(ctx context.Context, tx *gorm.DB, credit *models.CarbonCredit, kind enums.CreditLedgerEventType, quantity int64, at time.Time) error {
	if s.journal == nil {
		return nil
	}
	_, err := s.journal.RecordTx(ctx, tx, ledger.RecordInput{Credit: credit, Type: kind, Quantity: quantity, OccurredAt: at})
	return err
}
