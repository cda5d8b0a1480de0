// Package admin is the operator command surface: enqueueing intents, forcing
// strikes, inspecting state, cancelling orders, reconciling and compliance.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/fund"
	"nav-strike-engine/internal/gateway"
	"nav-strike-engine/internal/observability"
	"nav-strike-engine/internal/queue"
	"nav-strike-engine/internal/reporting"
	"nav-strike-engine/internal/schedule"
	"nav-strike-engine/internal/storage"
	"nav-strike-engine/internal/strike"
)

// Options for creating a Service. Reports, Compliance and Reporter are optional.
type Options struct {
	Queue      *queue.Queue
	Strikes    *strike.Orchestrator
	Ledger     *fund.Ledger
	Scheduler  *schedule.Scheduler
	Reports    storage.StrikeReportStore
	Compliance gateway.Compliance
	Reporter   *reporting.Generator
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service executes admin commands against one fund.
type Service struct {
	queue      *queue.Queue
	strikes    *strike.Orchestrator
	ledger     *fund.Ledger
	scheduler  *schedule.Scheduler
	reports    storage.StrikeReportStore
	compliance gateway.Compliance
	reporter   *reporting.Generator
	clock      func() time.Time
	logger     *zap.Logger
	startedAt  time.Time
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Queue == nil || opts.Strikes == nil || opts.Ledger == nil || opts.Scheduler == nil {
		return nil, domain.NewConfigurationError("admin service requires queue, orchestrator, ledger and scheduler")
	}
	s := &Service{
		queue:      opts.Queue,
		strikes:    opts.Strikes,
		ledger:     opts.Ledger,
		scheduler:  opts.Scheduler,
		reports:    opts.Reports,
		compliance: opts.Compliance,
		reporter:   opts.Reporter,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("admin")
	s.startedAt = s.clock()
	return s, nil
}

// Enqueue records an investor intent for the next strike. amount is value
// units for SUBSCRIBE and shares for REDEEM.
func (s *Service) Enqueue(ctx context.Context, investor, kind, amount string) (domain.StrikeOrder, error) {
	k, err := domain.ParseOrderKind(kind)
	if err != nil {
		return domain.StrikeOrder{}, err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.StrikeOrder{}, domain.NewValidationError("amount %q is not a decimal", amount)
	}

	o, err := s.queue.Enqueue(ctx, investor, k, amt)
	if err != nil {
		return domain.StrikeOrder{}, err
	}
	observability.RecordEnqueue(k.String())
	observability.SetPending(s.queue.Len())

	s.logger.Info("order accepted",
		zap.Int64("order_id", o.OrderID),
		zap.String("investor", o.Investor),
		zap.String("kind", o.Kind.String()),
		zap.String("amount", o.Amount.String()))
	return o, nil
}

// ExecuteStrike runs a strike now at the given NAV.
func (s *Service) ExecuteStrike(ctx context.Context, nav string) (*domain.StrikeReport, error) {
	n, err := decimal.NewFromString(nav)
	if err != nil {
		return nil, domain.NewValidationError("NAV %q is not a decimal", nav)
	}
	return s.strikes.ExecuteStrike(ctx, n)
}

// FundStatus is the fund state plus scheduling context.
type FundStatus struct {
	State          domain.FundState
	Phase          domain.StrikePhase
	PendingOrders  int
	NextStrikeTime time.Time
}

// GetFundState returns a snapshot of the fund accounting.
func (s *Service) GetFundState() (FundStatus, error) {
	next, err := s.scheduler.NextStrikeTime(s.clock())
	if err != nil {
		return FundStatus{}, err
	}
	return FundStatus{
		State:          s.ledger.Snapshot(),
		Phase:          s.strikes.Phase(),
		PendingOrders:  s.queue.Len(),
		NextStrikeTime: next,
	}, nil
}

// GetPendingOrders returns PENDING orders in insertion order.
func (s *Service) GetPendingOrders() []domain.StrikeOrder {
	return s.queue.Pending()
}

// CancelOrder withdraws a PENDING order. Refused while a strike runs.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) error {
	if err := s.strikes.Cancel(ctx, orderID); err != nil {
		return err
	}
	observability.SetPending(s.queue.Len())
	s.logger.Info("order cancelled", zap.Int64("order_id", orderID))
	return nil
}

// GetStrikeReport returns a stored report. "latest" selects the most recent
// strike of this process, falling back to the store.
func (s *Service) GetStrikeReport(ctx context.Context, strikeID string) (*domain.StrikeReport, error) {
	if strikeID == "latest" {
		if r := s.strikes.LastReport(); r != nil {
			return r, nil
		}
		if s.reports == nil {
			return nil, fmt.Errorf("strike report latest: %w", storage.ErrNotFound)
		}
		recent, err := s.reports.ListRecent(ctx, 1)
		if err != nil {
			return nil, fmt.Errorf("list strike reports: %w", err)
		}
		if len(recent) == 0 {
			return nil, fmt.Errorf("strike report latest: %w", storage.ErrNotFound)
		}
		return recent[0], nil
	}

	if s.reports == nil {
		if r := s.strikes.LastReport(); r != nil && r.StrikeID == strikeID {
			return r, nil
		}
		return nil, fmt.Errorf("strike report %s: %w", strikeID, storage.ErrNotFound)
	}
	r, err := s.reports.GetByID(ctx, strikeID)
	if err != nil {
		return nil, fmt.Errorf("strike report %s: %w", strikeID, err)
	}
	return r, nil
}

// ListStrikeReports returns up to limit reports, newest first.
func (s *Service) ListStrikeReports(ctx context.Context, limit int) ([]*domain.StrikeReport, error) {
	if s.reports == nil {
		if r := s.strikes.LastReport(); r != nil {
			return []*domain.StrikeReport{r}, nil
		}
		return []*domain.StrikeReport{}, nil
	}
	return s.reports.ListRecent(ctx, limit)
}

// Reconcile resolves timed-out settlements against the ledger.
func (s *Service) Reconcile(ctx context.Context) (*strike.ReconcileResult, error) {
	return s.strikes.Reconcile(ctx)
}

// Freeze blocks an investor account on the ledger.
func (s *Service) Freeze(ctx context.Context, account string) error {
	return s.applyCompliance(ctx, account, "freeze")
}

// Thaw unblocks an investor account on the ledger.
func (s *Service) Thaw(ctx context.Context, account string) error {
	return s.applyCompliance(ctx, account, "thaw")
}

func (s *Service) applyCompliance(ctx context.Context, account, action string) error {
	if s.compliance == nil {
		return domain.NewConfigurationError("no compliance gateway configured")
	}
	if err := gateway.ValidateAccount(account); err != nil {
		return err
	}

	var err error
	if action == "freeze" {
		err = s.compliance.Freeze(ctx, account)
	} else {
		err = s.compliance.Thaw(ctx, account)
	}
	if err != nil {
		return fmt.Errorf("%s account %s: %w", action, account, err)
	}
	s.logger.Info("account "+action, zap.String("account", account))
	return nil
}

// FundReport renders activity over the trailing window.
func (s *Service) FundReport(ctx context.Context, window time.Duration) (*reporting.Report, error) {
	if s.reporter == nil {
		return nil, domain.NewConfigurationError("no report generator configured")
	}
	if window <= 0 {
		return nil, domain.NewValidationError("report window must be positive")
	}
	return s.reporter.Generate(ctx, s.ledger.FundID(), window)
}

// Status is the liveness view served on /status.
type Status struct {
	Status         string             `json:"status"`
	Uptime         string             `json:"uptime"`
	Phase          domain.StrikePhase `json:"phase"`
	PendingOrders  int                `json:"pending_orders"`
	LastStrikeTime *time.Time         `json:"last_strike_time,omitempty"`
	NextStrikeTime *time.Time         `json:"next_strike_time,omitempty"`
}

// Status reports process liveness and strike progress.
func (s *Service) Status() Status {
	now := s.clock()
	st := Status{
		Status:         "running",
		Uptime:         now.Sub(s.startedAt).Round(time.Second).String(),
		Phase:          s.strikes.Phase(),
		PendingOrders:  s.queue.Len(),
		LastStrikeTime: s.ledger.Snapshot().LastStrikeTime,
	}
	if next, err := s.scheduler.NextStrikeTime(now); err == nil {
		st.NextStrikeTime = &next
	}
	return st
}

// isNotFound reports whether err means the addressed record does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, storage.ErrNotFound)
}
