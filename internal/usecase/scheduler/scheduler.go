package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
)

// ErrRunInFlight is returned when another run holds the (rule, period) claim
var ErrRunInFlight = errors.New("automation run already in flight")

// Runner executes one automation run
type Runner interface {
	RunOnce(ctx context.Context, ruleID uuid.UUID, period time.Time) domain.RunOutcome
}

// Locker serializes ticks across scheduler instances
type Locker interface {
	// TryLock returns acquired=false without error when another instance holds the lock
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

// Config tunes the scheduler
type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

// TickReport summarizes one scheduling round
type TickReport struct {
	Due         int
	Dispatched  int
	Skipped     int
	Committed   int
	RetryQueued int
	Failed      int
	LockHeld    bool
}

type retryState struct {
	period    time.Time
	notBefore time.Time
}

// Scheduler finds due rules and dispatches their runs on a bounded pool.
// Its bookkeeping is per process; the claim and the idempotency key are
// what prevent duplicate commits across processes.
type Scheduler struct {
	RuleStore    domain.RuleStore
	AccountStore domain.AccountStore
	Runner       Runner
	Locker       Locker

	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	settled map[uuid.UUID]time.Time  // rule -> period that ended Failed
	retries map[uuid.UUID]retryState // rule -> queued retry
	running map[uuid.UUID]map[string]context.CancelFunc
}

// NewScheduler creates a new Scheduler instance. locker may be nil.
func NewScheduler(
	ruleStore domain.RuleStore,
	accountStore domain.AccountStore,
	runner Runner,
	locker Locker,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Scheduler{
		RuleStore:    ruleStore,
		AccountStore: accountStore,
		Runner:       runner,
		Locker:       locker,
		cfg:          cfg,
		logger:       logging.OrNop(logger).Named("scheduler"),
		now:          time.Now,
		settled:      make(map[uuid.UUID]time.Time),
		retries:      make(map[uuid.UUID]retryState),
		running:      make(map[uuid.UUID]map[string]context.CancelFunc),
	}
}

// Run ticks every PollInterval until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("concurrency", s.cfg.Concurrency),
	)

	for {
		if _, err := s.Tick(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling round at now and waits for every dispatched run
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	var report TickReport

	if s.Locker != nil {
		release, acquired, err := s.Locker.TryLock(ctx)
		if err != nil {
			return report, fmt.Errorf("failed to acquire tick lock: %w", err)
		}
		if !acquired {
			s.logger.Debug("tick lock held by another instance")
			report.LockHeld = true
			return report, nil
		}
		defer release()
	}

	rules, err := s.RuleStore.GetDueRules(ctx, now)
	if err != nil {
		return report, fmt.Errorf("failed to list due rules: %w", err)
	}
	report.Due = len(rules)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}

		period, ok := s.eligible(ctx, rule, now)

		mu.Lock()
		if !ok {
			report.Skipped++
		} else {
			report.Dispatched++
		}
		mu.Unlock()

		if !ok {
			continue
		}

		ruleID := rule.ID
		g.Go(func() error {
			outcome, err := s.RunOnce(ctx, ruleID, period)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// the run never started
				report.Dispatched--
				report.Skipped++
				if !errors.Is(err, ErrRunInFlight) {
					s.logger.Warn("automation run not started", zap.String("rule_id", ruleID.String()), zap.Error(err))
				}
				return nil
			}

			switch outcome.(type) {
			case domain.Success:
				report.Committed++
			case domain.RetryableFailure:
				report.RetryQueued++
			case domain.PermanentFailure:
				report.Failed++
			}
			return nil
		})
	}

	_ = g.Wait()

	s.logger.Debug("scheduler tick finished",
		zap.Int("due", report.Due),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("skipped", report.Skipped),
	)

	return report, nil
}

// RunOnce claims (rule, period), runs it and records the outcome.
// This is also the entry point for host redeliveries.
func (s *Scheduler) RunOnce(ctx context.Context, ruleID uuid.UUID, period time.Time) (domain.RunOutcome, error) {
	period = period.UTC()
	key := domain.IdempotencyKey(ruleID, period)

	claimed, err := s.RuleStore.Claim(ctx, ruleID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !claimed {
		return nil, ErrRunInFlight
	}
	defer func() {
		if err := s.RuleStore.Release(context.WithoutCancel(ctx), ruleID, period); err != nil {
			s.logger.Warn("failed to release claim", zap.String("key", key), zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	s.track(ruleID, key, cancel)
	defer s.untrack(ruleID, key)

	outcome := s.Runner.RunOnce(runCtx, ruleID, period)
	s.record(ruleID, period, outcome)

	return outcome, nil
}

// Cancel cancels the in-flight runs of a rule and returns how many were signalled.
// Runs already executing their transfer finish regardless.
func (s *Scheduler) Cancel(ruleID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.running[ruleID]
	for _, cancel := range runs {
		cancel()
	}
	return len(runs)
}

// SetRuleEnabled enables or disables a rule; disabling cancels its in-flight runs
func (s *Scheduler) SetRuleEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error {
	if err := s.RuleStore.SetEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}

	if !enabled {
		if n := s.Cancel(ruleID); n > 0 {
			s.logger.Info("cancelled in-flight runs of disabled rule", zap.String("rule_id", ruleID.String()), zap.Int("runs", n))
		}
	} else {
		s.mu.Lock()
		delete(s.settled, ruleID)
		s.mu.Unlock()
	}

	return nil
}

// eligible decides whether rule should run at now and for which period
func (s *Scheduler) eligible(ctx context.Context, rule *domain.AutomationRule, now time.Time) (time.Time, bool) {
	logger := s.logger.With(zap.String("rule_id", rule.ID.String()))

	if !rule.IsDue(now) {
		return time.Time{}, false
	}

	period, err := rule.CurrentPeriod(now)
	if err != nil {
		logger.Warn("cannot compute rule period", zap.Error(err))
		return time.Time{}, false
	}

	s.mu.Lock()
	settledPeriod, settled := s.settled[rule.ID]
	retry, queued := s.retries[rule.ID]
	s.mu.Unlock()

	if settled && settledPeriod.Equal(period) {
		return time.Time{}, false
	}
	if queued && retry.period.Equal(period) && now.Before(retry.notBefore) {
		return time.Time{}, false
	}

	if rule.Recurrence.Kind == domain.RecurrenceThreshold {
		source, err := s.AccountStore.GetAccount(ctx, rule.SourceAccountID)
		if err != nil {
			logger.Warn("cannot check threshold", zap.Error(err))
			return time.Time{}, false
		}
		if source.Balance.LessThan(rule.Recurrence.Threshold) {
			return time.Time{}, false
		}
	}

	return period, true
}

func (s *Scheduler) record(ruleID uuid.UUID, period time.Time, outcome domain.RunOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o := outcome.(type) {
	case domain.Success:
		delete(s.retries, ruleID)
		delete(s.settled, ruleID)
	case domain.RetryableFailure:
		s.retries[ruleID] = retryState{period: period, notBefore: s.now().Add(o.RetryAfter)}
	case domain.PermanentFailure:
		delete(s.retries, ruleID)
		// a disabled rule is not settled: re-enabling it resumes the period
		if o.Reason != domain.ErrKindCancelled {
			s.settled[ruleID] = period
		}
	}
}

func (s *Scheduler) track(ruleID uuid.UUID, key string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[ruleID] == nil {
		s.running[ruleID] = make(map[string]context.CancelFunc)
	}
	s.running[ruleID][key] = cancel
}

func (s *Scheduler) untrack(ruleID uuid.UUID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[ruleID][key]; ok {
		cancel()
		delete(s.running[ruleID], key)
	}
	if len(s.running[ruleID]) == 0 {
		delete(s.running, ruleID)
	}
}
