package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
)

const tracerName = "github.com/simaogato/wealthflow-automation/internal/usecase/automation"

// TransferExecutor performs one transfer attempt
type TransferExecutor interface {
	Execute(ctx context.Context, req domain.TransferRequest) domain.RunOutcome
}

// Config tunes the worker
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		AttemptTimeout: 10 * time.Second,
		RetryBaseDelay: 30 * time.Second,
		RetryMaxDelay:  30 * time.Minute,
	}
}

// Worker runs one automation rule for one period and maps the result onto
// the run state machine:
//
//	Started -> Validating -> Executing -> {Committed, RetryQueued, Failed}
type Worker struct {
	RuleStore      domain.RuleStore
	AccountStore   domain.AccountStore
	Executor       TransferExecutor
	AttemptTracker domain.AttemptTracker
	Notifier       domain.NotificationEmitter

	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewWorker creates a new Worker instance
func NewWorker(
	ruleStore domain.RuleStore,
	accountStore domain.AccountStore,
	executor TransferExecutor,
	attemptTracker domain.AttemptTracker,
	notifier domain.NotificationEmitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	defaults := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaults.AttemptTimeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	return &Worker{
		RuleStore:      ruleStore,
		AccountStore:   accountStore,
		Executor:       executor,
		AttemptTracker: attemptTracker,
		Notifier:       notifier,
		cfg:            cfg,
		logger:         logging.OrNop(logger).Named("automation"),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
	}
}

// run carries the state of one RunOnce invocation
type run struct {
	ruleID uuid.UUID
	period time.Time
	key    string

	rule        *domain.AutomationRule
	source      *domain.Account
	destination *domain.Account

	logger *zap.Logger
}

// RunOnce executes the automation rule for period. Calling it again with
// the same arguments is safe: the transfer commits at most once per period.
func (w *Worker) RunOnce(ctx context.Context, ruleID uuid.UUID, period time.Time) domain.RunOutcome {
	period = period.UTC()
	key := domain.IdempotencyKey(ruleID, period)

	ctx, span := w.tracer.Start(ctx, "automation.RunOnce", trace.WithAttributes(
		attribute.String("rule_id", ruleID.String()),
		attribute.String("period", period.Format(time.RFC3339)),
	))
	defer span.End()

	r := &run{
		ruleID: ruleID,
		period: period,
		key:    key,
		logger: w.logger.With(zap.String("rule_id", ruleID.String()), zap.Time("period", period)),
	}

	outcome := w.runOnce(ctx, r)

	span.SetAttributes(attribute.String("state", string(outcome.State())))
	r.logger.Info("automation run finished", outcomeFields(outcome)...)

	return outcome
}

func (w *Worker) runOnce(ctx context.Context, r *run) domain.RunOutcome {
	w.enter(r, domain.RunStateStarted)

	if outcome := w.start(ctx, r); outcome != nil {
		return outcome
	}

	w.enter(r, domain.RunStateValidating)
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	req := r.rule.TransferRequest(r.period)
	if outcome := w.validate(ctx, r, req); outcome != nil {
		return outcome
	}

	w.enter(r, domain.RunStateExecuting)
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	// Cancellation is no longer honoured: the attempt runs to completion or
	// to its own deadline.
	execCtx, cancelExec := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.AttemptTimeout)
	result := w.Executor.Execute(execCtx, req)
	cancelExec()

	// Bookkeeping runs on its own deadline
	postCtx, cancelPost := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.AttemptTimeout)
	defer cancelPost()

	switch outcome := result.(type) {
	case domain.Success:
		return w.committed(postCtx, r, outcome)
	case domain.RetryableFailure:
		return w.retry(postCtx, r, outcome)
	case domain.PermanentFailure:
		return w.fail(postCtx, r, outcome)
	default:
		return w.fail(postCtx, r, domain.PermanentFailure{
			Reason: domain.ErrKindInvariantViolation,
			Err:    fmt.Errorf("unexpected outcome %T", outcome),
		})
	}
}

// start loads everything the run needs. A nil outcome means continue.
func (w *Worker) start(ctx context.Context, r *run) domain.RunOutcome {
	rule, err := w.RuleStore.GetRule(ctx, r.ruleID)
	if err != nil {
		if domain.KindOf(err) == domain.ErrKindNotFound {
			return domain.Permanent(err)
		}
		return w.retry(ctx, r, domain.Retryable(storeError("load_rule", err)))
	}
	r.rule = rule

	if !rule.Enabled {
		return domain.PermanentFailure{Reason: domain.ErrKindCancelled, Err: domain.ErrRuleDisabled}
	}

	if r.period.After(w.now()) {
		return w.fail(ctx, r, domain.Permanent(domain.NewError(domain.ErrKindInvalidRequest, "start_run",
			fmt.Errorf("period %s is in the future", r.period.Format(time.RFC3339)))))
	}

	if outcome := w.checkPeriod(ctx, r); outcome != nil {
		return outcome
	}

	attempts, err := w.AttemptTracker.Attempts(ctx, r.key)
	if err != nil {
		return domain.Retryable(domain.NewError(domain.ErrKindStoreUnavailable, "load_attempts", err))
	}

	r.source, err = w.AccountStore.GetAccount(ctx, rule.SourceAccountID)
	if err != nil {
		return w.loadFailure(ctx, r, err)
	}

	r.destination, err = w.AccountStore.GetAccount(ctx, rule.DestinationAccountID)
	if err != nil {
		return w.loadFailure(ctx, r, err)
	}

	if attempts >= w.cfg.MaxAttempts {
		return w.exhausted(ctx, r)
	}

	return nil
}

// checkPeriod accepts only occurrences of the rule schedule at or after its
// next eligible time. An older period is answered from its committed records.
func (w *Worker) checkPeriod(ctx context.Context, r *run) domain.RunOutcome {
	if r.period.Before(r.rule.NextEligible) {
		records, err := w.AccountStore.RecordsByKey(ctx, r.key)
		if err != nil {
			return domain.Retryable(storeError("load_records", err))
		}
		if len(records) > 0 {
			return domain.Success{Records: records, Duplicate: true}
		}
		return domain.Permanent(domain.NewError(domain.ErrKindInvalidRequest, "start_run",
			fmt.Errorf("period %s precedes next eligible time %s",
				r.period.Format(time.RFC3339), r.rule.NextEligible.Format(time.RFC3339))))
	}

	current, err := r.rule.CurrentPeriod(r.period)
	if err != nil || !current.Equal(r.period) {
		return domain.Permanent(domain.NewError(domain.ErrKindInvalidRequest, "start_run",
			fmt.Errorf("period %s is not an occurrence of the rule schedule", r.period.Format(time.RFC3339))))
	}

	return nil
}

// exhausted settles a period that ran out of attempts, unless its transfer
// landed on one of them
func (w *Worker) exhausted(ctx context.Context, r *run) domain.RunOutcome {
	records, err := w.AccountStore.RecordsByKey(ctx, r.key)
	if err != nil {
		return domain.Retryable(storeError("load_records", err))
	}
	if len(records) > 0 {
		return w.committed(ctx, r, domain.Success{Records: records, Duplicate: true})
	}

	return domain.PermanentFailure{
		Reason:    w.exhaustedReason(ctx, r),
		Err:       domain.ErrAttemptsExhausted,
		Exhausted: true,
	}
}

// exhaustedReason returns the failure kind the period ran out of attempts on
func (w *Worker) exhaustedReason(ctx context.Context, r *run) domain.ErrorKind {
	for _, kind := range exhaustibleKinds {
		n, err := w.AttemptTracker.Attempts(ctx, exhaustedKey(r.key, kind))
		if err != nil {
			r.logger.Warn("failed to read exhaustion marker", zap.Error(err))
			break
		}
		if n > 0 {
			return kind
		}
	}
	return domain.ErrKindStoreUnavailable
}

func (w *Worker) loadFailure(ctx context.Context, r *run, err error) domain.RunOutcome {
	switch domain.KindOf(err) {
	case domain.ErrKindNotFound:
		return w.fail(ctx, r, domain.Permanent(err))
	case domain.ErrKindCancelled:
		return cancelled(err)
	default:
		return w.retry(ctx, r, domain.Retryable(storeError("load_account", err)))
	}
}

// validate re-checks the rule against the loaded accounts. A nil outcome means continue.
func (w *Worker) validate(ctx context.Context, r *run, req domain.TransferRequest) domain.RunOutcome {
	if err := req.Validate(); err != nil {
		return w.fail(ctx, r, domain.Permanent(err))
	}

	if err := req.CheckAccounts(r.source, r.destination); err != nil {
		return w.fail(ctx, r, domain.Permanent(err))
	}

	return nil
}

// committed advances the schedule. Only the caller whose compare-and-set
// wins notifies, so a period produces at most one success notification.
func (w *Worker) committed(ctx context.Context, r *run, success domain.Success) domain.RunOutcome {
	w.enter(r, domain.RunStateCommitted)

	next, err := r.rule.NextAfter(r.period)
	if err != nil {
		r.logger.Error("failed to compute next eligible time", zap.Error(err))
		return success
	}

	if !next.After(r.rule.NextEligible) {
		r.logger.Debug("rule already advanced past period", zap.Time("next_eligible", r.rule.NextEligible))
		return success
	}

	advanced, err := w.RuleStore.AdvanceRule(ctx, r.rule.ID, r.rule.NextEligible, next)
	if err != nil {
		// The committed transfer stands; the next run of this period replays it.
		r.logger.Error("failed to advance rule", zap.Error(err))
		return success
	}
	if !advanced {
		r.logger.Debug("rule advanced by a concurrent run")
		return success
	}

	w.resetAttempts(ctx, r)

	w.emit(ctx, r, successNotification(r, success, w.now()))

	return success
}

// retry counts the attempt and either queues another one or gives up on the period
func (w *Worker) retry(ctx context.Context, r *run, failure domain.RetryableFailure) domain.RunOutcome {
	if failure.Reason == domain.ErrKindCancelled {
		return failure
	}

	attempt, err := w.AttemptTracker.Increment(ctx, r.key)
	if err != nil {
		r.logger.Warn("failed to record attempt", zap.Error(err))
		attempt = 1
	}

	if attempt >= w.cfg.MaxAttempts {
		// an ambiguous final attempt may still have committed
		if r.destination != nil {
			records, err := w.AccountStore.RecordsByKey(ctx, r.key)
			if err != nil {
				r.logger.Warn("failed to look up committed records", zap.Error(err))
			} else if len(records) > 0 {
				return w.committed(ctx, r, domain.Success{Records: records, Duplicate: true})
			}
		}

		if _, err := w.AttemptTracker.Increment(ctx, exhaustedKey(r.key, failure.Reason)); err != nil {
			r.logger.Warn("failed to record exhaustion marker", zap.Error(err))
		}

		return w.fail(ctx, r, domain.PermanentFailure{
			Reason:    failure.Reason,
			Err:       fmt.Errorf("%w after %d attempts: %v", domain.ErrAttemptsExhausted, attempt, failure.Err),
			Exhausted: true,
		})
	}

	w.enter(r, domain.RunStateRetryQueued)
	failure.Attempt = attempt
	failure.RetryAfter = w.retryAfter(attempt)

	return failure
}

// fail settles the period and emits at most one diagnostic for it
func (w *Worker) fail(ctx context.Context, r *run, failure domain.PermanentFailure) domain.RunOutcome {
	w.enter(r, domain.RunStateFailed)

	if r.rule == nil {
		return failure
	}

	first, err := w.AttemptTracker.Increment(ctx, diagnosticKey(r.key))
	if err != nil {
		r.logger.Warn("failed to record diagnostic marker", zap.Error(err))
		first = 1
	}
	if first == 1 {
		w.emit(ctx, r, failureNotification(r, failure, w.now()))
	}

	return failure
}

// resetAttempts forgets every counter of the run's key
func (w *Worker) resetAttempts(ctx context.Context, r *run) {
	keys := []string{r.key, diagnosticKey(r.key)}
	for _, kind := range exhaustibleKinds {
		keys = append(keys, exhaustedKey(r.key, kind))
	}

	for _, key := range keys {
		if err := w.AttemptTracker.Reset(ctx, key); err != nil {
			r.logger.Warn("failed to reset attempt counter", zap.String("key", key), zap.Error(err))
		}
	}
}

// retryAfter returns the exponential back-off delay before attempt+1
func (w *Worker) retryAfter(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBaseDelay
	b.MaxInterval = w.cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (w *Worker) emit(ctx context.Context, r *run, notification domain.Notification) {
	if w.Notifier == nil {
		return
	}
	if err := w.Notifier.Emit(ctx, notification); err != nil {
		r.logger.Warn("failed to emit notification",
			zap.String("notification_type", string(notification.Type)),
			zap.Error(err),
		)
	}
}

func (w *Worker) enter(r *run, state domain.RunState) {
	r.logger.Debug("automation run state", zap.String("state", string(state)))
}

func cancelled(err error) domain.RunOutcome {
	return domain.RetryableFailure{Reason: domain.ErrKindCancelled, Err: err}
}

func storeError(op string, err error) error {
	if kind := domain.KindOf(err); kind.Retryable() {
		return err
	}
	return domain.NewError(domain.ErrKindStoreUnavailable, op, err)
}

func diagnosticKey(key string) string {
	return "diag:" + key
}

// exhaustibleKinds are the retryable kinds a period can run out of attempts on
var exhaustibleKinds = []domain.ErrorKind{
	domain.ErrKindInsufficientFunds,
	domain.ErrKindTimeout,
	domain.ErrKindStoreUnavailable,
}

func exhaustedKey(key string, reason domain.ErrorKind) string {
	return "exhausted:" + string(reason) + ":" + key
}

func successNotification(r *run, success domain.Success, at time.Time) domain.Notification {
	amount := r.rule.Amount
	n := domain.Notification{
		ID:        domain.NotificationID(domain.NotificationAutomationSuccess, r.key),
		UserID:    r.rule.OwnerID,
		Type:      domain.NotificationAutomationSuccess,
		Title:     "Automation completed",
		Message:   fmt.Sprintf("Moved %s %s to %s", amount.StringFixed(2), r.rule.Currency, r.destination.Name),
		Amount:    &amount,
		CreatedAt: at.UTC(),
	}

	if len(success.Records) > 0 {
		related := success.Records[0].ID
		n.RelatedTransactionID = &related
	}

	return n
}

func failureNotification(r *run, failure domain.PermanentFailure, at time.Time) domain.Notification {
	message := fmt.Sprintf("%s could not run: %s", r.rule.Name, failure.Reason)
	if failure.Exhausted {
		message = fmt.Sprintf("%s gave up for this period: %s", r.rule.Name, failure.Reason)
	}

	return domain.Notification{
		ID:        domain.NotificationID(domain.NotificationAutomationFailed, r.key),
		UserID:    r.rule.OwnerID,
		Type:      domain.NotificationAutomationFailed,
		Title:     "Automation failed",
		Message:   message,
		CreatedAt: at.UTC(),
	}
}

func outcomeFields(outcome domain.RunOutcome) []zap.Field {
	fields := []zap.Field{zap.String("state", string(outcome.State()))}

	switch o := outcome.(type) {
	case domain.Success:
		fields = append(fields, zap.Bool("duplicate", o.Duplicate), zap.Int("records", len(o.Records)))
	case domain.RetryableFailure:
		fields = append(fields,
			zap.String("reason", string(o.Reason)),
			zap.Int("attempt", o.Attempt),
			zap.Duration("retry_after", o.RetryAfter),
			zap.Error(o.Err),
		)
	case domain.PermanentFailure:
		fields = append(fields,
			zap.String("reason", string(o.Reason)),
			zap.Bool("exhausted", o.Exhausted),
			zap.Error(o.Err),
		)
	}

	return fields
}
