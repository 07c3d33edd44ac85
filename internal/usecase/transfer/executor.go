package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
)

const tracerName = "github.com/simaogato/wealthflow-automation/internal/usecase/transfer"

// Config tunes the executor
type Config struct {
	// Strict panics on ledger invariant violations instead of failing the run
	Strict bool

	// BreakerFailures is the number of consecutive store failures that open the breaker
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing again
	BreakerTimeout time.Duration
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Executor performs one transfer attempt against the account store.
// It never panics on business conditions: every failure becomes a RunOutcome.
type Executor struct {
	AccountStore domain.AccountStore

	breaker *gobreaker.CircuitBreaker
	strict  bool
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewExecutor creates a new Executor instance
func NewExecutor(accountStore domain.AccountStore, cfg Config, logger *zap.Logger) *Executor {
	logger = logging.OrNop(logger).Named("transfer")

	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultConfig().BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultConfig().BreakerTimeout
	}

	settings := gobreaker.Settings{
		Name:    "account-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Executor{
		AccountStore: accountStore,
		breaker:      gobreaker.NewCircuitBreaker(settings),
		strict:       cfg.Strict,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}
}

// Execute attempts the transfer described by req.
// Logic:
//  1. Validate the request shape
//  2. Load both accounts (not found is permanent, store errors are retryable)
//  3. Check activity, currency and the destination kind for the transfer class
//  4. Commit both legs; the store re-checks the balance inside its commit scope
//  5. A key that already committed is reported as a duplicate success
func (e *Executor) Execute(ctx context.Context, req domain.TransferRequest) domain.RunOutcome {
	ctx, span := e.tracer.Start(ctx, "transfer.Execute", trace.WithAttributes(
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.String("source_account_id", req.SourceAccountID.String()),
		attribute.String("destination_account_id", req.DestinationAccountID.String()),
	))
	defer span.End()

	outcome := e.execute(ctx, req)

	switch o := outcome.(type) {
	case domain.Success:
		span.SetAttributes(attribute.Bool("duplicate", o.Duplicate))
		span.SetStatus(codes.Ok, "")
	case domain.RetryableFailure:
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, string(o.Reason))
	case domain.PermanentFailure:
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, string(o.Reason))
	}

	return outcome
}

func (e *Executor) execute(ctx context.Context, req domain.TransferRequest) domain.RunOutcome {
	// 1. Request shape
	if err := req.Validate(); err != nil {
		return domain.Permanent(err)
	}

	// 2. Both accounts
	source, err := e.getAccount(ctx, req.SourceAccountID)
	if err != nil {
		return domain.OutcomeOf(err)
	}

	destination, err := e.getAccount(ctx, req.DestinationAccountID)
	if err != nil {
		return domain.OutcomeOf(err)
	}

	// 3. Account compatibility
	if err := req.CheckAccounts(source, destination); err != nil {
		return domain.Permanent(err)
	}

	// 4. Commit
	result, err := guard(e, "commit_transfer", func() (*domain.CommitResult, error) {
		return e.AccountStore.CommitTransfer(ctx, req)
	})
	if err != nil {
		if domain.KindOf(err) == domain.ErrKindInvariantViolation {
			e.logger.Error("ledger invariant violated",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err),
			)
			if e.strict {
				panic(fmt.Sprintf("ledger invariant violated for %s: %v", req.IdempotencyKey, err))
			}
			return domain.Permanent(err)
		}
		return domain.OutcomeOf(err)
	}

	// 5. Replay
	if result.Replayed {
		e.logger.Debug("transfer already committed",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int("records", len(result.Records)),
		)
	}

	return domain.Success{Records: result.Records, Duplicate: result.Replayed}
}

func (e *Executor) getAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return guard(e, "get_account", func() (*domain.Account, error) {
		return e.AccountStore.GetAccount(ctx, id)
	})
}

// guard runs a store call through the circuit breaker
func guard[T any](e *Executor, op string, call func() (T, error)) (T, error) {
	var zero T

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, domain.NewError(domain.ErrKindStoreUnavailable, op, fmt.Errorf("account store circuit open: %w", err))
		}
		return zero, err
	}

	return out.(T), nil
}

// countsAsHealthy keeps business outcomes from tripping the breaker.
// Only unavailability and timeouts count as store failures.
func countsAsHealthy(err error) bool {
	switch domain.KindOf(err) {
	case domain.ErrKindStoreUnavailable, domain.ErrKindTimeout:
		return false
	default:
		return true
	}
}
