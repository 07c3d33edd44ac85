package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/simaogato/wealthflow-automation/internal/logging"
	"github.com/simaogato/wealthflow-automation/internal/usecase/scheduler"
)

// AutomationHost is the part of the scheduler the server drives
type AutomationHost interface {
	RunOnce(ctx context.Context, ruleID uuid.UUID, period time.Time) (domain.RunOutcome, error)
	Tick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
	SetRuleEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error
}

var _ AutomationServiceServer = (*Server)(nil)

// Server implements the AutomationService gRPC server
type Server struct {
	Host AutomationHost

	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates a new gRPC server instance
func NewServer(host AutomationHost, logger *zap.Logger) *Server {
	return &Server{
		Host:   host,
		logger: logging.OrNop(logger).Named("grpc"),
		now:    time.Now,
	}
}

// RunOnce handles the RunOnce RPC: {rule_id, period} -> outcome
func (s *Server) RunOnce(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ruleID, err := uuidField(req, "rule_id")
	if err != nil {
		return nil, err
	}

	periodStr := stringField(req, "period")
	if periodStr == "" {
		return nil, status.Error(codes.InvalidArgument, "period is required")
	}
	period, err := time.Parse(time.RFC3339, periodStr)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid period format: %v", err)
	}

	outcome, err := s.Host.RunOnce(ctx, ruleID, period)
	if err != nil {
		return nil, mapError(err)
	}

	s.logger.Info("run requested",
		zap.String("rule_id", ruleID.String()),
		zap.Time("period", period.UTC()),
		zap.String("state", string(outcome.State())),
	)

	return structpb.NewStruct(outcomeFields(outcome))
}

// Tick handles the Tick RPC: runs one scheduling round now
func (s *Server) Tick(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	report, err := s.Host.Tick(ctx, s.now())
	if err != nil {
		return nil, mapError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"due":          report.Due,
		"dispatched":   report.Dispatched,
		"skipped":      report.Skipped,
		"committed":    report.Committed,
		"retry_queued": report.RetryQueued,
		"failed":       report.Failed,
		"lock_held":    report.LockHeld,
	})
}

// SetRuleEnabled handles the SetRuleEnabled RPC: {rule_id, enabled}
func (s *Server) SetRuleEnabled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ruleID, err := uuidField(req, "rule_id")
	if err != nil {
		return nil, err
	}

	value, ok := req.GetFields()["enabled"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "enabled is required")
	}
	enabled, ok := value.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "enabled must be a boolean")
	}

	if err := s.Host.SetRuleEnabled(ctx, ruleID, enabled.BoolValue); err != nil {
		return nil, mapError(err)
	}

	return &structpb.Struct{}, nil
}

func outcomeFields(outcome domain.RunOutcome) map[string]interface{} {
	fields := map[string]interface{}{
		"state": string(outcome.State()),
	}

	switch o := outcome.(type) {
	case domain.Success:
		ids := make([]interface{}, 0, len(o.Records))
		for _, record := range o.Records {
			ids = append(ids, record.ID.String())
		}
		fields["outcome"] = "success"
		fields["duplicate"] = o.Duplicate
		fields["transaction_ids"] = ids
	case domain.RetryableFailure:
		fields["outcome"] = "retryable_failure"
		fields["reason"] = string(o.Reason)
		fields["retry_after_ms"] = o.RetryAfter.Milliseconds()
		fields["attempt"] = o.Attempt
		if o.Err != nil {
			fields["error"] = o.Err.Error()
		}
	case domain.PermanentFailure:
		fields["outcome"] = "permanent_failure"
		fields["reason"] = string(o.Reason)
		fields["exhausted"] = o.Exhausted
		if o.Err != nil {
			fields["error"] = o.Err.Error()
		}
	}

	return fields
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func uuidField(req *structpb.Struct, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(stringField(req, name))
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", name, err)
	}
	return id, nil
}

// mapError maps domain errors to gRPC status codes
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, scheduler.ErrRunInFlight) {
		return status.Error(codes.Aborted, err.Error())
	}

	switch domain.KindOf(err) {
	case domain.ErrKindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.ErrKindInvalidRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.ErrKindTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case domain.ErrKindCancelled:
		return status.Error(codes.Canceled, err.Error())
	case domain.ErrKindStoreUnavailable:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
