package submission

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/homeprojects/lead-auction-exchange/internal/domain/auction"
	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/domain/lead"
	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/queue"
)

// SubmitRequest is an inbound lead submission.
type SubmitRequest struct {
	ServiceTypeID string         `json:"serviceTypeId" validate:"required,uuid4"`
	ZipCode       string         `json:"zipCode" validate:"required,len=5,numeric"`
	OwnsHome      bool           `json:"ownsHome"`
	Timeframe     string         `json:"timeframe" validate:"required,oneof=immediate 1_3_months 3_6_months flexible"`
	FormData      map[string]any `json:"formData"`

	Compliance ComplianceInput `json:"compliance"`

	// Captured by the transport layer for the audit trail.
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// ComplianceInput carries the submission's opaque compliance tokens.
type ComplianceInput struct {
	TrustedFormCertURL string            `json:"trustedFormCertUrl,omitempty"`
	TrustedFormCertID  string            `json:"trustedFormCertId,omitempty"`
	JornayaLeadID      string            `json:"jornayaLeadId,omitempty"`
	TCPAConsent        bool              `json:"tcpaConsent,omitempty"`
	Attribution        map[string]string `json:"attribution,omitempty"`
}

// SubmitResult is all the caller learns; auction results surface only through
// admin reads or buyer webhooks.
type SubmitResult struct {
	LeadID uuid.UUID `json:"leadId"`
	Status string    `json:"status"`
	JobID  uuid.UUID `json:"jobId"`

	// Queue class the lead landed in; not part of the wire response.
	Priority queue.Priority `json:"-"`
}

// Store persists the submitted lead with its initial history and audit rows
// atomically.
type Store interface {
	CreateLead(ctx context.Context, l *lead.Lead, history *lead.StatusHistory, audit *domain.ComplianceAuditEntry) error
}

// Enqueuer hands the lead to the auction workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, leadID uuid.UUID, priority queue.Priority) (*queue.Job, error)
	Depth(ctx context.Context) (int64, error)
}

// ErrQueueSaturated tells the caller to retry later.
var ErrQueueSaturated = apperrors.NewRateLimitError("lead queue is saturated, retry later")

// Service accepts lead submissions: validate, persist as PENDING, enqueue.
type Service struct {
	store     Store
	queue     Enqueuer
	validate  *validator.Validate
	highWater int64
	logger    *zap.Logger
}

// NewService creates the submission service. highWater caps queue depth; 0
// disables backpressure.
func NewService(store Store, q Enqueuer, highWater int, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		queue:     q,
		validate:  validator.New(),
		highWater: int64(highWater),
		logger:    logger,
	}
}

// Submit validates and persists a lead and queues it for auction. High
// quality leads (score >= 80) go to the high-priority queue.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError("INVALID_SUBMISSION", "invalid lead submission").WithCause(err)
	}

	if s.highWater > 0 {
		depth, err := s.queue.Depth(ctx)
		if err != nil {
			s.logger.Warn("queue depth check failed, admitting lead", zap.Error(err))
		} else if depth >= s.highWater {
			return nil, ErrQueueSaturated
		}
	}

	serviceTypeID, err := uuid.Parse(req.ServiceTypeID)
	if err != nil {
		return nil, apperrors.NewValidationError("INVALID_SERVICE_TYPE", "service type ID is not a UUID")
	}
	timeframe, err := lead.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, apperrors.NewValidationError("INVALID_TIMEFRAME", err.Error())
	}

	l, err := lead.NewLead(serviceTypeID, req.ZipCode, req.OwnsHome, timeframe, req.FormData, lead.ComplianceData{
		TrustedFormCertURL: req.Compliance.TrustedFormCertURL,
		TrustedFormCertID:  req.Compliance.TrustedFormCertID,
		JornayaLeadID:      req.Compliance.JornayaLeadID,
		TCPAConsent:        req.Compliance.TCPAConsent,
		Attribution:        req.Compliance.Attribution,
	})
	if err != nil {
		return nil, apperrors.NewValidationError("INVALID_LEAD", err.Error())
	}

	history := &lead.StatusHistory{
		ID:        uuid.New(),
		LeadID:    l.ID,
		To:        l.Status.String(),
		Reason:    "submitted",
		CreatedAt: time.Now().UTC(),
	}
	audit := domain.NewComplianceAuditEntry(l.ID, domain.EventLeadSubmitted, map[string]any{
		"zip_code":        l.ZipCode,
		"service_type_id": l.ServiceTypeID,
		"quality_score":   l.QualityScore,
	})
	audit.IPAddress = req.IPAddress
	audit.UserAgent = req.UserAgent

	if err := s.store.CreateLead(ctx, l, history, audit); err != nil {
		return nil, err
	}

	priority := queue.PriorityNormal
	if l.HighPriority() {
		priority = queue.PriorityHigh
	}
	job, err := s.queue.Enqueue(ctx, l.ID, priority)
	if err != nil {
		// The lead is persisted; a requeue sweep can recover it.
		s.logger.Error("lead enqueue failed",
			zap.String("lead_id", l.ID.String()),
			zap.Error(err))
		return nil, apperrors.NewInternalError("failed to queue lead for auction").WithCause(err)
	}

	s.logger.Info("lead submitted",
		zap.String("lead_id", l.ID.String()),
		zap.Int("quality_score", l.QualityScore),
		zap.String("priority", string(priority)))

	return &SubmitResult{LeadID: l.ID, Status: l.Status.String(), JobID: job.ID, Priority: priority}, nil
}
