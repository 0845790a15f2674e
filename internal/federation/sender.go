package federation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/models"
	"outpost/internal/observability"
	"outpost/internal/queue"
	"outpost/internal/repository"
)

// Sender performs the signed POSTs queued by the Publisher.
type Sender struct {
	accounts  repository.AccountRepository
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewSender returns a Sender. A nil client gets one with timeout.
func NewSender(accounts repository.AccountRepository, client *http.Client, userAgent string, timeout time.Duration, logger *slog.Logger) *Sender {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Sender{accounts: accounts, client: client, userAgent: userAgent, logger: loggerOrDefault(logger)}
}

// HandleMessage is the queue handler for delivery jobs.
func (s *Sender) HandleMessage(ctx context.Context, m queue.Message) error {
	var job DeliveryJob
	if err := json.Unmarshal(m.Payload, &job); err != nil {
		s.logger.ErrorContext(ctx, "dropping undecodable delivery job",
			slog.String("message_id", m.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return s.Deliver(ctx, job)
}

// Deliver signs job.Body as the job's account and POSTs it. Errors worth
// retrying are returned; permanent rejections are logged and dropped.
func (s *Sender) Deliver(ctx context.Context, job DeliveryJob) error {
	account, err := s.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		if models.IsNotFound(err) {
			s.logger.WarnContext(ctx, "dropping delivery for missing account", slog.Uint64("account_id", uint64(job.AccountID)))
			return nil
		}
		return err
	}
	if !account.Internal {
		s.logger.WarnContext(ctx, "dropping delivery signed by a remote account", slog.Uint64("account_id", uint64(job.AccountID)))
		return nil
	}

	ctx, span := observability.TraceDelivery(ctx, job.Inbox)
	done := observability.TrackDelivery()
	err = s.post(ctx, job, account)
	observability.EndSpan(span, err)

	outcome := "delivered"
	switch {
	case models.IsValidation(err):
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}
	done(outcome)
	observability.LogActivity(ctx, "outbound", "", job.ActivityID, outcome, err)

	if models.IsValidation(err) {
		return nil
	}
	return err
}

// post returns a validation error for permanent 4xx rejections and an
// upstream error for anything that may succeed later.
func (s *Sender) post(ctx context.Context, job DeliveryJob, account *domain.Account) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Inbox, bytes.NewReader(job.Body))
	if err != nil {
		return models.NewValidationError("invalid inbox url " + job.Inbox)
	}
	req.Header.Set("Content-Type", activitypub.LDContentType)
	req.Header.Set("Accept", activitypub.AcceptHeader)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if err := SignRequest(req, job.Body, account); err != nil {
		return models.NewInternalError(fmt.Errorf("sign delivery: %w", err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.NewUpstreamError("deliver to "+job.Inbox, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return models.NewUpstreamError("deliver to "+job.Inbox, fmt.Errorf("status %d", code))
	case code >= 400 && code < 500:
		return models.NewValidationError(fmt.Sprintf("%s rejected delivery with status %d", job.Inbox, code))
	default:
		return models.NewUpstreamError("deliver to "+job.Inbox, fmt.Errorf("status %d", code))
	}
}
