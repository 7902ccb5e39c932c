package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"account-gateway/internal/metrics"
	"account-gateway/internal/model"
)

// EventAccountCreated is recorded after a successful registration.
const EventAccountCreated = "account_created"

// activityPath is the activity store's creation endpoint.
const activityPath = "/api/activity"

var (
	// ErrActivityStoreNotConfigured is returned when no activity store URL is set.
	ErrActivityStoreNotConfigured = errors.New("activity store is not configured")
	// ErrActivityRejected is returned when the activity store answers with a non-2xx status.
	ErrActivityRejected = errors.New("activity store rejected the event")
)

// Activity is the audit event sent to the activity store.
type Activity struct {
	UserID    int64  `json:"userId"`
	EventType string `json:"eventType"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Metadata  string `json:"metadata,omitempty"`
}

// ActivityRecorder posts audit events to the activity store through the
// same Forwarder as client traffic, so the trust credential is injected the
// same way. Callers decide what to do with the returned error.
type ActivityRecorder struct {
	forwarder *Forwarder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewActivityRecorder creates an ActivityRecorder. The metrics parameter is optional.
func NewActivityRecorder(f *Forwarder, logger *slog.Logger, m *metrics.Metrics) *ActivityRecorder {
	return &ActivityRecorder{
		forwarder: f,
		logger:    logger.With("component", "activity_recorder"),
		metrics:   m,
	}
}

// Record sends one event, making at most one backend call.
func (r *ActivityRecorder) Record(ctx context.Context, a Activity) error {
	err := r.record(ctx, a)

	outcome := "recorded"
	switch {
	case errors.Is(err, ErrActivityStoreNotConfigured):
		outcome = "skipped"
	case errors.Is(err, ErrActivityRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}
	if r.metrics != nil {
		r.metrics.ActivityRecorded.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		r.logger.Warn("activity not recorded",
			"event_type", a.EventType,
			"user_id", a.UserID,
			"err", err,
		)
	}
	return err
}

func (r *ActivityRecorder) record(ctx context.Context, a Activity) error {
	if !r.forwarder.Configured(model.ActivityStore) {
		return ErrActivityStoreNotConfigured
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}

	resp, err := r.forwarder.Forward(&model.ProxyRequest{
		Ctx:    ctx,
		Method: http.MethodPost,
		Path:   activityPath,
		Header: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
	}, model.ActivityStore)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrActivityRejected, resp.StatusCode)
	}
	return nil
}
