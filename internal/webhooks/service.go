/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/telemetry"
)

// RunPayload is the run summary included in webhook deliveries.
type RunPayload struct {
	ID           string     `json:"id"`
	InstanceID   string     `json:"instance_id"`
	InstanceName string     `json:"instance_name,omitempty"`
	Status       string     `json:"status"`
	Complete     bool       `json:"complete"`
	Assignments  int        `json:"assignments"`
	Shortfalls   int        `json:"shortfalls"`
	DurationMS   int64      `json:"duration_ms"`
	Error        string     `json:"error,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// WebhookPayload is the payload sent to webhook endpoints.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Run       *RunPayload `json:"run,omitempty"`
}

// Service handles webhook delivery.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start begins listening for run events to trigger webhooks.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	completed := s.bus.Subscribe(events.EventRunCompleted)
	failed := s.bus.Subscribe(events.EventRunFailed)

	defer func() {
		s.bus.Unsubscribe(events.EventRunCompleted, completed)
		s.bus.Unsubscribe(events.EventRunFailed, failed)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-completed:
			s.handleRunEvent(ctx, payload, models.WebhookEventRunCompleted)

		case payload := <-failed:
			s.handleRunEvent(ctx, payload, models.WebhookEventRunFailed)
		}
	}
}

// handleRunEvent loads the run named by the event and fires webhooks.
func (s *Service) handleRunEvent(ctx context.Context, payload events.Payload, eventType models.WebhookEventType) {
	runID, ok := payload["run_id"].(string)
	if !ok || runID == "" {
		return
	}

	var run models.SolveRun
	if err := s.db.Preload("Instance").First(&run, "id = ?", runID).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("failed to load run for webhook")
		return
	}

	s.fireWebhooks(ctx, eventType, &run)
}

// fireWebhooks sends webhooks for a given event to all subscribed targets.
func (s *Service) fireWebhooks(ctx context.Context, eventType models.WebhookEventType, run *models.SolveRun) {
	var targets []models.WebhookTarget
	if err := s.db.Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch webhook targets")
		return
	}

	for _, target := range targets {
		if !s.targetHandlesEvent(target, eventType) {
			continue
		}
		go s.sendWebhook(ctx, target, eventType, run)
	}
}

// targetHandlesEvent checks if a target is subscribed to an event type.
func (s *Service) targetHandlesEvent(target models.WebhookTarget, eventType models.WebhookEventType) bool {
	if target.Events == "" {
		return true // Default: handle all events
	}
	for _, e := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(e) == string(eventType) {
			return true
		}
	}
	return false
}

// sendWebhook sends a single webhook request and records the attempt.
func (s *Service) sendWebhook(ctx context.Context, target models.WebhookTarget, eventType models.WebhookEventType, run *models.SolveRun) {
	payload := WebhookPayload{
		Event:     string(eventType),
		Timestamp: time.Now().UTC(),
		Run:       runToPayload(run),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to marshal webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to create webhook request")
		s.logDelivery(target, eventType, body, http.StatusInternalServerError, err.Error(), 0)
		return
	}
	s.setHeaders(req, string(eventType), body, target.Secret)

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).
			Str("webhook", target.ID).
			Str("url", target.URL).
			Msg("webhook delivery failed")
		s.logDelivery(target, eventType, body, 0, err.Error(), elapsed)
		return
	}
	defer resp.Body.Close()

	s.logDelivery(target, eventType, body, resp.StatusCode, "", elapsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
		s.logger.Debug().
			Str("webhook", target.ID).
			Str("event", string(eventType)).
			Int("status", resp.StatusCode).
			Msg("webhook delivered")
	} else {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		s.logger.Warn().
			Str("webhook", target.ID).
			Str("event", string(eventType)).
			Int("status", resp.StatusCode).
			Msg("webhook returned error status")
	}
}

// setHeaders stamps the delivery headers and the HMAC signature.
func (s *Service) setHeaders(req *http.Request, eventType string, body []byte, secret string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vakt-Webhook/1.0")
	req.Header.Set("X-Vakt-Event", eventType)
	req.Header.Set("X-Vakt-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if secret != "" {
		req.Header.Set("X-Vakt-Signature", signPayload(body, secret))
	}
}

// signPayload creates an HMAC-SHA256 signature.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// runToPayload converts a run to its webhook form.
func runToPayload(run *models.SolveRun) *RunPayload {
	if run == nil {
		return nil
	}

	p := &RunPayload{
		ID:          run.ID,
		InstanceID:  run.InstanceID,
		Status:      string(run.Status),
		Complete:    run.Complete,
		Assignments: run.Assignments,
		Shortfalls:  len(run.Shortfalls),
		DurationMS:  run.DurationMS,
		Error:       run.Error,
		FinishedAt:  run.FinishedAt,
	}
	if run.Instance != nil {
		p.InstanceName = run.Instance.Name
	}
	return p
}

// logDelivery records a webhook delivery attempt.
func (s *Service) logDelivery(target models.WebhookTarget, eventType models.WebhookEventType, payload []byte, statusCode int, errorMsg string, elapsed time.Duration) {
	entry := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      string(eventType),
		Payload:    string(payload),
		StatusCode: statusCode,
		Error:      errorMsg,
		Duration:   int(elapsed.Milliseconds()),
	}

	if err := s.db.Create(entry).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook delivery")
	}
}

// TestWebhook sends a sample payload to a target so operators can verify
// the endpoint before enabling it.
func (s *Service) TestWebhook(target *models.WebhookTarget) error {
	now := time.Now().UTC()
	payload := WebhookPayload{
		Event:     "test",
		Timestamp: now,
		Run: &RunPayload{
			ID:          "test-run-id",
			InstanceID:  "test-instance-id",
			Status:      string(models.RunCompleted),
			Complete:    true,
			Assignments: 21,
			DurationMS:  12,
			FinishedAt:  &now,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req, "test", body, target.Secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
