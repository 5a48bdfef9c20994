package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	pdotel "github.com/promptdeck/promptdeck/internal/adapter/otel"
	"github.com/promptdeck/promptdeck/internal/adapter/ws"
	"github.com/promptdeck/promptdeck/internal/domain"
	"github.com/promptdeck/promptdeck/internal/domain/event"
	"github.com/promptdeck/promptdeck/internal/domain/experiment"
	"github.com/promptdeck/promptdeck/internal/port/broadcast"
	"github.com/promptdeck/promptdeck/internal/port/database"
	"github.com/promptdeck/promptdeck/internal/port/messagequeue"
)

// ExperimentService manages the A/B test lifecycle and result intake.
type ExperimentService struct {
	store   database.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *pdotel.Metrics
}

// NewExperimentService creates an ExperimentService.
func NewExperimentService(store database.Store, queue messagequeue.Queue, hub broadcast.Broadcaster) *ExperimentService {
	return &ExperimentService{store: store, queue: queue, hub: hub}
}

// SetMetrics attaches metric instruments.
func (s *ExperimentService) SetMetrics(m *pdotel.Metrics) {
	s.metrics = m
}

// Create builds a draft test after verifying that both pinned versions exist
// and belong to the test's prompt, and that no running test already claims
// the prompt. The running check here is advisory; Start re-checks it
// atomically against the store.
func (s *ExperimentService) Create(ctx context.Context, req experiment.CreateRequest) (*experiment.Test, error) {
	t, err := experiment.New(req)
	if err != nil {
		return nil, err
	}

	for _, variant := range []experiment.Variant{t.VariantA, t.VariantB} {
		v, err := s.store.GetVersionByID(ctx, variant.PromptVersionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("variant %s prompt version %s does not exist: %w",
					variant.ID, variant.PromptVersionID, domain.ErrValidation)
			}
			return nil, err
		}
		if v.PromptName != t.PromptName {
			return nil, fmt.Errorf("variant %s prompt version belongs to %q, not %q: %w",
				variant.ID, v.PromptName, t.PromptName, domain.ErrValidation)
		}
	}

	if _, err := s.store.GetRunningTestForPrompt(ctx, t.PromptName); err == nil {
		return nil, fmt.Errorf("a test is already running for prompt %q: %w", t.PromptName, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := s.store.CreateTest(ctx, t); err != nil {
		return nil, err
	}

	s.announce(ctx, t, event.TypeTestCreated, messagequeue.SubjectTestCreated)
	slog.Info("experiment created", "test_id", t.ID, "prompt", t.PromptName)
	return t, nil
}

// Get returns a test by ID.
func (s *ExperimentService) Get(ctx context.Context, id string) (*experiment.Test, error) {
	return s.store.GetTest(ctx, id)
}

// List returns tests matching the filter, newest first.
func (s *ExperimentService) List(ctx context.Context, filter experiment.Filter) ([]experiment.Test, error) {
	return s.store.ListTests(ctx, filter)
}

// RunningForPrompt returns the prompt's running test, or ErrNotFound.
func (s *ExperimentService) RunningForPrompt(ctx context.Context, promptName string) (*experiment.Test, error) {
	return s.store.GetRunningTestForPrompt(ctx, promptName)
}

// Start moves a draft or paused test into running. Conflicts with another
// running test for the same prompt surface as ErrConflict.
func (s *ExperimentService) Start(ctx context.Context, id string) (*experiment.Test, error) {
	t, err := s.store.StartTest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, t, event.TypeTestStarted, messagequeue.SubjectTestStarted)
	if s.metrics != nil {
		s.metrics.TestsStarted.Add(ctx, 1,
			metric.WithAttributes(attribute.String("prompt.name", t.PromptName)))
	}
	slog.Info("experiment started", "test_id", t.ID, "prompt", t.PromptName)
	return t, nil
}

// Pause suspends a running test. Recorded results are kept; result intake
// rejects new observations until the test resumes.
func (s *ExperimentService) Pause(ctx context.Context, id string) (*experiment.Test, error) {
	t, err := s.store.PauseTest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, t, event.TypeTestPaused, messagequeue.SubjectTestPaused)
	slog.Info("experiment paused", "test_id", t.ID)
	return t, nil
}

// Cancel terminates a test without a decision. Terminal and immediate;
// already-recorded results remain for audit.
func (s *ExperimentService) Cancel(ctx context.Context, id string) (*experiment.Test, error) {
	t, err := s.store.CancelTest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, t, event.TypeTestCancelled, messagequeue.SubjectTestCancelled)
	slog.Info("experiment cancelled", "test_id", t.ID)
	return t, nil
}

// Complete moves a running test into completed and freezes the results
// snapshot. Normally invoked by the decision engine.
func (s *ExperimentService) Complete(ctx context.Context, id string, results *experiment.Results) (*experiment.Test, error) {
	t, err := s.store.CompleteTest(ctx, id, results)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, t, event.TypeTestCompleted, messagequeue.SubjectTestCompleted)
	if s.metrics != nil {
		s.metrics.TestsCompleted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("prompt.name", t.PromptName),
			attribute.String("test.winner", string(t.Results.Winner)),
		))
	}
	slog.Info("experiment completed", "test_id", t.ID, "winner", t.Results.Winner, "p_value", t.Results.PValue)
	return t, nil
}

// RecordResult appends one observation for a running test. A duplicate
// (test, job) pair is reported as created=false without error, so
// orchestrator retries are harmless.
func (s *ExperimentService) RecordResult(ctx context.Context, testID string, variantID experiment.VariantID, jobID, qualityScoreID string) (*experiment.Result, bool, error) {
	if testID == "" || jobID == "" {
		return nil, false, fmt.Errorf("ab_test_id and job_id are required: %w", domain.ErrValidation)
	}
	if variantID != experiment.VariantA && variantID != experiment.VariantB {
		return nil, false, fmt.Errorf("unknown variant %q: %w", variantID, domain.ErrValidation)
	}

	r := &experiment.Result{
		TestID:         testID,
		VariantID:      variantID,
		JobID:          jobID,
		QualityScoreID: qualityScoreID,
	}
	created, err := s.store.RecordResult(ctx, r)
	if err != nil {
		return nil, false, err
	}
	if created && s.metrics != nil {
		s.metrics.ResultsRecorded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("test.id", testID),
			attribute.String("test.variant", string(variantID)),
		))
	}
	return r, created, nil
}

// CountByVariant returns the per-variant result counts of a test.
func (s *ExperimentService) CountByVariant(ctx context.Context, testID string) (map[experiment.VariantID]int, error) {
	return s.store.CountResultsByVariant(ctx, testID)
}

// Results returns all recorded results of a test in recording order.
func (s *ExperimentService) Results(ctx context.Context, testID string) ([]experiment.Result, error) {
	return s.store.ListResults(ctx, testID)
}

// announce publishes the audit event and the WebSocket status update for a
// lifecycle change.
func (s *ExperimentService) announce(ctx context.Context, t *experiment.Test, typ event.Type, subject string) {
	p := event.TestPayload{Status: string(t.Status), CreatedBy: t.CreatedBy}
	if t.Results != nil {
		p.Winner = string(t.Results.Winner)
		p.PValue = t.Results.PValue
	}
	payload, _ := json.Marshal(p)

	publishEvent(ctx, s.queue, subject, event.Event{
		Type:       typ,
		PromptName: t.PromptName,
		TestID:     t.ID,
		Payload:    payload,
	})
	s.hub.BroadcastEvent(ctx, ws.EventExperimentStatus, ws.ExperimentStatusEvent{
		TestID:     t.ID,
		PromptName: t.PromptName,
		Status:     string(t.Status),
	})
}
