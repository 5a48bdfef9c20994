package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	pdotel "github.com/promptdeck/promptdeck/internal/adapter/otel"
	"github.com/promptdeck/promptdeck/internal/adapter/ws"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/domain"
	"github.com/promptdeck/promptdeck/internal/domain/experiment"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
	"github.com/promptdeck/promptdeck/internal/domain/scoring"
	"github.com/promptdeck/promptdeck/internal/port/broadcast"
	"github.com/promptdeck/promptdeck/internal/port/database"
	scoringport "github.com/promptdeck/promptdeck/internal/port/scoring"
)

// Decision reports the outcome of a complete-and-adopt request.
type Decision struct {
	Outcome         experiment.Outcome `json:"outcome"`
	Test            *experiment.Test   `json:"test,omitempty"`
	Promoted        bool               `json:"promoted"`
	PromotedVersion *prompt.Version    `json:"promoted_version,omitempty"`
	PromotionError  string             `json:"promotion_error,omitempty"`
}

// DecisionService evaluates experiments against their statistical contract
// and promotes winning versions.
type DecisionService struct {
	store       database.Store
	scores      scoringport.Reader
	experiments *ExperimentService
	prompts     *PromptService
	hub         broadcast.Broadcaster
	metrics     *pdotel.Metrics

	evalInterval time.Duration
	maxParallel  int64
}

// NewDecisionService creates a DecisionService.
func NewDecisionService(store database.Store, scores scoringport.Reader, experiments *ExperimentService, prompts *PromptService, hub broadcast.Broadcaster, cfg *config.Decision) *DecisionService {
	maxParallel := int64(cfg.MaxParallel)
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &DecisionService{
		store:        store,
		scores:       scores,
		experiments:  experiments,
		prompts:      prompts,
		hub:          hub,
		evalInterval: cfg.EvalInterval,
		maxParallel:  maxParallel,
	}
}

// SetMetrics attaches metric instruments.
func (s *DecisionService) SetMetrics(m *pdotel.Metrics) {
	s.metrics = m
}

// Evaluate computes the statistical comparison of a test's two arms from the
// samples recorded so far. While the test is running or paused the snapshot
// is persisted on the test; a completed or cancelled test returns its frozen
// snapshot without recomputation.
func (s *DecisionService) Evaluate(ctx context.Context, testID string) (*experiment.Evaluation, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	if t.Status.Terminal() {
		if t.Results == nil {
			return nil, fmt.Errorf("test %s is %s with no recorded evaluation: %w", t.ID, t.Status, domain.ErrInvalidState)
		}
		return &experiment.Evaluation{Outcome: experiment.OutcomeEvaluated, Results: t.Results}, nil
	}
	if t.Status == experiment.StatusDraft {
		return nil, fmt.Errorf("test %s has not started: %w", t.ID, domain.ErrInvalidState)
	}

	ctx, span := pdotel.StartEvaluateSpan(ctx, t.ID, t.PromptName)
	defer span.End()
	start := time.Now()

	ev, err := s.evaluateTest(ctx, t)
	if err != nil {
		return nil, err
	}
	if ev.Outcome == experiment.OutcomeInsufficientData {
		return ev, nil
	}

	if err := s.store.UpdateTestResults(ctx, t.ID, ev.Results); err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, ws.EventEvaluation, ws.EvaluationEvent{
		TestID:     t.ID,
		PromptName: t.PromptName,
		Outcome:    string(ev.Outcome),
		PValue:     ev.Results.PValue,
		Winner:     string(ev.Results.Winner),
	})
	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("prompt.name", t.PromptName))
		s.metrics.Evaluations.Add(ctx, 1, attrs)
		s.metrics.EvalDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		s.metrics.PValue.Record(ctx, ev.Results.PValue, attrs)
	}

	slog.Info("experiment evaluated",
		"test_id", t.ID,
		"samples_a", ev.Results.VariantASamples,
		"samples_b", ev.Results.VariantBSamples,
		"p_value", ev.Results.PValue,
		"winner", ev.Results.Winner,
	)
	return ev, nil
}

// CompleteAndMaybeAdopt evaluates a running test, completes it with the
// frozen snapshot, and promotes the winning version when the test asks for
// auto-adoption. With insufficient data the test is left running and the
// typed outcome returned; the operator extends or cancels. A promotion
// failure is reported in the decision and never rolls back the completed
// test.
func (s *DecisionService) CompleteAndMaybeAdopt(ctx context.Context, testID string) (*Decision, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if t.Status != experiment.StatusRunning {
		return nil, fmt.Errorf("complete test %s: test is %s, not running: %w", t.ID, t.Status, domain.ErrInvalidState)
	}

	ev, err := s.evaluateTest(ctx, t)
	if err != nil {
		return nil, err
	}
	if ev.Outcome == experiment.OutcomeInsufficientData {
		return &Decision{Outcome: experiment.OutcomeInsufficientData, Test: t}, nil
	}

	completed, err := s.experiments.Complete(ctx, t.ID, ev.Results)
	if err != nil {
		return nil, err
	}

	d := &Decision{Outcome: experiment.OutcomeEvaluated, Test: completed}
	if !completed.Config.AutoAdopt || ev.Results.Winner == experiment.WinnerNone {
		return d, nil
	}

	promoted, err := s.promoteWinner(ctx, completed, ev.Results.Winner)
	if err != nil {
		// The test stays completed; the operator promotes by hand.
		d.PromotionError = err.Error()
		slog.Error("winner promotion failed", "test_id", completed.ID, "winner", ev.Results.Winner, "error", err)
		return d, nil
	}
	d.Promoted = true
	d.PromotedVersion = promoted

	slog.Info("winner promoted", "test_id", completed.ID, "prompt", completed.PromptName,
		"winner", ev.Results.Winner, "version", promoted.Version)
	return d, nil
}

// promoteWinner activates the version pinned to the winning arm.
func (s *DecisionService) promoteWinner(ctx context.Context, t *experiment.Test, winner experiment.Winner) (*prompt.Version, error) {
	ctx, span := pdotel.StartPromoteSpan(ctx, t.ID, t.PromptName, string(winner))
	defer span.End()

	variant, err := t.Variant(experiment.VariantID(winner))
	if err != nil {
		return nil, err
	}
	v, err := s.store.GetVersionByID(ctx, variant.PromptVersionID)
	if err != nil {
		return nil, fmt.Errorf("resolve winning version: %w", err)
	}
	return s.prompts.SetActive(ctx, t.PromptName, v.Version)
}

// evaluateTest computes an evaluation without persisting anything. The
// per-variant floor is checked against recorded counts before scores are
// fetched, and again inside the domain evaluation against the samples that
// actually resolved.
func (s *DecisionService) evaluateTest(ctx context.Context, t *experiment.Test) (*experiment.Evaluation, error) {
	counts, err := s.store.CountResultsByVariant(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if min(counts[experiment.VariantA], counts[experiment.VariantB]) < t.Config.MinSamplesPerVariant {
		return &experiment.Evaluation{Outcome: experiment.OutcomeInsufficientData}, nil
	}

	samplesA, samplesB, err := s.collectSamples(ctx, t)
	if err != nil {
		return nil, err
	}
	ev := experiment.Evaluate(t.Config, samplesA, samplesB)
	return &ev, nil
}

// collectSamples joins the test's recorded results to their quality scores.
// Results whose score cannot be resolved are dropped from the evaluation.
func (s *DecisionService) collectSamples(ctx context.Context, t *experiment.Test) (samplesA, samplesB []scoring.Score, err error) {
	results, err := s.store.ListResults(ctx, t.ID)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.QualityScoreID != "" {
			ids = append(ids, r.QualityScoreID)
		}
	}
	resolved, err := s.scores.GetScores(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve quality scores for test %s: %w", t.ID, err)
	}

	var dropped int
	for _, r := range results {
		score, ok := resolved[r.QualityScoreID]
		if !ok {
			dropped++
			continue
		}
		switch r.VariantID {
		case experiment.VariantA:
			samplesA = append(samplesA, score)
		case experiment.VariantB:
			samplesB = append(samplesB, score)
		}
	}
	if dropped > 0 {
		slog.Warn("results without resolvable scores dropped from evaluation", "test_id", t.ID, "dropped", dropped)
	}
	return samplesA, samplesB, nil
}

// StartEvaluator begins the periodic evaluation of running tests. The
// returned stop function halts the ticker; in-flight evaluations finish on
// their own.
func (s *DecisionService) StartEvaluator(ctx context.Context) (stop func()) {
	cronCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.evalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cronCtx.Done():
				return
			case <-ticker.C:
				s.sweep(cronCtx)
			}
		}
	}()
	slog.Info("evaluation cron started", "interval", s.evalInterval, "max_parallel", s.maxParallel)
	return cancel
}

// sweep evaluates every running test with bounded parallelism and waits for
// the batch, so overlapping sweeps cannot pile up.
func (s *DecisionService) sweep(ctx context.Context) {
	tests, err := s.store.ListTests(ctx, experiment.Filter{Status: experiment.StatusRunning})
	if err != nil {
		slog.Error("list running tests", "error", err)
		return
	}

	sem := semaphore.NewWeighted(s.maxParallel)
	for _, t := range tests {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer sem.Release(1)
			s.tick(ctx, &t)
		}()
	}
	if err := sem.Acquire(ctx, s.maxParallel); err == nil {
		sem.Release(s.maxParallel)
	}
}

// tick advances one running test: a test that reached its sample cap is
// completed (and possibly adopted); otherwise its snapshot is refreshed. A
// capped test whose per-variant floor is unmet is never auto-decided.
func (s *DecisionService) tick(ctx context.Context, t *experiment.Test) {
	capReached, err := s.sampleCapReached(ctx, t)
	if err != nil {
		slog.Error("check sample cap", "test_id", t.ID, "error", err)
		return
	}

	if capReached {
		d, err := s.CompleteAndMaybeAdopt(ctx, t.ID)
		switch {
		case err != nil:
			slog.Error("auto-complete capped test", "test_id", t.ID, "error", err)
		case d.Outcome == experiment.OutcomeInsufficientData:
			slog.Warn("test reached its sample cap but is below the per-variant floor", "test_id", t.ID)
		default:
			slog.Info("capped test auto-completed", "test_id", t.ID, "winner", d.Test.Results.Winner, "promoted", d.Promoted)
		}
		return
	}

	if _, err := s.Evaluate(ctx, t.ID); err != nil {
		slog.Error("periodic evaluation", "test_id", t.ID, "error", err)
	}
}

func (s *DecisionService) sampleCapReached(ctx context.Context, t *experiment.Test) (bool, error) {
	if t.Config.MaxSamplesTotal <= 0 {
		return false, nil
	}
	counts, err := s.store.CountResultsByVariant(ctx, t.ID)
	if err != nil {
		return false, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total >= t.Config.MaxSamplesTotal, nil
}
