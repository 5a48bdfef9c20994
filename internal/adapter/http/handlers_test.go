package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pdhttp "github.com/promptdeck/promptdeck/internal/adapter/http"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/domain"
	"github.com/promptdeck/promptdeck/internal/domain/experiment"
	"github.com/promptdeck/promptdeck/internal/domain/prompt"
	"github.com/promptdeck/promptdeck/internal/domain/scoring"
	"github.com/promptdeck/promptdeck/internal/port/database"
	"github.com/promptdeck/promptdeck/internal/port/messagequeue"
	"github.com/promptdeck/promptdeck/internal/service"
)

var errNotFound = fmt.Errorf("mock: %w", domain.ErrNotFound)

// mockStore implements database.Store in memory with the same convergence and
// state-machine semantics as the postgres adapter.
type mockStore struct {
	versions []prompt.Version
	tests    []experiment.Test
	results  []experiment.Result
}

var _ database.Store = (*mockStore)(nil)

func (m *mockStore) CreatePromptVersion(_ context.Context, req prompt.CreateRequest) (*prompt.Version, bool, error) {
	hash := prompt.HashContent(req.Content)
	maxVersion := 0
	for i := range m.versions {
		v := &m.versions[i]
		if v.PromptName != req.PromptName {
			continue
		}
		if v.ContentHash == hash {
			cp := *v
			return &cp, false, nil
		}
		if v.Version > maxVersion {
			maxVersion = v.Version
		}
	}
	v := prompt.Version{
		ID:            uuid.NewString(),
		PromptName:    req.PromptName,
		Version:       maxVersion + 1,
		Content:       req.Content,
		ContentHash:   hash,
		Author:        req.Author,
		ChangeSummary: req.ChangeSummary,
		IsActive:      maxVersion == 0,
		CreatedAt:     time.Now().UTC(),
	}
	m.versions = append(m.versions, v)
	return &v, true, nil
}

func (m *mockStore) GetActiveVersion(_ context.Context, promptName string) (*prompt.Version, error) {
	for i := range m.versions {
		if m.versions[i].PromptName == promptName && m.versions[i].IsActive {
			cp := m.versions[i]
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *mockStore) GetVersionByNumber(_ context.Context, promptName string, version int) (*prompt.Version, error) {
	for i := range m.versions {
		if m.versions[i].PromptName == promptName && m.versions[i].Version == version {
			cp := m.versions[i]
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *mockStore) GetVersionByID(_ context.Context, id string) (*prompt.Version, error) {
	for i := range m.versions {
		if m.versions[i].ID == id {
			cp := m.versions[i]
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *mockStore) ListVersions(_ context.Context, promptName string) ([]prompt.Version, error) {
	var out []prompt.Version
	for i := len(m.versions) - 1; i >= 0; i-- {
		if m.versions[i].PromptName == promptName {
			out = append(out, m.versions[i])
		}
	}
	return out, nil
}

func (m *mockStore) ListPromptNames(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for i := range m.versions {
		if !seen[m.versions[i].PromptName] {
			seen[m.versions[i].PromptName] = true
			names = append(names, m.versions[i].PromptName)
		}
	}
	return names, nil
}

func (m *mockStore) SetActiveVersion(_ context.Context, promptName string, version int) (*prompt.Version, error) {
	var target *prompt.Version
	for i := range m.versions {
		if m.versions[i].PromptName == promptName && m.versions[i].Version == version {
			target = &m.versions[i]
			break
		}
	}
	if target == nil {
		return nil, errNotFound
	}
	for i := range m.versions {
		if m.versions[i].PromptName == promptName {
			m.versions[i].IsActive = false
		}
	}
	target.IsActive = true
	cp := *target
	return &cp, nil
}

func (m *mockStore) CreateTest(_ context.Context, t *experiment.Test) error {
	m.tests = append(m.tests, *t)
	return nil
}

func (m *mockStore) findTest(id string) *experiment.Test {
	for i := range m.tests {
		if m.tests[i].ID == id {
			return &m.tests[i]
		}
	}
	return nil
}

func (m *mockStore) GetTest(_ context.Context, id string) (*experiment.Test, error) {
	t := m.findTest(id)
	if t == nil {
		return nil, errNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTests(_ context.Context, filter experiment.Filter) ([]experiment.Test, error) {
	var out []experiment.Test
	for i := len(m.tests) - 1; i >= 0; i-- {
		t := m.tests[i]
		if filter.PromptName != "" && t.PromptName != filter.PromptName {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) GetRunningTestForPrompt(_ context.Context, promptName string) (*experiment.Test, error) {
	for i := range m.tests {
		if m.tests[i].PromptName == promptName && m.tests[i].Status == experiment.StatusRunning {
			cp := m.tests[i]
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *mockStore) transition(id string, to experiment.Status) (*experiment.Test, error) {
	t := m.findTest(id)
	if t == nil {
		return nil, errNotFound
	}
	if err := experiment.ValidateTransition(t.Status, to); err != nil {
		return nil, err
	}
	t.Status = to
	cp := *t
	return &cp, nil
}

func (m *mockStore) StartTest(_ context.Context, id string) (*experiment.Test, error) {
	t := m.findTest(id)
	if t == nil {
		return nil, errNotFound
	}
	if err := experiment.ValidateTransition(t.Status, experiment.StatusRunning); err != nil {
		return nil, err
	}
	for i := range m.tests {
		o := &m.tests[i]
		if o.ID != id && o.PromptName == t.PromptName && o.Status == experiment.StatusRunning {
			return nil, fmt.Errorf("start test %s: another test is already running for this prompt: %w", id, domain.ErrConflict)
		}
	}
	t.Status = experiment.StatusRunning
	if t.StartedAt == nil {
		now := time.Now().UTC()
		t.StartedAt = &now
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) PauseTest(_ context.Context, id string) (*experiment.Test, error) {
	return m.transition(id, experiment.StatusPaused)
}

func (m *mockStore) CancelTest(_ context.Context, id string) (*experiment.Test, error) {
	return m.transition(id, experiment.StatusCancelled)
}

func (m *mockStore) CompleteTest(_ context.Context, id string, results *experiment.Results) (*experiment.Test, error) {
	if _, err := m.transition(id, experiment.StatusCompleted); err != nil {
		return nil, err
	}
	stored := m.findTest(id)
	now := time.Now().UTC()
	stored.Results = results
	stored.CompletedAt = &now
	cp := *stored
	return &cp, nil
}

func (m *mockStore) UpdateTestResults(_ context.Context, id string, results *experiment.Results) error {
	t := m.findTest(id)
	if t == nil {
		return errNotFound
	}
	if t.Status.Terminal() {
		return fmt.Errorf("update test results %s: test is %s: %w", id, t.Status, domain.ErrInvalidState)
	}
	t.Results = results
	return nil
}

func (m *mockStore) RecordResult(_ context.Context, r *experiment.Result) (bool, error) {
	t := m.findTest(r.TestID)
	if t == nil {
		return false, errNotFound
	}
	if t.Status != experiment.StatusRunning {
		return false, fmt.Errorf("record result for test %s: test is %s, not running: %w", r.TestID, t.Status, domain.ErrInvalidState)
	}
	for i := range m.results {
		if m.results[i].TestID == r.TestID && m.results[i].JobID == r.JobID {
			return false, nil
		}
	}
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	m.results = append(m.results, *r)
	return true, nil
}

func (m *mockStore) CountResultsByVariant(_ context.Context, testID string) (map[experiment.VariantID]int, error) {
	counts := make(map[experiment.VariantID]int)
	for i := range m.results {
		if m.results[i].TestID == testID {
			counts[m.results[i].VariantID]++
		}
	}
	return counts, nil
}

func (m *mockStore) ListResults(_ context.Context, testID string) ([]experiment.Result, error) {
	var out []experiment.Result
	for i := range m.results {
		if m.results[i].TestID == testID {
			out = append(out, m.results[i])
		}
	}
	return out, nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct{}

func (m *mockQueue) Publish(_ context.Context, _ string, _ []byte) error { return nil }
func (m *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

// mockBroadcaster implements broadcast.Broadcaster for testing.
type mockBroadcaster struct{}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, _ string, _ any) {}

// mockScores implements scoring.Reader over a seedable map.
type mockScores struct {
	scores map[string]scoring.Score
}

func (m *mockScores) GetScores(_ context.Context, ids []string) (map[string]scoring.Score, error) {
	out := make(map[string]scoring.Score, len(ids))
	for _, id := range ids {
		if s, ok := m.scores[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *mockScores) add(id string, value float64) {
	m.scores[id] = scoring.Score{ID: id, Value: value, Passed: value >= 70}
}

func newTestEnv() (chi.Router, *mockScores) {
	store := &mockStore{}
	queue := &mockQueue{}
	bc := &mockBroadcaster{}
	scores := &mockScores{scores: make(map[string]scoring.Score)}

	promptSvc := service.NewPromptService(store, queue, bc)
	experimentSvc := service.NewExperimentService(store, queue, bc)
	decisionSvc := service.NewDecisionService(store, scores, experimentSvc, promptSvc, bc, &config.Decision{
		EvalInterval: time.Minute,
		MaxParallel:  2,
	})

	handlers := &pdhttp.Handlers{
		Prompts:     promptSvc,
		Experiments: experimentSvc,
		Decisions:   decisionSvc,
		Assignments: service.NewAssignService(store, promptSvc),
	}

	r := chi.NewRouter()
	pdhttp.MountRoutes(r, handlers)
	return r, scores
}

func newTestRouter() chi.Router {
	r, _ := newTestEnv()
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func createVersion(t *testing.T, r chi.Router, name, content string) prompt.Version {
	t.Helper()
	w := doJSON(t, r, "POST", "/api/v1/prompts/"+name+"/versions", prompt.CreateRequest{Content: content})
	if w.Code != http.StatusCreated {
		t.Fatalf("create version: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[prompt.Version](t, w)
}

func createExperiment(t *testing.T, r chi.Router, name string, va, vb prompt.Version, cfg experiment.Config) experiment.Test {
	t.Helper()
	w := doJSON(t, r, "POST", "/api/v1/experiments", experiment.CreateRequest{
		PromptName: name,
		VariantA:   experiment.Variant{PromptVersionID: va.ID},
		VariantB:   experiment.Variant{PromptVersionID: vb.ID},
		Config:     cfg,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create experiment: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[experiment.Test](t, w)
}

func smallConfig() experiment.Config {
	return experiment.Config{MinSamplesPerVariant: 2, SignificanceThreshold: 0.05, MinImprovement: 5}
}

// --- Prompt endpoints ---

func TestListPromptsEmpty(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest("GET", "/api/v1/prompts", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	names := decode[[]string](t, w)
	if len(names) != 0 {
		t.Fatalf("expected empty list, got %d", len(names))
	}
}

func TestCreateVersionAndGetActive(t *testing.T) {
	r := newTestRouter()

	v := createVersion(t, r, "article_summary", "Summarize: {{input}}")
	if v.Version != 1 {
		t.Fatalf("first version must be 1, got %d", v.Version)
	}
	if !v.IsActive {
		t.Fatal("first version must be auto-activated")
	}

	w := doJSON(t, r, "GET", "/api/v1/prompts/article_summary/active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	active := decode[prompt.Version](t, w)
	if active.ID != v.ID {
		t.Fatalf("active version mismatch: %s vs %s", active.ID, v.ID)
	}
}

func TestCreateVersionIdempotent(t *testing.T) {
	r := newTestRouter()

	first := createVersion(t, r, "article_summary", "same content")

	w := doJSON(t, r, "POST", "/api/v1/prompts/article_summary/versions", prompt.CreateRequest{Content: "same content"})
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate content: expected 200, got %d", w.Code)
	}
	second := decode[prompt.Version](t, w)
	if second.ID != first.ID || second.Version != first.Version {
		t.Fatalf("expected convergence on version %d, got %d", first.Version, second.Version)
	}

	w = doJSON(t, r, "GET", "/api/v1/prompts/article_summary/versions", nil)
	history := decode[[]prompt.Version](t, w)
	if len(history) != 1 {
		t.Fatalf("expected single version in history, got %d", len(history))
	}
}

func TestCreateVersionMissingContent(t *testing.T) {
	r := newTestRouter()

	w := doJSON(t, r, "POST", "/api/v1/prompts/article_summary/versions", prompt.CreateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVersionNumbersContiguous(t *testing.T) {
	r := newTestRouter()

	for i, content := range []string{"one", "two", "three"} {
		w := doJSON(t, r, "POST", "/api/v1/prompts/p/versions", prompt.CreateRequest{Content: content})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
		v := decode[prompt.Version](t, w)
		if v.Version != i+1 {
			t.Fatalf("expected version %d, got %d", i+1, v.Version)
		}
		if v.IsActive != (i == 0) {
			t.Fatalf("version %d: unexpected active flag %v", v.Version, v.IsActive)
		}
	}
}

func TestGetVersionBadNumber(t *testing.T) {
	r := newTestRouter()

	w := doJSON(t, r, "GET", "/api/v1/prompts/p/versions/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetActiveNotFound(t *testing.T) {
	r := newTestRouter()

	w := doJSON(t, r, "GET", "/api/v1/prompts/missing/active", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestActivateVersion(t *testing.T) {
	r := newTestRouter()

	createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")

	w := doJSON(t, r, "POST", "/api/v1/prompts/p/activate", map[string]int{"version": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	activated := decode[prompt.Version](t, w)
	if !activated.IsActive || activated.ID != v2.ID {
		t.Fatalf("expected version 2 active, got %+v", activated)
	}

	w = doJSON(t, r, "GET", "/api/v1/prompts/p/active", nil)
	active := decode[prompt.Version](t, w)
	if active.Version != 2 {
		t.Fatalf("expected active version 2, got %d", active.Version)
	}

	// Exactly one version may report active in history.
	w = doJSON(t, r, "GET", "/api/v1/prompts/p/versions", nil)
	activeCount := 0
	for _, v := range decode[[]prompt.Version](t, w) {
		if v.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active version, got %d", activeCount)
	}
}

func TestActivateVersionNotFound(t *testing.T) {
	r := newTestRouter()

	createVersion(t, r, "p", "one")
	w := doJSON(t, r, "POST", "/api/v1/prompts/p/activate", map[string]int{"version": 99})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// --- Assignment ---

func TestResolveAssignmentNoExperiment(t *testing.T) {
	r := newTestRouter()

	v := createVersion(t, r, "p", "content")
	w := doJSON(t, r, "GET", "/api/v1/prompts/p/assignment?job_id=job-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	a := decode[service.Assignment](t, w)
	if a.Experimental {
		t.Fatal("expected non-experimental assignment")
	}
	if a.Version == nil || a.Version.ID != v.ID {
		t.Fatalf("expected active version %s, got %+v", v.ID, a.Version)
	}
}

func TestResolveAssignmentMissingJobID(t *testing.T) {
	r := newTestRouter()

	w := doJSON(t, r, "GET", "/api/v1/prompts/p/assignment", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestResolveAssignmentDuringExperiment(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	w := doJSON(t, r, "GET", "/api/v1/prompts/p/assignment?job_id=job-42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	a := decode[service.Assignment](t, w)
	if !a.Experimental || a.TestID != test.ID {
		t.Fatalf("expected experimental assignment for test %s, got %+v", test.ID, a)
	}
	if a.VariantID != experiment.VariantA && a.VariantID != experiment.VariantB {
		t.Fatalf("unexpected variant %q", a.VariantID)
	}

	// Same job resolves to the same variant every time.
	w = doJSON(t, r, "GET", "/api/v1/prompts/p/assignment?job_id=job-42", nil)
	again := decode[service.Assignment](t, w)
	if again.VariantID != a.VariantID || again.Version.ID != a.Version.ID {
		t.Fatalf("assignment not stable: %q then %q", a.VariantID, again.VariantID)
	}
}

// --- Experiment endpoints ---

func TestCreateExperiment(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())

	if test.Status != experiment.StatusDraft {
		t.Fatalf("expected draft, got %q", test.Status)
	}
	if test.VariantA.ID != experiment.VariantA || test.VariantB.ID != experiment.VariantB {
		t.Fatalf("variant IDs not normalized: %+v", test)
	}

	w := doJSON(t, r, "GET", "/api/v1/experiments/"+test.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateExperimentSameVersionBothArms(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	w := doJSON(t, r, "POST", "/api/v1/experiments", experiment.CreateRequest{
		PromptName: "p",
		VariantA:   experiment.Variant{PromptVersionID: v1.ID},
		VariantB:   experiment.Variant{PromptVersionID: v1.ID},
		Config:     smallConfig(),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateExperimentVersionFromOtherPrompt(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	other := createVersion(t, r, "q", "two")
	w := doJSON(t, r, "POST", "/api/v1/experiments", experiment.CreateRequest{
		PromptName: "p",
		VariantA:   experiment.Variant{PromptVersionID: v1.ID},
		VariantB:   experiment.Variant{PromptVersionID: other.ID},
		Config:     smallConfig(),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateExperimentBadThreshold(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	cfg := smallConfig()
	cfg.SignificanceThreshold = 1.5
	w := doJSON(t, r, "POST", "/api/v1/experiments", experiment.CreateRequest{
		PromptName: "p",
		VariantA:   experiment.Variant{PromptVersionID: v1.ID},
		VariantB:   experiment.Variant{PromptVersionID: v2.ID},
		Config:     cfg,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListExperimentsFilter(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())

	w := doJSON(t, r, "GET", "/api/v1/experiments?prompt_name=p&status=draft", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	tests := decode[[]experiment.Test](t, w)
	if len(tests) != 1 || tests[0].ID != test.ID {
		t.Fatalf("expected the draft test, got %+v", tests)
	}

	w = doJSON(t, r, "GET", "/api/v1/experiments?status=running", nil)
	tests = decode[[]experiment.Test](t, w)
	if len(tests) != 0 {
		t.Fatalf("expected no running tests, got %d", len(tests))
	}

	w = doJSON(t, r, "GET", "/api/v1/experiments?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestExperimentLifecycle(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	started := decode[experiment.Test](t, w)
	if started.Status != experiment.StatusRunning || started.StartedAt == nil {
		t.Fatalf("expected running with started_at, got %+v", started)
	}
	firstStart := *started.StartedAt

	w = doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/pause", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", w.Code)
	}

	// Resume keeps the original started_at.
	w = doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)
	resumed := decode[experiment.Test](t, w)
	if resumed.Status != experiment.StatusRunning || !resumed.StartedAt.Equal(firstStart) {
		t.Fatalf("expected resume to keep started_at, got %+v", resumed)
	}

	w = doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/cancel", nil)
	cancelled := decode[experiment.Test](t, w)
	if cancelled.Status != experiment.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", cancelled.Status)
	}

	// Terminal states reject everything.
	w = doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("start after cancel: expected 422, got %d", w.Code)
	}
}

func TestStartSecondExperimentConflict(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	first := createExperiment(t, r, "p", v1, v2, smallConfig())
	doJSON(t, r, "POST", "/api/v1/experiments/"+first.ID+"/start", nil)

	// Creating a second test while one runs is rejected outright.
	w := doJSON(t, r, "POST", "/api/v1/experiments", experiment.CreateRequest{
		PromptName: "p",
		VariantA:   experiment.Variant{PromptVersionID: v1.ID},
		VariantB:   experiment.Variant{PromptVersionID: v2.ID},
		Config:     smallConfig(),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("create during running: expected 409, got %d", w.Code)
	}

	// A pre-existing draft cannot start either.
	doJSON(t, r, "POST", "/api/v1/experiments/"+first.ID+"/pause", nil)
	second := createExperiment(t, r, "p", v1, v2, smallConfig())
	doJSON(t, r, "POST", "/api/v1/experiments/"+first.ID+"/start", nil)

	w = doJSON(t, r, "POST", "/api/v1/experiments/"+second.ID+"/start", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordResultAndCounts(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	record := func(variant, job string) *httptest.ResponseRecorder {
		return doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/results", map[string]string{
			"variant_id":       variant,
			"job_id":           job,
			"quality_score_id": "score-" + job,
		})
	}

	if w := record("A", "job-1"); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := record("A", "job-2"); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := record("B", "job-3"); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	// Duplicate job is acknowledged without a second observation.
	if w := record("A", "job-1"); w.Code != http.StatusOK {
		t.Fatalf("duplicate: expected 200, got %d", w.Code)
	}

	w := doJSON(t, r, "GET", "/api/v1/experiments/"+test.ID+"/results/counts", nil)
	counts := decode[map[experiment.VariantID]int](t, w)
	if counts[experiment.VariantA] != 2 || counts[experiment.VariantB] != 1 {
		t.Fatalf("expected counts A=2 B=1, got %+v", counts)
	}

	w = doJSON(t, r, "GET", "/api/v1/experiments/"+test.ID+"/results", nil)
	results := decode[[]experiment.Result](t, w)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestRecordResultNotRunning(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/results", map[string]string{
		"variant_id": "A", "job_id": "job-1", "quality_score_id": "s1",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on draft test, got %d", w.Code)
	}
}

func TestRecordResultUnknownVariant(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/results", map[string]string{
		"variant_id": "C", "job_id": "job-1", "quality_score_id": "s1",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- Evaluation and completion ---

// seedScoredResults records n observations per arm through the API, with
// scores centered on the given means (alternating ±spread).
func seedScoredResults(t *testing.T, r chi.Router, scores *mockScores, testID string, meanA, meanB, spread float64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		delta := spread
		if i%2 == 1 {
			delta = -spread
		}
		for _, arm := range []struct {
			variant string
			mean    float64
		}{{"A", meanA}, {"B", meanB}} {
			scoreID := fmt.Sprintf("score-%s-%d", arm.variant, i)
			scores.add(scoreID, arm.mean+delta)
			w := doJSON(t, r, "POST", "/api/v1/experiments/"+testID+"/results", map[string]string{
				"variant_id":       arm.variant,
				"job_id":           fmt.Sprintf("job-%s-%d", arm.variant, i),
				"quality_score_id": scoreID,
			})
			if w.Code != http.StatusCreated {
				t.Fatalf("record result: expected 201, got %d: %s", w.Code, w.Body.String())
			}
		}
	}
}

func TestEvaluateInsufficientData(t *testing.T) {
	r, scores := newTestEnv()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	cfg := experiment.Config{MinSamplesPerVariant: 30, SignificanceThreshold: 0.05, MinImprovement: 5}
	test := createExperiment(t, r, "p", v1, v2, cfg)
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	seedScoredResults(t, r, scores, test.ID, 72, 80, 3, 5)

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/evaluate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ev := decode[experiment.Evaluation](t, w)
	if ev.Outcome != experiment.OutcomeInsufficientData {
		t.Fatalf("expected insufficient_data, got %q", ev.Outcome)
	}
	if ev.Results != nil {
		t.Fatal("insufficient_data must not carry results")
	}
}

func TestEvaluateDraftRejected(t *testing.T) {
	r := newTestRouter()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/evaluate", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestCompleteInsufficientDataStaysRunning(t *testing.T) {
	r, scores := newTestEnv()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	cfg := experiment.Config{MinSamplesPerVariant: 30, SignificanceThreshold: 0.05, MinImprovement: 5}
	test := createExperiment(t, r, "p", v1, v2, cfg)
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	seedScoredResults(t, r, scores, test.ID, 72, 80, 3, 5)

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	d := decode[service.Decision](t, w)
	if d.Outcome != experiment.OutcomeInsufficientData {
		t.Fatalf("expected insufficient_data, got %q", d.Outcome)
	}

	w = doJSON(t, r, "GET", "/api/v1/experiments/"+test.ID, nil)
	after := decode[experiment.Test](t, w)
	if after.Status != experiment.StatusRunning {
		t.Fatalf("test must stay running, got %q", after.Status)
	}
}

func TestCompleteWinnerAutoAdopt(t *testing.T) {
	r, scores := newTestEnv()

	v1 := createVersion(t, r, "p", "control")
	v2 := createVersion(t, r, "p", "challenger")
	cfg := experiment.Config{MinSamplesPerVariant: 30, SignificanceThreshold: 0.05, MinImprovement: 5, AutoAdopt: true}
	test := createExperiment(t, r, "p", v1, v2, cfg)
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	// 9.5-point gap on tight spread: decisive for the challenger.
	seedScoredResults(t, r, scores, test.ID, 72.0, 81.5, 3, 40)

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	d := decode[service.Decision](t, w)
	if d.Outcome != experiment.OutcomeEvaluated {
		t.Fatalf("expected evaluated, got %q", d.Outcome)
	}
	if d.Test.Status != experiment.StatusCompleted || d.Test.Results == nil {
		t.Fatalf("expected completed test with results, got %+v", d.Test)
	}
	if d.Test.Results.Winner != experiment.WinnerB {
		t.Fatalf("expected winner B, got %q", d.Test.Results.Winner)
	}
	if !d.Promoted || d.PromotedVersion == nil || d.PromotedVersion.ID != v2.ID {
		t.Fatalf("expected challenger promoted, got %+v", d)
	}

	w = doJSON(t, r, "GET", "/api/v1/prompts/p/active", nil)
	active := decode[prompt.Version](t, w)
	if active.ID != v2.ID {
		t.Fatalf("expected challenger active after adoption, got version %d", active.Version)
	}
}

func TestCompleteNoWinnerKeepsActive(t *testing.T) {
	r, scores := newTestEnv()

	v1 := createVersion(t, r, "p", "control")
	v2 := createVersion(t, r, "p", "challenger")
	cfg := experiment.Config{MinSamplesPerVariant: 30, SignificanceThreshold: 0.05, MinImprovement: 5, AutoAdopt: true}
	test := createExperiment(t, r, "p", v1, v2, cfg)
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	// Noisy 2-point gap: no significance, no winner.
	seedScoredResults(t, r, scores, test.ID, 75, 77, 10, 100)

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/complete", nil)
	d := decode[service.Decision](t, w)
	if d.Outcome != experiment.OutcomeEvaluated {
		t.Fatalf("expected evaluated, got %q", d.Outcome)
	}
	if d.Test.Results.Winner != experiment.WinnerNone {
		t.Fatalf("expected winner none, got %q", d.Test.Results.Winner)
	}
	if d.Promoted {
		t.Fatal("nothing to promote without a winner")
	}

	w = doJSON(t, r, "GET", "/api/v1/prompts/p/active", nil)
	active := decode[prompt.Version](t, w)
	if active.ID != v1.ID {
		t.Fatalf("active version must be unchanged, got version %d", active.Version)
	}
}

func TestEvaluatePersistsSnapshot(t *testing.T) {
	r, scores := newTestEnv()

	v1 := createVersion(t, r, "p", "one")
	v2 := createVersion(t, r, "p", "two")
	test := createExperiment(t, r, "p", v1, v2, smallConfig())
	doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/start", nil)

	seedScoredResults(t, r, scores, test.ID, 70, 90, 2, 10)

	w := doJSON(t, r, "POST", "/api/v1/experiments/"+test.ID+"/evaluate", nil)
	ev := decode[experiment.Evaluation](t, w)
	if ev.Outcome != experiment.OutcomeEvaluated {
		t.Fatalf("expected evaluated, got %q", ev.Outcome)
	}

	w = doJSON(t, r, "GET", "/api/v1/experiments/"+test.ID, nil)
	after := decode[experiment.Test](t, w)
	if after.Results == nil || after.Results.VariantASamples != 10 {
		t.Fatalf("expected persisted snapshot, got %+v", after.Results)
	}
	if after.Status != experiment.StatusRunning {
		t.Fatalf("evaluate must not change status, got %q", after.Status)
	}
}

func TestVersionEndpoint(t *testing.T) {
	r := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/", http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	result := decode[map[string]string](t, w)
	if result["version"] != "0.1.0" {
		t.Fatalf("expected version 0.1.0, got %q", result["version"])
	}
}
