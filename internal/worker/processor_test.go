package worker

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"jobtracker-backend/internal/analyses"
	"jobtracker-backend/internal/applications"
	"jobtracker-backend/internal/cache"
	"jobtracker-backend/internal/engine"
	"jobtracker-backend/internal/events"
	"jobtracker-backend/internal/resumes"
)

type fakeEngine struct {
	mu     sync.Mutex
	calls  int
	inputs []engine.Input
	result engine.Result
}

func (f *fakeEngine) Analyze(ctx context.Context, in engine.Input) engine.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, in)
	return f.result
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	apps      *applications.MemoryRepo
	resumes   *resumes.MemoryRepo
	analyses  *analyses.MemoryRepo
	backend   *cache.MemoryBackend
	cache     *cache.Cache
	engine    *fakeEngine
	processor *Processor
}

func newFixture(t *testing.T, failureStatus string) *fixture {
	t.Helper()
	f := &fixture{
		apps:     applications.NewMemoryRepo(),
		resumes:  resumes.NewMemoryRepo(),
		analyses: analyses.NewMemoryRepo(),
		backend:  cache.NewMemoryBackend(),
		engine: &fakeEngine{result: engine.Result{
			MatchScore:     82,
			MatchingSkills: []string{"Go", "PostgreSQL"},
			MissingSkills:  []string{"Kafka"},
			Suggestions:    "Mention streaming work.",
		}},
	}
	f.cache = cache.New(f.backend, time.Hour, time.Hour)
	f.processor = NewProcessor(f.apps, f.resumes, f.analyses, f.cache, f.engine, failureStatus)
	return f
}

func (f *fixture) addApp(t *testing.T, id, userID, jd string) events.ApplicationCreated {
	t.Helper()
	now := time.Now().UTC()
	app := applications.Application{
		ID:             id,
		UserID:         userID,
		CompanyName:    "Acme",
		JobTitle:       "Backend Engineer",
		JobDescription: jd,
		DateApplied:    now,
		Status:         applications.StatusApplied,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.apps.Create(context.Background(), app); err != nil {
		t.Fatalf("create app: %v", err)
	}
	return events.NewApplicationCreated(id, userID, app.CompanyName, app.JobTitle, jd, now)
}

func (f *fixture) addResume(t *testing.T, id, userID, content string, at time.Time) {
	t.Helper()
	err := f.resumes.Create(context.Background(), resumes.Resume{
		ID: id, UserID: userID, Content: content, IsActive: true, CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("create resume: %v", err)
	}
}

func (f *fixture) record(t *testing.T, appID string) analyses.Record {
	t.Helper()
	rec, err := f.analyses.GetByApplicationID(context.Background(), appID)
	if err != nil {
		t.Fatalf("GetByApplicationID(%s): %v", appID, err)
	}
	return rec
}

// A full analysis completes and is cached.
func TestProcessCompletesAnalysis(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	f.addResume(t, "res-1", "user-1", "Go and PostgreSQL for five years", time.Now())
	evt := f.addApp(t, "app-1", "user-1", "We need Go, PostgreSQL and Kafka")

	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}

	rec := f.record(t, "app-1")
	if rec.Status != analyses.StatusCompleted || rec.MatchScore == nil || *rec.MatchScore != 82 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ResumeID == nil || *rec.ResumeID != "res-1" || rec.AnalyzedAt == nil || rec.ErrorMessage != nil {
		t.Fatalf("unexpected record fields %+v", rec)
	}
	if len(rec.MatchingSkills) != 2 || rec.MissingSkills[0] != "Kafka" {
		t.Fatalf("unexpected skills %+v", rec)
	}

	in := f.engine.inputs[0]
	if in.ResumeText != "Go and PostgreSQL for five years" || in.JobTitle != "Backend Engineer" || in.CompanyName != "Acme" {
		t.Fatalf("unexpected engine input %+v", in)
	}
	if _, ok := f.cache.ActiveResume(context.Background(), "user-1"); !ok {
		t.Fatal("active resume should be cached after a store read")
	}
	if _, ok := f.cache.MatchResult(context.Background(), "res-1", "We need Go, PostgreSQL and Kafka"); !ok {
		t.Fatal("match result should be cached")
	}
}

// No active resume means a terminal failed record without a resume.
func TestProcessWithoutActiveResume(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	evt := f.addApp(t, "app-1", "user-1", "Go")

	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rec := f.record(t, "app-1")
	if rec.Status != analyses.StatusFailed || rec.ResumeID != nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != analyses.MsgNoActiveResume {
		t.Fatalf("unexpected error message %v", rec.ErrorMessage)
	}
	if f.engine.Calls() != 0 {
		t.Fatalf("engine must not be called, got %d calls", f.engine.Calls())
	}
}

// An empty job description fails after the pending record exists.
func TestProcessWithoutJobDescription(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	f.addResume(t, "res-1", "user-1", "Go", time.Now())
	evt := f.addApp(t, "app-1", "user-1", "")

	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rec := f.record(t, "app-1")
	if rec.Status != analyses.StatusFailed || rec.ResumeID == nil || *rec.ResumeID != "res-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != analyses.MsgNoJobDescription || rec.MatchScore != nil {
		t.Fatalf("unexpected record fields %+v", rec)
	}
	if f.engine.Calls() != 0 {
		t.Fatalf("engine must not be called, got %d calls", f.engine.Calls())
	}
}

// Engine failure stores the fallback and is never cached.
func TestProcessEngineFailure(t *testing.T) {
	tests := []struct {
		name          string
		failureStatus string
		wantStatus    string
		wantErrMsg    bool
	}{
		{name: "failed by default", failureStatus: "", wantStatus: analyses.StatusFailed, wantErrMsg: true},
		{name: "completed when configured", failureStatus: FailureStatusCompleted, wantStatus: analyses.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.failureStatus)
			f.engine.result = engine.Fallback(errors.New("quota exceeded"))
			f.addResume(t, "res-1", "user-1", "Go", time.Now())
			evt := f.addApp(t, "app-1", "user-1", "Go role")

			if err := f.processor.Process(context.Background(), evt); err != nil {
				t.Fatalf("Process: %v", err)
			}
			rec := f.record(t, "app-1")
			if rec.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, rec.Status)
			}
			if rec.MatchScore == nil || *rec.MatchScore != 0 {
				t.Fatalf("fallback score must be 0, got %v", rec.MatchScore)
			}
			if rec.Suggestions == nil || !strings.HasPrefix(*rec.Suggestions, "Analysis failed: ") {
				t.Fatalf("unexpected suggestions %v", rec.Suggestions)
			}
			if tt.wantErrMsg && (rec.ErrorMessage == nil || *rec.ErrorMessage != "quota exceeded") {
				t.Fatalf("expected error message, got %v", rec.ErrorMessage)
			}
			if _, ok := f.cache.MatchResult(context.Background(), "res-1", "Go role"); ok {
				t.Fatal("fallback results must not be cached")
			}
		})
	}
}

// Duplicate delivery leaves one record and does not recompute.
func TestProcessDuplicateDelivery(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	f.addResume(t, "res-1", "user-1", "Go", time.Now())
	evt := f.addApp(t, "app-1", "user-1", "Go role")

	for i := 0; i < 3; i++ {
		if err := f.processor.Process(context.Background(), evt); err != nil {
			t.Fatalf("Process #%d: %v", i, err)
		}
	}
	if f.analyses.Count() != 1 {
		t.Fatalf("expected one record, got %d", f.analyses.Count())
	}
	if f.engine.Calls() != 1 {
		t.Fatalf("expected one engine call, got %d", f.engine.Calls())
	}
}

func TestProcessConcurrentDuplicatesKeepOneRecord(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	f.addResume(t, "res-1", "user-1", "Go", time.Now())
	evt := f.addApp(t, "app-1", "user-1", "Go role")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.processor.Process(context.Background(), evt)
		}()
	}
	wg.Wait()

	if f.analyses.Count() != 1 {
		t.Fatalf("expected one record, got %d", f.analyses.Count())
	}
	if rec := f.record(t, "app-1"); rec.Status != analyses.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestProcessTerminalRecordIsNotReopened(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	evt := f.addApp(t, "app-1", "user-1", "Go role")

	// First delivery fails for lack of a resume.
	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}
	f.addResume(t, "res-1", "user-1", "Go", time.Now())

	// A redelivery after a resume appears must not move the record back.
	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rec := f.record(t, "app-1")
	if rec.Status != analyses.StatusFailed || rec.ResumeID != nil {
		t.Fatalf("terminal record changed: %+v", rec)
	}
	if f.engine.Calls() != 0 {
		t.Fatalf("engine must not run for a terminal record")
	}
}

func TestProcessMissingApplicationIsDropped(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	evt := events.NewApplicationCreated("ghost", "user-1", "Acme", "Engineer", "Go", time.Now())

	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("missing application should be dropped, got %v", err)
	}
	if f.analyses.Count() != 0 {
		t.Fatalf("no record should be written")
	}
}

func TestProcessCacheIsTransparent(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	f.addResume(t, "res-1", "user-1", "Go", time.Now())
	first := f.addApp(t, "app-1", "user-1", "Same JD")
	second := f.addApp(t, "app-2", "user-1", "Same JD")

	for _, evt := range []events.ApplicationCreated{first, second} {
		if err := f.processor.Process(context.Background(), evt); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if f.engine.Calls() != 1 {
		t.Fatalf("second analysis should be served from cache, got %d engine calls", f.engine.Calls())
	}

	a, b := f.record(t, "app-1"), f.record(t, "app-2")
	if *a.MatchScore != *b.MatchScore || *a.Suggestions != *b.Suggestions || len(a.MatchingSkills) != len(b.MatchingSkills) {
		t.Fatalf("cached result differs: %+v vs %+v", a, b)
	}

	// With caching disabled the outcome is the same.
	noCache := newFixture(t, FailureStatusFailed)
	noCache.processor.Cache = cache.New(nil, 0, 0)
	noCache.addResume(t, "res-1", "user-1", "Go", time.Now())
	evt := noCache.addApp(t, "app-1", "user-1", "Same JD")
	if err := noCache.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}
	c := noCache.record(t, "app-1")
	if *c.MatchScore != *a.MatchScore || c.Status != a.Status {
		t.Fatalf("cache changed the outcome: %+v vs %+v", c, a)
	}
}

func TestProcessServesPrecomputedMatchFromCache(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	f.addResume(t, "res-1", "user-1", "Go", time.Now())
	evt := f.addApp(t, "app-1", "user-1", "Cached JD")

	cached := cache.MatchResult{
		MatchScore:     67,
		MatchingSkills: []string{"Go", "Docker"},
		MissingSkills:  []string{"Terraform", "AWS"},
		Suggestions:    "Add infrastructure projects.",
	}
	f.cache.SetMatchResult(context.Background(), "res-1", "Cached JD", cached)

	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.engine.Calls() != 0 {
		t.Fatalf("cached match must not reach the engine, got %d calls", f.engine.Calls())
	}

	rec := f.record(t, "app-1")
	if rec.Status != analyses.StatusCompleted || rec.MatchScore == nil || rec.Suggestions == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	got := cache.MatchResult{
		MatchScore:     *rec.MatchScore,
		MatchingSkills: rec.MatchingSkills,
		MissingSkills:  rec.MissingSkills,
		Suggestions:    *rec.Suggestions,
	}
	if !reflect.DeepEqual(got, cached) {
		t.Fatalf("stored result differs from cache:\n got %+v\nwant %+v", got, cached)
	}
}

func TestProcessUsesNewResumeAfterInvalidation(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	svc := resumes.NewService(f.resumes, f.cache)
	ctx := context.Background()

	old, err := svc.Create(ctx, "user-1", "old resume", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.processor.Process(ctx, f.addApp(t, "app-1", "user-1", "JD one")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := *f.record(t, "app-1").ResumeID; got != old.ID {
		t.Fatalf("expected old resume, got %s", got)
	}

	fresh, err := svc.Create(ctx, "user-1", "new resume", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.processor.Process(ctx, f.addApp(t, "app-2", "user-1", "JD two")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := *f.record(t, "app-2").ResumeID; got != fresh.ID {
		t.Fatalf("expected new resume %s after invalidation, got %s", fresh.ID, got)
	}
	if last := f.engine.inputs[len(f.engine.inputs)-1]; last.ResumeText != "new resume" {
		t.Fatalf("engine saw stale resume %q", last.ResumeText)
	}
}

type flakyAnalyses struct {
	*analyses.MemoryRepo
	failures int
}

func (r *flakyAnalyses) UpsertPending(ctx context.Context, applicationID, resumeID string) (analyses.UpsertResult, error) {
	if r.failures > 0 {
		r.failures--
		return 0, errors.New("connection reset")
	}
	return r.MemoryRepo.UpsertPending(ctx, applicationID, resumeID)
}

func TestProcessStoreFaultIsReturned(t *testing.T) {
	f := newFixture(t, FailureStatusFailed)
	repo := &flakyAnalyses{MemoryRepo: f.analyses, failures: 1}
	f.processor.Analyses = repo
	f.addResume(t, "res-1", "user-1", "Go", time.Now())
	evt := f.addApp(t, "app-1", "user-1", "Go role")

	if err := f.processor.Process(context.Background(), evt); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected store error, got %v", err)
	}
	if err := f.processor.Process(context.Background(), evt); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if rec := f.record(t, "app-1"); rec.Status != analyses.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", rec.Status)
	}
}
