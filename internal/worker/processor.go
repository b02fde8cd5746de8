// Package worker consumes application.created events and writes the
// analysis record of each application.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobtracker-backend/internal/analyses"
	"jobtracker-backend/internal/applications"
	"jobtracker-backend/internal/cache"
	"jobtracker-backend/internal/engine"
	"jobtracker-backend/internal/events"
	"jobtracker-backend/internal/resumes"
	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/telemetry"
)

// Engine failure handling modes.
const (
	FailureStatusFailed    = "failed"
	FailureStatusCompleted = "completed"
)

// ApplicationGetter is the part of applications.Repo the processor reads.
type ApplicationGetter interface {
	GetByID(ctx context.Context, id string) (applications.Application, error)
}

// ActiveResumeGetter is the part of resumes.Repo the processor reads.
type ActiveResumeGetter interface {
	GetActive(ctx context.Context, userID string) (resumes.Resume, error)
}

// Processor runs one event through the analysis pipeline. It is idempotent:
// redelivered events never produce a second record or move a terminal one.
type Processor struct {
	Applications ApplicationGetter
	Resumes      ActiveResumeGetter
	Analyses     analyses.Repo
	Cache        *cache.Cache
	Engine       engine.Analyzer
	// FailureStatus selects how engine fallbacks are stored: as failed
	// records (default) or as completed records carrying the fallback.
	FailureStatus string
}

// NewProcessor constructs a Processor. A nil cache disables caching.
func NewProcessor(apps ApplicationGetter, res ActiveResumeGetter, repo analyses.Repo, c *cache.Cache, analyzer engine.Analyzer, failureStatus string) *Processor {
	if c == nil {
		c = cache.New(nil, 0, 0)
	}
	if analyzer == nil {
		analyzer = engine.New(nil, 0)
	}
	if failureStatus != FailureStatusCompleted {
		failureStatus = FailureStatusFailed
	}
	return &Processor{
		Applications:  apps,
		Resumes:       res,
		Analyses:      repo,
		Cache:         c,
		Engine:        analyzer,
		FailureStatus: failureStatus,
	}
}

// Process handles a single ApplicationCreated event. It returns an error only
// for faults worth retrying.
func (p *Processor) Process(ctx context.Context, evt events.ApplicationCreated) error {
	started := time.Now()
	fields := map[string]any{
		"application_id": evt.ApplicationID,
		"user_id":        evt.UserID,
	}

	app, err := p.Applications.GetByID(ctx, evt.ApplicationID)
	if err != nil {
		if errors.Is(err, applications.ErrNotFound) {
			telemetry.Warn("worker.application_not_found", fields)
			return nil
		}
		return fmt.Errorf("load application: %w", err)
	}
	userID := app.UserID
	if userID == "" {
		userID = evt.UserID
	}
	fields["user_id"] = userID

	resume, found, err := p.activeResume(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		res, err := p.Analyses.UpsertFailed(ctx, app.ID, nil, analyses.MsgNoActiveResume)
		if err != nil {
			return fmt.Errorf("record missing resume: %w", err)
		}
		fields["upsert"] = res.String()
		telemetry.Warn("worker.no_active_resume", fields)
		if res != analyses.UpsertTerminal {
			metrics.IncAnalysisFailed()
		}
		return nil
	}
	fields["resume_id"] = resume.ID

	upsert, err := p.Analyses.UpsertPending(ctx, app.ID, resume.ID)
	if err != nil {
		return fmt.Errorf("upsert pending analysis: %w", err)
	}
	fields["upsert"] = upsert.String()
	if upsert == analyses.UpsertTerminal {
		telemetry.Info("worker.analysis.already_terminal", fields)
		return nil
	}

	if app.JobDescription == "" {
		if _, err := p.Analyses.Fail(ctx, app.ID, analyses.MsgNoJobDescription, nil); err != nil {
			return fmt.Errorf("record missing job description: %w", err)
		}
		metrics.IncAnalysisFailed()
		telemetry.Warn("worker.no_job_description", fields)
		return nil
	}

	result, cached := p.matchResult(ctx, app, resume)
	fields["cached"] = cached

	out := analyses.Outcome{
		MatchScore:     result.MatchScore,
		MatchingSkills: result.MatchingSkills,
		MissingSkills:  result.MissingSkills,
		Suggestions:    result.Suggestions,
	}
	if result.Failed && p.FailureStatus != FailureStatusCompleted {
		reason := "analysis failed"
		if result.Err != nil {
			reason = result.Err.Error()
		}
		if _, err := p.Analyses.Fail(ctx, app.ID, reason, &out); err != nil {
			return fmt.Errorf("record failed analysis: %w", err)
		}
		metrics.IncAnalysisFailed()
		fields["error"] = reason
		telemetry.Warn("worker.analysis.failed", fields)
		return nil
	}

	changed, err := p.Analyses.Complete(ctx, app.ID, out)
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	elapsed := time.Since(started)
	metrics.ObserveAnalysisDurationMs(float64(elapsed.Milliseconds()))
	if changed {
		metrics.IncAnalysisCompleted()
	}
	fields["match_score"] = out.MatchScore
	fields["changed"] = changed
	fields["duration_ms"] = elapsed.Milliseconds()
	telemetry.Info("worker.analysis.completed", fields)
	return nil
}

func (p *Processor) activeResume(ctx context.Context, userID string) (cache.ActiveResume, bool, error) {
	if snap, ok := p.Cache.ActiveResume(ctx, userID); ok {
		return snap, true, nil
	}
	res, err := p.Resumes.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, resumes.ErrNotFound) {
			return cache.ActiveResume{}, false, nil
		}
		return cache.ActiveResume{}, false, fmt.Errorf("load active resume: %w", err)
	}
	snap := cache.ActiveResume{ID: res.ID, Content: res.Content}
	p.Cache.SetActiveResume(ctx, userID, snap)
	return snap, true, nil
}

// matchResult is cache-aside over the engine. Fallback results are not cached.
func (p *Processor) matchResult(ctx context.Context, app applications.Application, resume cache.ActiveResume) (engine.Result, bool) {
	if hit, ok := p.Cache.MatchResult(ctx, resume.ID, app.JobDescription); ok {
		return engine.Result{
			MatchScore:     hit.MatchScore,
			MatchingSkills: hit.MatchingSkills,
			MissingSkills:  hit.MissingSkills,
			Suggestions:    hit.Suggestions,
		}, true
	}

	result := p.Engine.Analyze(ctx, engine.Input{
		ResumeText:     resume.Content,
		JobDescription: app.JobDescription,
		JobTitle:       app.JobTitle,
		CompanyName:    app.CompanyName,
	})
	if !result.Failed {
		p.Cache.SetMatchResult(ctx, resume.ID, app.JobDescription, cache.MatchResult{
			MatchScore:     result.MatchScore,
			MatchingSkills: result.MatchingSkills,
			MissingSkills:  result.MissingSkills,
			Suggestions:    result.Suggestions,
		})
	}
	return result, false
}
