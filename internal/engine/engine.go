// Package engine turns a resume and a job description into a match result
// using an LLM. It never returns an error: failures produce a fallback result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"jobtracker-backend/internal/llm"
	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/telemetry"
)

// DefaultTimeout bounds a single analysis call.
const DefaultTimeout = 90 * time.Second

// Input is what the engine scores.
type Input struct {
	ResumeText     string
	JobDescription string
	JobTitle       string
	CompanyName    string
}

// Result is a match analysis. Failed results carry Err and are never cached.
type Result struct {
	MatchScore     int      `json:"match_score"`
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Suggestions    string   `json:"suggestions"`

	Failed bool  `json:"-"`
	Err    error `json:"-"`
}

// Analyzer scores a resume against a job.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) Result
}

// Engine is the LLM-backed Analyzer.
type Engine struct {
	client  llm.Client
	timeout time.Duration
}

// New returns an Engine. A nil client behaves like llm.PlaceholderClient.
func New(client llm.Client, timeout time.Duration) *Engine {
	if client == nil {
		client = llm.PlaceholderClient{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{client: client, timeout: timeout}
}

// Analyze calls the LLM and parses its JSON reply.
func (e *Engine) Analyze(ctx context.Context, in Input) Result {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	raw, err := e.client.Generate(callCtx, BuildPrompt(in))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("analysis timed out after %s: %w", e.timeout, err)
		}
		return e.fallback(in, err)
	}

	res, err := ParseResult(raw)
	if err != nil {
		return e.fallback(in, err)
	}
	telemetry.Info("engine.analysis.completed", map[string]any{
		"company_name": in.CompanyName,
		"job_title":    in.JobTitle,
		"match_score":  res.MatchScore,
		"duration_ms":  time.Since(started).Milliseconds(),
	})
	return res
}

func (e *Engine) fallback(in Input, err error) Result {
	metrics.IncEngineFallback()
	telemetry.Error("engine.analysis.failed", map[string]any{
		"company_name": in.CompanyName,
		"job_title":    in.JobTitle,
		"error":        err,
	})
	return Fallback(err)
}

// Fallback is the safe result returned when analysis cannot be performed.
func Fallback(err error) Result {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Result{
		MatchScore:     0,
		MatchingSkills: []string{},
		MissingSkills:  []string{},
		Suggestions:    "Analysis failed: " + reason,
		Failed:         true,
		Err:            err,
	}
}

// ParseResult extracts a Result from an LLM reply, tolerating code fences and
// surrounding prose.
func ParseResult(raw string) (Result, error) {
	cleaned := CleanJSON(raw)
	if cleaned == "" {
		return Result{}, errors.New("empty response from model")
	}
	if !gjson.Valid(cleaned) {
		return Result{}, errors.New("model response is not valid JSON")
	}
	doc := gjson.Parse(cleaned)
	if !doc.IsObject() {
		return Result{}, errors.New("model response is not a JSON object")
	}

	score := doc.Get("match_score")
	if !score.Exists() || score.Type != gjson.Number {
		return Result{}, errors.New("model response missing numeric match_score")
	}

	return Result{
		MatchScore:     clampScore(score.Float()),
		MatchingSkills: skillList(doc.Get("matching_skills")),
		MissingSkills:  skillList(doc.Get("missing_skills")),
		Suggestions:    strings.TrimSpace(doc.Get("suggestions").String()),
	}, nil
}

// CleanJSON strips markdown code fences and anything outside the outermost
// JSON object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

func skillList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	seen := make(map[string]struct{})
	for _, item := range v.Array() {
		skill := strings.TrimSpace(item.String())
		if skill == "" {
			continue
		}
		key := strings.ToLower(skill)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, skill)
	}
	return out
}

var _ Analyzer = (*Engine)(nil)
