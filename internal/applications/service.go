package applications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobtracker-backend/internal/events"
	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/telemetry"
)

// CreateInput carries the user-editable fields of a new application.
type CreateInput struct {
	CompanyName    string
	JobTitle       string
	JobURL         string
	JobDescription string
	Location       string
	SalaryRange    string
	DateApplied    *time.Time
	Status         string
	Notes          string
}

// DefaultPublishTimeout bounds how long Create waits on the event channel.
const DefaultPublishTimeout = 2 * time.Second

// UpdateInput carries a partial edit. Nil fields are left unchanged; an empty
// optional text field clears it.
type UpdateInput struct {
	CompanyName    *string
	JobTitle       *string
	JobURL         *string
	JobDescription *string
	Location       *string
	SalaryRange    *string
	DateApplied    *time.Time
	Status         *string
	Notes          *string
}

// Service holds application business logic.
type Service struct {
	Repo      Repo
	Publisher events.Publisher
	Topic     string
	Now       func() time.Time

	// PublishTimeout bounds the ApplicationCreated publish. Zero means
	// DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// NewService constructs a Service publishing ApplicationCreated events to topic.
func NewService(repo Repo, publisher events.Publisher, topic string) *Service {
	return &Service{Repo: repo, Publisher: publisher, Topic: topic}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create saves the application and then announces it on the event channel.
// A publish failure is logged and counted; the application is still returned.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Application, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	in.Status = strings.TrimSpace(in.Status)
	if strings.TrimSpace(userID) == "" {
		return Application{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if in.CompanyName == "" {
		return Application{}, fmt.Errorf("%w: company_name is required", ErrInvalidInput)
	}
	if in.JobTitle == "" {
		return Application{}, fmt.Errorf("%w: job_title is required", ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = StatusApplied
	}
	if !ValidStatus(in.Status) {
		return Application{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}

	now := s.now()
	dateApplied := now.Truncate(24 * time.Hour)
	if in.DateApplied != nil {
		dateApplied = in.DateApplied.UTC()
	}

	app := Application{
		ID:             uuid.NewString(),
		UserID:         userID,
		CompanyName:    in.CompanyName,
		JobTitle:       in.JobTitle,
		JobURL:         strings.TrimSpace(in.JobURL),
		JobDescription: strings.TrimSpace(in.JobDescription),
		Location:       strings.TrimSpace(in.Location),
		SalaryRange:    strings.TrimSpace(in.SalaryRange),
		DateApplied:    dateApplied,
		Status:         in.Status,
		Notes:          in.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.Create(ctx, app); err != nil {
		return Application{}, err
	}

	s.publishCreated(ctx, app)
	return app, nil
}

func (s *Service) publishCreated(ctx context.Context, app Application) {
	fields := map[string]any{
		"application_id": app.ID,
		"user_id":        app.UserID,
		"topic":          s.Topic,
	}
	if s.Publisher == nil {
		telemetry.Warn("events.publisher_missing", fields)
		metrics.IncEventsPublishFailed()
		return
	}

	evt := events.NewApplicationCreated(app.ID, app.UserID, app.CompanyName, app.JobTitle, app.JobDescription, app.CreatedAt)
	payload, err := events.EncodeApplicationCreated(evt)
	if err == nil {
		err = s.publish(ctx, app.UserID, payload)
	}
	if err != nil {
		fields["error"] = err
		telemetry.Error("events.publish_failed", fields)
		metrics.IncEventsPublishFailed()
		return
	}
	telemetry.Info("events.published", fields)
	metrics.IncEventsPublished()
}

// publish waits at most PublishTimeout for the publisher, even one that ignores
// its context. The request being cancelled does not abort the publish.
func (s *Service) publish(ctx context.Context, key string, payload []byte) error {
	timeout := s.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Publisher.Publish(pubCtx, s.Topic, key, payload) }()
	select {
	case err := <-errc:
		return err
	case <-pubCtx.Done():
		return fmt.Errorf("publish timed out after %s: %w", timeout, pubCtx.Err())
	}
}

// Get returns an application owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (Application, error) {
	app, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.UserID != userID {
		return Application{}, ErrNotFound
	}
	return app, nil
}

// List returns the user's applications matching filter.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]Application, error) {
	if filter.Status != "" && !ValidStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, fmt.Errorf("%w: date_from is after date_to", ErrInvalidInput)
	}
	return s.Repo.ListByUser(ctx, userID, filter)
}

// Update applies a partial edit to an application owned by userID. Editing
// the job description does not start a new analysis.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (Application, error) {
	app, err := s.Get(ctx, userID, id)
	if err != nil {
		return Application{}, err
	}

	if in.CompanyName != nil {
		app.CompanyName = strings.TrimSpace(*in.CompanyName)
		if app.CompanyName == "" {
			return Application{}, fmt.Errorf("%w: company_name must not be empty", ErrInvalidInput)
		}
	}
	if in.JobTitle != nil {
		app.JobTitle = strings.TrimSpace(*in.JobTitle)
		if app.JobTitle == "" {
			return Application{}, fmt.Errorf("%w: job_title must not be empty", ErrInvalidInput)
		}
	}
	if in.Status != nil {
		status := strings.TrimSpace(*in.Status)
		if !ValidStatus(status) {
			return Application{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
		}
		app.Status = status
	}
	for _, f := range []struct {
		src *string
		dst *string
	}{
		{in.JobURL, &app.JobURL},
		{in.JobDescription, &app.JobDescription},
		{in.Location, &app.Location},
		{in.SalaryRange, &app.SalaryRange},
	} {
		if f.src != nil {
			*f.dst = strings.TrimSpace(*f.src)
		}
	}
	if in.Notes != nil {
		app.Notes = *in.Notes
	}
	if in.DateApplied != nil {
		app.DateApplied = in.DateApplied.UTC()
	}
	app.UpdatedAt = s.now()

	return s.Repo.Update(ctx, app)
}

// UpdateStatus moves an application to status.
func (s *Service) UpdateStatus(ctx context.Context, userID, id, status string) (Application, error) {
	status = strings.TrimSpace(status)
	if !ValidStatus(status) {
		return Application{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.Repo.UpdateStatus(ctx, userID, id, status, s.now())
}

// Delete removes an application owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.Repo.Delete(ctx, userID, id)
}
