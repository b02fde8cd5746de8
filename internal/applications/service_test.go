package applications

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"jobtracker-backend/internal/events"
	"jobtracker-backend/internal/shared/telemetry"
)

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.calls++
	return errors.New("broker unavailable")
}

func newTestService(pub events.Publisher) (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo, pub, "application-created")
	svc.Now = func() time.Time { return fixedNow }
	return svc, repo
}

func TestServiceCreatePublishesEvent(t *testing.T) {
	broker := events.NewMemoryBroker(1)
	defer broker.Close()
	svc, _ := newTestService(broker)

	app, err := svc.Create(context.Background(), "user-1", CreateInput{
		CompanyName:    " Acme ",
		JobTitle:       "Engineer",
		JobDescription: "Go, Postgres",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if app.Status != StatusApplied || app.CompanyName != "Acme" || !app.DateApplied.Equal(fixedDate.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected app %+v", app)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := broker.Subscribe(ctx, "application-created", "test")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	d, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d.Message().Key != "user-1" {
		t.Fatalf("expected user key, got %q", d.Message().Key)
	}
	evt, err := events.DecodeApplicationCreated(d.Message().Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.ApplicationID != app.ID || evt.JobDescription != "Go, Postgres" || evt.EventType != events.EventTypeApplicationCreated {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestServiceCreateSucceedsWhenPublishFails(t *testing.T) {
	var buf bytes.Buffer
	restore := telemetry.SetOutput(&buf)
	defer restore()

	pub := &failingPublisher{}
	svc, repo := newTestService(pub)

	app, err := svc.Create(context.Background(), "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer"})
	if err != nil {
		t.Fatalf("Create must not fail on publish error: %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", pub.calls)
	}
	if _, err := repo.GetByID(context.Background(), app.ID); err != nil {
		t.Fatalf("application should be stored: %v", err)
	}
	if !strings.Contains(buf.String(), "events.publish_failed") || !strings.Contains(buf.String(), "broker unavailable") {
		t.Fatalf("expected publish failure log, got %s", buf.String())
	}
}

func TestServiceCreateValidates(t *testing.T) {
	svc, _ := newTestService(nil)
	tests := []struct {
		name string
		in   CreateInput
	}{
		{name: "missing company", in: CreateInput{JobTitle: "Engineer"}},
		{name: "missing title", in: CreateInput{CompanyName: "Acme"}},
		{name: "bad status", in: CreateInput{CompanyName: "Acme", JobTitle: "Engineer", Status: "ghosted"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), "user-1", tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestServiceGetHidesOtherUsers(t *testing.T) {
	svc, _ := newTestService(nil)
	app, err := svc.Create(context.Background(), "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-2", app.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
	if err := svc.Delete(context.Background(), "user-2", app.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's app, got %v", err)
	}
}

func TestServiceListFiltersAndOrders(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	for i, status := range []string{StatusApplied, StatusRejected, StatusApplied} {
		d := fixedDate.AddDate(0, 0, -i)
		if _, err := svc.Create(ctx, "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer", Status: status, DateApplied: &d}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	apps, err := svc.List(ctx, "user-1", ListFilter{Status: StatusApplied})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(apps) != 2 || !apps[0].DateApplied.After(apps[1].DateApplied) {
		t.Fatalf("unexpected list %+v", apps)
	}

	from := fixedDate.AddDate(0, 0, -1)
	apps, err = svc.List(ctx, "user-1", ListFilter{DateFrom: &from})
	if err != nil || len(apps) != 2 {
		t.Fatalf("expected 2 apps from %s, got %d %v", from, len(apps), err)
	}

	if _, err := svc.List(ctx, "user-1", ListFilter{Status: "nope"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestMemoryRepoDeleteRunsOnDelete(t *testing.T) {
	svc, repo := newTestService(nil)
	var deleted string
	repo.OnDelete = func(id string) { deleted = id }

	app, err := svc.Create(context.Background(), "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(context.Background(), "user-1", app.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != app.ID {
		t.Fatalf("expected OnDelete with %s, got %q", app.ID, deleted)
	}
}

type stuckPublisher struct {
	release chan struct{}
}

func (p *stuckPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	<-p.release
	return nil
}

func TestServiceCreateBoundsStuckPublisher(t *testing.T) {
	var buf bytes.Buffer
	restore := telemetry.SetOutput(&buf)
	defer restore()

	pub := &stuckPublisher{release: make(chan struct{})}
	defer close(pub.release)
	svc, repo := newTestService(pub)
	svc.PublishTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	var app Application
	go func() {
		var err error
		app, err = svc.Create(context.Background(), "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer"})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Create blocked on an unreachable event channel")
	}
	if _, err := repo.GetByID(context.Background(), app.ID); err != nil {
		t.Fatalf("application should be stored: %v", err)
	}
	if !strings.Contains(buf.String(), "events.publish_failed") || !strings.Contains(buf.String(), "timed out") {
		t.Fatalf("expected publish timeout log, got %s", buf.String())
	}
}

func TestServiceCreatePublishesAfterRequestCancel(t *testing.T) {
	broker := events.NewMemoryBroker(1)
	defer broker.Close()
	svc, _ := newTestService(broker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Create(ctx, "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := broker.Pending("application-created", "test"); got != 1 {
		t.Fatalf("expected event published despite cancelled request, pending=%d", got)
	}
}

func TestServiceUpdateKeepsUnsetFields(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	app, err := svc.Create(ctx, "user-1", CreateInput{CompanyName: "Acme", JobTitle: "Engineer", JobDescription: "Go", Notes: "n"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	later := fixedNow.Add(time.Hour)
	svc.Now = func() time.Time { return later }
	jd := " Go and Kafka "
	updated, err := svc.Update(ctx, "user-1", app.ID, UpdateInput{JobDescription: &jd})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.JobDescription != "Go and Kafka" || updated.CompanyName != "Acme" || updated.Notes != "n" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if !updated.UpdatedAt.Equal(later) || !updated.CreatedAt.Equal(app.CreatedAt) {
		t.Fatalf("unexpected timestamps %+v", updated)
	}

	if _, err := svc.Update(ctx, "user-2", app.ID, UpdateInput{JobDescription: &jd}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}
