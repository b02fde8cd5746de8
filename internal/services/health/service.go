package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Report is the payload of the health endpoint.
type Report struct {
	OK       bool   `json:"ok"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
	Events   string `json:"events"`
	Error    string `json:"error,omitempty"`
}

// Service encapsulates health-related checks.
type Service struct {
	db           Pinger
	cacheBackend string
	eventBackend string
}

// NewService constructs a health service. A nil db means in-memory storage.
func NewService(db Pinger, cacheBackend, eventBackend string) *Service {
	return &Service{db: db, cacheBackend: cacheBackend, eventBackend: eventBackend}
}

// Status reports the configured backends and whether the database answers.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{
		OK:       true,
		Database: "memory",
		Cache:    s.cacheBackend,
		Events:   s.eventBackend,
	}
	if s.db == nil {
		return report
	}
	report.Database = "postgres"
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		report.OK = false
		report.Error = err.Error()
	}
	return report
}
