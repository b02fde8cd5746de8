package analyses

import (
	"context"
	"errors"
	"strings"
)

// Service is the read path into analysis results.
type Service struct {
	Repo Repo
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// GetForApplication returns the record for applicationID, or ErrNotAvailable
// if the worker has not written one yet.
func (s *Service) GetForApplication(ctx context.Context, applicationID string) (Record, error) {
	if strings.TrimSpace(applicationID) == "" {
		return Record{}, errors.New("applicationID is required")
	}
	rec, err := s.Repo.GetByApplicationID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotAvailable
		}
		return Record{}, err
	}
	return rec, nil
}
