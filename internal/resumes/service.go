package resumes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobtracker-backend/internal/cache"
	"jobtracker-backend/internal/extract"
	"jobtracker-backend/internal/shared/storage/object"
	"jobtracker-backend/internal/shared/telemetry"
	"jobtracker-backend/internal/shared/util"
)

// MaxUploadSize bounds uploaded resume files.
const MaxUploadSize = 5 << 20 // 5MB

var (
	// ErrTooLarge indicates an upload above MaxUploadSize.
	ErrTooLarge = errors.New("file exceeds 5MB limit")
	// ErrNoOriginal indicates the resume has no archived upload.
	ErrNoOriginal = errors.New("original file not available")
)

// Service holds resume business logic. Every change to which resume is active
// drops the user's cached active resume.
type Service struct {
	Repo  Repo
	Cache *cache.Cache
	// Files archives uploaded originals. Nil disables archiving.
	Files object.Store
	Now   func() time.Time
}

// NewService constructs a Service. A nil cache disables caching.
func NewService(repo Repo, c *cache.Cache) *Service {
	if c == nil {
		c = cache.New(nil, 0, 0)
	}
	return &Service{Repo: repo, Cache: c}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create stores content as the user's new active resume.
func (s *Service) Create(ctx context.Context, userID, content, fileName string) (Resume, error) {
	return s.create(ctx, uuid.NewString(), userID, content, fileName)
}

func (s *Service) create(ctx context.Context, id, userID, content, fileName string) (Resume, error) {
	content = strings.TrimSpace(content)
	if strings.TrimSpace(userID) == "" {
		return Resume{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if content == "" {
		return Resume{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	now := s.now()
	res := Resume{
		ID:        id,
		UserID:    userID,
		Content:   content,
		FileName:  strings.TrimSpace(fileName),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, res); err != nil {
		return Resume{}, err
	}
	s.Cache.InvalidateActiveResume(ctx, userID)
	telemetry.Info("resume.created", map[string]any{
		"user_id":     userID,
		"resume_id":   res.ID,
		"content_len": len(content),
	})
	return res, nil
}

// Upload extracts text from a PDF, DOCX or plain-text file and stores it as
// the user's new active resume.
func (s *Service) Upload(ctx context.Context, userID, fileName, mimeType string, data []byte) (Resume, error) {
	if len(data) > MaxUploadSize {
		return Resume{}, ErrTooLarge
	}
	text, err := extract.Text(ctx, data, mimeType, fileName)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) || errors.Is(err, extract.ErrNoText) {
			return Resume{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		telemetry.Warn("resume.extract_failed", map[string]any{
			"user_id":   userID,
			"file_name": fileName,
			"mime_type": mimeType,
			"error":     err,
		})
		return Resume{}, fmt.Errorf("%w: could not read file", ErrInvalidInput)
	}

	id := uuid.NewString()
	if s.Files != nil {
		mt := extract.NormalizeMimeType(mimeType, fileName, data)
		if err := s.Files.Put(ctx, FileKey(userID, id, fileName), mt, data); err != nil {
			// The extracted text is what analysis needs; the archive is best-effort.
			telemetry.Warn("resume.archive_failed", map[string]any{
				"user_id":   userID,
				"resume_id": id,
				"error":     err,
			})
		}
	}
	return s.create(ctx, id, userID, text, fileName)
}

// FileKey is the object key of a resume's archived upload.
func FileKey(userID, resumeID, fileName string) string {
	return "resumes/" + util.ContentHash(userID)[:16] + "/" + resumeID + "/" + util.SafeFileName(fileName, "resume")
}

// Original opens the archived upload of a resume owned by userID.
func (s *Service) Original(ctx context.Context, userID, id string) (Resume, *object.Object, error) {
	res, err := s.Repo.GetByID(ctx, userID, id)
	if err != nil {
		return Resume{}, nil, err
	}
	if s.Files == nil || res.FileName == "" {
		return Resume{}, nil, ErrNoOriginal
	}
	obj, err := s.Files.Get(ctx, FileKey(userID, id, res.FileName))
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return Resume{}, nil, ErrNoOriginal
		}
		return Resume{}, nil, fmt.Errorf("open original: %w", err)
	}
	return res, obj, nil
}

// Get returns a resume owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (Resume, error) {
	return s.Repo.GetByID(ctx, userID, id)
}

// Active returns the user's active resume.
func (s *Service) Active(ctx context.Context, userID string) (Resume, error) {
	return s.Repo.GetActive(ctx, userID)
}

// List returns the user's resumes, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Resume, error) {
	return s.Repo.ListByUser(ctx, userID)
}

// Activate makes id the user's active resume.
func (s *Service) Activate(ctx context.Context, userID, id string) (Resume, error) {
	res, err := s.Repo.Activate(ctx, userID, id, s.now())
	if err != nil {
		return Resume{}, err
	}
	s.Cache.InvalidateActiveResume(ctx, userID)
	return res, nil
}

// Delete removes a resume owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	res, err := s.Repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if res.IsActive {
		s.Cache.InvalidateActiveResume(ctx, userID)
	}
	if s.Files != nil && res.FileName != "" {
		if err := s.Files.Delete(ctx, FileKey(userID, id, res.FileName)); err != nil {
			telemetry.Warn("resume.archive_delete_failed", map[string]any{
				"user_id":   userID,
				"resume_id": id,
				"error":     err,
			})
		}
	}
	return nil
}
