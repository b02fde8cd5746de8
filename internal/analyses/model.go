package analyses

import "time"

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Error messages recorded on failed analyses.
const (
	MsgNoActiveResume   = "no active resume found"
	MsgNoJobDescription = "no job description provided"
)

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Record is the single analysis row kept per application.
type Record struct {
	ID             string     `json:"id"`
	ApplicationID  string     `json:"application_id"`
	ResumeID       *string    `json:"resume_id"`
	MatchScore     *int       `json:"match_score"`
	MatchingSkills []string   `json:"matching_skills"`
	MissingSkills  []string   `json:"missing_skills"`
	Suggestions    *string    `json:"suggestions"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message"`
	CreatedAt      time.Time  `json:"created_at"`
	AnalyzedAt     *time.Time `json:"analyzed_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Outcome is the computed part of an analysis.
type Outcome struct {
	MatchScore     int
	MatchingSkills []string
	MissingSkills  []string
	Suggestions    string
}

// UpsertResult tags what an upsert did.
type UpsertResult int

const (
	// UpsertInserted means a new row was created.
	UpsertInserted UpsertResult = iota + 1
	// UpsertUpdated means an existing pending row was updated.
	UpsertUpdated
	// UpsertTerminal means the existing row is terminal and was left unchanged.
	UpsertTerminal
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	case UpsertTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}
