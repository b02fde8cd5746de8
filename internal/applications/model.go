package applications

import "time"

const (
	StatusApplied      = "applied"
	StatusScreening    = "screening"
	StatusInterviewing = "interviewing"
	StatusOffered      = "offered"
	StatusRejected     = "rejected"
	StatusWithdrawn    = "withdrawn"
)

// DateLayout is the wire format of DateApplied and the list filters.
const DateLayout = "2006-01-02"

// ValidStatus reports whether status is a known application status.
func ValidStatus(status string) bool {
	switch status {
	case StatusApplied, StatusScreening, StatusInterviewing, StatusOffered, StatusRejected, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Application is a job application tracked for a user. Optional text fields
// are empty when absent.
type Application struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	CompanyName    string    `json:"company_name"`
	JobTitle       string    `json:"job_title"`
	JobURL         string    `json:"job_url,omitempty"`
	JobDescription string    `json:"job_description,omitempty"`
	Location       string    `json:"location,omitempty"`
	SalaryRange    string    `json:"salary_range,omitempty"`
	DateApplied    time.Time `json:"date_applied"`
	Status         string    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListFilter narrows ListByUser. Zero values match everything.
type ListFilter struct {
	Status   string
	DateFrom *time.Time
	DateTo   *time.Time
}

func (f ListFilter) matches(app Application) bool {
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	if f.DateFrom != nil && app.DateApplied.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && app.DateApplied.After(*f.DateTo) {
		return false
	}
	return true
}
