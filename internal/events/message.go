package events

import (
	"encoding/json"
	"time"
)

const (
	// EventTypeApplicationCreated tags ApplicationCreated payloads.
	EventTypeApplicationCreated = "application.created"
	// ApplicationCreatedVersion is the current payload version.
	ApplicationCreatedVersion = 1
)

// ApplicationCreated is published once an application has been saved.
type ApplicationCreated struct {
	ApplicationID  string    `json:"application_id"`
	UserID         string    `json:"user_id"`
	CompanyName    string    `json:"company_name"`
	JobTitle       string    `json:"job_title"`
	JobDescription string    `json:"job_description"`
	EventType      string    `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	Version        int       `json:"version"`
}

// NewApplicationCreated fills the envelope fields of an ApplicationCreated event.
func NewApplicationCreated(applicationID, userID, companyName, jobTitle, jobDescription string, at time.Time) ApplicationCreated {
	return ApplicationCreated{
		ApplicationID:  applicationID,
		UserID:         userID,
		CompanyName:    companyName,
		JobTitle:       jobTitle,
		JobDescription: jobDescription,
		EventType:      EventTypeApplicationCreated,
		OccurredAt:     at.UTC(),
		Version:        ApplicationCreatedVersion,
	}
}

// EncodeApplicationCreated returns the JSON representation of an event.
func EncodeApplicationCreated(evt ApplicationCreated) ([]byte, error) {
	return json.Marshal(evt)
}

// DecodeApplicationCreated parses a JSON payload into an ApplicationCreated.
func DecodeApplicationCreated(payload []byte) (ApplicationCreated, error) {
	var evt ApplicationCreated
	if err := json.Unmarshal(payload, &evt); err != nil {
		return ApplicationCreated{}, err
	}
	return evt, nil
}
