package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"jobtracker-backend/internal/events"
)

// MessageMeta captures details useful for logging undecodable payloads.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body []byte) MessageMeta {
	if len(body) == 0 {
		return MessageMeta{}
	}
	sum := sha256.Sum256(body)
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrDecode indicates a payload that is empty or not an ApplicationCreated event.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode event"
	}
	return "decode event: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingApplicationID indicates an event without an application id.
type ErrMissingApplicationID struct {
	Meta   MessageMeta
	UserID string
}

func (e ErrMissingApplicationID) Error() string { return "missing application id" }

// ErrProcess indicates processing failed after the event was decoded.
type ErrProcess struct {
	ApplicationID string
	Err           error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process event"
	}
	return "process event: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes an event payload.
func ParseMessage(body []byte) (events.ApplicationCreated, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(string(body)) == "" {
		return events.ApplicationCreated{}, meta, ErrDecode{Meta: meta}
	}
	evt, err := events.DecodeApplicationCreated(body)
	if err != nil {
		return events.ApplicationCreated{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(evt.ApplicationID) == "" {
		return evt, meta, ErrMissingApplicationID{Meta: meta, UserID: evt.UserID}
	}
	return evt, meta, nil
}
