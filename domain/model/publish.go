package model

import "time"

type PublishRequest struct {
	ContentID   string
	Platforms   []Platform
	RequesterID string
	Force       bool
	Immediate   bool
}

// PlatformOutcome is one platform's entry in a PublishResult.
type PlatformOutcome struct {
	Platform  Platform          `json:"platform"`
	Success   bool              `json:"success"`
	Status    PublicationStatus `json:"status"`
	PostURL   string            `json:"postUrl,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind ErrorKind         `json:"errorKind,omitempty"`
	// Skipped is set when a stored published state was returned without a network call.
	Skipped bool `json:"skipped,omitempty"`
}

type PublishResult struct {
	ContentID string            `json:"contentId"`
	Success   bool              `json:"success"`
	Results   []PlatformOutcome `json:"results"`
}

// PublicationAudit is an append-only record of one publish attempt.
type PublicationAudit struct {
	ID          string            `json:"id" bson:"_id"`
	ContentID   string            `json:"content_id" bson:"content_id"`
	Platform    Platform          `json:"platform" bson:"platform"`
	RequesterID string            `json:"requester_id" bson:"requester_id"`
	Attempt     int               `json:"attempt" bson:"attempt"`
	Status      PublicationStatus `json:"status" bson:"status"`
	ErrorKind   ErrorKind         `json:"error_kind,omitempty" bson:"error_kind,omitempty"`
	Error       *string           `json:"error,omitempty" bson:"error,omitempty"`
	PostURL     *string           `json:"post_url,omitempty" bson:"post_url,omitempty"`
	CreatedAt   time.Time         `json:"created_at" bson:"created_at"`
}

// PublicationEvent is broadcast whenever a platform reaches a terminal or pending state.
type PublicationEvent struct {
	Type        string            `json:"type"`
	ContentID   string            `json:"content_id"`
	Platform    Platform          `json:"platform"`
	RequesterID string            `json:"requester_id,omitempty"`
	Status      PublicationStatus `json:"status"`
	PostURL     string            `json:"post_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}
