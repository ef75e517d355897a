package models

import "time"

type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

const (
	PostErrNotFoundAfterPublish = "post not found after publish"
	PostErrPhantom              = "phantom post"
)

type Post struct {
	ID           string     `db:"id" json:"id"`
	ClientID     string     `db:"client_id" json:"client_id"`
	RunID        string     `db:"run_id" json:"run_id"`
	Platform     string     `db:"platform" json:"platform"`
	Body         string     `db:"body" json:"body"`
	Confidence   float64    `db:"confidence" json:"confidence"`
	Status       PostStatus `db:"status" json:"status"`
	PlatformID   string     `db:"platform_id" json:"platform_id,omitempty"`
	PublishedAt  *time.Time `db:"published_at" json:"published_at,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// ContentCandidate is a generated piece of content waiting on the publish decision.
type ContentCandidate struct {
	Platform   string  `json:"platform"`
	Body       string  `json:"body"`
	Confidence float64 `json:"confidence"`
	SourceIdea string  `json:"source_idea,omitempty"`
}
