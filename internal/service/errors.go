package service

import "fmt"

// StageError is the reason a run failed. It is recorded on the run and never
// returned to the trigger.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PublishError means the platform rejected the publish call. The post is
// failed and carries no platform id.
type PublishError struct {
	PostID   string
	Platform string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish post %s to %s: %v", e.PostID, e.Platform, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// VerificationAmbiguousError means publish reported success but the item could
// not be confirmed on the platform. The post is failed and keeps its platform id.
type VerificationAmbiguousError struct {
	PostID     string
	PlatformID string
	Err        error
}

func (e *VerificationAmbiguousError) Error() string {
	return fmt.Sprintf("verify post %s (%s): %v", e.PostID, e.PlatformID, e.Err)
}

func (e *VerificationAmbiguousError) Unwrap() error { return e.Err }
