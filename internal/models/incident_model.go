package models

import "time"

type IncidentKind string

const (
	IncidentStaleRun    IncidentKind = "stale_run"
	IncidentPhantomPost IncidentKind = "phantom_post"
	IncidentOther       IncidentKind = "other"
)

const (
	EntityRun      = "run"
	EntityPost     = "post"
	EntityPlatform = "platform"
	EntityClient   = "client"
)

// Incident records one divergence the watchdog detected. At most one incident
// per (EntityID, Kind) is open at a time.
type Incident struct {
	ID          string       `db:"id" json:"id"`
	ClientID    string       `db:"client_id" json:"client_id,omitempty"`
	Kind        IncidentKind `db:"kind" json:"kind"`
	EntityType  string       `db:"entity_type" json:"entity_type"`
	EntityID    string       `db:"entity_id" json:"entity_id"`
	Detail      string       `db:"detail" json:"detail"`
	Remediation string       `db:"remediation" json:"remediation,omitempty"`
	DetectedAt  time.Time    `db:"detected_at" json:"detected_at"`
	ResolvedAt  *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
}

func (i *Incident) Open() bool {
	return i != nil && i.ResolvedAt == nil
}
