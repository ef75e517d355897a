package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type IncidentRepository interface {
	// Open inserts the incident unless one is already open for its entity and
	// kind. It reports whether a row was created.
	Open(ctx context.Context, incident *models.Incident) (bool, error)
	Resolve(ctx context.Context, id, remediation string, at time.Time) (bool, error)
	FindOpen(ctx context.Context, entityID string, kind models.IncidentKind) (*models.Incident, error)
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	List(ctx context.Context, openOnly bool, limit int) ([]*models.Incident, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]*models.Incident, error)
}

const incidentColumns = `id, client_id, kind, entity_type, entity_id, detail, remediation, detected_at, resolved_at`

const (
	queryIncidentOpen = `
		INSERT INTO incidents (id, client_id, kind, entity_type, entity_id, detail, remediation, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7)
		ON CONFLICT (entity_id, kind) WHERE resolved_at IS NULL DO NOTHING
	`
	queryIncidentResolve = `
		UPDATE incidents
		SET remediation = $2,
			resolved_at = $3
		WHERE id = $1 AND resolved_at IS NULL
	`
	queryIncidentFindOpen = `SELECT ` + incidentColumns + ` FROM incidents WHERE entity_id = $1 AND kind = $2 AND resolved_at IS NULL`
	queryIncidentGet      = `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	queryIncidentList     = `
		SELECT ` + incidentColumns + ` FROM incidents
		WHERE ($1::boolean = FALSE OR resolved_at IS NULL)
		ORDER BY detected_at DESC
		LIMIT $2
	`
	queryIncidentListByClient = `SELECT ` + incidentColumns + ` FROM incidents WHERE client_id = $1 ORDER BY detected_at DESC LIMIT $2`
)

const maxIncidentPage = 500

type incidentRepository struct {
	db *sql.DB
}

func NewIncidentRepository(db *sql.DB) IncidentRepository {
	return &incidentRepository{db: db}
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var inc models.Incident
	var clientID sql.NullString
	var resolved sql.NullTime
	err := row.Scan(&inc.ID, &clientID, &inc.Kind, &inc.EntityType, &inc.EntityID, &inc.Detail, &inc.Remediation,
		&inc.DetectedAt, &resolved)
	if err != nil {
		return nil, err
	}
	inc.ClientID = clientID.String
	inc.ResolvedAt = timePtr(resolved)
	return &inc, nil
}

func (r *incidentRepository) Open(ctx context.Context, incident *models.Incident) (bool, error) {
	res, err := r.db.ExecContext(ctx, queryIncidentOpen, incident.ID, nullString(incident.ClientID), incident.Kind,
		incident.EntityType, incident.EntityID, incident.Detail, incident.DetectedAt)
	if err != nil {
		slog.Info(err.Error())
		return false, mapPQ(err)
	}
	return rowsChanged(res)
}

func (r *incidentRepository) Resolve(ctx context.Context, id, remediation string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, queryIncidentResolve, id, remediation, at)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return rowsChanged(res)
}

func (r *incidentRepository) FindOpen(ctx context.Context, entityID string, kind models.IncidentKind) (*models.Incident, error) {
	return r.get(ctx, queryIncidentFindOpen, entityID, kind)
}

func (r *incidentRepository) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	return r.get(ctx, queryIncidentGet, id)
}

func (r *incidentRepository) List(ctx context.Context, openOnly bool, limit int) ([]*models.Incident, error) {
	return r.list(ctx, queryIncidentList, openOnly, clampLimit(limit, maxIncidentPage))
}

func (r *incidentRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.Incident, error) {
	return r.list(ctx, queryIncidentListByClient, clientID, clampLimit(limit, maxIncidentPage))
}

func (r *incidentRepository) get(ctx context.Context, query string, args ...any) (*models.Incident, error) {
	inc, err := scanIncident(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return inc, nil
}

func (r *incidentRepository) list(ctx context.Context, query string, args ...any) ([]*models.Incident, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}
