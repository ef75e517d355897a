package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
)

type ClientRepository interface {
	Create(ctx context.Context, client *models.Client) error
	GetByID(ctx context.Context, id string) (*models.Client, error)
	ListPage(ctx context.Context, afterID string, limit int) ([]*models.Client, error)
	ExpireTrial(ctx context.Context, id string, now time.Time) (bool, error)
	SetPaused(ctx context.Context, id string, paused bool) error
	UpdateSubscription(ctx context.Context, id string, status models.SubscriptionStatus, trialEndsAt *time.Time) error
}

const clientColumns = `id, name, paused, internal, subscription_status, trial_ends_at, auto_publish, monthly_budget_usd, created_at, updated_at`

const (
	queryClientInsert = `
		INSERT INTO clients (id, name, paused, internal, subscription_status, trial_ends_at, auto_publish, monthly_budget_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	queryClientGet  = `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	queryClientPage = `SELECT ` + clientColumns + ` FROM clients WHERE id > $1 ORDER BY id LIMIT $2`
	// trial -> expired only while still a trial and past due.
	queryClientExpireTrial = `
		UPDATE clients
		SET subscription_status = 'expired',
			updated_at = $2
		WHERE id = $1 AND subscription_status = 'trial' AND trial_ends_at IS NOT NULL AND trial_ends_at < $2
	`
	queryClientSetPaused = `UPDATE clients SET paused = $2, updated_at = $3 WHERE id = $1`
	queryClientSetSub    = `
		UPDATE clients
		SET subscription_status = $2,
			trial_ends_at = $3,
			updated_at = $4
		WHERE id = $1
	`
)

const maxClientPage = 500

type clientRepository struct {
	db *sql.DB
}

func NewClientRepository(db *sql.DB) ClientRepository {
	return &clientRepository{db: db}
}

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var trialEnds sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Paused, &c.Internal, &c.SubscriptionStatus, &trialEnds,
		&c.AutoPublish, &c.MonthlyBudgetUSD, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.TrialEndsAt = timePtr(trialEnds)
	return &c, nil
}

func (r *clientRepository) Create(ctx context.Context, client *models.Client) error {
	now := client.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		client.CreatedAt = now
	}
	client.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, queryClientInsert, client.ID, client.Name, client.Paused, client.Internal,
		client.SubscriptionStatus, nullTime(client.TrialEndsAt), client.AutoPublish, client.MonthlyBudgetUSD, now)
	if err != nil {
		slog.Info(err.Error())
		return mapPQ(err)
	}
	return nil
}

func (r *clientRepository) GetByID(ctx context.Context, id string) (*models.Client, error) {
	client, err := scanClient(r.db.QueryRowContext(ctx, queryClientGet, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return client, nil
}

func (r *clientRepository) ListPage(ctx context.Context, afterID string, limit int) ([]*models.Client, error) {
	rows, err := r.db.QueryContext(ctx, queryClientPage, afterID, clampLimit(limit, maxClientPage))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (r *clientRepository) ExpireTrial(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, queryClientExpireTrial, id, now)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return rowsChanged(res)
}

func (r *clientRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	res, err := r.db.ExecContext(ctx, queryClientSetPaused, id, paused, time.Now().UTC())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *clientRepository) UpdateSubscription(ctx context.Context, id string, status models.SubscriptionStatus, trialEndsAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, queryClientSetSub, id, status, nullTime(trialEndsAt), time.Now().UTC())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
