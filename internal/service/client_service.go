package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/transfer"
)

var ErrInvalidInput = errors.New("invalid input")

type ClientService interface {
	Create(ctx context.Context, req *transfer.CreateClientRequest) (*models.Client, error)
	Get(ctx context.Context, id string) (*models.Client, error)
	Pause(ctx context.Context, id string) (*models.Client, error)
	Resume(ctx context.Context, id string) (*models.Client, error)
	SetSubscription(ctx context.Context, id string, update *transfer.SubscriptionUpdate) (*models.Client, error)
}

type clientService struct {
	clients     repository.ClientRepository
	trialLength time.Duration
	now         func() time.Time
}

func NewClientService(clients repository.ClientRepository, trialLength time.Duration) ClientService {
	return &clientService{
		clients:     clients,
		trialLength: trialLength,
		now:         time.Now,
	}
}

// Create registers a client on a fresh trial. AutoPublish is on unless the
// request turns it off.
func (s *clientService) Create(ctx context.Context, req *transfer.CreateClientRequest) (*models.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	trialEnds := now.Add(s.trialLength)
	client := &models.Client{
		ID:                 uuid.NewString(),
		Name:               name,
		Internal:           req.Internal,
		SubscriptionStatus: models.SubscriptionTrial,
		TrialEndsAt:        &trialEnds,
		AutoPublish:        true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.AutoPublish != nil {
		client.AutoPublish = *req.AutoPublish
	}
	if req.MonthlyBudgetUSD != nil {
		if *req.MonthlyBudgetUSD < 0 {
			return nil, fmt.Errorf("%w: monthly_budget_usd must not be negative", ErrInvalidInput)
		}
		client.MonthlyBudgetUSD = *req.MonthlyBudgetUSD
	}

	if err := s.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

func (s *clientService) Get(ctx context.Context, id string) (*models.Client, error) {
	return s.clients.GetByID(ctx, id)
}

func (s *clientService) Pause(ctx context.Context, id string) (*models.Client, error) {
	return s.setPaused(ctx, id, true)
}

func (s *clientService) Resume(ctx context.Context, id string) (*models.Client, error) {
	return s.setPaused(ctx, id, false)
}

func (s *clientService) setPaused(ctx context.Context, id string, paused bool) (*models.Client, error) {
	if err := s.clients.SetPaused(ctx, id, paused); err != nil {
		return nil, err
	}
	return s.clients.GetByID(ctx, id)
}

func (s *clientService) SetSubscription(ctx context.Context, id string, update *transfer.SubscriptionUpdate) (*models.Client, error) {
	status := models.SubscriptionStatus(strings.ToLower(update.Status))
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown subscription status %q", ErrInvalidInput, update.Status)
	}

	trialEnds := update.TrialEndsAt
	if status == models.SubscriptionTrial && trialEnds == nil {
		t := s.now().UTC().Add(s.trialLength)
		trialEnds = &t
	}
	if status != models.SubscriptionTrial {
		trialEnds = nil
	}

	if err := s.clients.UpdateSubscription(ctx, id, status, trialEnds); err != nil {
		return nil, err
	}
	return s.clients.GetByID(ctx, id)
}
