package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/repository"
)

const (
	failureRateWindow     = 24 * time.Hour
	failureRateMinPosts   = 3
	failureRateAlertRatio = 0.5
)

// Tenant probes share the `other` kind, so their incidents are keyed by a
// per-probe entity id derived from the client id. The client id stays the
// cursor.
func clientCandidates(clients []*models.Client, suffix string) []Candidate {
	out := make([]Candidate, 0, len(clients))
	for _, c := range clients {
		out = append(out, Candidate{
			EntityType: models.EntityClient,
			EntityID:   c.ID + "/" + suffix,
			ClientID:   c.ID,
			Detail:     c.Name,
			Cursor:     c.ID,
		})
	}
	return out
}

// FailureRateProbe reports tenants whose recent posts mostly failed. It changes
// no state; the incident stays open for an operator.
type FailureRateProbe struct {
	clients repository.ClientRepository
	posts   repository.PostRepository
	now     func() time.Time
}

func NewFailureRateProbe(clients repository.ClientRepository, posts repository.PostRepository) *FailureRateProbe {
	return &FailureRateProbe{clients: clients, posts: posts, now: time.Now}
}

func (p *FailureRateProbe) Name() string             { return "failure_rate" }
func (p *FailureRateProbe) Kind() models.IncidentKind { return models.IncidentOther }

func (p *FailureRateProbe) Sense(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	clients, err := p.clients.ListPage(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	return clientCandidates(clients, "failure_rate"), nil
}

func (p *FailureRateProbe) Decide(ctx context.Context, c Candidate) (Decision, error) {
	failed, total, err := p.posts.StatusCounts(ctx, c.ClientID, p.now().UTC().Add(-failureRateWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("post failure rate: %w", err)
	}
	if total < failureRateMinPosts || float64(failed)/float64(total) <= failureRateAlertRatio {
		return Decision{}, nil
	}
	return Decision{
		Divergent:   true,
		Detail:      fmt.Sprintf("client %s failure rate %.0f%% (%d/%d posts in 24h)", c.Detail, float64(failed)/float64(total)*100, failed, total),
		Remediation: "operator notified",
		KeepOpen:    true,
	}, nil
}

func (p *FailureRateProbe) Act(ctx context.Context, c Candidate) (bool, error)    { return true, nil }
func (p *FailureRateProbe) Verify(ctx context.Context, c Candidate) (bool, error) { return true, nil }

// ClientHealthProbe reports paying tenants whose subscription blocks every
// cycle. Detect only: subscriptions are changed through the admin API.
type ClientHealthProbe struct {
	clients repository.ClientRepository
}

func NewClientHealthProbe(clients repository.ClientRepository) *ClientHealthProbe {
	return &ClientHealthProbe{clients: clients}
}

func (p *ClientHealthProbe) Name() string             { return "client_health" }
func (p *ClientHealthProbe) Kind() models.IncidentKind { return models.IncidentOther }

func (p *ClientHealthProbe) Sense(ctx context.Context, afterID string, limit int) ([]Candidate, error) {
	clients, err := p.clients.ListPage(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	return clientCandidates(clients, "subscription"), nil
}

func (p *ClientHealthProbe) Decide(ctx context.Context, c Candidate) (Decision, error) {
	client, err := p.clients.GetByID(ctx, c.ClientID)
	if err != nil {
		return Decision{}, err
	}
	if client.Internal {
		return Decision{}, nil
	}
	var detail string
	switch client.SubscriptionStatus {
	case models.SubscriptionNone, "":
		detail = fmt.Sprintf("client %s has no subscription, cycles blocked", client.Name)
	case models.SubscriptionExpired:
		detail = fmt.Sprintf("client %s subscription expired, cycles blocked", client.Name)
	default:
		return Decision{}, nil
	}
	return Decision{Divergent: true, Detail: detail, Remediation: "operator notified", KeepOpen: true}, nil
}

func (p *ClientHealthProbe) Act(ctx context.Context, c Candidate) (bool, error)    { return true, nil }
func (p *ClientHealthProbe) Verify(ctx context.Context, c Candidate) (bool, error) { return true, nil }
