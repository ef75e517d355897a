package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository"
)

type PlatformResolver interface {
	Get(name string) (platform.Client, bool)
}

type PublishGateConfig struct {
	ConfidenceThreshold float64
	SettleDelay         time.Duration
	VerifyAttempts      int
	VerifyBackoff       time.Duration
	PlatformTimeout     time.Duration
}

// PublishGate turns content candidates into posts: it decides whether a
// candidate goes out, publishes it, and confirms the platform kept it.
type PublishGate struct {
	posts     repository.PostRepository
	platforms PlatformResolver
	cfg       PublishGateConfig
	logger    *slog.Logger
	tracer    trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPublishGate(posts repository.PostRepository, platforms PlatformResolver, cfg PublishGateConfig, logger *slog.Logger) *PublishGate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VerifyAttempts < 1 {
		cfg.VerifyAttempts = 1
	}
	if cfg.PlatformTimeout <= 0 {
		cfg.PlatformTimeout = 30 * time.Second
	}
	return &PublishGate{
		posts:     posts,
		platforms: platforms,
		cfg:       cfg,
		logger:    logger.With("component", "publish_gate"),
		tracer:    otel.Tracer("postpilot/service"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// ConfidenceThreshold is the minimum candidate confidence that is published.
func (g *PublishGate) ConfidenceThreshold() float64 { return g.cfg.ConfidenceThreshold }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DecideAndPublish records the candidate as a post and publishes it when the
// client and confidence allow. The returned post reflects the recorded state.
// A *PublishError or *VerificationAmbiguousError comes back alongside the
// failed post; any other error is a store failure and comes back with no post.
func (g *PublishGate) DecideAndPublish(ctx context.Context, client *models.Client, runID string, candidate models.ContentCandidate) (*models.Post, error) {
	ctx, span := g.tracer.Start(ctx, "publish_gate.decide", trace.WithAttributes(
		attribute.String("client_id", client.ID),
		attribute.String("run_id", runID),
		attribute.String("platform", candidate.Platform),
		attribute.Float64("confidence", candidate.Confidence),
	))
	defer span.End()

	now := g.now().UTC()
	post := &models.Post{
		ID:         uuid.NewString(),
		ClientID:   client.ID,
		RunID:      runID,
		Platform:   candidate.Platform,
		Body:       candidate.Body,
		Confidence: candidate.Confidence,
		Status:     models.PostStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := g.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	log := g.logger.With("client_id", client.ID, "run_id", runID, "post_id", post.ID, "platform", post.Platform)

	if candidate.Confidence < g.cfg.ConfidenceThreshold || !client.AutoPublish {
		log.Info("post kept as draft", "confidence", candidate.Confidence, "auto_publish", client.AutoPublish)
		return post, nil
	}
	pc, ok := g.platforms.Get(candidate.Platform)
	if !ok {
		log.Info("post kept as draft, no platform client")
		return post, nil
	}

	// The external call has happened once Publish returns; record its outcome
	// even if the cycle context is cancelled meanwhile.
	store := context.WithoutCancel(ctx)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.PlatformTimeout)
	platformID, err := pc.Publish(callCtx, post.Body)
	cancel()
	if err != nil {
		log.Warn("publish failed", "err", err)
		current, recorded, ferr := g.fail(store, post, err.Error())
		if ferr != nil || !recorded {
			return current, ferr
		}
		span.SetStatus(codes.Error, "publish failed")
		return current, &PublishError{PostID: post.ID, Platform: post.Platform, Err: err}
	}

	recorded, err := g.posts.SetPlatformID(store, client.ID, post.ID, platformID)
	if err != nil {
		log.Error("published but platform id not recorded, reconcile by hand", "platform_id", platformID, "err", err)
		return nil, fmt.Errorf("record platform id %s: %w", platformID, err)
	}
	if !recorded {
		log.Warn("post left draft before platform id could be recorded", "platform_id", platformID)
		return g.reload(store, post)
	}
	post.PlatformID = platformID
	span.SetAttributes(attribute.String("platform_id", platformID))

	if err := g.sleep(ctx, g.cfg.SettleDelay); err != nil {
		return g.ambiguous(store, post, fmt.Errorf("settle: %w", err), log)
	}

	exists, err := g.verify(ctx, pc, platformID)
	if err != nil {
		return g.ambiguous(store, post, err, log)
	}
	if !exists {
		log.Warn("post not found after publish", "platform_id", platformID)
		current, recorded, err := g.fail(store, post, models.PostErrNotFoundAfterPublish)
		if err != nil || !recorded {
			return current, err
		}
		span.SetStatus(codes.Error, models.PostErrNotFoundAfterPublish)
		return current, &VerificationAmbiguousError{
			PostID: post.ID, PlatformID: platformID, Err: errors.New(models.PostErrNotFoundAfterPublish),
		}
	}

	at := g.now().UTC()
	ok, err = g.posts.MarkPublished(store, client.ID, post.ID, at)
	if err != nil {
		return nil, fmt.Errorf("mark published: %w", err)
	}
	if !ok {
		log.Warn("post left draft before publish could be recorded")
		return g.reload(store, post)
	}
	post.Status = models.PostStatusPublished
	post.PublishedAt = &at
	log.Info("post published", "platform_id", platformID)
	return post, nil
}

// verify asks the platform whether the item exists, retrying transient errors
// with exponential backoff.
func (g *PublishGate) verify(ctx context.Context, pc platform.Client, platformID string) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.VerifyBackoff

	return backoff.Retry(ctx, func() (bool, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.PlatformTimeout)
		defer cancel()
		exists, err := pc.Exists(callCtx, platformID)
		if err != nil && !platform.IsTransient(err) {
			return false, backoff.Permanent(err)
		}
		return exists, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(g.cfg.VerifyAttempts)))
}

func (g *PublishGate) ambiguous(ctx context.Context, post *models.Post, cause error, log *slog.Logger) (*models.Post, error) {
	log.Warn("post verification failed", "platform_id", post.PlatformID, "err", cause)
	current, recorded, err := g.fail(ctx, post, "post verification failed: "+cause.Error())
	if err != nil || !recorded {
		return current, err
	}
	return current, &VerificationAmbiguousError{PostID: post.ID, PlatformID: post.PlatformID, Err: cause}
}

// fail records the failure. When the post already left draft it returns the
// stored post and recorded is false.
func (g *PublishGate) fail(ctx context.Context, post *models.Post, message string) (current *models.Post, recorded bool, err error) {
	ok, err := g.posts.MarkFailed(ctx, post.ClientID, post.ID, message)
	if err != nil {
		return nil, false, fmt.Errorf("mark failed: %w", err)
	}
	if !ok {
		g.logger.Warn("post left draft before failure could be recorded", "post_id", post.ID)
		current, err = g.reload(ctx, post)
		return current, false, err
	}
	post.Status = models.PostStatusFailed
	post.ErrorMessage = &message
	return post, true, nil
}

func (g *PublishGate) reload(ctx context.Context, post *models.Post) (*models.Post, error) {
	current, err := g.posts.Lookup(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("reload post: %w", err)
	}
	return current, nil
}
