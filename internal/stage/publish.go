package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maheshrc27/postpilot/internal/models"
)

var ErrNoPublisher = errors.New("no publisher configured")

type publishStage struct {
	publisher Publisher
}

func (s *publishStage) Name() Name { return Publish }

// Execute hands each candidate to the publisher. A recorded post outcome,
// failed or not, does not fail the stage; a store error does.
func (s *publishStage) Execute(ctx context.Context, in *Input) (Result, error) {
	candidates := in.Results[Content].Candidates
	if len(candidates) == 0 {
		return Result{OutputSummary: "nothing to publish"}, nil
	}
	if s.publisher == nil {
		return Result{}, ErrNoPublisher
	}

	counts := map[models.PostStatus]int{}
	var posts []*models.Post
	var notes []string
	for _, c := range candidates {
		post, err := s.publisher.DecideAndPublish(ctx, in.Client, in.Run.ID, c)
		if post == nil {
			if err == nil {
				err = errors.New("publisher returned no post")
			}
			return Result{Posts: posts}, fmt.Errorf("publish %s candidate: %w", c.Platform, err)
		}
		posts = append(posts, post)
		counts[post.Status]++
		if err != nil {
			notes = append(notes, fmt.Sprintf("%s: %v", post.ID, err))
		}
	}

	input := fmt.Sprintf("%d candidates, auto_publish %t", len(candidates), in.Client.AutoPublish)
	if tr, ok := s.publisher.(thresholdReporter); ok {
		input += fmt.Sprintf(", threshold %.2f", tr.ConfidenceThreshold())
	}
	res := Result{
		InputSummary: input,
		OutputSummary: fmt.Sprintf("published %d, drafts %d, failed %d",
			counts[models.PostStatusPublished], counts[models.PostStatusDraft], counts[models.PostStatusFailed]),
		Posts: posts,
	}
	if len(notes) > 0 {
		res.Rationale = strings.Join(notes, "; ")
	}
	return res, nil
}
