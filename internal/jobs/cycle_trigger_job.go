package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/service"
)

// Dispatcher hands client ids to whatever runs their cycles.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientIDs []string) error
}

type CycleTriggerJob struct {
	clients    repository.ClientRepository
	dispatcher Dispatcher
	pageSize   int

	mu      sync.Mutex
	running bool
}

func NewCycleTriggerJob(clients repository.ClientRepository, dispatcher Dispatcher, pageSize int) *CycleTriggerJob {
	if pageSize < 1 {
		pageSize = 100
	}
	return &CycleTriggerJob{
		clients:    clients,
		dispatcher: dispatcher,
		pageSize:   pageSize,
	}
}

// Trigger walks every client and dispatches a cycle for each. Eligibility is
// left to the orchestrator. An overlapping tick is dropped.
func (j *CycleTriggerJob) Trigger(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		slog.Info("cycle trigger still running, tick skipped")
		return
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	started := time.Now()
	dispatched := 0
	cursor := ""
	for {
		page, err := j.clients.ListPage(ctx, cursor, j.pageSize)
		if err != nil {
			slog.Error("list clients", "err", err)
			return
		}
		if len(page) == 0 {
			break
		}
		ids := make([]string, 0, len(page))
		for _, c := range page {
			ids = append(ids, c.ID)
		}
		if err := j.dispatcher.Dispatch(ctx, ids); err != nil {
			slog.Error("dispatch cycles", "err", err)
			return
		}
		dispatched += len(ids)
		if len(page) < j.pageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}
	slog.Info("cycle trigger finished", "clients", dispatched, "duration", time.Since(started))
}

// InlineDispatcher runs cycles in this process, at most limit at a time.
type InlineDispatcher struct {
	runner service.CycleRunner
	limit  int
}

func NewInlineDispatcher(runner service.CycleRunner, limit int) *InlineDispatcher {
	if limit < 1 {
		limit = 1
	}
	return &InlineDispatcher{runner: runner, limit: limit}
}

// Dispatch waits for every cycle. One client's failure does not stop the others.
func (d *InlineDispatcher) Dispatch(ctx context.Context, clientIDs []string) error {
	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, id := range clientIDs {
		g.Go(func() error {
			res, err := d.runner.RunCycle(ctx, id)
			if err != nil {
				slog.Error("run cycle", "client_id", id, "err", err)
				return nil
			}
			slog.Info("cycle done", "client_id", id, "outcome", res.Outcome, "skip_reason", res.SkipReason, "run_id", res.RunID)
			return nil
		})
	}
	return g.Wait()
}
