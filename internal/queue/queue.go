package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// newCycleTask builds the task for one client in one schedule slot. The task
// id makes a second enqueue for the same slot a no-op.
func newCycleTask(payload RunCyclePayload, timeout time.Duration) (*asynq.Task, []asynq.Option, error) {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s:%d", TaskTypeRunCycle, payload.ClientID, payload.Slot)),
		asynq.MaxRetry(2),
		asynq.Timeout(timeout),
	}
	return asynq.NewTask(TaskTypeRunCycle, taskPayload), opts, nil
}

func EnqueueCycle(ctx context.Context, asynqClient *asynq.Client, payload RunCyclePayload, timeout time.Duration) error {
	task, opts, err := newCycleTask(payload, timeout)
	if err != nil {
		return err
	}

	_, err = asynqClient.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		slog.Info("cycle already queued for slot", "client_id", payload.ClientID, "slot", payload.Slot)
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("cycle queued", "client_id", payload.ClientID, "slot", payload.Slot)
	return nil
}

// AsynqDispatcher fans cycles out to the asynq workers of every replica.
type AsynqDispatcher struct {
	client  *asynq.Client
	slot    time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewAsynqDispatcher(client *asynq.Client, slot, timeout time.Duration) *AsynqDispatcher {
	if slot <= 0 {
		slot = time.Hour
	}
	return &AsynqDispatcher{client: client, slot: slot, timeout: timeout, now: time.Now}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, clientIDs []string) error {
	slot := slotStart(d.now(), d.slot)
	var errs []error
	for _, id := range clientIDs {
		if err := EnqueueCycle(ctx, d.client, RunCyclePayload{ClientID: id, Slot: slot}, d.timeout); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func slotStart(t time.Time, slot time.Duration) int64 {
	return t.UTC().Truncate(slot).Unix()
}
