package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandleRunCycleTask runs one cycle. Only store failures are returned, so
// asynq retries those and nothing else.
func (j *Queue) HandleRunCycleTask(ctx context.Context, task *asynq.Task) error {
	var payload RunCyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskTypeRunCycle, err, asynq.SkipRetry)
	}
	if payload.ClientID == "" {
		return fmt.Errorf("%s payload without client id: %w", TaskTypeRunCycle, asynq.SkipRetry)
	}

	res, err := j.runner.RunCycle(ctx, payload.ClientID)
	if err != nil {
		slog.Error("run cycle", "client_id", payload.ClientID, "err", err)
		return err
	}
	slog.Info("cycle done", "client_id", payload.ClientID, "outcome", res.Outcome,
		"skip_reason", res.SkipReason, "run_id", res.RunID, "reason", res.Reason)
	return nil
}
