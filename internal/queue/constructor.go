package queue

import (
	"github.com/maheshrc27/postpilot/internal/service"
)

// Queue consumes cycle tasks on the asynq worker side.
type Queue struct {
	runner service.CycleRunner
}

func NewQueue(runner service.CycleRunner) *Queue {
	return &Queue{runner: runner}
}

const TaskTypeRunCycle = "cycle:run"

type RunCyclePayload struct {
	ClientID string `json:"client_id"`
	Slot     int64  `json:"slot"`
}
