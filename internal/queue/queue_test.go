package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/maheshrc27/postpilot/internal/service"
)

type fakeRunner struct {
	clients []string
	err     error
}

func (f *fakeRunner) RunCycle(ctx context.Context, clientID string) (service.CycleResult, error) {
	f.clients = append(f.clients, clientID)
	return service.CycleResult{ClientID: clientID, Outcome: service.OutcomeSkipped, SkipReason: service.SkipPaused}, f.err
}

func TestNewCycleTask(t *testing.T) {
	task, opts, err := newCycleTask(RunCyclePayload{ClientID: "c1", Slot: 1700000000}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskTypeRunCycle {
		t.Fatalf("type = %s", task.Type())
	}
	var payload RunCyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.ClientID != "c1" {
		t.Fatalf("payload = %+v err=%v", payload, err)
	}
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if id != "cycle:run:c1:1700000000" {
		t.Fatalf("task id = %q", id)
	}
}

func TestSlotStartGroupsTicks(t *testing.T) {
	a := time.Date(2026, 5, 10, 6, 1, 0, 0, time.UTC)
	b := time.Date(2026, 5, 10, 11, 59, 0, 0, time.UTC)
	if slotStart(a, 6*time.Hour) != slotStart(b, 6*time.Hour) {
		t.Fatal("ticks in one slot must share the slot id")
	}
}

func TestHandleRunCycleTask(t *testing.T) {
	runner := &fakeRunner{}
	q := NewQueue(runner)
	payload, _ := json.Marshal(RunCyclePayload{ClientID: "c1"})
	if err := q.HandleRunCycleTask(context.Background(), asynq.NewTask(TaskTypeRunCycle, payload)); err != nil {
		t.Fatal(err)
	}
	if len(runner.clients) != 1 || runner.clients[0] != "c1" {
		t.Fatalf("runner calls = %v", runner.clients)
	}
}

func TestHandleRunCycleTaskErrors(t *testing.T) {
	q := NewQueue(&fakeRunner{err: errors.New("db down")})
	payload, _ := json.Marshal(RunCyclePayload{ClientID: "c1"})
	if err := q.HandleRunCycleTask(context.Background(), asynq.NewTask(TaskTypeRunCycle, payload)); err == nil {
		t.Fatal("store failures must be retried")
	}
	err := q.HandleRunCycleTask(context.Background(), asynq.NewTask(TaskTypeRunCycle, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload must skip retry, got %v", err)
	}
}
