package events

import (
	"testing"
	"time"
)

func TestTypedEvent_TaskCompleted(t *testing.T) {
	payload := TaskCompletedPayload{
		TaskID:   "task_1",
		Set:      "{file_uploader}",
		ActorID:  "uploader-1",
		Attempts: 1,
		Duration: 2 * time.Second,
	}
	evt := NewTypedEvent(SourceScheduler, payload)

	if evt.Type != EventTaskCompleted {
		t.Fatalf("expected type %q, got %q", EventTaskCompleted, evt.Type)
	}
	got, ok := ExtractPayload[TaskCompletedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got != payload {
		t.Fatalf("got %+v, want %+v", got, payload)
	}
}

func TestTypedEvent_TaskFailed(t *testing.T) {
	evt := NewTypedEvent(SourceScheduler, TaskFailedPayload{TaskID: "task_2", Error: "boom", Attempts: 3})
	got, ok := ExtractPayload[TaskFailedPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Error != "boom" || got.Attempts != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if evt.Payload["task_id"] != "task_2" {
		t.Errorf("payload map task_id = %v", evt.Payload["task_id"])
	}
}

func TestExtractPayload_WrongType(t *testing.T) {
	evt := NewTypedEvent(SourceScheduler, ActorSpawnedPayload{ActorID: "a-1"})
	if _, ok := ExtractPayload[ActorStoppedPayload](evt); ok {
		t.Fatal("expected false for mismatched payload type")
	}
}

func TestNewTypedEventWithRun(t *testing.T) {
	evt := NewTypedEventWithRun(SourceScheduler, SchedulerJoinedPayload{Completed: 9, Failed: 1}, "run_1")
	if evt.RunID != "run_1" {
		t.Errorf("RunID = %q, want run_1", evt.RunID)
	}
	if evt.Source != SourceScheduler {
		t.Errorf("Source = %q", evt.Source)
	}
	got, _ := ExtractPayload[SchedulerJoinedPayload](evt)
	if got.Completed != 9 || got.Failed != 1 {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := NewTypedEvent(SourceTrigger, TriggerFiredPayload{Run: 1}).ID
		if seen[id] {
			t.Fatalf("duplicate event ID %q", id)
		}
		seen[id] = true
	}
}
