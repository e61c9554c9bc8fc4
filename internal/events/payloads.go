package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskQueuedPayload struct {
	TaskID string `json:"task_id"`
	Set    string `json:"set"`
	Queued int    `json:"queued"`
}

func (TaskQueuedPayload) EventType() EventType { return EventTaskQueued }

type TaskStartedPayload struct {
	TaskID  string `json:"task_id"`
	Set     string `json:"set"`
	ActorID string `json:"actor_id"`
	Attempt int    `json:"attempt"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskCompletedPayload struct {
	TaskID   string        `json:"task_id"`
	Set      string        `json:"set"`
	ActorID  string        `json:"actor_id"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID   string `json:"task_id"`
	Set      string `json:"set"`
	ActorID  string `json:"actor_id,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskRetriedPayload struct {
	TaskID    string `json:"task_id"`
	Set       string `json:"set"`
	Attempt   int    `json:"attempt"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error"`
}

func (TaskRetriedPayload) EventType() EventType { return EventTaskRetried }

// =============================================================================
// ACTOR EVENTS
// =============================================================================

type ActorSpawnedPayload struct {
	ActorID string `json:"actor_id"`
	Actor   string `json:"actor"`
	Set     string `json:"set"`
	Backend string `json:"backend"`
}

func (ActorSpawnedPayload) EventType() EventType { return EventActorSpawned }

type ActorStoppedPayload struct {
	ActorID string `json:"actor_id"`
	Actor   string `json:"actor"`
	Set     string `json:"set"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

func (ActorStoppedPayload) EventType() EventType { return EventActorStopped }

// =============================================================================
// SCHEDULER / PRODUCER EVENTS
// =============================================================================

type SchedulerJoinedPayload struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

func (SchedulerJoinedPayload) EventType() EventType { return EventSchedulerJoined }

type TriggerFiredPayload struct {
	Spec  string `json:"spec"`
	Run   int    `json:"run"`
	Tasks int    `json:"tasks"`
}

func (TriggerFiredPayload) EventType() EventType { return EventTriggerFired }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithRun(source EventSource, payload EventPayload, runID string) Event {
	e := NewTypedEvent(source, payload)
	e.RunID = runID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
