package ws

import "encoding/json"

// FrameType represents the type of WebSocket frame.
type FrameType string

const (
	FrameTypeRequest  FrameType = "req"
	FrameTypeResponse FrameType = "res"
	FrameTypeEvent    FrameType = "event"
)

// Method represents a WebSocket request method.
type Method string

// Remote actor methods, served by the worker endpoint.
const (
	MethodSpawn   Method = "spawn"
	MethodConsume Method = "consume"
	MethodStop    Method = "stop"
)

// Event stream methods, served by the gateway hub.
const (
	MethodSubscribe Method = "subscribe"
	MethodStats     Method = "stats"
)

// Frame is the WebSocket protocol envelope.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

// SpawnParams asks a worker to start an instance of a binding. Set is the
// canonical capability-set key; Binding is the actor name.
type SpawnParams struct {
	Binding string `json:"binding"`
	Set     string `json:"set"`
}

// SpawnResult carries the worker-side actor ID.
type SpawnResult struct {
	ActorID string `json:"actor_id"`
}

// ConsumeParams passes one argument to a spawned actor.
type ConsumeParams struct {
	ActorID  string          `json:"actor_id"`
	Argument json.RawMessage `json:"argument"`
}

// ConsumeResult is the outcome of a consume request. Failures set Error;
// Broken marks the actor as unusable.
type ConsumeResult struct {
	Value  json.RawMessage `json:"value,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
	Broken bool            `json:"broken,omitempty"`
}

// ErrorInfo describes an error raised by a remote actor.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StopParams asks a worker to stop a spawned actor.
type StopParams struct {
	ActorID string `json:"actor_id"`
}

// SubscribeParams restricts a client's event stream to Types. An empty list
// restores the full stream.
type SubscribeParams struct {
	Types []string `json:"types"`
}

// MarshalFrame serializes a Frame to JSON bytes.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalFrame deserializes JSON bytes into a Frame.
func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// NewRequestFrame creates a request Frame with JSON-encoded params.
func NewRequestFrame(id string, method Method, params any) (Frame, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: string(method),
		Params: data,
	}, nil
}

// NewEventFrame creates a Frame for broadcasting an event.
func NewEventFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: data,
	}, nil
}

// NewResponseFrame creates a response Frame.
func NewResponseFrame(id string, ok bool, payload any, errMsg string) (Frame, error) {
	f := Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: errMsg,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = data
	}
	return f, nil
}
