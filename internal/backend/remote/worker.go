package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/backend"
	"github.com/dohr-michael/capq/internal/gateway/ws"
)

// Lookup resolves a spawn request to a factory.
type Lookup func(name, setKey string) (actors.Factory, bool)

// RegistryLookup resolves by exact set key first, then by actor name.
func RegistryLookup(reg *actors.Registry) Lookup {
	return func(name, setKey string) (actors.Factory, bool) {
		if b, ok := reg.LookupKey(setKey); ok && b.Name == name {
			return b.New, true
		}
		return reg.FactoryByName(name)
	}
}

// Worker serves remote actor requests on a WebSocket endpoint. Every actor
// spawned through a connection is stopped when that connection closes.
type Worker struct {
	lookup Lookup
	log    *slog.Logger

	mu    sync.Mutex
	conns int
}

// NewWorker creates a worker handler.
func NewWorker(lookup Lookup, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{lookup: lookup, log: log}
}

// Connections returns the number of open scheduler connections.
func (w *Worker) Connections() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns
}

func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.log.Error("worker accept", "error", err)
		return
	}
	conn.SetReadLimit(-1)

	w.mu.Lock()
	w.conns++
	w.mu.Unlock()
	w.log.Info("scheduler connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	s := &session{
		conn:    conn,
		lookup:  w.lookup,
		log:     w.log,
		handles: make(map[string]backend.Handle),
	}
	defer func() {
		cancel()
		s.close()
		conn.Close(websocket.StatusNormalClosure, "")
		w.mu.Lock()
		w.conns--
		w.mu.Unlock()
		w.log.Info("scheduler disconnected", "remote_addr", r.RemoteAddr)
	}()

	s.serve(ctx)
}

type session struct {
	conn   *websocket.Conn
	lookup Lookup
	log    *slog.Logger

	mu       sync.Mutex
	handles  map[string]backend.Handle
	inflight sync.WaitGroup
}

func (s *session) serve(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.log.Debug("worker read closed", "status", websocket.CloseStatus(err))
			} else {
				s.log.Debug("worker read error", "error", err)
			}
			return
		}
		frame, err := ws.UnmarshalFrame(data)
		if err != nil {
			s.log.Error("worker unmarshal frame", "error", err)
			continue
		}
		if frame.Type != ws.FrameTypeRequest {
			continue
		}
		s.handleRequest(ctx, frame)
	}
}

func (s *session) handleRequest(ctx context.Context, frame ws.Frame) {
	switch ws.Method(frame.Method) {
	case ws.MethodSpawn:
		var params ws.SpawnParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			s.sendError(ctx, frame.ID, "invalid params")
			return
		}
		factory, ok := s.lookup(params.Binding, params.Set)
		if !ok {
			s.sendError(ctx, frame.ID, fmt.Sprintf("unknown binding %q", params.Binding))
			return
		}
		h, err := backend.SpawnLocal(ctx, actors.Binding{Name: params.Binding, New: factory}, s.log)
		if err != nil {
			s.sendError(ctx, frame.ID, err.Error())
			return
		}
		s.mu.Lock()
		s.handles[h.ID()] = h
		s.mu.Unlock()
		s.log.Debug("remote actor spawned", "actor_id", h.ID(), "actor", params.Binding)
		s.sendOK(ctx, frame.ID, ws.SpawnResult{ActorID: h.ID()})

	case ws.MethodConsume:
		var params ws.ConsumeParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			s.sendError(ctx, frame.ID, "invalid params")
			return
		}
		h, ok := s.handle(params.ActorID)
		if !ok {
			s.sendOK(ctx, frame.ID, ws.ConsumeResult{
				Error:  &ws.ErrorInfo{Kind: "unknown_actor", Message: params.ActorID},
				Broken: true,
			})
			return
		}
		var arg any
		if len(params.Argument) > 0 {
			if err := json.Unmarshal(params.Argument, &arg); err != nil {
				s.sendError(ctx, frame.ID, "invalid argument")
				return
			}
		}
		// Submit in the read loop to keep per-actor order.
		out := h.Submit(ctx, arg)
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.sendOK(ctx, frame.ID, encodeOutcome(<-out))
		}()

	case ws.MethodStop:
		var params ws.StopParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			s.sendError(ctx, frame.ID, "invalid params")
			return
		}
		s.mu.Lock()
		h, ok := s.handles[params.ActorID]
		delete(s.handles, params.ActorID)
		s.mu.Unlock()
		if ok {
			if err := h.Stop(ctx); err != nil {
				s.sendError(ctx, frame.ID, err.Error())
				return
			}
		}
		s.sendOK(ctx, frame.ID, nil)

	default:
		s.sendError(ctx, frame.ID, "unknown method: "+frame.Method)
	}
}

func (s *session) handle(id string) (backend.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

func encodeOutcome(o backend.Outcome) ws.ConsumeResult {
	if o.Err != nil {
		kind := "error"
		switch {
		case errors.Is(o.Err, actors.ErrBroken):
			kind = "broken"
		case errors.Is(o.Err, context.Canceled), errors.Is(o.Err, context.DeadlineExceeded):
			kind = "canceled"
		}
		return ws.ConsumeResult{
			Error:  &ws.ErrorInfo{Kind: kind, Message: o.Err.Error()},
			Broken: kind == "broken",
		}
	}
	data, err := json.Marshal(o.Value)
	if err != nil {
		return ws.ConsumeResult{Error: &ws.ErrorInfo{Kind: "encoding", Message: err.Error()}}
	}
	return ws.ConsumeResult{Value: data}
}

// close stops every actor spawned on this connection.
func (s *session) close() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]backend.Handle)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for id, h := range handles {
		if err := h.Stop(ctx); err != nil {
			s.log.Warn("remote actor stop failed", "actor_id", id, "error", err)
		}
	}
	s.inflight.Wait()
}

func (s *session) sendOK(ctx context.Context, id string, payload any) {
	f, err := ws.NewResponseFrame(id, true, payload, "")
	if err != nil {
		s.sendError(ctx, id, err.Error())
		return
	}
	s.write(ctx, f)
}

func (s *session) sendError(ctx context.Context, id string, errMsg string) {
	f, err := ws.NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	s.write(ctx, f)
}

func (s *session) write(ctx context.Context, f ws.Frame) {
	data, err := ws.MarshalFrame(f)
	if err != nil {
		return
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug("worker write", "error", err)
	}
}
