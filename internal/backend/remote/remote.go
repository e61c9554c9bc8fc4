// Package remote hosts actors on a worker process reached over WebSocket.
// Importing it registers the "remote" backend.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/capq/internal/actors"
	"github.com/dohr-michael/capq/internal/backend"
	"github.com/dohr-michael/capq/internal/gateway/ws"
)

// Name is the backend name used in configuration.
const Name = "remote"

const defaultDialTimeout = 10 * time.Second

// ErrDisconnected is returned for requests cut off by a lost connection.
var ErrDisconnected = errors.New("remote worker disconnected")

func init() {
	backend.Register(Name, New)
}

// RemoteError is an error raised by an actor on the worker.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

// Backend spawns actors on a single worker connection. The connection is
// dialed on the first Spawn.
type Backend struct {
	url         string
	dialTimeout time.Duration
	log         *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan ws.Frame
	live    map[string]*handle
	readErr error
	done    chan struct{} // closed when the read loop exits
	cancel  context.CancelFunc

	seq atomic.Uint64
}

// New builds a remote backend. opts.RemoteURL must point at a worker
// endpoint, e.g. ws://host:7700/api/worker.
func New(opts backend.Options) (backend.Backend, error) {
	if opts.RemoteURL == "" {
		return nil, errors.New("remote_url is required")
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		url:         opts.RemoteURL,
		dialTimeout: timeout,
		log:         log,
		pending:     make(map[string]chan ws.Frame),
		live:        make(map[string]*handle),
	}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		select {
		case <-b.done:
			return fmt.Errorf("%w: %v", ErrDisconnected, b.readErr)
		default:
			return nil
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.url, err)
	}
	conn.SetReadLimit(-1)

	readCtx, readCancel := context.WithCancel(context.Background())
	b.conn = conn
	b.cancel = readCancel
	b.done = make(chan struct{})
	go b.readLoop(readCtx, conn)
	b.log.Info("remote worker connected", "url", b.url)
	return nil
}

func (b *Backend) readLoop(ctx context.Context, conn *websocket.Conn) {
	var err error
	defer func() {
		b.mu.Lock()
		b.readErr = err
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		close(b.done)
		b.mu.Unlock()
	}()

	for {
		var data []byte
		_, data, err = conn.Read(ctx)
		if err != nil {
			b.log.Debug("remote read closed", "error", err)
			return
		}
		frame, uerr := ws.UnmarshalFrame(data)
		if uerr != nil {
			b.log.Error("remote unmarshal frame", "error", uerr)
			continue
		}
		if frame.Type != ws.FrameTypeResponse {
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[frame.ID]
		delete(b.pending, frame.ID)
		b.mu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

// request is an in-flight call awaiting its response frame.
type request struct {
	id string
	ch <-chan ws.Frame
}

// send writes a request. Its channel is closed without a value if the
// connection drops.
func (b *Backend) send(ctx context.Context, method ws.Method, params any) (request, error) {
	id := strconv.FormatUint(b.seq.Add(1), 10)
	frame, err := ws.NewRequestFrame(id, method, params)
	if err != nil {
		return request{}, fmt.Errorf("encode %s: %w", method, err)
	}
	data, err := ws.MarshalFrame(frame)
	if err != nil {
		return request{}, fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan ws.Frame, 1)
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return request{}, fmt.Errorf("%w: %v", ErrDisconnected, b.readErr)
	default:
	}
	b.pending[id] = ch
	conn := b.conn
	b.mu.Unlock()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return request{}, fmt.Errorf("write %s: %w", method, err)
	}
	return request{id: id, ch: ch}, nil
}

// await waits for req's response and unwraps its payload into out. A request
// abandoned through ctx is dropped from the pending set.
func (b *Backend) await(ctx context.Context, req request, out any) error {
	select {
	case frame, ok := <-req.ch:
		if !ok {
			return ErrDisconnected
		}
		if frame.OK == nil || !*frame.OK {
			return errors.New(frame.Error)
		}
		if out == nil || len(frame.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(frame.Payload, out)
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, req.id)
		b.mu.Unlock()
		return ctx.Err()
	}
}

// pendingCount returns the number of requests awaiting a response.
func (b *Backend) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Backend) call(ctx context.Context, method ws.Method, params, out any) error {
	req, err := b.send(ctx, method, params)
	if err != nil {
		return err
	}
	return b.await(ctx, req, out)
}

func (b *Backend) Spawn(ctx context.Context, binding actors.Binding) (backend.Handle, error) {
	if err := b.connect(ctx); err != nil {
		return nil, err
	}
	var res ws.SpawnResult
	err := b.call(ctx, ws.MethodSpawn, ws.SpawnParams{Binding: binding.Name, Set: binding.Set.Key()}, &res)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", binding.Name, err)
	}

	h := &handle{id: res.ActorID, b: b}
	b.mu.Lock()
	b.live[h.id] = h
	b.mu.Unlock()
	return h, nil
}

// Join stops every live remote actor and closes the connection.
func (b *Backend) Join(ctx context.Context) error {
	b.mu.Lock()
	pending := make([]*handle, 0, len(b.live))
	for _, h := range b.live {
		pending = append(pending, h)
	}
	conn, cancel, done := b.conn, b.cancel, b.done
	b.mu.Unlock()

	var errs []error
	for _, h := range pending {
		if err := h.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", h.id, err))
		}
	}

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "scheduler joined")
		cancel()
		<-done
	}
	return errors.Join(errs...)
}

type handle struct {
	id string
	b  *Backend

	mu      sync.Mutex
	stopped bool
}

func (h *handle) ID() string { return h.id }

// Submit writes the request before returning, so submissions to one handle
// reach the worker in order.
func (h *handle) Submit(ctx context.Context, argument any) <-chan backend.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return backend.Settled(backend.Outcome{Err: fmt.Errorf("%s: %w", h.id, backend.ErrStopped)})
	}

	arg, err := json.Marshal(argument)
	if err != nil {
		return backend.Settled(backend.Outcome{Err: fmt.Errorf("encode argument: %w", err)})
	}
	req, err := h.b.send(ctx, ws.MethodConsume, ws.ConsumeParams{ActorID: h.id, Argument: arg})
	if err != nil {
		return backend.Settled(backend.Outcome{Err: err})
	}

	out := make(chan backend.Outcome, 1)
	go func() {
		var res ws.ConsumeResult
		if err := h.b.await(ctx, req, &res); err != nil {
			out <- backend.Outcome{Err: err}
			return
		}
		out <- decodeResult(res)
	}()
	return out
}

func decodeResult(res ws.ConsumeResult) backend.Outcome {
	if res.Error != nil {
		rerr := &RemoteError{Kind: res.Error.Kind, Message: res.Error.Message}
		if res.Broken {
			return backend.Outcome{Err: fmt.Errorf("%w: %w", rerr, actors.ErrBroken)}
		}
		return backend.Outcome{Err: rerr}
	}
	var v any
	if len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, &v); err != nil {
			return backend.Outcome{Err: fmt.Errorf("decode value: %w", err)}
		}
	}
	return backend.Outcome{Value: v}
}

func (h *handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	h.b.mu.Lock()
	delete(h.b.live, h.id)
	h.b.mu.Unlock()

	err := h.b.call(ctx, ws.MethodStop, ws.StopParams{ActorID: h.id}, nil)
	if errors.Is(err, ErrDisconnected) {
		// The worker stops everything on disconnect.
		return nil
	}
	return err
}
