// Package client talks to a debug server. Requests are JSON objects sent as
// websocket text frames, each answered by exactly one response carrying the
// same token. Everything else the server sends is an event, delivered in
// arrival order through Events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitzhangjie/hgdb/pkg/api"
)

// eventBufferSize bounds how many events may be queued while the console is
// busy with something else, the reader blocks once it is reached.
const eventBufferSize = 256

// ErrConnectionLost is returned by every request once the connection is gone.
var ErrConnectionLost = errors.New("connection lost")

// RejectionError is returned when the server answers a request with an error.
type RejectionError struct {
	Type   api.RequestType
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s request rejected: %s", e.Type, e.Reason)
}

// Interface represents a client connection to the debug server.
type Interface interface {
	// Connect performs the handshake and returns the server capabilities.
	Connect(ctx context.Context, p api.ConnectPayload) (*api.Capabilities, error)
	// SetBreakpoint adds breakpoint id at filename:line.
	SetBreakpoint(ctx context.Context, id uint32, filename string, line uint32, cond string) error
	// RemoveBreakpoint removes breakpoint id.
	RemoveBreakpoint(ctx context.Context, id uint32) error
	// SetWatchpoint watches expr in the scope of filename:line.
	SetWatchpoint(ctx context.Context, id uint32, expr, filename string, line uint32) error
	// RemoveWatchpoint removes watchpoint id.
	RemoveWatchpoint(ctx context.Context, id uint32) error
	// Continue resumes execution. Completion is reported by an event.
	Continue(ctx context.Context) error
	// StepInto executes until the next instrumented statement.
	StepInto(ctx context.Context) error
	// StepOver executes until the next instrumented statement of the current instance.
	StepOver(ctx context.Context) error
	// ReverseContinue runs backwards to the previous breakpoint hit.
	ReverseContinue(ctx context.Context) error
	// StepBack steps backwards by one statement.
	StepBack(ctx context.Context) error
	// RewindTo moves the logical time to t and returns the time the server reports.
	RewindTo(ctx context.Context, t uint64) (uint64, error)
	// QueryTime returns the current logical time.
	QueryTime(ctx context.Context) (uint64, error)
	// Evaluate evaluates expr in scope.
	Evaluate(ctx context.Context, expr string, scope api.Scope) (int64, error)
	// SetVariable assigns value to name in scope.
	SetVariable(ctx context.Context, name string, value int64, scope api.Scope) error
	// Events returns the event channel, closed when the connection ends.
	Events() <-chan *api.Message
	// Close closes the connection.
	Close() error
}

var _ = Interface(&WebsocketClient{})

// WebsocketClient communicates with the debug server via WebSockets.
// Create a WebsocketClient using Dial.
type WebsocketClient struct {
	addr string
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *api.Message
	err       error

	events    chan *api.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the debug server at addr, e.g. ws://localhost:8888.
func Dial(ctx context.Context, addr string) (*WebsocketClient, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 3 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &WebsocketClient{
		addr:    addr,
		conn:    conn,
		pending: map[string]chan *api.Message{},
		events:  make(chan *api.Message, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

func (c *WebsocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *WebsocketClient) Events() <-chan *api.Message {
	return c.events
}

// receiveLoop is the only reader of the connection.
func (c *WebsocketClient) receiveLoop() {
	defer close(c.events)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if messageType != websocket.TextMessage {
			glog.Warningf("ignore non-text message from %s, type: %d", c.addr, messageType)
			continue
		}
		glog.V(2).Infof("<- %s", data)

		var msg api.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			glog.Errorf("malformed message from %s: %v", c.addr, err)
			continue
		}

		if msg.Type == api.GenericMessage {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.Token]
			delete(c.pending, msg.Token)
			c.pendingMu.Unlock()
			if !ok {
				glog.Warningf("response with unknown token %q", msg.Token)
				continue
			}
			ch <- &msg
			continue
		}

		select {
		case c.events <- &msg:
		case <-c.done:
			return
		}
	}
}

// fail marks the connection lost and releases every pending request.
func (c *WebsocketClient) fail(err error) {
	select {
	case <-c.done:
		err = errors.New("connection closed")
	default:
		glog.Errorf("read from %s: %v", c.addr, err)
	}

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	for token, ch := range c.pending {
		close(ch)
		delete(c.pending, token)
	}
}

// Err returns the error that ended the connection, if any.
func (c *WebsocketClient) Err() error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.err
}

// sendRequest sends a request and waits for its response, decoding a
// successful payload into out when out is not nil.
func (c *WebsocketClient) sendRequest(ctx context.Context, typ api.RequestType, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	req := api.Request{
		Request: true,
		Type:    typ,
		Token:   uuid.NewString(),
		Payload: body,
	}
	data, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", typ, err)
	}

	// buffered, the receive loop never blocks on a caller that gave up
	ch := make(chan *api.Message, 1)
	c.pendingMu.Lock()
	if c.err != nil {
		c.pendingMu.Unlock()
		return c.err
	}
	c.pending[req.Token] = ch
	c.pendingMu.Unlock()

	glog.V(1).Infof("-> %s", data)
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.Token)
		return fmt.Errorf("%w: write %s request: %v", ErrConnectionLost, typ, err)
	}

	var resp *api.Message
	select {
	case <-ctx.Done():
		c.forget(req.Token)
		return ctx.Err()
	case m, ok := <-ch:
		if !ok {
			return c.Err()
		}
		resp = m
	}

	if resp.Status == api.StatusError {
		var reason api.ErrorPayload
		if err := json.Unmarshal(resp.Payload, &reason); err != nil || reason.Reason == "" {
			reason.Reason = "unknown error"
		}
		return &RejectionError{Type: typ, Reason: reason.Reason}
	}
	if out != nil && len(resp.Payload) != 0 {
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("decode %s response: %w", typ, err)
		}
	}
	return nil
}

func (c *WebsocketClient) forget(token string) {
	c.pendingMu.Lock()
	delete(c.pending, token)
	c.pendingMu.Unlock()
}

func (c *WebsocketClient) Connect(ctx context.Context, p api.ConnectPayload) (*api.Capabilities, error) {
	caps := &api.Capabilities{}
	if err := c.sendRequest(ctx, api.ConnectRequest, &p, caps); err != nil {
		return nil, err
	}
	return caps, nil
}

func (c *WebsocketClient) SetBreakpoint(ctx context.Context, id uint32, filename string, line uint32, cond string) error {
	return c.sendRequest(ctx, api.BreakpointRequest, &api.BreakpointPayload{
		ID:        id,
		Filename:  filename,
		LineNum:   line,
		Condition: cond,
		Action:    api.ActionAdd,
	}, nil)
}

func (c *WebsocketClient) RemoveBreakpoint(ctx context.Context, id uint32) error {
	return c.sendRequest(ctx, api.BreakpointRequest, &api.BreakpointPayload{
		ID:     id,
		Action: api.ActionRemove,
	}, nil)
}

func (c *WebsocketClient) SetWatchpoint(ctx context.Context, id uint32, expr, filename string, line uint32) error {
	return c.sendRequest(ctx, api.WatchpointRequest, &api.WatchpointPayload{
		ID:         id,
		Expression: expr,
		Filename:   filename,
		LineNum:    line,
		Action:     api.ActionAdd,
	}, nil)
}

func (c *WebsocketClient) RemoveWatchpoint(ctx context.Context, id uint32) error {
	return c.sendRequest(ctx, api.WatchpointRequest, &api.WatchpointPayload{
		ID:     id,
		Action: api.ActionRemove,
	}, nil)
}

func (c *WebsocketClient) command(ctx context.Context, name api.CommandName) error {
	return c.sendRequest(ctx, api.CommandRequest, &api.CommandPayload{Command: name}, nil)
}

func (c *WebsocketClient) Continue(ctx context.Context) error {
	return c.command(ctx, api.Continue)
}

func (c *WebsocketClient) StepInto(ctx context.Context) error {
	return c.command(ctx, api.StepInto)
}

func (c *WebsocketClient) StepOver(ctx context.Context) error {
	return c.command(ctx, api.StepOver)
}

func (c *WebsocketClient) ReverseContinue(ctx context.Context) error {
	return c.command(ctx, api.ReverseContinue)
}

func (c *WebsocketClient) StepBack(ctx context.Context) error {
	return c.command(ctx, api.StepBack)
}

func (c *WebsocketClient) RewindTo(ctx context.Context, t uint64) (uint64, error) {
	res := api.TimeResult{Time: t}
	err := c.sendRequest(ctx, api.CommandRequest, &api.CommandPayload{Command: api.Jump, Time: t}, &res)
	return res.Time, err
}

func (c *WebsocketClient) QueryTime(ctx context.Context) (uint64, error) {
	var res api.TimeResult
	err := c.sendRequest(ctx, api.DebuggerInfoRequest, &api.DebuggerInfoPayload{Command: api.InfoTime}, &res)
	return res.Time, err
}

func (c *WebsocketClient) Evaluate(ctx context.Context, expr string, scope api.Scope) (int64, error) {
	var res api.EvaluationResult
	err := c.sendRequest(ctx, api.EvaluationRequest, &api.EvaluationPayload{
		Expression: expr,
		Scope:      scope,
	}, &res)
	return res.Result, err
}

func (c *WebsocketClient) SetVariable(ctx context.Context, name string, value int64, scope api.Scope) error {
	return c.sendRequest(ctx, api.SetValueRequest, &api.SetValuePayload{
		VarName: name,
		Value:   value,
		Scope:   scope,
	}, nil)
}
