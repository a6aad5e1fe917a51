package debugtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/hitzhangjie/hgdb/pkg/api"
)

// Option configures a Server.
type Option func(*Server)

// WithRewind makes the server advertise and honor reverse execution.
func WithRewind() Option {
	return func(s *Server) {
		s.rewind = true
	}
}

// Server is a websocket debug server running a Program.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	rewind   bool

	mu       sync.Mutex
	m        *machine
	conns    []*websocket.Conn
	requests []api.Request
}

// NewServer starts a server executing prog. Call Close when done.
func NewServer(prog Program, opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	s.m = newMachine(&prog, s.rewind)
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the websocket address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Addr returns host:port of the server.
func (s *Server) Addr() string {
	return s.srv.Listener.Addr().String()
}

// Requests returns every request received so far.
func (s *Server) Requests() []api.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Disconnect drops every open connection without a close handshake.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close drops all connections and shuts the server down.
func (s *Server) Close() {
	s.Disconnect()
	s.srv.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("upgrade: %v", err)
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req api.Request
		if err := json.Unmarshal(data, &req); err != nil {
			glog.Errorf("malformed request: %v", err)
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		out := s.handle(&req)
		s.mu.Unlock()

		for _, msg := range out {
			if err := conn.WriteJSON(&msg); err != nil {
				return
			}
		}
	}
}

// handle returns the response to req followed by the events it caused.
func (s *Server) handle(req *api.Request) []api.Message {
	result, evt, err := s.dispatch(req)
	if err != nil {
		resp := event(api.GenericMessage, &api.ErrorPayload{Reason: err.Error()})
		resp.Status = api.StatusError
		resp.Token = req.Token
		return []api.Message{resp}
	}

	resp := event(api.GenericMessage, result)
	resp.Status = api.StatusSuccess
	resp.Token = req.Token
	if evt == nil {
		return []api.Message{resp}
	}
	return []api.Message{resp, *evt}
}

var errTerminated = errors.New("program terminated")

func (s *Server) dispatch(req *api.Request) (result interface{}, evt *api.Message, err error) {
	m := s.m
	switch req.Type {
	case api.ConnectRequest:
		var p api.ConnectPayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		glog.V(1).Infof("console connected, db: %q", p.DBFilename)
		return &api.Capabilities{Rewind: s.rewind}, nil, nil

	case api.BreakpointRequest:
		var p api.BreakpointPayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		if p.Action == api.ActionRemove {
			return nil, nil, m.removeBreakpoint(p.ID)
		}
		return nil, nil, m.addBreakpoint(&p)

	case api.WatchpointRequest:
		var p api.WatchpointPayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		if p.Action == api.ActionRemove {
			return nil, nil, m.removeWatchpoint(p.ID)
		}
		return nil, nil, m.addWatchpoint(&p)

	case api.CommandRequest:
		var p api.CommandPayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		return s.command(&p)

	case api.EvaluationRequest:
		var p api.EvaluationPayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		v, err := m.eval(p.Expression, p.Scope)
		if err != nil {
			return nil, nil, err
		}
		return &api.EvaluationResult{Result: v}, nil, nil

	case api.SetValueRequest:
		var p api.SetValuePayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		return nil, nil, m.setValue(&p)

	case api.DebuggerInfoRequest:
		var p api.DebuggerInfoPayload
		if err := decode(req, &p); err != nil {
			return nil, nil, err
		}
		if p.Command != api.InfoTime {
			return nil, nil, fmt.Errorf("unknown info command %q", p.Command)
		}
		return &api.TimeResult{Time: m.time}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown request type %q", req.Type)
}

func (s *Server) command(p *api.CommandPayload) (interface{}, *api.Message, error) {
	m := s.m
	var (
		evt api.Message
		err error
	)
	switch p.Command {
	case api.Continue, api.StepInto, api.StepOver:
		if m.terminated {
			return nil, nil, errTerminated
		}
		evt = m.run(p.Command)
	case api.ReverseContinue:
		evt, err = m.reverseContinue()
	case api.StepBack:
		evt, err = m.stepBack()
	case api.Jump:
		evt, err = m.jump(p.Time)
		if err == nil {
			return &api.TimeResult{Time: m.time}, &evt, nil
		}
	default:
		err = fmt.Errorf("unknown command %q", p.Command)
	}
	if err != nil {
		return nil, nil, err
	}
	return nil, &evt, nil
}

func decode(req *api.Request, v interface{}) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("%s request without payload", req.Type)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("malformed %s payload: %v", req.Type, err)
	}
	return nil
}

func event(typ api.MessageType, payload interface{}) api.Message {
	msg := api.Message{Type: typ}
	if payload == nil {
		return msg
	}
	data, err := json.Marshal(payload)
	if err != nil {
		glog.Errorf("marshal %s payload: %v", typ, err)
		return msg
	}
	msg.Payload = data
	return msg
}
