// Package session is the debugging session engine. A Session is the only
// owner of the console's mutable state: active breakpoints and watchpoints,
// the execution state of the target, the current time and the variable
// bindings of the last stop. It turns console commands into protocol
// requests and protocol events into console output.
//
// A Session is not safe for concurrent use, the console runs one command at
// a time.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/golang/glog"

	"github.com/hitzhangjie/hgdb/pkg/api"
	"github.com/hitzhangjie/hgdb/pkg/client"
	"github.com/hitzhangjie/hgdb/pkg/expr"
	"github.com/hitzhangjie/hgdb/pkg/pathmap"
	"github.com/hitzhangjie/hgdb/pkg/symbol"
)

// Config configures a Session.
type Config struct {
	Client client.Interface
	// Table resolves locations and bindings, nil leaves both to the target.
	Table  *symbol.Table
	Mapper *pathmap.Mapper
	Out    io.Writer
	// DBFilename is sent in the handshake, empty means the target does not
	// load the table itself.
	DBFilename string
	// WaitTimeout bounds the wait for a stop event, 0 waits forever.
	WaitTimeout time.Duration
}

// Session 调试会话状态
type Session struct {
	client      client.Interface
	table       *symbol.Table
	mapper      *pathmap.Mapper
	out         io.Writer
	dbFilename  string
	waitTimeout time.Duration

	caps     api.Capabilities
	state    ExecutionState
	loc      Location
	time     uint64
	frames   []api.Frame
	bindings map[string]int64

	ids     idSequence
	watches Watches    // 按编号排序
	hits    []WatchHit // 观察点触发记录，最近的在最后
}

// New creates a session in state NotStarted. Call Start before anything else.
func New(cfg Config) *Session {
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	return &Session{
		client:      cfg.Client,
		table:       cfg.Table,
		mapper:      cfg.Mapper,
		out:         out,
		dbFilename:  cfg.DBFilename,
		waitTimeout: cfg.WaitTimeout,
		state:       NotStarted,
		ids:         newIDSequence(),
	}
}

// Start performs the handshake with the target.
func (s *Session) Start(ctx context.Context) error {
	caps, err := s.client.Connect(ctx, api.ConnectPayload{DBFilename: s.dbFilename})
	if err != nil {
		return s.check(fmt.Errorf("connect: %w", err))
	}
	s.caps = *caps
	glog.V(1).Infof("connected, rewind supported: %v", caps.Rewind)
	return nil
}

// Close closes the connection to the target.
func (s *Session) Close() error {
	return s.client.Close()
}

func (s *Session) State() ExecutionState {
	return s.state
}

// Location returns the stop location, valid while Stopped.
func (s *Session) Location() (Location, bool) {
	return s.loc, s.state == Stopped
}

func (s *Session) Time() uint64 {
	return s.time
}

func (s *Session) Capabilities() api.Capabilities {
	return s.caps
}

// Bindings returns a copy of the variable snapshot of the last stop.
func (s *Session) Bindings() map[string]int64 {
	out := make(map[string]int64, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out
}

// Watches returns the active breakpoints and watchpoints ordered by id.
func (s *Session) Watches() Watches {
	out := make(Watches, len(s.watches))
	copy(out, s.watches)
	return out
}

// check marks the session terminated when err means the connection is gone.
func (s *Session) check(err error) error {
	if err != nil && errors.Is(err, ErrConnectionLost) {
		s.terminate()
	}
	return err
}

func (s *Session) terminate() {
	s.state = Terminated
	s.frames = nil
	s.bindings = nil
}

func (s *Session) expect(cmd string, allowed ...ExecutionState) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%s: %w: program is %s", cmd, ErrInvalidState, s.state)
}

// display returns the path shown for a location the user typed as file.
func (s *Session) display(file, remote string) string {
	if !filepath.IsAbs(file) {
		return file
	}
	return s.mapper.ToDisplay(remote)
}

// resolve maps a user supplied file:line to the target's path. With a symbol
// table the location must be instrumented.
func (s *Session) resolve(file string, line uint32) (string, []uint64, error) {
	remote := s.mapper.ToRemote(file)
	if s.table == nil {
		return remote, nil, nil
	}

	found, err := s.table.ResolveLocation(remote, line)
	if err != nil {
		return "", nil, &SymbolLookupError{Location: fmt.Sprintf("%s:%d", file, line), Err: err}
	}
	defs := make([]uint64, 0, len(found))
	for _, d := range found {
		defs = append(defs, d.ID)
	}
	return found[0].Filename, defs, nil
}

func (s *Session) add(w *Watch) {
	s.watches = append(s.watches, w)
	sort.Sort(s.watches)
}

// Break sets a breakpoint at file:line, cond may be empty.
func (s *Session) Break(ctx context.Context, file string, line uint32, cond string) (*Watch, error) {
	if err := s.expect("break", NotStarted, Stopped); err != nil {
		return nil, err
	}
	if cond != "" {
		if err := expr.Check(cond); err != nil {
			return nil, &EvaluationError{Expr: cond, Err: err}
		}
	}
	remote, defs, err := s.resolve(file, line)
	if err != nil {
		return nil, err
	}

	w := &Watch{
		Kind:     KindBreakpoint,
		ID:       s.ids.next(),
		Filename: remote,
		Display:  s.display(file, remote),
		LineNum:  line,
		Cond:     cond,
		Defs:     defs,
	}
	if err := s.client.SetBreakpoint(ctx, w.ID, remote, line, cond); err != nil {
		return nil, s.check(err)
	}
	s.add(w)
	fmt.Fprintf(s.out, "Breakpoint %d at %s\n", w.ID, w.Location())
	return w, nil
}

// Watch sets a watchpoint on src. An empty file watches in the scope of the
// current stop location.
func (s *Session) Watch(ctx context.Context, src, file string, line uint32) (*Watch, error) {
	if err := s.expect("watch", NotStarted, Stopped); err != nil {
		return nil, err
	}
	if err := expr.Check(src); err != nil {
		return nil, &EvaluationError{Expr: src, Err: err}
	}

	w := &Watch{Kind: KindWatchpoint, Expr: src}
	if file == "" {
		if s.state != Stopped {
			return nil, fmt.Errorf("watch: %w: no location given and the program is not stopped", ErrInvalidState)
		}
		w.Filename, w.Display, w.LineNum = s.loc.Filename, s.loc.Display, s.loc.LineNum
	} else {
		remote, defs, err := s.resolve(file, line)
		if err != nil {
			return nil, err
		}
		w.Filename, w.Display, w.LineNum, w.Defs = remote, s.display(file, remote), line, defs
	}

	w.ID = s.ids.next()
	if err := s.client.SetWatchpoint(ctx, w.ID, src, w.Filename, w.LineNum); err != nil {
		return nil, s.check(err)
	}
	s.add(w)
	fmt.Fprintf(s.out, "Watchpoint %d at %s\n", w.ID, w.Location())
	return w, nil
}

// Delete removes the breakpoint or watchpoint with console id. The id is
// not handed out again.
func (s *Session) Delete(ctx context.Context, id uint32) error {
	if err := s.expect("delete", NotStarted, Stopped); err != nil {
		return err
	}
	i, w := s.watches.find(id)
	if w == nil {
		return fmt.Errorf("%d: %w", id, ErrWatchNotExisted)
	}

	var err error
	if w.Kind == KindWatchpoint {
		err = s.client.RemoveWatchpoint(ctx, id)
	} else {
		err = s.client.RemoveBreakpoint(ctx, id)
	}
	if err != nil {
		return s.check(err)
	}
	s.watches = append(s.watches[:i], s.watches[i+1:]...)
	fmt.Fprintf(s.out, "Deleted %s %d\n", w.Kind, id)
	return nil
}

// Continue runs until the next breakpoint, watchpoint or termination.
func (s *Session) Continue(ctx context.Context) error {
	return s.resume(ctx, "continue", s.client.Continue, NotStarted, Stopped)
}

// Step runs to the next instrumented statement.
func (s *Session) Step(ctx context.Context) error {
	return s.resume(ctx, "step", s.client.StepInto, Stopped)
}

// StepOver runs to the next instrumented statement of the current instance.
func (s *Session) StepOver(ctx context.Context) error {
	return s.resume(ctx, "next", s.client.StepOver, Stopped)
}

// ReverseContinue runs backwards to the previous breakpoint hit.
func (s *Session) ReverseContinue(ctx context.Context) error {
	if !s.caps.Rewind {
		return ErrRewindUnsupported
	}
	return s.resume(ctx, "reverse-continue", s.client.ReverseContinue, Stopped)
}

// StepBack runs backwards by one statement.
func (s *Session) StepBack(ctx context.Context) error {
	if !s.caps.Rewind {
		return ErrRewindUnsupported
	}
	return s.resume(ctx, "step-back", s.client.StepBack, Stopped)
}

// Go rewinds the target to time t. The time reported by the target becomes
// the current time.
func (s *Session) Go(ctx context.Context, t uint64) error {
	if err := s.expect("go", Stopped); err != nil {
		return err
	}
	if !s.caps.Rewind {
		return ErrRewindUnsupported
	}

	reported, err := s.client.RewindTo(ctx, t)
	if err != nil {
		return s.check(err)
	}
	s.state = Running
	if err := s.waitStop(ctx, s.client.Continue); err != nil {
		return err
	}
	if reported != 0 {
		s.time = reported
	}
	return nil
}

func (s *Session) resume(ctx context.Context, cmd string, send func(context.Context) error, allowed ...ExecutionState) error {
	if err := s.expect(cmd, allowed...); err != nil {
		return err
	}
	if err := send(ctx); err != nil {
		return s.check(err)
	}
	s.state = Running
	return s.waitStop(ctx, send)
}

// waitStop blocks until an event moves the session out of Running. resend
// resumes the target after a dropped event.
func (s *Session) waitStop(ctx context.Context, resend func(context.Context) error) error {
	if s.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.waitTimeout)
		defer cancel()
	}

	for s.state == Running {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for stop event: %w", ctx.Err())
		case msg, ok := <-s.client.Events():
			if !ok {
				s.terminate()
				return fmt.Errorf("wait for stop event: %w", ErrConnectionLost)
			}
			if err := s.handleEvent(ctx, msg, resend); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) handleEvent(ctx context.Context, msg *api.Message, resend func(context.Context) error) error {
	switch msg.Type {
	case api.TerminateEvent:
		var p api.TerminatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			glog.Warningf("malformed terminate event: %v", err)
		}
		s.time = p.Time
		s.terminate()
		fmt.Fprintf(s.out, "Program terminated at time %d\n", p.Time)
		return nil

	case api.BreakpointEvent, api.WatchpointEvent:
		var p api.StopPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			glog.Errorf("malformed %s event: %v", msg.Type, err)
			return nil
		}
		return s.stop(ctx, msg.Type, &p, resend)
	}

	glog.Warningf("ignore unknown event %q", msg.Type)
	return nil
}

// stop applies a stop event. Events naming a console id that is no longer
// active are dropped and the pending run command is sent again.
func (s *Session) stop(ctx context.Context, typ api.MessageType, p *api.StopPayload, resend func(context.Context) error) error {
	var w *Watch
	if p.ID != 0 {
		kind := KindBreakpoint
		if typ == api.WatchpointEvent {
			kind = KindWatchpoint
		}
		_, w = s.watches.find(p.ID)
		if w == nil || w.Kind != kind {
			glog.V(1).Infof("drop %s event for inactive id %d", typ, p.ID)
			return s.check(resend(ctx))
		}
	}

	loc := Location{
		Filename: p.Filename,
		Display:  s.mapper.ToDisplay(p.Filename),
		LineNum:  p.LineNum,
	}
	if w != nil && w.Kind == KindBreakpoint && w.Filename == p.Filename && w.LineNum == p.LineNum {
		loc.Display = w.Display
	}

	s.state = Stopped
	s.loc = loc
	s.time = p.Time
	s.frames = p.Instances
	s.refreshBindings()

	switch {
	case w == nil:
		fmt.Fprintf(s.out, "Stopped at %s (time %d)\n", loc, p.Time)
	case w.Kind == KindBreakpoint:
		fmt.Fprintf(s.out, "Breakpoint %d, %s (time %d)\n", w.ID, loc, p.Time)
	default:
		s.hits = append(s.hits, WatchHit{ID: w.ID, Loc: loc, Expr: w.Expr, Value: p.Value, Time: p.Time})
		fmt.Fprintf(s.out, "Watchpoint %d: %s = %d at %s (time %d)\n", w.ID, w.Expr, p.Value, loc, p.Time)
	}
	return nil
}

// refreshBindings rebuilds the snapshot from the stop frames. Locals of the
// first frame are bound by plain name, every generator variable by
// instance.name. With a symbol table, plain names are limited to the
// bindings the table declares for the location.
func (s *Session) refreshBindings() {
	s.bindings = map[string]int64{}
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		for name, v := range f.Generators {
			s.bindings[f.InstanceName+"."+name] = v
		}
	}
	if len(s.frames) == 0 {
		return
	}

	f := s.frames[0]
	var allowed map[string]bool
	if s.table != nil {
		if names, err := s.table.Bindings(f.BreakpointID); err == nil {
			allowed = map[string]bool{}
			for _, n := range names {
				allowed[n] = true
			}
		}
	}
	for name, v := range f.Locals {
		if allowed == nil || allowed[name] {
			s.bindings[name] = v
		}
	}
}

// scope returns the evaluation scope of the current stop, or the global
// scope when not stopped.
func (s *Session) scope() api.Scope {
	if s.state != Stopped || len(s.frames) == 0 {
		return api.Scope{}
	}
	f := s.frames[0]
	return api.Scope{InstanceID: f.InstanceID, BreakpointID: f.BreakpointID, IsContext: true}
}

// Print evaluates src and prints the result. Expressions that only use
// names of the current snapshot are evaluated locally, anything else by the
// target. Before the program starts only instance qualified names resolve.
func (s *Session) Print(ctx context.Context, src string) (int64, error) {
	if err := s.expect("print", NotStarted, Stopped); err != nil {
		return 0, err
	}
	names, err := expr.Names(src)
	if err != nil {
		return 0, &EvaluationError{Expr: src, Err: err}
	}

	v, err := s.evaluate(ctx, src, names)
	if err != nil {
		return 0, err
	}
	fmt.Fprintf(s.out, "%d\n", v)
	return v, nil
}

func (s *Session) evaluate(ctx context.Context, src string, names []string) (int64, error) {
	local := s.state == Stopped
	for _, n := range names {
		if _, ok := s.bindings[n]; !ok {
			local = false
			break
		}
	}
	if local {
		v, err := expr.Eval(src, s.bindings)
		if err != nil {
			return 0, &EvaluationError{Expr: src, Err: err}
		}
		return v, nil
	}

	v, err := s.client.Evaluate(ctx, src, s.scope())
	if err != nil {
		var rej *ProtocolRejection
		if errors.As(err, &rej) {
			return 0, &EvaluationError{Expr: src, Err: errors.New(rej.Reason)}
		}
		return 0, s.check(err)
	}
	return v, nil
}

// Set assigns value to the variable name in the scope of the current stop.
func (s *Session) Set(ctx context.Context, name string, value int64) error {
	if err := s.expect("set", Stopped); err != nil {
		return err
	}
	if err := s.client.SetVariable(ctx, name, value, s.scope()); err != nil {
		return s.check(err)
	}

	s.bindings[name] = value
	if len(s.frames) == 0 {
		return nil
	}
	// keep the plain and the qualified spelling of a local in sync
	var other string
	prefix := s.frames[0].InstanceName + "."
	if strings.HasPrefix(name, prefix) {
		other = strings.TrimPrefix(name, prefix)
	} else if !strings.Contains(name, ".") {
		other = prefix + name
	}
	if _, ok := s.bindings[other]; ok {
		s.bindings[other] = value
	}
	return nil
}

// InfoTime asks the target for its current time and prints it.
func (s *Session) InfoTime(ctx context.Context) (uint64, error) {
	if s.state != Terminated {
		t, err := s.client.QueryTime(ctx)
		if err != nil {
			return 0, s.check(err)
		}
		s.time = t
	}
	fmt.Fprintf(s.out, "%d\n", s.time)
	return s.time, nil
}

// InfoWatchpoints prints the hits of active watchpoints, most recent last.
func (s *Session) InfoWatchpoints() []WatchHit {
	var hits []WatchHit
	for _, h := range s.hits {
		if _, w := s.watches.find(h.ID); w != nil {
			hits = append(hits, h)
		}
	}
	if len(hits) == 0 {
		fmt.Fprintln(s.out, "No watchpoint hits.")
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(s.out, "%d\t%s\t%s\n", h.ID, h.Loc, h.Expr)
	}
	return hits
}

// InfoBreakpoints prints the active breakpoints and watchpoints.
func (s *Session) InfoBreakpoints() {
	if len(s.watches) == 0 {
		fmt.Fprintln(s.out, "No breakpoints or watchpoints.")
		return
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Num\tType\tLocation\tWhat")
	for _, w := range s.watches {
		what := w.Expr
		if w.Kind == KindBreakpoint && w.Cond != "" {
			what = "if " + w.Cond
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", w.ID, w.Kind, w.Location(), what)
	}
	tw.Flush()
}
