package debug

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupBreakpoints = "1-breaks"
	cmdGroupSource      = "2-source"
	cmdGroupCtrlFlow    = "3-execute"
	cmdGroupInfo        = "4-info"
	cmdGroupOthers      = "5-other"

	cmdGroupDelimiter = "-"

	prefix    = "(hgdb) "
	descShort = "hgdb interactive debugging commands"
)

var debugRootCmd = &cobra.Command{
	Use:           "help [command]",
	Short:         descShort,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var (
	CurrentSession *DebugSession
)

// LineReader reads one command line per Prompt, *liner.State in a terminal.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// DebugSession 调试会话
type DebugSession struct {
	done    chan bool
	prefix  string
	root    *cobra.Command
	reader  LineReader
	last    string
	sources []string

	sess *session.Session
	out  io.Writer
	ctx  context.Context

	defers []func()
}

// NewDebugSession 创建一个debug专用的交互管理器
func NewDebugSession(sess *session.Session, reader LineReader, out io.Writer) *DebugSession {

	fn := func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		// 描述信息
		fmt.Fprintln(w, cmd.Short)
		fmt.Fprintln(w)

		// 使用信息
		fmt.Fprintln(w, cmd.Use)
		fmt.Fprintln(w, cmd.Flags().FlagUsages())

		// 命令分组
		if cmd == debugRootCmd {
			fmt.Fprintln(w, helpMessageByGroups(cmd))
		}
	}
	debugRootCmd.SetHelpFunc(fn)
	debugRootCmd.SetOut(out)
	debugRootCmd.SetErr(out)
	debugRootCmd.InitDefaultHelpCmd()

	CurrentSession = &DebugSession{
		done:   make(chan bool),
		prefix: prefix,
		root:   debugRootCmd,
		reader: reader,
		sess:   sess,
		out:    out,
		ctx:    context.Background(),
	}
	return CurrentSession
}

// WithSources sets the source files offered by tab completion.
func (s *DebugSession) WithSources(files []string) *DebugSession {
	s.sources = files
	return s
}

// Start runs the read-eval-print loop until exit, end of input, program
// termination or a fatal error, which is returned.
func (s *DebugSession) Start(ctx context.Context) error {
	if l, ok := s.reader.(*liner.State); ok {
		l.SetCompleter(s.completer)
		l.SetTabCompletionStyle(liner.TabPrints)
	}

	defer func() {
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
		s.reader.Close()
	}()

	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		txt, err := s.prompt(ctx)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.reader.AppendHistory(txt)
		} else {
			txt = s.last
		}
		if len(txt) == 0 {
			continue
		}

		if err := s.Exec(ctx, txt); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			if session.IsFatal(err) {
				return err
			}
		}
		if s.sess.State() == session.Terminated {
			return nil
		}
	}
}

type promptResult struct {
	line string
	err  error
}

// prompt reads one line, a canceled ctx ends the wait even though the reader
// is still blocked on input.
func (s *DebugSession) prompt(ctx context.Context) (string, error) {
	ch := make(chan promptResult, 1)
	go func() {
		line, err := s.reader.Prompt(s.prefix)
		ch <- promptResult{line, err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Exec runs one command line.
func (s *DebugSession) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	cmd, _, err := s.root.Find(args)
	if err != nil || cmd == s.root {
		return &session.ParseError{Input: line, Msg: "unknown command"}
	}

	s.ctx = ctx
	s.root.SetArgs(args)
	err = s.root.Execute()

	// cobra keeps flag values between executions
	if f := cmd.Flags().Lookup("help"); f != nil && f.Changed {
		f.Value.Set("false")
		f.Changed = false
	}
	return err
}

func (s *DebugSession) AtExit(fn func()) *DebugSession {
	s.defers = append(s.defers, fn)
	return s
}

func (s *DebugSession) Stop() {
	close(s.done)
}

func (s *DebugSession) completer(line string) []string {
	// complete source files after a location command
	if idx := strings.Index(line, " "); idx > 0 {
		name := line[:idx]
		if name != "b" && name != "break" && name != "list" && name != "l" {
			return nil
		}
		arg := strings.TrimLeft(line[idx:], " ")
		files := []string{}
		for _, f := range s.sources {
			if strings.HasPrefix(f, arg) {
				files = append(files, name+" "+f)
			}
		}
		return files
	}

	cmds := []string{}
	for _, c := range debugRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
	}
	return cmds
}

// helpMessageByGroups 按分组列出命令，组名形如"1-breaks"，前缀决定展示顺序，
// 没有分组的命令（如cobra自带的help）归入other组
func helpMessageByGroups(cmd *cobra.Command) string {
	groups := map[string][]*cobra.Command{}
	for _, c := range cmd.Commands() {
		name, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			name = cmdGroupOthers
		}
		groups[name] = append(groups[name], c)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		cmds := groups[name]
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })

		_, title, _ := strings.Cut(name, cmdGroupDelimiter)
		fmt.Fprintf(&buf, "- [%s]\n", title)
		for _, c := range cmds {
			fmt.Fprintf(&buf, "  %-16s:%s\n", c.Name(), c.Short)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// scriptReader reads commands from a non interactive input, one per line.
type scriptReader struct {
	sc *bufio.Scanner
	rc io.Closer
}

// NewScriptReader returns a LineReader over r without line editing or
// history. It is used when input is not a terminal.
func NewScriptReader(r io.Reader) LineReader {
	sr := &scriptReader{sc: bufio.NewScanner(r)}
	if rc, ok := r.(io.Closer); ok {
		sr.rc = rc
	}
	return sr
}

func (r *scriptReader) Prompt(string) (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

func (r *scriptReader) AppendHistory(string) {}

func (r *scriptReader) Close() error {
	if r.rc != nil {
		return r.rc.Close()
	}
	return nil
}
