package debug

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var breakCmd = &cobra.Command{
	Use:   "break <file>:<line> [if <cond>]",
	Short: "在源码中添加断点",
	Long: `在源码中添加断点，源码位置通过<file>:<line>指定。

- 文件名可以是绝对路径，也可以是唯一的路径后缀，如test.py:1
- 可选的if <cond>指定断点条件，条件为真时才会停下`,
	Aliases: []string{"b", "breakpoint"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return &session.ParseError{Msg: "usage: break <file>:<line> [if <cond>]"}
		}

		file, lineno, err := parseFileLineno(args[0])
		if err != nil {
			return err
		}

		var cond string
		if len(args) > 1 {
			if args[1] != "if" || len(args) == 2 {
				return &session.ParseError{Input: strings.Join(args, " "), Msg: "usage: break <file>:<line> [if <cond>]"}
			}
			cond = strings.Join(args[2:], " ")
		}

		_, err = CurrentSession.sess.Break(CurrentSession.ctx, file, lineno, cond)
		return err
	},
}

func init() {
	debugRootCmd.AddCommand(breakCmd)
}
