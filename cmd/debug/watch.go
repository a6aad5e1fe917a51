package debug

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch <expr> [<file>:<line>]",
	Short: "添加观察点，表达式的值变化时停下",
	Long: `添加观察点，表达式的值变化时停下。

表达式在<file>:<line>所在实例的作用域内求值，省略位置时使用当前停止的位置。`,
	Aliases: []string{"w"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return &session.ParseError{Msg: "usage: watch <expr> [<file>:<line>]"}
		}

		var (
			file   string
			lineno uint32
		)
		// the last word is a location if it parses as one
		if len(args) > 1 {
			if f, ln, err := parseFileLineno(args[len(args)-1]); err == nil {
				file, lineno = f, ln
				args = args[:len(args)-1]
			}
		}

		_, err := CurrentSession.sess.Watch(CurrentSession.ctx, strings.Join(args, " "), file, lineno)
		return err
	},
}

func init() {
	debugRootCmd.AddCommand(watchCmd)
}
