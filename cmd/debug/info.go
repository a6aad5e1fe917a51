package debug

import (
	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var infoCmd = &cobra.Command{
	Use:   "info <time|watchpoint|breakpoints>",
	Short: "查看调试会话信息",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return &session.ParseError{Msg: "usage: info <time|watchpoint|breakpoints>"}
		}
		return &session.ParseError{Input: args[0], Msg: "unknown info command"}
	},
}

var infoTimeCmd = &cobra.Command{
	Use:   "time",
	Short: "查看当前时间",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := CurrentSession.sess.InfoTime(CurrentSession.ctx)
		return err
	},
}

var infoWatchCmd = &cobra.Command{
	Use:     "watchpoint",
	Short:   "列出观察点的触发记录",
	Aliases: []string{"watchpoints", "watch", "w"},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.sess.InfoWatchpoints()
	},
}

var infoBreakCmd = &cobra.Command{
	Use:     "breakpoints",
	Short:   "列出所有断点和观察点",
	Aliases: []string{"breakpoint", "break", "b"},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.sess.InfoBreakpoints()
	},
}

func init() {
	infoCmd.AddCommand(infoTimeCmd)
	infoCmd.AddCommand(infoWatchCmd)
	infoCmd.AddCommand(infoBreakCmd)
	debugRootCmd.AddCommand(infoCmd)
}
