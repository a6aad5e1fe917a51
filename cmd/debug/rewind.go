package debug

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var goCmd = &cobra.Command{
	Use:   "go <time>",
	Short: "回退到指定时间",
	Long:  `回退到指定时间，目标端需要支持回退执行`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return &session.ParseError{Msg: "usage: go <time>"}
		}
		t, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return &session.ParseError{Input: args[0], Msg: "invalid time"}
		}
		return CurrentSession.sess.Go(CurrentSession.ctx, t)
	},
}

var reverseContinueCmd = &cobra.Command{
	Use:     "reverse-continue",
	Short:   "反向运行到上个断点",
	Aliases: []string{"rc"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.sess.ReverseContinue(CurrentSession.ctx)
	},
}

var stepBackCmd = &cobra.Command{
	Use:     "step-back",
	Short:   "反向执行一条插桩语句",
	Aliases: []string{"sb"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.sess.StepBack(CurrentSession.ctx)
	},
}

func init() {
	debugRootCmd.AddCommand(goCmd)
	debugRootCmd.AddCommand(reverseContinueCmd)
	debugRootCmd.AddCommand(stepBackCmd)
}
