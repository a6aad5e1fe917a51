package debug

import (
	"github.com/spf13/cobra"
)

var nextCmd = &cobra.Command{
	Use:     "next",
	Short:   "执行到当前实例的下一条插桩语句",
	Aliases: []string{"n"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.sess.StepOver(CurrentSession.ctx)
	},
}

func init() {
	debugRootCmd.AddCommand(nextCmd)
}
