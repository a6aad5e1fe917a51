package debug

import (
	"github.com/spf13/cobra"
)

var stepCmd = &cobra.Command{
	Use:     "step",
	Short:   "执行到下一条插桩语句",
	Aliases: []string{"s"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupCtrlFlow,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return CurrentSession.sess.Step(CurrentSession.ctx)
	},
}

func init() {
	debugRootCmd.AddCommand(stepCmd)
}
