package debug

import (
	"github.com/spf13/cobra"
)

var breaksCmd = &cobra.Command{
	Use:     "breaks",
	Short:   "列出所有断点和观察点",
	Long:    "列出所有断点和观察点，同info breakpoints",
	Aliases: []string{"bs", "breakpoints"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.sess.InfoBreakpoints()
	},
}

func init() {
	debugRootCmd.AddCommand(breaksCmd)
}
