package debug

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearallCmd = &cobra.Command{
	Use:   "clearall",
	Short: "删除所有的断点和观察点",
	Long:  `删除所有的断点和观察点`,
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := CurrentSession.sess
		for _, w := range sess.Watches() {
			if err := sess.Delete(CurrentSession.ctx, w.ID); err != nil {
				return fmt.Errorf("delete %s %d: %w", w.Kind, w.ID, err)
			}
		}
		return nil
	},
}

func init() {
	debugRootCmd.AddCommand(clearallCmd)
}
