package debug

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var clearCmd = &cobra.Command{
	Use:     "delete <id>",
	Short:   "删除指定编号的断点或观察点",
	Long:    `删除指定编号的断点或观察点，编号不会被再次分配`,
	Aliases: []string{"d", "clear"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupBreakpoints,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return &session.ParseError{Msg: "usage: delete <id>"}
		}
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return &session.ParseError{Input: args[0], Msg: "invalid breakpoint id"}
		}
		return CurrentSession.sess.Delete(CurrentSession.ctx, uint32(id))
	},
}

func init() {
	debugRootCmd.AddCommand(clearCmd)
}
