package debug

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var printCmd = &cobra.Command{
	Use:     "print <expr>",
	Short:   "计算表达式并打印结果",
	Aliases: []string{"p"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return &session.ParseError{Msg: "usage: print <expr>"}
		}
		_, err := CurrentSession.sess.Print(CurrentSession.ctx, strings.Join(args, " "))
		return err
	},
}

func init() {
	debugRootCmd.AddCommand(printCmd)
}
