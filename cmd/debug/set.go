package debug

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hitzhangjie/hgdb/pkg/session"
)

var setCmd = &cobra.Command{
	Use:   "set <name> = <value>",
	Short: "设置变量值",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, value, err := parseAssignment(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return CurrentSession.sess.Set(CurrentSession.ctx, name, value)
	},
}

func init() {
	debugRootCmd.AddCommand(setCmd)
}

// parseAssignment accepts both "a = 1" and "a=1".
func parseAssignment(s string) (string, int64, error) {
	idx := strings.Index(s, "=")
	if idx < 0 {
		return "", 0, &session.ParseError{Input: s, Msg: "usage: set <name> = <value>"}
	}

	name := strings.TrimSpace(s[:idx])
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", 0, &session.ParseError{Input: s, Msg: "invalid variable name"}
	}
	valueStr := strings.TrimSpace(s[idx+1:])
	value, err := strconv.ParseInt(valueStr, 0, 64)
	if err != nil {
		return "", 0, &session.ParseError{Input: valueStr, Msg: "invalid value"}
	}
	return name, value, nil
}
