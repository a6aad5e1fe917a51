package debug

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var exitCmd = &cobra.Command{
	Use:     "exit",
	Short:   "结束调试会话",
	Aliases: []string{"quit", "q"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupOthers,
	},
	Run: func(cmd *cobra.Command, args []string) {
		CurrentSession.Stop()
	},
}

func init() {
	debugRootCmd.AddCommand(exitCmd)
}

// Cleanup 清理调试会话，关闭和目标端的连接
func Cleanup() {
	if CurrentSession == nil {
		return
	}
	if err := CurrentSession.sess.Close(); err != nil {
		glog.Warningf("close connection: %v", err)
	}
}
