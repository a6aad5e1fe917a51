/*
Copyright © 2020 hit.zhangjie@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/mitchellh/go-homedir"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitzhangjie/hgdb/cmd/debug"
	"github.com/hitzhangjie/hgdb/pkg/client"
	"github.com/hitzhangjie/hgdb/pkg/pathmap"
	"github.com/hitzhangjie/hgdb/pkg/session"
	"github.com/hitzhangjie/hgdb/pkg/symbol"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "连接调试服务并开始调试会话",
	Long: `连接调试服务并开始调试会话，例如：

  hgdb connect -i debug.db -p 8888
  hgdb connect -i debug.db --map /tmp/build:/home/user/src`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// load symbol table
	var (
		table  *symbol.Table
		dbFile string
	)
	if db := viper.GetString("db"); db != "" {
		t, err := symbol.Open(db)
		if err != nil {
			return err
		}
		table = t

		if !viper.GetBool("no-db-connection") {
			abs, err := filepath.Abs(db)
			if err != nil {
				return err
			}
			dbFile = abs
		}
	}

	mapper, err := pathmap.ParseRules(viper.GetStringSlice("map"))
	if err != nil {
		return err
	}
	for from, to := range mapper.Rules() {
		glog.V(1).Infof("path mapping: %s => %s", from, to)
	}

	// connect debug server
	addr := fmt.Sprintf("ws://%s:%d", viper.GetString("host"), viper.GetInt("port"))
	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		Client:      c,
		Table:       table,
		Mapper:      mapper,
		Out:         os.Stdout,
		DBFilename:  dbFile,
		WaitTimeout: viper.GetDuration("wait-timeout"),
	})
	if err := sess.Start(ctx); err != nil {
		c.Close()
		return err
	}

	// start debugger session
	var (
		reader debug.LineReader
		saveFn = func() {}
	)
	if viper.GetBool("batch") {
		reader = debug.NewScriptReader(os.Stdin)
	} else {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		history := historyFile()
		if f, err := os.Open(history); err == nil {
			l.ReadHistory(f)
			f.Close()
		}
		saveFn = func() {
			f, err := os.Create(history)
			if err != nil {
				glog.Warningf("save history: %v", err)
				return
			}
			defer f.Close()
			l.WriteHistory(f)
		}
		reader = l
	}

	ds := debug.NewDebugSession(sess, reader, os.Stdout).AtExit(debug.Cleanup).AtExit(saveFn)
	if table != nil {
		ds.WithSources(table.Filenames())
	}
	return ds.Start(ctx)
}

func historyFile() string {
	history, err := homedir.Expand(viper.GetString("history"))
	if err != nil {
		glog.Warningf("history file: %v", err)
		return viper.GetString("history")
	}
	return history
}
