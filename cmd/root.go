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
	"flag"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hgdb",
	Short: "hgdb命令行调试器",
	Long: `hgdb命令行调试器，连接到运行中的硬件仿真调试服务，
支持断点、观察点、单步执行、时间回溯以及变量的查看和修改。

不带子命令运行时等同于 hgdb connect。`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// glog flags: -v, -logtostderr, ...
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hgdb.yaml)")
	rootCmd.PersistentFlags().String("host", "localhost", "debug server host")
	rootCmd.PersistentFlags().IntP("port", "p", 8888, "debug server port")
	rootCmd.PersistentFlags().StringP("db", "i", "", "symbol table")
	rootCmd.PersistentFlags().StringSlice("map", nil, "path mapping <build path>:<local path>, can be repeated")
	rootCmd.PersistentFlags().Bool("no-db-connection", false, "do not ask the debug server to load the symbol table")
	rootCmd.PersistentFlags().String("history", "~/.hgdb_history", "command history file")
	rootCmd.PersistentFlags().Duration("wait-timeout", 0, "wait timeout for the program to stop, 0 waits forever")
	rootCmd.PersistentFlags().Bool("batch", false, "read commands from stdin without line editing")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".hgdb" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".hgdb")
	}

	viper.SetEnvPrefix("hgdb")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
