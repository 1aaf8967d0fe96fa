// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Calinou/rd/internal/rdlog"
)

const (
	defaultGdbPort        int = 0
	defaultDbgPortProbeBase int = 9000
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "rd",
	Short: "rd is a record-and-replay time-travel debugger core for Linux user-space programs",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main() and only needs to run once.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "print more messages to know what rd is doing")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rd.yaml)")
}

// initConfig reads in config file and ENV variables if set, the way the
// teacher's initConfig wires every subcommand's flags into one viper
// instance before Run executes.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetConfigName(".rd")
	viper.AddConfigPath("$HOME")
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")

	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))

	viper.BindPFlag("gdb-port", replayCmd.Flags().Lookup("gdb-port"))
	viper.BindPFlag("keep-listening", replayCmd.Flags().Lookup("keep-listening"))
	viper.BindPFlag("target-pid", replayCmd.Flags().Lookup("target-pid"))
	viper.BindPFlag("require-exec", replayCmd.Flags().Lookup("require-exec"))
	viper.BindPFlag("dbg-port-probe-base", replayCmd.Flags().Lookup("dbg-port-probe-base"))
	viper.BindPFlag("reverse-execution", replayCmd.Flags().Lookup("reverse-execution"))
	viper.BindPFlag("interactive", replayCmd.Flags().Lookup("interactive"))

	viper.BindPFlag("with-rr", recordCmd.Flags().Lookup("with-rr"))

	viper.SetDefault("gdb-port", defaultGdbPort)
	viper.SetDefault("dbg-port-probe-base", defaultDbgPortProbeBase)
	viper.SetDefault("with-rr", "rr")

	viper.RegisterAlias("gdb_port", "gdb-port")
	viper.RegisterAlias("keep_listening", "keep-listening")
	viper.RegisterAlias("target_pid", "target-pid")
	viper.RegisterAlias("require_exec", "require-exec")
	viper.RegisterAlias("dbg_port_probe_base", "dbg-port-probe-base")
	viper.RegisterAlias("reverse_execution", "reverse-execution")
	viper.RegisterAlias("with_rr", "with-rr")

	if err := viper.ReadInConfig(); err == nil {
		rdlog.Warn("rd: using config file: %v", viper.ConfigFileUsed())
	}
}
