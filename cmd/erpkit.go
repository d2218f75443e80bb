// Copyright 2017 NDP Systèmes. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd holds the commands of the erpkit command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables read as configuration
const EnvPrefix = "ERPKIT"

var log logging.Logger

// RootCmd is the base 'erpkit' command of the commander
var RootCmd = &cobra.Command{
	Use:   "erpkit",
	Short: "erpkit is a modular business application platform",
	Long: `erpkit is a modular business application platform written in Go.
Modules declare models, views, actions and data that are installed in a
database and served over JSON-RPC.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	log = logging.GetLogger("cmd")
	cobra.OnInitialize(initConfig)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	flags := RootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Alternate configuration file to read. Defaults to $HOME/.erpkit/")
	viper.BindPFlag("ConfigFileName", flags.Lookup("config"))

	flags.StringP("log-level", "L", "info", "Log level. Should be one of 'debug', 'info', 'warn', 'error' or 'panic'")
	viper.BindPFlag("LogLevel", flags.Lookup("log-level"))
	flags.String("log-file", "", "File to which the log will be written")
	viper.BindPFlag("LogFile", flags.Lookup("log-file"))
	flags.BoolP("log-stdout", "o", false, "Enable stdout logging. Use for development or debugging.")
	viper.BindPFlag("LogStdout", flags.Lookup("log-stdout"))
	flags.Bool("debug", false, "Enable debug mode for development")
	viper.BindPFlag("Debug", flags.Lookup("debug"))

	flags.String("db-driver", "postgres", "Database driver to use ('postgres' or 'sqlite3')")
	viper.BindPFlag("DB.Driver", flags.Lookup("db-driver"))
	flags.String("db-sslmode", "disable", "Database driver sslmode")
	viper.BindPFlag("DB.SSLMode", flags.Lookup("db-sslmode"))
	flags.String("db-host", "/var/run/postgresql",
		"The database host to connect to. Values that start with / are for unix domain sockets directory")
	viper.BindPFlag("DB.Host", flags.Lookup("db-host"))
	flags.String("db-port", "5432", "Database port. Value is ignored if db-host is not set")
	viper.BindPFlag("DB.Port", flags.Lookup("db-port"))
	flags.String("db-user", "", "Database user. Defaults to current user")
	viper.BindPFlag("DB.User", flags.Lookup("db-user"))
	flags.String("db-password", "", "Database password. Leave empty when connecting through socket")
	viper.BindPFlag("DB.Password", flags.Lookup("db-password"))
	flags.String("db-name", "erpkit", "Database name, or database file path with sqlite3")
	viper.BindPFlag("DB.Name", flags.Lookup("db-name"))

	flags.StringSlice("modules", nil, "Comma separated list of modules to install on first start")
	viper.BindPFlag("Modules", flags.Lookup("modules"))
}

// initConfig reads the configuration file and starts the logger
func initConfig() {
	if runtime.GOOS != "windows" {
		viper.AddConfigPath("/etc/erpkit")
	}
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".erpkit"))
	}
	viper.AddConfigPath(".")
	viper.SetConfigName("erpkit")
	if cfgFile := viper.GetString("ConfigFileName"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	cfgErr := viper.ReadInConfig()
	logging.Initialize()
	if cfgErr != nil {
		if _, ok := cfgErr.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Error while loading configuration file", "error", cfgErr)
		}
	}
}

// Execute loads the .env file of the working directory, runs the command
// line and exits with the code matching the kind of the returned error.
func Execute() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "unable to load .env file: %s\n", err)
	}
	if err := RootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(exceptions.ExitCode(err))
	}
}

// printError writes err to w as '<kind>: <message>'
func printError(w io.Writer, err error) {
	color.New(color.FgRed, color.Bold).Fprintf(w, "%s:", exceptions.KindOf(err))
	fmt.Fprintf(w, " %s\n", err)
}

// minArgs returns a positional argument validator requiring at least n
// arguments.
func minArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return exceptions.Validation("invalid_argument", "%s requires %s", cmd.CommandPath(), what)
		}
		return nil
	}
}

// exactArgs returns a positional argument validator requiring exactly n
// arguments.
func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return exceptions.Validation("invalid_argument", "%s requires %s", cmd.CommandPath(), what)
		}
		return nil
	}
}

// connectionParams returns the database connection parameters read from
// the configuration.
func connectionParams() models.ConnectionParams {
	return models.ConnectionParams{
		Driver:   viper.GetString("DB.Driver"),
		Host:     viper.GetString("DB.Host"),
		Port:     viper.GetString("DB.Port"),
		User:     viper.GetString("DB.User"),
		Password: viper.GetString("DB.Password"),
		DBName:   viper.GetString("DB.Name"),
		SSLMode:  viper.GetString("DB.SSLMode"),
	}
}

// withLoader connects to the database and calls fnct with a loader of the
// registered modules.
func withLoader(fnct func(*server.Loader) error) error {
	db, err := models.Connect(connectionParams())
	if err != nil {
		return err
	}
	defer db.Close()
	return fnct(server.NewLoader(server.Modules, db))
}
