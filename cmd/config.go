// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file utilities",
	Long:  `erpkit configuration file (erpkit.toml) utilities`,
}

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold",
	Short: "Scaffold an erpkit configuration file",
	Long: `Create an erpkit configuration file erpkit.toml in the current directory. Use the -c flag to specify another destination file.
All configuration parameters passed as environment variables or as flags will be set in the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgFile := viper.GetString("ConfigFileName")
		if cfgFile == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfgFile = filepath.Join(cwd, "erpkit.toml")
		}
		for key, value := range scaffoldDefaults {
			viper.SetDefault(key, value)
		}
		if err := viper.WriteConfigAs(cfgFile); err != nil {
			return err
		}
		log.Info("Configuration file written", "file", cfgFile)
		return nil
	},
}

// scaffoldDefaults are written in scaffolded configuration files for the
// keys that have no flag on the root command.
var scaffoldDefaults = map[string]interface{}{
	"Server.Interface":      "",
	"Server.Port":           "8080",
	"Server.RequestTimeout": "30s",
	"Cron.Workers":          2,
	"Cron.Period":           "1m",
	"Cron.JobTimeout":       "10m",
	"Demo":                  false,
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(scaffoldCmd)
}
