// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var installCmd = &cobra.Command{
	Use:   "install MODULE...",
	Short: "Install modules",
	Long: `Install the given modules and their dependencies in the database.
Auto-install modules whose dependencies become all installed are installed too.`,
	Args: minArgs(1, "at least one module name"),
	RunE: func(cmd *cobra.Command, args []string) error {
		demo, _ := cmd.Flags().GetBool("demo")
		return withLoader(func(l *server.Loader) error {
			b, err := l.Install(cmd.Context(), args, demo || viper.GetBool("Demo"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed modules: %s\n", strings.Join(b.Modules, ", "))
			return nil
		})
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [MODULE...]",
	Short: "Upgrade installed modules",
	Long: `Upgrade the given installed modules and the modules depending on them.
Migration scripts are run and data files are reloaded, except noupdate records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all && len(args) > 0:
			return exceptions.Validation("invalid_argument", "--all cannot be used with module names")
		case !all && len(args) == 0:
			return exceptions.Validation("invalid_argument", "%s requires module names or --all", cmd.CommandPath())
		}
		return withLoader(func(l *server.Loader) error {
			b, err := l.Upgrade(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded modules: %s\n", strings.Join(b.Modules, ", "))
			return nil
		})
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall MODULE...",
	Short: "Uninstall modules",
	Long: `Uninstall the given modules and the installed modules depending on them.
The data of their models is dropped from the database.`,
	Args: minArgs(1, "at least one module name"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoader(func(l *server.Loader) error {
			b, err := l.Uninstall(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Remaining modules: %s\n", strings.Join(b.Modules, ", "))
			return nil
		})
	},
}

var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Module utilities",
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available modules",
	Long:  `List the modules compiled in erpkit with their state in the database.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoader(func(l *server.Loader) error {
			status, err := l.Status(cmd.Context())
			if err != nil {
				return err
			}
			printModules(cmd.OutOrStdout(), status)
			return nil
		})
	},
}

var stateColors = map[string]*color.Color{
	models.ModuleInstalled:   color.New(color.FgGreen),
	models.ModuleToUpgrade:   color.New(color.FgYellow),
	models.ModuleUninstalled: color.New(color.Faint),
}

// printModules writes a table of the given modules to w
func printModules(w io.Writer, status []server.ModuleStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSTATE\tDEPENDS\tSUMMARY")
	for _, st := range status {
		state := st.State
		if !st.Installable && state == models.ModuleUninstalled {
			state = "not installable"
		}
		if c, ok := stateColors[st.State]; ok {
			state = c.Sprint(state)
		}
		version := st.Version
		if st.InstalledVersion != "" && st.InstalledVersion != st.Version {
			version = fmt.Sprintf("%s (db %s)", st.Version, st.InstalledVersion)
		}
		name := st.Name
		if st.Application {
			name = color.New(color.Bold).Sprint(name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, version, state, strings.Join(st.Depends, ","), st.Summary)
	}
	tw.Flush()
}

func init() {
	installCmd.Flags().Bool("demo", false, "Load the demo data of the newly installed modules")
	upgradeCmd.Flags().Bool("all", false, "Upgrade all installed modules")
	RootCmd.AddCommand(installCmd)
	RootCmd.AddCommand(upgradeCmd)
	RootCmd.AddCommand(uninstallCmd)
	RootCmd.AddCommand(moduleCmd)
	moduleCmd.AddCommand(moduleListCmd)
}
