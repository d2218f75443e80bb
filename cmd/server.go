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

package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hexya-erp/erpkit/src/cron"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the erpkit server",
	Long: `Start the erpkit server with the installed modules.
The modules listed in the 'Modules' configuration key are installed first if
they are not installed yet. The scheduler runs in the same process unless
--no-cron is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		noCron, _ := cmd.Flags().GetBool("no-cron")
		demo, _ := cmd.Flags().GetBool("demo")
		return withLoader(func(l *server.Loader) error {
			b, err := loadBundle(ctx, l, demo || viper.GetBool("Demo"))
			if err != nil {
				return err
			}
			return serve(ctx, b, !noCron)
		})
	},
}

// loadBundle installs the configured modules and loads the installed ones
func loadBundle(ctx context.Context, l *server.Loader, demo bool) (*server.Bundle, error) {
	if mods := viper.GetStringSlice("Modules"); len(mods) > 0 {
		return l.Install(ctx, mods, demo)
	}
	return l.Load(ctx)
}

// serve runs the RPC server of b and, if withCron is set, the scheduler
// until ctx is cancelled.
func serve(ctx context.Context, b *server.Bundle, withCron bool) error {
	g, ctx := errgroup.WithContext(ctx)
	srv := server.New(b, server.DefaultConfig())
	address := net.JoinHostPort(viper.GetString("Server.Interface"), viper.GetString("Server.Port"))
	g.Go(func() error {
		return srv.Run(ctx, address)
	})
	if withCron {
		runner := cron.NewRunner(b.Registry, cron.DefaultConfig())
		g.Go(func() error {
			return runner.Start(ctx)
		})
	}
	return g.Wait()
}

func init() {
	flags := serverCmd.Flags()
	flags.StringP("interface", "i", "", "Interface on which the server should listen. Empty string is all interfaces")
	viper.BindPFlag("Server.Interface", flags.Lookup("interface"))
	flags.StringP("port", "p", "8080", "Port on which the server should listen.")
	viper.BindPFlag("Server.Port", flags.Lookup("port"))
	flags.Duration("request-timeout", 0, "Wall-clock budget of a RPC request (default 30s)")
	viper.BindPFlag("Server.RequestTimeout", flags.Lookup("request-timeout"))
	flags.Bool("demo", false, "Load demo data of the modules installed on start")
	flags.Bool("no-cron", false, "Do not run the scheduler in the server process")
	RootCmd.AddCommand(serverCmd)
}
