// Command proxysim stands in for the routing layer during development: it
// connects simulated users to a screenshare host, answers location queries
// and applies relocations, and takes commands on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/screenshare/pkg/client"
	"github.com/NicolasHaas/screenshare/pkg/config"
	"github.com/NicolasHaas/screenshare/pkg/logging"
	"github.com/NicolasHaas/screenshare/pkg/model"
	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "proxysim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PROXYSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "proxysim",
		Short:         "Simulate the routing layer in front of a screenshare host",
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			if err := logging.Setup(logging.Options{
				Level:  v.GetString("log-level"),
				Format: v.GetString("log-format"),
				Output: cmd.ErrOrStderr(),
			}); err != nil {
				return err
			}

			roster, err := client.LoadRoster(v.GetString("roster"))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			proxy := client.NewProxy(v.GetString("host"),
				client.WithPluginChannel(v.GetString("channel")),
				client.WithMoveHook(func(m client.Move) {
					fmt.Fprintf(out, "moved %s: %s -> %s\n", m.User.Username, m.From, m.To)
				}),
				client.WithErrorHook(func(u model.User, e *pb.ErrorResponse) {
					fmt.Fprintf(out, "host error for %s: %d %s\n", u.Username, e.Code, e.Message)
				}),
			)
			defer proxy.Close()

			if err := roster.JoinAll(cmd.Context(), proxy); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d user(s) connected to %s; type help for commands\n", len(roster.Users), v.GetString("host"))
			sh := &shell{proxy: proxy, out: out}
			return sh.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	flags := cmd.Flags()
	flags.String("host", "127.0.0.1"+config.DefaultControlAddr, "screenshare control address")
	flags.String("roster", "roster.yaml", "YAML file of users to connect at startup")
	flags.String("channel", wire.Channel, "plugin channel name")
	flags.String("log-level", "info", "log level: "+logging.LevelNames())
	flags.String("log-format", "text", "log format: text or json")
	for _, name := range []string{"host", "roster", "channel", "log-level", "log-format"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}
