package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/screenshare/pkg/client"
	"github.com/NicolasHaas/screenshare/pkg/config"
	"github.com/NicolasHaas/screenshare/pkg/coordinator"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

// addClientCommands registers the commands that operate a running host
// through its admin API.
func addClientCommands(root *cobra.Command, v *viper.Viper) {
	persistent := root.PersistentFlags()
	persistent.String("admin-url", "", "admin API address (default admin.addr from the config file)")
	persistent.String("token", "", "admin API bearer token")
	mustBind(v, persistent.Lookup("admin-url"))
	mustBind(v, persistent.Lookup("token"))

	var requester string
	start := &cobra.Command{
		Use:   "start <user>",
		Short: "Relocate a user (name or UUID) to the target endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(v)
			if err != nil {
				return err
			}
			res, err := c.Start(cmd.Context(), args[0], requester)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	end := &cobra.Command{
		Use:   "end <user>",
		Short: "Return a user to the endpoint their session started from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(v)
			if err != nil {
				return err
			}
			res, err := c.End(cmd.Context(), args[0], requester)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	for _, c := range []*cobra.Command{start, end} {
		c.Flags().StringVar(&requester, "requester", "", "in-game name of the staff member acting (default the token name)")
	}

	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List active screenshare sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := adminClient(v)
			if err != nil {
				return err
			}
			list, err := c.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tREQUESTER\tORIGIN\tTARGET\tSTARTED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Username, s.Requester, s.Origin, s.Target, humanize.Time(s.StartedAt))
			}
			return tw.Flush()
		},
	}

	users := &cobra.Command{
		Use:   "users [prefix]",
		Short: "List online users, optionally by name prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := adminClient(v)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			list, err := c.Users(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, u := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.Username, u.ID)
			}
			return nil
		},
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the running host's settings and counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := adminClient(v)
			if err != nil {
				return err
			}
			in, err := c.Info(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, row := range [][2]string{
				{"version", in.Version},
				{"started", in.Started},
				{"target", in.TargetEndpoint},
				{"on join", in.OnJoinCommand},
				{"on return", in.OnReturnCommand},
				{"join delay", in.JoinDelay},
				{"lookup timeout", in.LookupTimeout},
				{"channel", in.PluginChannel},
				{"online", fmt.Sprint(in.OnlineUsers)},
				{"sessions", fmt.Sprint(in.ActiveSessions)},
				{"pending lookups", fmt.Sprint(in.PendingLookups)},
			} {
				fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
			}
			return tw.Flush()
		},
	}

	events := &cobra.Command{
		Use:     "events",
		Aliases: []string{"watch"},
		Short:   "Follow coordinator events as they happen",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := adminClient(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return c.Events(cmd.Context(), func(ev model.Event) {
				fmt.Fprintln(out, formatEvent(ev))
			})
		},
	}

	root.AddCommand(start, end, sessions, users, info, events)
}

func adminClient(v *viper.Viper) (*client.AdminClient, error) {
	addr := strings.TrimSpace(v.GetString("admin-url"))
	if addr == "" {
		f, _, _, err := loadConfig(v)
		if err != nil {
			return nil, err
		}
		addr = f.Admin.Addr
		if addr == "" {
			addr = config.DefaultAdminAddr
		}
	}
	token := strings.TrimSpace(v.GetString("token"))
	if token == "" {
		return nil, fmt.Errorf("an admin token is required (--token or %s_TOKEN)", envPrefix)
	}
	return client.NewAdminClient(addr, token)
}

func printResult(w io.Writer, res coordinator.Result) error {
	switch res.Kind {
	case coordinator.ResultStarted:
		fmt.Fprintf(w, "%s moved from %s to %s\n", res.Name, res.Origin, res.Target)
	case coordinator.ResultEnded:
		fmt.Fprintf(w, "%s returned to %s\n", res.Name, res.Origin)
	}
	if res.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", res.Warning)
	}
	return nil
}

func formatEvent(ev model.Event) string {
	name := ev.Username
	if name == "" {
		name = ev.UserID.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-12s %s", ev.At.Local().Format("15:04:05"), ev.Kind, name)
	if ev.Requester != "" {
		fmt.Fprintf(&b, " by %s", ev.Requester)
	}
	if ev.Origin != "" || ev.Target != "" {
		fmt.Fprintf(&b, " [%s -> %s]", dash(ev.Origin), dash(ev.Target))
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, ": %s", ev.Detail)
	}
	return b.String()
}
