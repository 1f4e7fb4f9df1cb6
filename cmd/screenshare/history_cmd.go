package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/screenshare/pkg/journal"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

// newHistoryCommand reads the SQLite journal directly, so it works while the
// host is stopped. Use "screenshare events" for a running host.
func newHistoryCommand(v *viper.Viper) *cobra.Command {
	var (
		user   string
		kind   string
		limit  int64
		offset int64
		asYAML bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Export the relocation journal from the SQLite file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, _, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			if f.Journal.Driver != "sqlite" {
				return fmt.Errorf("journal driver is %q; only the sqlite journal outlives the host", f.Journal.Driver)
			}

			filters := model.EventFilters{PageSize: &limit}
			if offset > 0 {
				filters.Offset = &offset
			}
			if user != "" {
				id, err := model.ParseUserID(user)
				if err != nil {
					return fmt.Errorf("--user must be a UUID: %w", err)
				}
				filters.LimitToUserID = &id
			}
			if kind != "" {
				k := model.EventKind(kind)
				filters.LimitToKind = &k
			}

			jr, err := journal.OpenSQLite(f.Journal.Path)
			if err != nil {
				return err
			}
			defer jr.Close()
			events, err := jr.List(cmd.Context(), filters)
			if err != nil {
				return err
			}

			if asYAML {
				data, err := yaml.Marshal(events)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only events for this user UUID")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (started, ended, disconnected, rejected, command)")
	cmd.Flags().Int64Var(&limit, "limit", 100, "maximum number of events")
	cmd.Flags().Int64Var(&offset, "offset", 0, "skip this many of the newest events")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of a table")
	return cmd
}

func printEvents(w io.Writer, events []model.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tUSER\tREQUESTER\tORIGIN\tTARGET\tDETAIL")
	for _, ev := range events {
		name := ev.Username
		if name == "" {
			name = ev.UserID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(ev.At), ev.Kind, name, dash(ev.Requester), dash(ev.Origin), dash(ev.Target), ev.Detail)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
