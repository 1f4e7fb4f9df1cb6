package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/screenshare/pkg/crypto"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

func newTokenCommand() *cobra.Command {
	var (
		name    string
		role    string
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an admin API token and the config entry that grants it",
		Long: `Generates a random token and prints it once, followed by the admin.tokens
entry to paste into the config file. Only the argon2id hash is stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r model.Role
			if err := r.UnmarshalText([]byte(role)); err != nil {
				return err
			}
			if err := model.ValidateUsername(name); err != nil {
				return fmt.Errorf("token name: %w", err)
			}
			raw, err := crypto.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := crypto.HashAPIToken(raw)
			if err != nil {
				return err
			}
			tok := model.APIToken{Name: name, Hash: hash, Role: r}
			if expires > 0 {
				tok.ExpiresAt = time.Now().Add(expires).UTC().Truncate(time.Second)
			}
			entry, err := yaml.Marshal([]model.APIToken{tok})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n\n", raw)
			fmt.Fprintln(out, "# add under admin.tokens:")
			_, err = out.Write(entry)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "token name, shown in logs and as the default requester")
	cmd.Flags().StringVar(&role, "role", "operator", "role: viewer, operator or admin")
	cmd.Flags().DurationVar(&expires, "expires", 0, "token lifetime (0 never expires)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
