package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/screenshare/pkg/config"
)

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage screenshare configuration files",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigPrintCommand(v), newConfigCheckCommand(v))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file (.yaml, .yml or .toml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", path)
			return err
		},
	}
}

func newConfigPrintCommand(v *viper.Viper) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration after defaults and overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, _, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			data, err := config.Marshal(f, "."+format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or toml")
	return cmd
}

func newConfigCheckCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and list fallback warnings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, path, warnings, err := loadConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(out, "no config file, using defaults")
			} else {
				fmt.Fprintf(out, "%s: ok (%s)\n", path, filepath.Ext(path))
			}
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "target %q, on-join %q, on-return %q, %d admin token(s)\n",
				f.TargetEndpoint, f.OnJoinCommand, f.OnReturnCommand, len(f.Admin.Tokens))
			return nil
		},
	}
}
