package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/screenshare/pkg/config"
	"github.com/NicolasHaas/screenshare/pkg/console"
	"github.com/NicolasHaas/screenshare/pkg/journal"
	"github.com/NicolasHaas/screenshare/pkg/logging"
	"github.com/NicolasHaas/screenshare/pkg/server"
)

const (
	envPrefix         = "SCREENSHARE"
	defaultConfigFile = "screenshare.yaml"
)

// serveOverrides maps flags (and SCREENSHARE_* variables) onto config fields.
// Each wins over the file only when explicitly set.
var serveOverrides = map[string]func(*config.File, string){
	"target":         func(f *config.File, v string) { f.TargetEndpoint = v },
	"control":        func(f *config.File, v string) { f.Control.Addr = v },
	"admin":          func(f *config.File, v string) { f.Admin.Addr = v },
	"data-dir":       func(f *config.File, v string) { f.Control.DataDir = v },
	"journal-driver": func(f *config.File, v string) { f.Journal.Driver = v },
	"journal-path":   func(f *config.File, v string) { f.Journal.Path = v },
	"command-sink":   func(f *config.File, v string) { f.CommandSink = v },
	"log-level":      func(f *config.File, v string) { f.Log.Level = v },
	"log-format":     func(f *config.File, v string) { f.Log.Format = v },
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "screenshare",
		Short:         "screenshare relocates users to a review endpoint and returns them where they came from",
		SilenceErrors: true,
		Example: `
  # Write a default config, then run the host with it
  screenshare config init screenshare.yaml
  screenshare --config screenshare.yaml

  # In-memory journal, JSON logs, commands appended to a console FIFO
  SCREENSHARE_JOURNAL_DRIVER=memory screenshare --log-format json --command-sink /run/ss/console

  # Operate a running host
  screenshare start Steve --requester Mod
  screenshare end Steve --requester Mod
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return runServe(cmd, v)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringP("config", "c", "", "path to a YAML or TOML config file (default ./"+defaultConfigFile+" if present)")

	flags := cmd.Flags()
	flags.String("target", "", "target endpoint users are relocated to")
	flags.String("control", "", "TCP/TLS bind address for the routing layer")
	flags.String("admin", "", "HTTP bind address for the admin API and /metrics")
	flags.String("data-dir", "", "directory for the generated TLS certificate")
	flags.String("journal-driver", "", "journal backend: sqlite or memory")
	flags.String("journal-path", "", "SQLite journal file")
	flags.String("command-sink", "", `where console commands are written ("-" for stdout)`)
	flags.String("log-level", "", "log level: "+logging.LevelNames())
	flags.String("log-format", "", "log format: text or json")

	mustBind(v, persistent.Lookup("config"))
	flags.VisitAll(func(f *pflag.Flag) { mustBind(v, f) })

	cmd.AddCommand(newConfigCommand(v))
	cmd.AddCommand(newTokenCommand())
	cmd.AddCommand(newHistoryCommand(v))
	cmd.AddCommand(newVersionCommand())
	addClientCommands(cmd, v)
	return cmd
}

func mustBind(v *viper.Viper, f *pflag.Flag) {
	if err := v.BindPFlag(f.Name, f); err != nil {
		panic(err)
	}
}

// configPath returns the config file to use, or "" to run on defaults.
func configPath(v *viper.Viper) (string, error) {
	if p := strings.TrimSpace(v.GetString("config")); p != "" {
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("config file %q: %w", p, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("config file %q is a directory", p)
		}
		return p, nil
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", defaultConfigFile, err)
	}
	return "", nil
}

// loadConfig reads the config file (if any) and applies flag and environment
// overrides.
func loadConfig(v *viper.Viper) (config.File, string, []string, error) {
	path, err := configPath(v)
	if err != nil {
		return config.File{}, "", nil, err
	}
	f := config.Default()
	var warnings []string
	if path != "" {
		if f, warnings, err = config.Load(path); err != nil {
			return config.File{}, "", nil, err
		}
	}
	if err := applyOverrides(v, &f); err != nil {
		return config.File{}, "", nil, err
	}
	return f, path, warnings, nil
}

func applyOverrides(v *viper.Viper, f *config.File) error {
	for key, set := range serveOverrides {
		if v.IsSet(key) {
			set(f, v.GetString(key))
		}
	}
	return f.Validate()
}

func openJournal(j config.Journal) (journal.Journal, error) {
	switch j.Driver {
	case "memory":
		return journal.NewMemory(), nil
	default:
		return journal.OpenSQLite(j.Path)
	}
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	f, path, warnings, err := loadConfig(v)
	if err != nil {
		return err
	}
	if err := logging.Setup(logging.Options{Level: f.Log.Level, Format: f.Log.Format, Output: cmd.ErrOrStderr()}); err != nil {
		return err
	}
	if path != "" {
		slog.Info("loaded config file", "path", path)
	}
	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}

	cfg, err := server.FromFile(f)
	if err != nil {
		return err
	}
	jr, err := openJournal(f.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	sink, err := console.OpenSink(f.CommandSink)
	if err != nil {
		_ = jr.Close()
		return err
	}
	defer sink.Close()

	srv, err := server.New(cfg, server.Dependencies{
		Journal:    jr,
		Dispatcher: console.NewWriter(sink, slog.Default().With("component", "console")),
	})
	if err != nil {
		_ = jr.Close()
		return err
	}
	if err := srv.Start(); err != nil {
		srv.Shutdown()
		return err
	}
	defer srv.Shutdown()

	if path != "" {
		go func() {
			err := config.Watch(ctx, path, func(nf config.File, warnings []string) {
				for _, w := range warnings {
					slog.Warn("config", "warning", w)
				}
				if err := applyOverrides(v, &nf); err != nil {
					slog.Error("config reload rejected", "err", err)
					return
				}
				ncfg, err := server.FromFile(nf)
				if err != nil {
					slog.Error("config reload rejected", "err", err)
					return
				}
				if err := srv.ApplyConfig(ncfg); err != nil {
					slog.Error("config reload rejected", "err", err)
					return
				}
				if err := logging.SetLevel(nf.Log.Level); err != nil {
					slog.Warn("log level unchanged", "err", err)
				}
			}, func(err error) {
				slog.Error("config reload failed", "path", path, "err", err)
			})
			if err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down...")
	return nil
}
