// Package config loads the screenshare configuration file.
//
// Files are YAML (.yaml, .yml) or TOML (.toml), chosen by extension. Missing
// values fall back to defaults; an empty target endpoint or on-join command is
// replaced with its default and reported as a warning rather than an error,
// so a half-edited file never keeps the coordinator from starting.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/screenshare/pkg/coordinator"
	"github.com/NicolasHaas/screenshare/pkg/logging"
	"github.com/NicolasHaas/screenshare/pkg/lookup"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

const (
	DefaultTargetEndpoint  = "screenshare"
	DefaultOnJoinCommand   = "ssmode %user%"
	DefaultControlAddr     = ":25580"
	DefaultAdminAddr       = "127.0.0.1:25581"
	DefaultDataDir         = "."
	DefaultMaxFrame        = "64KiB"
	DefaultHelloTimeout    = 10 * time.Second
	DefaultJournalDriver   = "sqlite"
	DefaultJournalPath     = "screenshare.db"
	DefaultMetricsInterval = 5 * time.Minute
)

var ErrUnsupportedFormat = errors.New("config: unsupported file format (want .yaml, .yml or .toml)")

// Duration is a time.Duration that reads and writes as "3s" in both formats.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Control configures the listener the routing layer connects to.
type Control struct {
	Addr         string   `yaml:"addr" toml:"addr"`
	CertFile     string   `yaml:"cert_file,omitempty" toml:"cert_file,omitempty"`
	KeyFile      string   `yaml:"key_file,omitempty" toml:"key_file,omitempty"`
	DataDir      string   `yaml:"data_dir" toml:"data_dir"` // where a generated cert is kept
	MaxFrame     string   `yaml:"max_frame" toml:"max_frame"`
	HelloTimeout Duration `yaml:"hello_timeout" toml:"hello_timeout"`
}

// Admin configures the HTTP admin API.
type Admin struct {
	Addr   string           `yaml:"addr" toml:"addr"` // empty disables the API
	Tokens []model.APIToken `yaml:"tokens,omitempty" toml:"tokens,omitempty"`
}

// Journal configures the relocation journal.
type Journal struct {
	Driver    string   `yaml:"driver" toml:"driver"` // sqlite or memory
	Path      string   `yaml:"path,omitempty" toml:"path,omitempty"`
	Retention Duration `yaml:"retention,omitempty" toml:"retention,omitempty"` // 0 keeps everything
}

// Log configures logging.Setup.
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// File is the on-disk configuration.
type File struct {
	TargetEndpoint  string   `yaml:"target_endpoint" toml:"target_endpoint"`
	OnJoinCommand   string   `yaml:"on_join_command" toml:"on_join_command"`
	OnReturnCommand string   `yaml:"on_return_command" toml:"on_return_command"`
	JoinDelay       Duration `yaml:"join_delay" toml:"join_delay"`
	LookupTimeout   Duration `yaml:"lookup_timeout" toml:"lookup_timeout"`
	PluginChannel   string   `yaml:"plugin_channel" toml:"plugin_channel"`
	CommandSink     string   `yaml:"command_sink" toml:"command_sink"` // "" or "-" is stdout

	Control         Control  `yaml:"control" toml:"control"`
	Admin           Admin    `yaml:"admin" toml:"admin"`
	Journal         Journal  `yaml:"journal" toml:"journal"`
	Log             Log      `yaml:"log" toml:"log"`
	MetricsInterval Duration `yaml:"metrics_interval" toml:"metrics_interval"`

	// Key names used by the proxy plugin this service replaced. Read, never
	// written.
	LegacyServer   *string `yaml:"ss-server,omitempty" toml:"ss-server,omitempty"`
	LegacyOnJoin   *string `yaml:"on-join-command,omitempty" toml:"on-join-command,omitempty"`
	LegacyOnReturn *string `yaml:"on-return-command,omitempty" toml:"on-return-command,omitempty"`
}

// Default returns a File with every default filled in.
func Default() File {
	return File{
		TargetEndpoint: DefaultTargetEndpoint,
		OnJoinCommand:  DefaultOnJoinCommand,
		JoinDelay:      Duration(coordinator.DefaultJoinDelay),
		LookupTimeout:  Duration(lookup.DefaultTimeout),
		PluginChannel:  wire.Channel,
		Control: Control{
			Addr:         DefaultControlAddr,
			DataDir:      DefaultDataDir,
			MaxFrame:     DefaultMaxFrame,
			HelloTimeout: Duration(DefaultHelloTimeout),
		},
		Admin:           Admin{Addr: DefaultAdminAddr},
		Journal:         Journal{Driver: DefaultJournalDriver, Path: DefaultJournalPath},
		Log:             Log{Level: "info", Format: "text"},
		MetricsInterval: Duration(DefaultMetricsInterval),
	}
}

// Load reads and normalizes the file at path. The returned warnings describe
// values that were replaced by defaults.
func Load(path string) (File, []string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return File{}, nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes data in the format named by ext and normalizes the result.
func Parse(data []byte, ext string) (File, []string, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return File{}, nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return File{}, nil, fmt.Errorf("config: parse toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return File{}, nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
		}
	default:
		return File{}, nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	warnings := f.normalize()
	if err := f.Validate(); err != nil {
		return File{}, warnings, err
	}
	return f, warnings, nil
}

func (f *File) normalize() []string {
	var warnings []string
	legacy := func(old string, v *string, dst *string, name string) {
		if v == nil {
			return
		}
		if *dst == "" {
			*dst = *v
		}
		warnings = append(warnings, fmt.Sprintf("%s is deprecated, rename it to %s", old, name))
	}
	legacy("ss-server", f.LegacyServer, &f.TargetEndpoint, "target_endpoint")
	legacy("on-join-command", f.LegacyOnJoin, &f.OnJoinCommand, "on_join_command")
	legacy("on-return-command", f.LegacyOnReturn, &f.OnReturnCommand, "on_return_command")
	f.LegacyServer, f.LegacyOnJoin, f.LegacyOnReturn = nil, nil, nil

	f.TargetEndpoint = strings.TrimSpace(f.TargetEndpoint)
	if f.TargetEndpoint == "" {
		f.TargetEndpoint = DefaultTargetEndpoint
		warnings = append(warnings, fmt.Sprintf("target_endpoint is empty, using %q", DefaultTargetEndpoint))
	}
	f.OnJoinCommand = strings.TrimSpace(f.OnJoinCommand)
	if f.OnJoinCommand == "" {
		f.OnJoinCommand = DefaultOnJoinCommand
		warnings = append(warnings, fmt.Sprintf("on_join_command is empty, using %q", DefaultOnJoinCommand))
	}
	f.OnReturnCommand = strings.TrimSpace(f.OnReturnCommand)

	def := Default()
	if f.JoinDelay <= 0 {
		f.JoinDelay = def.JoinDelay
	}
	if f.LookupTimeout <= 0 {
		f.LookupTimeout = def.LookupTimeout
	}
	if f.PluginChannel == "" {
		f.PluginChannel = def.PluginChannel
	}
	if f.Control.Addr == "" {
		f.Control.Addr = def.Control.Addr
	}
	if f.Control.DataDir == "" {
		f.Control.DataDir = def.Control.DataDir
	}
	if f.Control.MaxFrame == "" {
		f.Control.MaxFrame = def.Control.MaxFrame
	}
	if f.Control.HelloTimeout <= 0 {
		f.Control.HelloTimeout = def.Control.HelloTimeout
	}
	if f.Journal.Driver == "" {
		f.Journal.Driver = def.Journal.Driver
	}
	if f.Journal.Driver == "sqlite" && f.Journal.Path == "" {
		f.Journal.Path = def.Journal.Path
	}
	if f.Log.Level == "" {
		f.Log.Level = def.Log.Level
	}
	if f.Log.Format == "" {
		f.Log.Format = def.Log.Format
	}
	if f.MetricsInterval == 0 {
		f.MetricsInterval = def.MetricsInterval
	}
	return warnings
}

// Validate reports the first value that cannot be used.
func (f *File) Validate() error {
	if _, err := f.MaxFrameBytes(); err != nil {
		return err
	}
	switch f.Journal.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown journal driver %q (valid: sqlite, memory)", f.Journal.Driver)
	}
	if err := logging.Validate(f.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.ValidateFormat(f.Log.Format); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if (f.Control.CertFile == "") != (f.Control.KeyFile == "") {
		return errors.New("config: control.cert_file and control.key_file must be set together")
	}
	seen := make(map[string]bool, len(f.Admin.Tokens))
	for i, tok := range f.Admin.Tokens {
		if tok.Name == "" {
			return fmt.Errorf("config: admin.tokens[%d]: name is required", i)
		}
		if seen[tok.Name] {
			return fmt.Errorf("config: admin.tokens[%d]: duplicate name %q", i, tok.Name)
		}
		seen[tok.Name] = true
		if tok.Hash == "" {
			return fmt.Errorf("config: admin.tokens[%d] (%s): hash is required", i, tok.Name)
		}
		if !tok.Role.Valid() {
			return fmt.Errorf("config: admin.tokens[%d] (%s): %w", i, tok.Name, model.ErrInvalidRole)
		}
	}
	return nil
}

// MaxFrameBytes parses Control.MaxFrame ("64KiB", "1MB", "65536").
func (f *File) MaxFrameBytes() (int, error) {
	n, err := humanize.ParseBytes(f.Control.MaxFrame)
	if err != nil {
		return 0, fmt.Errorf("config: control.max_frame: %w", err)
	}
	if n < 1024 || n > 16<<20 {
		return 0, fmt.Errorf("config: control.max_frame %s out of range (1KiB..16MiB)", humanize.IBytes(n))
	}
	return int(n), nil
}

// Coordinator returns the coordinator's view of the file.
func (f *File) Coordinator() coordinator.Config {
	return coordinator.Config{
		TargetEndpoint:   f.TargetEndpoint,
		OnJoinTemplate:   f.OnJoinCommand,
		OnReturnTemplate: f.OnReturnCommand,
		JoinDelay:        time.Duration(f.JoinDelay),
	}
}

// Marshal encodes f in the format named by ext.
func Marshal(f File, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", "":
		return yaml.Marshal(&f)
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(f); err != nil {
			return nil, fmt.Errorf("config: encode toml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	data, err := Marshal(Default(), filepath.Ext(path))
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // operator-chosen path
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	if _, err := fh.Write(data); err != nil {
		_ = fh.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return fh.Close()
}
