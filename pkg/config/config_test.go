package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/screenshare/pkg/model"
)

func TestParseEmptyFileUsesDefaults(t *testing.T) {
	f, warnings, err := Parse(nil, ".yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default()
	want.Admin.Addr = "" // only written by WriteDefault
	if diff := cmp.Diff(want, f); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %q, want target and on-join fallbacks", warnings)
	}
}

func TestParseFallbacks(t *testing.T) {
	tests := []struct {
		name         string
		yaml         string
		wantTarget   string
		wantJoin     string
		wantReturn   string
		wantWarnings int
	}{
		{
			name:         "all set",
			yaml:         "target_endpoint: ss\non_join_command: freeze %user%\non_return_command: unfreeze %user%\n",
			wantTarget:   "ss",
			wantJoin:     "freeze %user%",
			wantReturn:   "unfreeze %user%",
			wantWarnings: 0,
		},
		{
			name:         "blank target",
			yaml:         "target_endpoint: '  '\non_join_command: freeze %user%\n",
			wantTarget:   DefaultTargetEndpoint,
			wantJoin:     "freeze %user%",
			wantWarnings: 1,
		},
		{
			name:         "empty join command",
			yaml:         "target_endpoint: ss\non_join_command: ''\n",
			wantTarget:   "ss",
			wantJoin:     DefaultOnJoinCommand,
			wantWarnings: 1,
		},
		{
			name:         "legacy keys",
			yaml:         "ss-server: jail\non-join-command: ssmode %player%\non-return-command: ''\n",
			wantTarget:   "jail",
			wantJoin:     "ssmode %player%",
			wantWarnings: 3,
		},
		{
			name:         "new key wins over legacy",
			yaml:         "target_endpoint: ss\nss-server: jail\non_join_command: x\n",
			wantTarget:   "ss",
			wantJoin:     "x",
			wantWarnings: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, warnings, err := Parse([]byte(tt.yaml), ".yml")
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if f.TargetEndpoint != tt.wantTarget || f.OnJoinCommand != tt.wantJoin || f.OnReturnCommand != tt.wantReturn {
				t.Fatalf("got target=%q join=%q return=%q", f.TargetEndpoint, f.OnJoinCommand, f.OnReturnCommand)
			}
			if len(warnings) != tt.wantWarnings {
				t.Fatalf("warnings = %q, want %d", warnings, tt.wantWarnings)
			}
			if f.LegacyServer != nil || f.LegacyOnJoin != nil || f.LegacyOnReturn != nil {
				t.Fatal("legacy fields should be cleared after normalize")
			}
		})
	}
}

func TestParseTOML(t *testing.T) {
	data := `
target_endpoint = "ss"
on_join_command = "freeze %user%"
join_delay = "1500ms"
lookup_timeout = "2s"

[control]
addr = ":9000"
max_frame = "128KiB"

[admin]
addr = "127.0.0.1:9001"

[[admin.tokens]]
name = "ops"
hash = "argon2id$abc$def"
role = "operator"

[journal]
driver = "memory"
`
	f, warnings, err := Parse([]byte(data), ".toml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %q", warnings)
	}
	if f.JoinDelay != Duration(1500*time.Millisecond) || f.LookupTimeout != Duration(2*time.Second) {
		t.Fatalf("durations = %s %s", f.JoinDelay, f.LookupTimeout)
	}
	n, err := f.MaxFrameBytes()
	if err != nil || n != 128*1024 {
		t.Fatalf("MaxFrameBytes = %d, %v", n, err)
	}
	want := []model.APIToken{{Name: "ops", Hash: "argon2id$abc$def", Role: model.RoleOperator}}
	if diff := cmp.Diff(want, f.Admin.Tokens); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	cc := f.Coordinator()
	if cc.TargetEndpoint != "ss" || cc.JoinDelay != 1500*time.Millisecond {
		t.Fatalf("coordinator config = %+v", cc)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
		want string
	}{
		{"unknown extension", "", ".json", "unsupported file format"},
		{"unknown yaml key", "bogus: 1\n", ".yaml", "bogus"},
		{"unknown toml key", "bogus = 1\n", ".toml", "unknown key"},
		{"bad duration", "join_delay: soon\n", ".yaml", "parse duration"},
		{"bad role", "admin:\n  tokens:\n    - {name: a, hash: h, role: root}\n", ".yaml", "invalid role"},
		{"missing hash", "admin:\n  tokens:\n    - {name: a, role: admin}\n", ".yaml", "hash is required"},
		{"duplicate token", "admin:\n  tokens:\n    - {name: a, hash: h, role: admin}\n    - {name: a, hash: h, role: viewer}\n", ".yaml", "duplicate name"},
		{"bad driver", "journal:\n  driver: postgres\n", ".yaml", "unknown journal driver"},
		{"bad level", "log:\n  level: loud\n", ".yaml", "unknown log level"},
		{"tiny frame", "control:\n  max_frame: 10B\n", ".yaml", "out of range"},
		{"cert without key", "control:\n  cert_file: a.pem\n", ".yaml", "set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(tt.data), tt.ext)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "screenshare"+ext)
			if err := WriteDefault(path); err != nil {
				t.Fatalf("WriteDefault: %v", err)
			}
			f, warnings, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(warnings) != 0 {
				t.Fatalf("default file produced warnings: %q", warnings)
			}
			if diff := cmp.Diff(Default(), f); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
			if err := WriteDefault(path); !errors.Is(err, os.ErrExist) {
				t.Fatalf("second WriteDefault = %v, want ErrExist", err)
			}
		})
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenshare.yaml")
	if err := os.WriteFile(path, []byte("target_endpoint: one\non_join_command: a\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan File, 4)
	errs := make(chan error, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(f File, _ []string) { changes <- f }, func(err error) { errs <- err })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("target_endpoint: two\non_join_command: b\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-changes:
		if f.TargetEndpoint != "two" || f.OnJoinCommand != "b" {
			t.Fatalf("reloaded config = %q %q", f.TargetEndpoint, f.OnJoinCommand)
		}
	case err := <-errs:
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
