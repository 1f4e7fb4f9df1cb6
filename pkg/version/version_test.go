package version

import "testing"

func stamp(t *testing.T, tg, c, d string) {
	t.Helper()
	oldTag, oldCommit, oldDate := tag, commit, date
	tag, commit, date = tg, c, d
	t.Cleanup(func() { tag, commit, date = oldTag, oldCommit, oldDate })
}

func TestVersionStrings(t *testing.T) {
	tests := []struct {
		name              string
		tag, commit, date string
		wantString        string
		wantFull          string
		wantUserAgent     string
	}{
		{"dev", "", "unknown", "unknown", "dev", "screenshare dev", "screenshare/dev"},
		{"commit", "", "abc1234", "2026-01-01", "abc1234", "screenshare abc1234 built 2026-01-01", "screenshare/abc1234"},
		{"tagged", "v1.0.0", "abc1234", "2026-01-01", "v1.0.0", "screenshare v1.0.0 (abc1234) built 2026-01-01", "screenshare/v1.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stamp(t, tt.tag, tt.commit, tt.date)
			if got := String(); got != tt.wantString {
				t.Fatalf("String() = %q, want %q", got, tt.wantString)
			}
			if got := Full(); got != tt.wantFull {
				t.Fatalf("Full() = %q, want %q", got, tt.wantFull)
			}
			if got := UserAgent(); got != tt.wantUserAgent {
				t.Fatalf("UserAgent() = %q, want %q", got, tt.wantUserAgent)
			}
		})
	}
}
