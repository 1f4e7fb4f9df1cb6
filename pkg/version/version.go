// Package version reports which screenshare build is running. The values are
// stamped at link time:
//
//	go build -ldflags "-X github.com/NicolasHaas/screenshare/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/screenshare/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/screenshare/pkg/version.date=2026-01-01"
package version

// Name is the product name used in banners, the control handshake and the
// admin client's User-Agent.
const Name = "screenshare"

var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, else the commit, else "dev".
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "unknown":
		return commit
	default:
		return "dev"
	}
}

// Full returns the banner printed by "screenshare version", e.g.
// "screenshare v1.0.0 (abc1234) built 2026-01-01".
func Full() string {
	switch {
	case tag != "":
		return Name + " " + tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return Name + " " + commit + " built " + date
	default:
		return Name + " dev"
	}
}

// UserAgent identifies this build to peers, e.g. "screenshare/v1.0.0".
func UserAgent() string {
	return Name + "/" + String()
}
