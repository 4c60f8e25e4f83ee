package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Populated at build time, e.g.
//
//	-ldflags "-X github.com/cavaliba/backupconf/internal/version.Version=v1.2.0"
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

const devVersion = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version: ldflags value, then the main module
// version from the build info, then a development placeholder. A leading
// "v" is stripped.
func String() string {
	v := strings.TrimSpace(Version)

	if v == "" {
		if info, ok := readBuildInfo(); ok {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}

	if v == "" {
		v = devVersion
	}

	return strings.TrimPrefix(v, "v")
}

// Banner returns the one-line text printed by --version.
func Banner() string {
	b := fmt.Sprintf("backupconf - Version %s", String())
	if c := strings.TrimSpace(Commit); c != "" {
		b += " (" + c + ")"
	}
	if d := strings.TrimSpace(Date); d != "" {
		b += " - " + d
	}
	return b
}
