package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/cavaliba/backupconf/internal/types"
)

func parse(t *testing.T, argv ...string) (*Args, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args, err := Parse(argv, &stdout, &stderr)
	return args, stdout.String(), err
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want Args
	}{
		{
			name: "long flags",
			argv: []string{"--conf", "/etc/backupconf.yml", "--list", "--debug"},
			want: Args{ConfigPath: "/etc/backupconf.yml", DryRun: true, LogLevel: types.LogLevelDebug},
		},
		{
			name: "shorthands",
			argv: []string{"-c", "/etc/b.yml", "-l", "-d"},
			want: Args{ConfigPath: "/etc/b.yml", DryRun: true, LogLevel: types.LogLevelDebug},
		},
		{
			name: "default level",
			argv: []string{"--conf=/etc/b.yml"},
			want: Args{ConfigPath: "/etc/b.yml", LogLevel: types.LogLevelInfo},
		},
		{
			name: "log level flag",
			argv: []string{"-c", "/etc/b.yml", "--log-level", "warning"},
			want: Args{ConfigPath: "/etc/b.yml", LogLevel: types.LogLevelWarning},
		},
		{
			name: "debug wins over log level",
			argv: []string{"-c", "/etc/b.yml", "--log-level", "error", "-d"},
			want: Args{ConfigPath: "/etc/b.yml", LogLevel: types.LogLevelDebug},
		},
		{
			name: "showconf",
			argv: []string{"-c", "/etc/b.yml", "--showconf"},
			want: Args{ConfigPath: "/etc/b.yml", ShowConf: true, LogLevel: types.LogLevelInfo},
		},
		{
			name: "template needs no conf",
			argv: []string{"--template"},
			want: Args{Template: true, LogLevel: types.LogLevelInfo},
		},
		{
			name: "version needs no conf",
			argv: []string{"-v"},
			want: Args{ShowVersion: true, LogLevel: types.LogLevelInfo},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := parse(t, tt.argv...)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if *got != tt.want {
				t.Fatalf("Parse(%v) = %+v, want %+v", tt.argv, *got, tt.want)
			}
		})
	}
}

func TestParseRequiresConf(t *testing.T) {
	for _, argv := range [][]string{nil, {"--list"}, {"--showconf"}, {"--conf", "  "}} {
		_, _, err := parse(t, argv...)
		if !errors.Is(err, ErrConfigRequired) {
			t.Errorf("Parse(%v) error = %v, want ErrConfigRequired", argv, err)
		}
	}
}

func TestParseRejectsUnknownInput(t *testing.T) {
	if _, _, err := parse(t, "--bogus"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if _, _, err := parse(t, "-c", "/etc/b.yml", "extra"); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestParseHelp(t *testing.T) {
	args, out, err := parse(t, "--help")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !args.ShowHelp || args.NeedsConfig() {
		t.Fatalf("unexpected args %+v", args)
	}
	for _, want := range []string{"--conf", "--list", "--template", "backupconf --conf /etc/backupconf.yml"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected types.LogLevel
	}{
		{"debug", types.LogLevelDebug},
		{"5", types.LogLevelDebug},
		{"INFO", types.LogLevelInfo},
		{"warning", types.LogLevelWarning},
		{"error", types.LogLevelError},
		{"critical", types.LogLevelCritical},
		{"none", types.LogLevelNone},
		{"invalid", types.LogLevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
