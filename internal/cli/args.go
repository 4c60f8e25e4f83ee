package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cavaliba/backupconf/internal/types"
)

// ErrConfigRequired is returned when a mode needing a configuration file
// is invoked without --conf.
var ErrConfigRequired = errors.New("missing --conf <path>")

// Args holds the parsed command-line arguments
type Args struct {
	ConfigPath  string
	LogLevel    types.LogLevel
	DryRun      bool
	ShowConf    bool
	Template    bool
	ShowVersion bool
	ShowHelp    bool
}

// NeedsConfig reports whether the selected mode reads the configuration.
func (a *Args) NeedsConfig() bool {
	return !a.ShowHelp && !a.ShowVersion && !a.Template
}

// NewRootCmd builds the backupconf command. Parsed flags are stored in args.
func NewRootCmd(stdout, stderr io.Writer, args *Args) *cobra.Command {
	var (
		debug       bool
		logLevelStr string
	)

	cmd := &cobra.Command{
		Use:   "backupconf",
		Short: "Back up configuration files matching glob patterns into a timestamped archive",
		Example: strings.Join([]string{
			"  backupconf --conf /etc/backupconf.yml",
			"  backupconf --conf /etc/backupconf.yml --list --debug",
			"  backupconf --template > /etc/backupconf.yml",
		}, "\n"),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args.LogLevel = types.LogLevelInfo
			if logLevelStr != "" {
				args.LogLevel = parseLogLevel(logLevelStr)
			}
			if debug {
				args.LogLevel = types.LogLevelDebug
			}
			args.ConfigPath = strings.TrimSpace(args.ConfigPath)
			if args.NeedsConfig() && args.ConfigPath == "" {
				return ErrConfigRequired
			}
			return nil
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&args.ConfigPath, "conf", "c", "", "Path to the YAML configuration file")
	flags.BoolVarP(&args.DryRun, "list", "l", false, "Dry run: list matching files, copy nothing, build no archive")
	flags.BoolVarP(&debug, "debug", "d", false, "Verbose per-item tracing")
	flags.StringVar(&logLevelStr, "log-level", "", "Log level (debug|info|warning|error|critical)")
	flags.BoolVar(&args.ShowConf, "showconf", false, "Print the effective configuration and exit")
	flags.BoolVar(&args.Template, "template", false, "Print an annotated configuration template and exit")
	flags.BoolVarP(&args.ShowVersion, "version", "v", false, "Show version information")

	return cmd
}

// Parse parses argv (without the program name). Help requests print the
// usage to stdout and come back with ShowHelp set.
func Parse(argv []string, stdout, stderr io.Writer) (*Args, error) {
	args := &Args{LogLevel: types.LogLevelInfo}
	ran := false

	cmd := NewRootCmd(stdout, stderr, args)
	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, a []string) error {
		ran = true
		return run(c, a)
	}
	cmd.SetArgs(argv)

	if err := cmd.Execute(); err != nil {
		return nil, fmt.Errorf("%w\nRun 'backupconf --help' for usage", err)
	}
	if !ran {
		args.ShowHelp = true
	}
	return args, nil
}

// parseLogLevel converts string to LogLevel
func parseLogLevel(s string) types.LogLevel {
	switch strings.ToLower(s) {
	case "debug", "5":
		return types.LogLevelDebug
	case "info", "4":
		return types.LogLevelInfo
	case "warning", "3":
		return types.LogLevelWarning
	case "error", "2":
		return types.LogLevelError
	case "critical", "1":
		return types.LogLevelCritical
	case "none", "0":
		return types.LogLevelNone
	default:
		return types.LogLevelInfo
	}
}
