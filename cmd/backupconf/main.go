package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/cavaliba/backupconf/internal/checks"
	"github.com/cavaliba/backupconf/internal/cli"
	"github.com/cavaliba/backupconf/internal/config"
	"github.com/cavaliba/backupconf/internal/logging"
	"github.com/cavaliba/backupconf/internal/orchestrator"
	"github.com/cavaliba/backupconf/internal/types"
	"github.com/cavaliba/backupconf/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) (exitCode int) {
	bootstrap := logging.NewBootstrapLogger()
	bootstrap.SetOutputs(stdout, stderr)

	defer func() {
		if r := recover(); r != nil {
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(stderr, "panic: %v\n%s\n", r, debug.Stack())
			exitCode = types.ExitPanicError.Int()
		}
	}()

	args, err := cli.Parse(argv, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return types.ExitConfigError.Int()
	}

	switch {
	case args.ShowHelp:
		return types.ExitSuccess.Int()
	case args.ShowVersion:
		fmt.Fprintln(stdout, version.String())
		return types.ExitSuccess.Int()
	case args.Template:
		fmt.Fprint(stdout, config.Template())
		return types.ExitSuccess.Int()
	}

	bootstrap.SetLevel(args.LogLevel)
	bootstrap.Info("Starting %s", version.Banner())

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		bootstrap.Error("Could not load config file %s: %v", args.ConfigPath, err)
		return types.ExitConfigError.Int()
	}
	bootstrap.Info("Config file loaded: %s", cfg.ConfigPath)

	if args.ShowConf {
		rendered, err := cfg.Render()
		if err != nil {
			bootstrap.Error("%v", err)
			return types.ExitConfigError.Int()
		}
		fmt.Fprint(stdout, rendered)
		return types.ExitSuccess.Int()
	}

	f, isFile := stdout.(*os.File)
	logger := logging.New(args.LogLevel, isFile && logging.IsTerminal(f))
	if cfg.LogFile != "" {
		if err := logger.OpenLogFile(cfg.LogFile); err != nil {
			bootstrap.Warning("Cannot open log file %s: %v", cfg.LogFile, err)
		}
		defer logger.CloseLogFile()
	}
	// Bootstrap lines already reached the console: replay them into the
	// log file only.
	logger.SetOutput(io.Discard)
	bootstrap.Flush(logger)
	logger.SetOutput(stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkerCfg := &checks.CheckerConfig{
		BackupDir:      cfg.BackupDir,
		TmpRootDir:     cfg.TmpRootDir,
		SingleInstance: cfg.SingleInstance,
		MinFreeBytes:   cfg.MinFreeBytes,
		DryRun:         args.DryRun,
	}
	if err := checkerCfg.Validate(); err != nil {
		logger.Error("Invalid checker configuration: %v", err)
		return types.ExitConfigError.Int()
	}

	orch := orchestrator.New(logger, cfg, args.DryRun)
	orch.SetVersion(version.String())
	orch.SetChecker(checks.NewChecker(logger, checkerCfg))

	_, err = orch.RunBackup(ctx)
	code := orchestrator.ExitCodeFor(err)
	if err != nil {
		logger.Error("Backup failed: %v", err)
	}
	logger.Debug("Exit code %d (%s)", code.Int(), code)
	return code.Int()
}
