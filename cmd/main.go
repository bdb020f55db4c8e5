package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	acceptor "github.com/blendertools/infra/addon-acceptor"
	"github.com/blendertools/infra/addon-acceptor/flags"
	"github.com/blendertools/infra/addon-acceptor/service"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "addon-acceptor"
	app.Usage = "Blender Addon Acceptance Tester Service"
	app.Description = "addon-acceptor invokes a Blender addon's test entry points"
	app.Flags = flags.Flags
	app.Action = acceptor.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Check for typed runtime errors
			if acceptor.IsRuntimeError(err) {
				// For runtime errors, use exit code 2
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else if acceptor.IsTestFailureError(err) {
				// For test failures, use exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	// Start server
	svc := service.New()
	svc.Start(context.Background())
	defer svc.Shutdown()

	// Start CLI
	err = app.Run(os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (acceptor.Lifecycle, error) {
	logger, err := newLogger(
		os.Stderr,
		ctx.String(flags.LogLevel.Name),
		ctx.String(flags.LogFormat.Name),
		ctx.Bool(flags.LogColor.Name),
	)
	if err != nil {
		return nil, acceptor.NewRuntimeError(fmt.Errorf("failed to configure logging: %w", err))
	}
	log.SetDefault(logger)

	cfg, err := acceptor.NewConfig(ctx, logger, ctx.String(flags.Manifest.Name))
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, acceptor.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	svc, err := acceptor.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, acceptor.NewRuntimeError(fmt.Errorf("failed to create acceptor: %w", err))
	}

	return svc, nil
}

// newLogger builds a geth logger from the log.* flags.
func newLogger(out io.Writer, levelStr, format string, color bool) (log.Logger, error) {
	level, err := levelFromString(levelStr)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "terminal", "":
		handler = log.NewTerminalHandlerWithLevel(out, level, color)
	case "logfmt":
		handler = log.LogfmtHandlerWithLevel(out, level)
	case "json":
		handler = log.JSONHandlerWithLevel(out, level)
	default:
		return nil, fmt.Errorf("unrecognized log format: %q", format)
	}
	return log.NewLogger(handler), nil
}

// levelFromString parses a log level name into a slog level.
func levelFromString(lvlString string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(lvlString)) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return log.LevelInfo, fmt.Errorf("unknown level: %q", lvlString)
	}
}
