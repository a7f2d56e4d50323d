// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callscope builds, queries, exports and serves static call graphs.
//
// Usage:
//
//	callscope build --model app.yaml --dot app.dot
//	callscope build --java ./src --snapshot --label nightly
//	callscope build --go ./myrepo --algorithm cha --neo4j
//	callscope query dead --model app.yaml
//	callscope diff <base-snapshot> <target-snapshot>
//	callscope serve --config callscope.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	trace      bool

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
	style  styles

	shutdownTracing func(context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, newStyles(os.Stderr).err.Render("Error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}

// newRootCmd assembles the command tree writing to out and errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: &lockedWriter{w: out}, errOut: errOut, style: newStyles(out)}

	root := &cobra.Command{
		Use:           "callscope",
		Short:         "Static call graph construction with RTA and CHA",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdownTracing != nil {
				return a.shutdownTracing(context.Background())
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration merged over the defaults")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.StringVar(&a.logFormat, "log-format", "", "text or json (overrides config)")
	pf.BoolVar(&a.trace, "trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(
		newBuildCmd(a),
		newQueryCmd(a),
		newDiffCmd(a),
		newSnapshotsCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads configuration and installs logging and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(a.errOut, cfg.Logging)
	slog.SetDefault(a.logger)

	if a.trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(a.errOut), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		a.shutdownTracing = tp.Shutdown
	}
	return nil
}

func newLogger(w io.Writer, lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
