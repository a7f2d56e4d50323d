// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"

	"github.com/AleutianAI/callscope/services/callscope"
	"github.com/AleutianAI/callscope/services/callscope/snapshot"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr        string
		noSnapshots bool
		debug       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			var mgr *snapshot.Manager
			if !noSnapshots {
				m, closeStore, err := a.openStore()
				if err != nil {
					// The service still builds and queries without a store.
					a.logger.Warn("snapshot store unavailable, snapshot routes disabled",
						slog.String("path", a.cfg.Storage.Path),
						slog.String("error", err.Error()),
					)
				} else {
					defer closeStore()
					mgr = m
				}
			}

			svc, err := callscope.NewService(a.cfg, mgr, a.logger)
			if err != nil {
				return err
			}
			return callscope.Serve(cmd.Context(), svc)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	f.BoolVar(&noSnapshots, "no-snapshots", false, "Run without a snapshot store")
	f.BoolVar(&debug, "debug", false, "Enable gin debug mode")
	return cmd
}
