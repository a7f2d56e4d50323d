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
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/spf13/cobra"
)

func newDiffCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff BASE_SNAPSHOT TARGET_SNAPSHOT",
		Short: "Compare two stored snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()
			d, err := mgr.Diff(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(d)
			}
			a.printDiff(d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the diff as JSON")
	return cmd
}

func (a *app) printDiff(d *graph.GraphDiff) {
	a.printTitle("%s -> %s", d.BaseID, d.TargetID)
	a.printFields(
		"changes", d.Summary.TotalChanges,
		"change_ratio", fmt.Sprintf("%.3f", d.Summary.ChangeRatio),
	)
	sections := []struct {
		name  string
		items []string
		plus  bool
	}{
		{"methods added", d.NodesAdded, true},
		{"methods removed", d.NodesRemoved, false},
		{"edges added", d.EdgesAdded, true},
		{"edges removed", d.EdgesRemoved, false},
		{"types instantiated", d.TypesInstantiated, true},
		{"types dropped", d.TypesDropped, false},
	}
	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		fmt.Fprintln(a.out, a.style.key.Render(s.name+":"))
		for _, it := range s.items {
			if s.plus {
				fmt.Fprintln(a.out, a.style.ok.Render("  + "+it))
			} else {
				fmt.Fprintln(a.out, a.style.err.Render("  - "+it))
			}
		}
	}
	if len(d.SizeChanges) == 0 {
		return
	}
	ids := make([]string, 0, len(d.SizeChanges))
	for id := range d.SizeChanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintln(a.out, a.style.key.Render("size changes:"))
	for _, id := range ids {
		fmt.Fprintf(a.out, "  %+d %s\n", d.SizeChanges[id], id)
	}
}

func newSnapshotsDevRankCmd(a *app) *cobra.Command {
	var (
		project string
		limit   int
		top     int
		asJSON  bool
		opts    = graph.DefaultPageRankOptions()
	)
	cmd := &cobra.Command{
		Use:   "devrank [SNAPSHOT_ID...]",
		Short: "Split the DevRank of the newest snapshot across the snapshots that built it",
		Long: "Snapshot IDs are taken oldest first. With --project and no IDs, every\n" +
			"snapshot of the project is used in the order it was saved.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && project == "" {
				return errors.New("devrank needs snapshot IDs or --project")
			}
			mgr, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			ids := args
			if len(ids) == 0 {
				metas, err := mgr.List(cmd.Context(), project, limit)
				if err != nil {
					return err
				}
				for i := len(metas) - 1; i >= 0; i-- {
					ids = append(ids, metas[i].SnapshotID)
				}
			}
			attr, err := mgr.AttributeDevRank(cmd.Context(), ids, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(attr)
			}
			a.printTitle("devrank of %s", attr.LatestID)
			methods := attr.Methods
			if top > 0 && top < len(methods) {
				methods = methods[:top]
			}
			a.printRanked(methods)
			fmt.Fprintln(a.out, a.style.key.Render("snapshots:"))
			for _, r := range attr.Revisions {
				fmt.Fprintf(a.out, "  %s  %s %s\n", a.style.value.Render(fmt.Sprintf("%.6f", r.Score)),
					r.ID, a.style.dim.Render(r.Label))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&project, "project", "", "Use every snapshot of this project")
	f.IntVar(&limit, "limit", 0, "Maximum number of project snapshots (0 uses the store default)")
	f.BoolVar(&asJSON, "json", false, "Print the attribution as JSON")
	registerRankFlags(cmd, &top, &opts)
	return cmd
}

func newSnapshotsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage stored snapshots",
	}

	var (
		project string
		limit   int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()
			metas, err := mgr.List(cmd.Context(), project, limit)
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(a.out, a.style.dim.Render("no snapshots"))
				return nil
			}
			for _, m := range metas {
				created := time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339)
				fmt.Fprintf(a.out, "%s  %s  %s  nodes=%d edges=%d %s\n",
					a.style.value.Render(m.SnapshotID), created, m.Algorithm,
					m.NodeCount, m.EdgeCount, a.style.dim.Render(m.Project+" "+m.Label))
			}
			return nil
		},
	}
	list.Flags().StringVar(&project, "project", "", "Only list snapshots of this project")
	list.Flags().IntVar(&limit, "limit", 0, "Maximum number of snapshots (0 uses the store default)")

	del := &cobra.Command{
		Use:   "delete SNAPSHOT_ID...",
		Short: "Delete snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()
			for _, id := range args {
				if err := mgr.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				fmt.Fprintln(a.out, a.style.ok.Render("deleted "+id))
			}
			return nil
		},
	}

	cmd.AddCommand(list, del, newSnapshotsDevRankCmd(a))
	return cmd
}
