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
	"fmt"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/spf13/cobra"
)

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a call graph built from a source or loaded from a snapshot",
	}
	cmd.AddCommand(
		newQueryReachableCmd(a),
		newQueryCallersCmd(a),
		newQueryCalleesCmd(a),
		newQueryDeadCmd(a),
		newQueryPageRankCmd(a),
		newQueryDevRankCmd(a),
		newQueryPathCmd(a),
	)
	return cmd
}

func newQueryReachableCmd(a *app) *cobra.Command {
	gf := &graphFlags{}
	cmd := &cobra.Command{
		Use:   "reachable METHOD_ID",
		Short: "Report whether a method is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(cmd.Context(), gf, nil)
			if err != nil {
				return err
			}
			if g.IsReachableID(args[0]) {
				fmt.Fprintln(a.out, a.style.ok.Render("reachable")+" "+args[0])
			} else {
				fmt.Fprintln(a.out, a.style.warn.Render("unreachable")+" "+args[0])
			}
			return nil
		},
	}
	gf.register(cmd)
	return cmd
}

func newQueryCallersCmd(a *app) *cobra.Command {
	gf := &graphFlags{}
	var sites bool
	cmd := &cobra.Command{
		Use:   "callers METHOD_ID",
		Short: "List the methods, or with --sites the call sites, that call a method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(cmd.Context(), gf, nil)
			if err != nil {
				return err
			}
			if !sites {
				a.printList(g.CallerMethodsOf(args[0]), "no callers")
				return nil
			}
			var ids []string
			for _, s := range g.CallersOfID(args[0]) {
				ids = append(ids, s.ID)
			}
			a.printList(ids, "no call sites")
			return nil
		},
	}
	gf.register(cmd)
	cmd.Flags().BoolVar(&sites, "sites", false, "List call site IDs instead of methods")
	return cmd
}

func newQueryCalleesCmd(a *app) *cobra.Command {
	gf := &graphFlags{}
	var site bool
	cmd := &cobra.Command{
		Use:   "callees ID",
		Short: "List the methods a method calls, or with --site the targets of a call site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(cmd.Context(), gf, nil)
			if err != nil {
				return err
			}
			if !site {
				a.printList(g.CalleeMethodsOf(args[0]), "no callees")
				return nil
			}
			if _, ok := g.Site(args[0]); !ok {
				return fmt.Errorf("call site not in graph: %s", args[0])
			}
			var ids []string
			for _, n := range g.CalleesOfSite(args[0]) {
				ids = append(ids, n.ID)
			}
			a.printList(ids, "no targets")
			return nil
		},
	}
	gf.register(cmd)
	cmd.Flags().BoolVar(&site, "site", false, "Treat ID as a call site")
	return cmd
}

func newQueryDeadCmd(a *app) *cobra.Command {
	gf := &graphFlags{}
	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List methods of the program that are never reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.loadGraph(cmd.Context(), gf, nil)
			if err != nil {
				return err
			}
			a.printList(g.DeadMethods(), "no dead methods")
			return nil
		},
	}
	gf.register(cmd)
	return cmd
}

func newQueryPageRankCmd(a *app) *cobra.Command {
	return newQueryRankCmd(a, "pagerank", "Rank reachable methods by PageRank", (*graph.CallGraph).TopRanked)
}

func newQueryDevRankCmd(a *app) *cobra.Command {
	return newQueryRankCmd(a, "devrank", "Rank reachable methods by DevRank, weighted by method size", (*graph.CallGraph).TopDevRanked)
}

func newQueryRankCmd(a *app, use, short string, rank func(*graph.CallGraph, int, graph.PageRankOptions) []graph.RankedMethod) *cobra.Command {
	gf := &graphFlags{}
	var (
		top  int
		opts = graph.DefaultPageRankOptions()
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.loadGraph(cmd.Context(), gf, nil)
			if err != nil {
				return err
			}
			a.printRanked(rank(g, top, opts))
			return nil
		},
	}
	gf.register(cmd)
	registerRankFlags(cmd, &top, &opts)
	return cmd
}

func registerRankFlags(cmd *cobra.Command, top *int, opts *graph.PageRankOptions) {
	f := cmd.Flags()
	f.IntVar(top, "top", 10, "Number of methods to print; 0 prints all")
	f.Float64Var(&opts.Alpha, "alpha", opts.Alpha, "Damping factor")
	f.Float64Var(&opts.Epsilon, "epsilon", opts.Epsilon, "L1 convergence threshold")
	f.IntVar(&opts.MaxIterations, "max-iterations", opts.MaxIterations, "Power iteration bound")
}

func (a *app) printRanked(ranked []graph.RankedMethod) {
	for _, r := range ranked {
		fmt.Fprintf(a.out, "%s  %s\n", a.style.value.Render(fmt.Sprintf("%.6f", r.Score)), r.ID)
	}
}

func newQueryPathCmd(a *app) *cobra.Command {
	gf := &graphFlags{}
	cmd := &cobra.Command{
		Use:   "path FROM_ID TO_ID",
		Short: "Print a shortest call chain between two methods",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(cmd.Context(), gf, nil)
			if err != nil {
				return err
			}
			chain := g.CallChain(args[0], args[1])
			if chain == nil {
				fmt.Fprintln(a.out, a.style.warn.Render("no path"))
				return nil
			}
			for i, id := range chain {
				prefix := "   "
				if i > 0 {
					prefix = "-> "
				}
				fmt.Fprintln(a.out, prefix+id)
			}
			return nil
		},
	}
	gf.register(cmd)
	return cmd
}
