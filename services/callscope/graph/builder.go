// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/hierarchy"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// BuildStats contains statistics about one construction run.
type BuildStats struct {
	// Iterations is the number of worklist iterations until the fixpoint.
	Iterations int `json:"iterations"`

	// MethodsScanned is the number of method bodies scanned (each once).
	MethodsScanned int `json:"methods_scanned"`

	// SitesResolved is the number of call sites resolved on first scan.
	SitesResolved int `json:"sites_resolved"`

	// ReResolutions is the number of (site, type) pairs re-resolved after a
	// new instantiation.
	ReResolutions int `json:"reresolutions"`

	// ExternalSkipped counts call sites and allocations on external types.
	ExternalSkipped int `json:"external_skipped"`

	// Unresolved is the number of unresolved references found.
	Unresolved int `json:"unresolved"`

	// DurationMilli is the construction time in milliseconds.
	DurationMilli int64 `json:"duration_milli"`
}

// BuildResult contains the output of a successful build.
type BuildResult struct {
	// Graph is the closed, read-only call graph.
	Graph *CallGraph

	// Stats contains build statistics. Graph.Stats holds the same values.
	Stats BuildStats
}

// Builder constructs call graphs by worklist fixpoint.
//
// Description:
//
//	The fixpoint alternates two phases per iteration. A scan phase, which
//	may run on several goroutines, resolves every call site of a batch of
//	newly reachable methods against the current instantiation set. An apply
//	phase, always serial, records edges, marks callees reachable,
//	instantiates allocated types, and schedules re-resolution of indexed
//	virtual call sites whose receiver type is an ancestor of a newly
//	instantiated type. Construction ends when the worklist is empty and no
//	re-resolution is pending.
//
// Thread Safety:
//
//	A Builder holds only options and may be shared. Each Build call uses
//	its own state.
type Builder struct {
	options BuilderOptions
}

// NewBuilder creates a builder with the given options applied over
// DefaultBuilderOptions.
func NewBuilder(opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Builder{options: options}
}

// Options returns the effective options.
func (b *Builder) Options() BuilderOptions {
	return b.options
}

// BuildCallGraph builds the hierarchy of p and then its call graph.
//
// Description:
//
//	Convenience wrapper for hierarchy.New followed by Builder.Build.
//	Programs implementing model.Validator are validated first. A
//	*hierarchy.HierarchyError aborts construction and is returned as is.
//
// Inputs:
//
//	ctx - Context for cancellation, checked between iterations.
//	p - The program model.
//	entryPoints - Method IDs assumed reachable.
//	opts - Builder options.
//
// Outputs:
//
//	*BuildResult - The closed call graph. Nil on error.
//	error - model.ErrInvalidProgram, HierarchyError, joined
//	UnresolvedReferenceErrors, or another construction error.
func BuildCallGraph(ctx context.Context, p model.Program, entryPoints []string, opts ...BuilderOption) (*BuildResult, error) {
	b := NewBuilder(opts...)
	start := time.Now()
	if v, ok := p.(model.Validator); ok {
		if err := v.Validate(); err != nil {
			recordBuildMetrics(b.options.Algorithm, time.Since(start), BuildStats{}, 0, err)
			return nil, err
		}
	}
	h, err := hierarchy.New(p)
	if err != nil {
		recordBuildMetrics(b.options.Algorithm, time.Since(start), BuildStats{}, 0, err)
		return nil, err
	}
	return b.Build(ctx, h, entryPoints)
}

// Build computes the call graph of h reachable from entryPoints.
//
// Description:
//
//	Seeds the entry points (and the static initializers of their classes),
//	then runs the fixpoint described on Builder. Unresolved references are
//	collected for the whole run and returned together; no partial graph is
//	ever returned.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	h - The type hierarchy. Must not be nil.
//	entryPoints - Method IDs of the form "Owner:name(params):ret". Must
//	not be empty.
//
// Outputs:
//
//	*BuildResult - The closed call graph and statistics.
//	error - ErrNilContext, ErrNilHierarchy, ErrNoEntryPoints, ErrUnknownEntryPoint, ErrIterationLimit,
//	a context error, or errors.Join of *UnresolvedReferenceError values
//	sorted by site ID.
//
// Thread Safety:
//
//	Safe to call concurrently on the same Builder.
func (b *Builder) Build(ctx context.Context, h *hierarchy.Hierarchy, entryPoints []string) (*BuildResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if h == nil {
		return nil, ErrNilHierarchy
	}

	ctx, span := startBuildSpan(ctx, b.options.Algorithm, len(entryPoints), b.options.Workers)
	defer span.End()

	start := time.Now()
	state := newBuildState(h, b.options)

	graph, err := b.run(ctx, state, entryPoints)
	state.stats.DurationMilli = time.Since(start).Milliseconds()

	nodes, edges := len(state.reachable), len(state.edges)
	setBuildSpanResult(span, state.stats, nodes, edges, err)
	recordBuildMetrics(b.options.Algorithm, time.Since(start), state.stats, nodes, err)

	if err != nil {
		b.options.Logger.Warn("call graph build failed",
			slog.String("algorithm", string(b.options.Algorithm)),
			slog.String("error_type", classifyBuildError(err)),
			slog.Int("unresolved", state.stats.Unresolved),
			slog.Any("error", err),
		)
		return nil, err
	}

	graph.Stats = state.stats
	b.options.Logger.Info("call graph built",
		slog.String("run_id", graph.RunID),
		slog.String("algorithm", string(b.options.Algorithm)),
		slog.Int("reachable", nodes),
		slog.Int("edges", edges),
		slog.Int("instantiated", state.inst.Len()),
		slog.Int("iterations", state.stats.Iterations),
		slog.Int64("duration_ms", state.stats.DurationMilli),
	)
	return &BuildResult{Graph: graph, Stats: state.stats}, nil
}

// run executes seed, fixpoint, and freeze.
func (b *Builder) run(ctx context.Context, s *buildState, entryPoints []string) (*CallGraph, error) {
	if err := b.seedPhase(ctx, s, entryPoints); err != nil {
		return nil, err
	}
	if err := b.fixpointPhase(ctx, s); err != nil {
		return nil, err
	}
	if len(s.unresolved) > 0 {
		return nil, s.unresolvedError()
	}
	return s.freeze(b.options.Algorithm, entryPoints), nil
}

// seedPhase marks the entry points reachable.
func (b *Builder) seedPhase(ctx context.Context, s *buildState, entryPoints []string) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "CallGraphBuilder.seed",
		trace.WithAttributes(attribute.Int("entry_points", len(entryPoints))),
	)
	defer span.End()

	if len(entryPoints) == 0 {
		return ErrNoEntryPoints
	}

	var errs []error
	for _, id := range entryPoints {
		m, ok := s.h.Method(id)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownEntryPoint, id))
			continue
		}
		s.entryPoints[id] = true
		s.markReachable(m)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	b.options.Logger.Debug("seeded worklist",
		slog.Int("entry_points", len(entryPoints)),
		slog.Int("worklist", len(s.worklist)),
	)
	return nil
}

// fixpointPhase runs iterations until the worklist and pending queue drain.
func (b *Builder) fixpointPhase(ctx context.Context, s *buildState) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CallGraphBuilder.fixpoint")
	defer span.End()

	for len(s.worklist) > 0 || len(s.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("call graph build canceled: %w", err)
		}
		s.stats.Iterations++
		if b.options.MaxIterations > 0 && s.stats.Iterations > b.options.MaxIterations {
			return fmt.Errorf("%w: %d", ErrIterationLimit, b.options.MaxIterations)
		}

		if len(s.worklist) > 0 {
			n := b.options.BatchSize
			if n > len(s.worklist) {
				n = len(s.worklist)
			}
			batch := make([]*model.MethodDecl, n)
			copy(batch, s.worklist[:n])
			s.worklist = s.worklist[n:]

			results, err := b.scanBatch(ctx, s, batch)
			if err != nil {
				return err
			}
			s.apply(results)
		}

		s.drainPending()

		if b.options.Progress != nil {
			b.options.Progress(s.progress())
		}
	}

	span.SetAttributes(
		attribute.Int("iterations", s.stats.Iterations),
		attribute.Int("reresolutions", s.stats.ReResolutions),
	)
	return nil
}

// scanBatch resolves every instruction of batch against the current state.
// With more than one worker the methods are scanned concurrently; results
// keep batch order so the apply phase is deterministic.
func (b *Builder) scanBatch(ctx context.Context, s *buildState, batch []*model.MethodDecl) ([]scanResult, error) {
	results := make([]scanResult, len(batch))
	s.stats.MethodsScanned += len(batch)

	if b.options.Workers <= 1 || len(batch) == 1 {
		for i, m := range batch {
			results[i] = s.scan(m)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.options.Workers)
	for i, m := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.scan(m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanning worklist batch: %w", err)
	}
	return results, nil
}

// =============================================================================
// Build state
// =============================================================================

type edgeKey struct {
	site   string
	callee string
}

type pendingSite struct {
	site *model.CallSite
	typ  string
}

type resolvedCall struct {
	site     *model.CallSite
	targets  []*model.MethodDecl
	external bool
	err      error
}

type checkedAlloc struct {
	alloc       *model.AllocationSite
	instantiate bool
	err         error
}

type scanResult struct {
	method *model.MethodDecl
	calls  []resolvedCall
	allocs []checkedAlloc
}

// buildState holds mutable state for one Build call.
type buildState struct {
	h        *hierarchy.Hierarchy
	resolver *Resolver
	options  BuilderOptions
	inst     *InstantiationSet

	reachable   map[string]*model.MethodDecl
	entryPoints map[string]bool
	worklist    []*model.MethodDecl
	pending     []pendingSite

	// sitesByReceiver indexes virtual sites by static receiver type.
	sitesByReceiver map[string][]*model.CallSite
	sites           map[string]*model.CallSite
	edges           map[edgeKey]*Edge
	touched         map[string]bool
	unresolved      map[string]error

	stats BuildStats
}

func newBuildState(h *hierarchy.Hierarchy, options BuilderOptions) *buildState {
	return &buildState{
		h:               h,
		resolver:        NewResolver(h, options.Algorithm, options.ExternalTypes, options.ExternalPrefixes),
		options:         options,
		inst:            NewInstantiationSet(),
		reachable:       make(map[string]*model.MethodDecl),
		entryPoints:     make(map[string]bool),
		sitesByReceiver: make(map[string][]*model.CallSite),
		sites:           make(map[string]*model.CallSite),
		edges:           make(map[edgeKey]*Edge),
		touched:         make(map[string]bool),
		unresolved:      make(map[string]error),
	}
}

// scan resolves the instructions of m without mutating state.
func (s *buildState) scan(m *model.MethodDecl) scanResult {
	res := scanResult{method: m}
	for _, ins := range m.Body {
		switch x := ins.(type) {
		case *model.CallSite:
			rc := resolvedCall{site: x}
			if s.resolver.IsExternal(s.resolver.ReceiverType(x)) {
				rc.external = true
			} else {
				rc.targets, rc.err = s.resolver.Resolve(x, s.inst)
			}
			res.calls = append(res.calls, rc)
		case *model.AllocationSite:
			ok, err := s.resolver.CheckAllocation(x)
			res.allocs = append(res.allocs, checkedAlloc{alloc: x, instantiate: ok, err: err})
		}
	}
	return res
}

// apply folds scan results into the state in batch order.
func (s *buildState) apply(results []scanResult) {
	// Index first so instantiations below re-resolve sites of this batch too.
	for _, r := range results {
		for _, c := range r.calls {
			s.registerSite(c)
		}
	}

	for _, r := range results {
		for _, c := range r.calls {
			switch {
			case c.external:
				s.stats.ExternalSkipped++
			case c.err != nil:
				s.recordUnresolved(c.site.ID, c.err)
			default:
				s.stats.SitesResolved++
				for _, t := range c.targets {
					s.addEdge(c.site, t)
				}
			}
		}
	}

	for _, r := range results {
		for _, a := range r.allocs {
			switch {
			case a.err != nil:
				s.recordUnresolved(a.alloc.ID, a.err)
			case a.instantiate:
				s.instantiate(a.alloc.Type)
			default:
				s.stats.ExternalSkipped++
			}
		}
		for _, c := range r.calls {
			if c.site.Kind == model.CallConstructor && !c.external && c.err == nil {
				s.instantiate(s.resolver.ReceiverType(c.site))
			}
		}
	}
}

// registerSite records a call site and indexes it for re-resolution.
func (s *buildState) registerSite(c resolvedCall) {
	s.sites[c.site.ID] = c.site
	if c.external || c.err != nil || s.options.Algorithm != AlgorithmRTA {
		return
	}
	if c.site.Kind != model.CallVirtual {
		return
	}
	recv := s.resolver.ReceiverType(c.site)
	s.sitesByReceiver[recv] = append(s.sitesByReceiver[recv], c.site)
}

// markReachable adds m to the reachable set and the worklist.
func (s *buildState) markReachable(m *model.MethodDecl) bool {
	id := m.ID()
	if _, ok := s.reachable[id]; ok {
		return false
	}
	s.reachable[id] = m
	s.worklist = append(s.worklist, m)
	s.touch(m.Owner)
	return true
}

// touch makes the static initializers of class and its superclasses
// reachable the first time the class is used.
func (s *buildState) touch(class string) {
	if !s.options.StaticInitializers {
		return
	}
	chain := append([]string{class}, s.h.Superclasses(class)...)
	for _, name := range chain {
		if s.touched[name] {
			return
		}
		s.touched[name] = true
		c, ok := s.h.Class(name)
		if !ok {
			return
		}
		if init := c.StaticInit(); init != nil {
			s.markReachable(init)
		}
	}
}

// addEdge records (site, callee) and marks callee reachable.
func (s *buildState) addEdge(site *model.CallSite, callee *model.MethodDecl) {
	key := edgeKey{site: site.ID, callee: callee.ID()}
	if _, ok := s.edges[key]; ok {
		return
	}
	s.edges[key] = &Edge{
		SiteID:   site.ID,
		CallerID: site.Caller,
		CalleeID: key.callee,
		Kind:     site.Kind,
		Line:     site.Line,
	}
	s.markReachable(callee)
}

// instantiate adds typ to the instantiation set and schedules re-resolution
// of every indexed site whose receiver is an ancestor of typ.
func (s *buildState) instantiate(typ string) {
	if !s.inst.Add(typ) {
		return
	}
	s.touch(typ)
	for _, anc := range s.h.Ancestors(typ) {
		for _, site := range s.sitesByReceiver[anc] {
			if site.ExactReceiver && anc != typ {
				continue
			}
			s.pending = append(s.pending, pendingSite{site: site, typ: typ})
		}
	}
}

// drainPending re-resolves every pending (site, type) pair.
func (s *buildState) drainPending() {
	for len(s.pending) > 0 {
		p := s.pending[0]
		s.pending = s.pending[1:]
		s.stats.ReResolutions++
		if m, ok := s.resolver.ResolveFor(p.site, p.typ); ok {
			s.addEdge(p.site, m)
		}
	}
}

func (s *buildState) recordUnresolved(siteID string, err error) {
	if _, ok := s.unresolved[siteID]; ok {
		return
	}
	s.unresolved[siteID] = err
	s.stats.Unresolved++
}

// unresolvedError joins the unresolved references sorted by site ID.
func (s *buildState) unresolvedError() error {
	ids := make([]string, 0, len(s.unresolved))
	for id := range s.unresolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, s.unresolved[id])
	}
	return errors.Join(errs...)
}

func (s *buildState) progress() Progress {
	return Progress{
		Iteration:    s.stats.Iterations,
		Reachable:    len(s.reachable),
		Instantiated: s.inst.Len(),
		Edges:        len(s.edges),
		Worklist:     len(s.worklist),
		Pending:      len(s.pending),
	}
}

// freeze converts the state into an immutable CallGraph.
func (s *buildState) freeze(algorithm Algorithm, entryPoints []string) *CallGraph {
	nodes := make([]*Node, 0, len(s.reachable))
	for id, m := range s.reachable {
		nodes = append(nodes, &Node{
			ID:         id,
			Owner:      m.Owner,
			Signature:  m.Signature,
			Kind:       m.Kind,
			EntryPoint: s.entryPoints[id],
			Size:       m.Size(),
			Method:     m,
		})
	}
	edges := make([]*Edge, 0, len(s.edges))
	for _, e := range s.edges {
		edges = append(edges, e)
	}
	sites := make([]*model.CallSite, 0, len(s.sites))
	for _, site := range s.sites {
		sites = append(sites, site)
	}
	return newCallGraph(graphParts{
		algorithm:    algorithm,
		entryPoints:  entryPoints,
		nodes:        nodes,
		sites:        sites,
		edges:        edges,
		instantiated: s.inst.Types(),
		universe:     s.h.MethodIDs(),
	})
}
