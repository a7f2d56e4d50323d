// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot persists finished call graphs in BadgerDB so they can be
// queried and diffed later. Snapshots are never fed back into a build.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/config"
	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "callscope.snapshot"

// BadgerDB key layout.
const (
	keyPrefixSnap      = "callscope:snap:"
	keyPrefixSnapIndex = "callscope:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// defaultListLimit applies when List is called without a limit.
const defaultListLimit = 100

var (
	// ErrNotFound is returned for an unknown snapshot or project.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrIntegrity is returned when stored content does not match its hash.
	ErrIntegrity = errors.New("snapshot: integrity check failed")

	// ErrInvalidArgument is returned for nil or empty arguments.
	ErrInvalidArgument = errors.New("snapshot: invalid argument")
)

// Metadata describes a saved snapshot.
type Metadata struct {
	// SnapshotID is SHA256(Project + ":" + RunID)[:16].
	SnapshotID string `json:"snapshot_id"`

	// Project names what was analysed, typically a path or repository.
	Project string `json:"project"`

	// ProjectHash is SHA256(Project)[:16] and groups keys by project.
	ProjectHash string `json:"project_hash"`

	RunID     string          `json:"run_id"`
	Algorithm graph.Algorithm `json:"algorithm"`

	// GraphHash is CallGraph.Hash of the stored graph.
	GraphHash string `json:"graph_hash"`

	Label string `json:"label,omitempty"`

	CreatedAtMilli int64 `json:"created_at_milli"`
	NodeCount      int   `json:"node_count"`
	EdgeCount      int   `json:"edge_count"`

	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the gzip payload.
	ContentHash string `json:"content_hash"`
}

// Open opens the BadgerDB described by cfg. Badger's own logging is
// disabled.
func Open(cfg config.StorageConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening store: %w", err)
	}
	return db, nil
}

// Manager saves and loads call graph snapshots.
//
// Description:
//
//	Each snapshot is the SerializableCallGraph as gzip-compressed JSON plus
//	a metadata record. Keys:
//
//	  callscope:snap:{projectHash}:{snapshotID}:data -> gzip(JSON(graph))
//	  callscope:snap:{projectHash}:{snapshotID}:meta -> JSON(Metadata)
//	  callscope:snap:{projectHash}:latest            -> snapshotID
//	  callscope:snap:index:{snapshotID}              -> projectHash
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Manager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewManager creates a Manager over an opened database. The caller closes
// the database.
func NewManager(db *badger.DB, logger *slog.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: badger db must not be nil", ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, logger: logger.With(slog.String("component", "snapshot_manager"))}, nil
}

// Save stores g as the newest snapshot of project.
//
// Inputs:
//
//	ctx - Tracing and cancellation context.
//	g - A finished graph. Must not be nil.
//	project - Groups snapshots; must not be empty.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*Metadata - The stored metadata.
//	error - ErrInvalidArgument, or a serialization or storage failure.
func (m *Manager) Save(ctx context.Context, g *graph.CallGraph, project, label string) (meta *Metadata, err error) {
	ctx, span := m.start(ctx, "SnapshotStore.Save", attribute.String("snapshot.project", project))
	defer func() { m.finish(span, "save", err) }()

	if g == nil {
		return nil, fmt.Errorf("%w: graph must not be nil", ErrInvalidArgument)
	}
	if project == "" {
		return nil, fmt.Errorf("%w: project must not be empty", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg := g.ToSerializable()
	jsonData, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshaling graph: %w", err)
	}
	compressed, err := compress(jsonData)
	if err != nil {
		return nil, err
	}

	projectHash := ProjectHash(project)
	snapshotID := hashString(project + ":" + g.RunID)[:16]
	meta = &Metadata{
		SnapshotID:     snapshotID,
		Project:        project,
		ProjectHash:    projectHash,
		RunID:          g.RunID,
		Algorithm:      g.Algorithm,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		SchemaVersion:  graph.GraphSchemaVersion,
		CompressedSize: int64(len(compressed)),
		ContentHash:    hashBytes(compressed),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey(projectHash, snapshotID)), compressed); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey(projectHash, snapshotID)), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey(projectHash)), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnapIndex+snapshotID), []byte(projectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: writing %s: %w", snapshotID, err)
	}

	span.SetAttributes(
		attribute.String("snapshot.id", snapshotID),
		attribute.Int64("snapshot.compressed_size", meta.CompressedSize),
	)
	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("project", project),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load restores a snapshot by ID. The restored graph answers every query
// but its nodes carry no method declarations.
func (m *Manager) Load(ctx context.Context, snapshotID string) (g *graph.CallGraph, meta *Metadata, err error) {
	_, span := m.start(ctx, "SnapshotStore.Load", attribute.String("snapshot.id", snapshotID))
	defer func() { m.finish(span, "load", err) }()

	if snapshotID == "" {
		return nil, nil, fmt.Errorf("%w: snapshot ID must not be empty", ErrInvalidArgument)
	}
	projectHash, err := m.projectHashOf(snapshotID)
	if err != nil {
		return nil, nil, err
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// LoadLatest restores the newest snapshot of project.
func (m *Manager) LoadLatest(ctx context.Context, project string) (g *graph.CallGraph, meta *Metadata, err error) {
	_, span := m.start(ctx, "SnapshotStore.LoadLatest", attribute.String("snapshot.project", project))
	defer func() { m.finish(span, "load_latest", err) }()

	if project == "" {
		return nil, nil, fmt.Errorf("%w: project must not be empty", ErrInvalidArgument)
	}
	projectHash := ProjectHash(project)
	snapshotID, err := m.getString(latestKey(projectHash))
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest snapshot of %s: %w", project, err)
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// List returns snapshot metadata, newest first. An empty project lists
// every project. A non-positive limit means 100.
func (m *Manager) List(ctx context.Context, project string, limit int) (out []*Metadata, err error) {
	_, span := m.start(ctx, "SnapshotStore.List", attribute.String("snapshot.project", project))
	defer func() { m.finish(span, "list", err) }()

	if limit <= 0 {
		limit = defaultListLimit
	}
	prefix := keyPrefixSnap
	if project != "" {
		prefix = keyPrefixSnap + ProjectHash(project) + ":"
	}

	err = m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) || strings.HasPrefix(key, keyPrefixSnapIndex) {
				continue
			}
			var meta Metadata
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.String("error", err.Error()))
				continue
			}
			out = append(out, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: listing: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMilli != out[j].CreatedAtMilli {
			return out[i].CreatedAtMilli > out[j].CreatedAtMilli
		}
		return out[i].SnapshotID < out[j].SnapshotID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a snapshot. If it was the project's latest, the latest
// pointer is removed too.
func (m *Manager) Delete(ctx context.Context, snapshotID string) (err error) {
	_, span := m.start(ctx, "SnapshotStore.Delete", attribute.String("snapshot.id", snapshotID))
	defer func() { m.finish(span, "delete", err) }()

	if snapshotID == "" {
		return fmt.Errorf("%w: snapshot ID must not be empty", ErrInvalidArgument)
	}
	projectHash, err := m.projectHashOf(snapshotID)
	if err != nil {
		return err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{
			dataKey(projectHash, snapshotID),
			metaKey(projectHash, snapshotID),
			keyPrefixSnapIndex + snapshotID,
		} {
			if err := txn.Delete([]byte(key)); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get([]byte(latestKey(projectHash)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		latest, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(latest) == snapshotID {
			return txn.Delete([]byte(latestKey(projectHash)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot: deleting %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// Diff loads two snapshots and compares their graphs.
func (m *Manager) Diff(ctx context.Context, baseID, targetID string) (*graph.GraphDiff, error) {
	base, _, err := m.Load(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("loading base: %w", err)
	}
	target, _, err := m.Load(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading target: %w", err)
	}
	return graph.DiffGraphs(base, target, baseID, targetID)
}

// AttributeDevRank loads snapshots, oldest first, and splits the DevRank of
// the last one across them. Snapshot labels carry through to the result.
func (m *Manager) AttributeDevRank(ctx context.Context, snapshotIDs []string, opts graph.PageRankOptions) (attr *graph.Attribution, err error) {
	ctx, span := m.start(ctx, "SnapshotStore.AttributeDevRank", attribute.Int("snapshot.count", len(snapshotIDs)))
	defer func() { m.finish(span, "attribute_devrank", err) }()

	if len(snapshotIDs) == 0 {
		return nil, fmt.Errorf("%w: no snapshot IDs", ErrInvalidArgument)
	}
	revisions := make([]graph.Revision, 0, len(snapshotIDs))
	for _, id := range snapshotIDs {
		g, meta, err := m.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", id, err)
		}
		revisions = append(revisions, graph.Revision{ID: id, Label: meta.Label, Graph: g})
	}
	return graph.AttributeDevRank(revisions, opts)
}

// =============================================================================
// Internals
// =============================================================================

func (m *Manager) loadByKeys(projectHash, snapshotID string) (*graph.CallGraph, *Metadata, error) {
	var compressed, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if compressed, err = valueCopy(txn, dataKey(projectHash, snapshotID)); err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
		if metaJSON, err = valueCopy(txn, metaKey(projectHash, snapshotID)); err != nil {
			return fmt.Errorf("reading metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: unmarshaling metadata: %w", snapshotID, err)
	}
	if actual := hashBytes(compressed); meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("%w: %s: expected %s, got %s", ErrIntegrity, snapshotID, meta.ContentHash, actual)
	}

	jsonData, err := decompress(compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	var sg graph.SerializableCallGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: unmarshaling graph: %w", snapshotID, err)
	}
	g, err := graph.FromSerializable(&sg)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

func (m *Manager) projectHashOf(snapshotID string) (string, error) {
	hash, err := m.getString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		return "", fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return hash, nil
}

// getString reads a small value. A missing key is ErrNotFound.
func (m *Manager) getString(key string) (string, error) {
	var out string
	err := m.db.View(func(txn *badger.Txn) error {
		val, err := valueCopy(txn, key)
		out = string(val)
		return err
	})
	return out, err
}

func valueCopy(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (m *Manager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func (m *Manager) finish(span trace.Span, op string, err error) {
	recordSnapshotMetrics(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("snapshot: compressing: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

func dataKey(projectHash, snapshotID string) string {
	return keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixData
}

func metaKey(projectHash, snapshotID string) string {
	return keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixMeta
}

func latestKey(projectHash string) string {
	return keyPrefixSnap + projectHash + keySuffixLatest
}

// ProjectHash returns SHA256(project)[:16], the key prefix of a project.
func ProjectHash(project string) string {
	return hashString(project)[:16]
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
