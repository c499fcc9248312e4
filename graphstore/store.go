// Package graphstore persists graph descriptions in a NATS KV bucket with
// optimistic versioning, and streams changes so a running engine can reload.
package graphstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vigraph/vg-server-sub000/description"
	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/natsclient"
)

// DefaultBucket is used when no bucket name is configured.
const DefaultBucket = "vigraph_graphs"

// Record is one stored graph description.
type Record struct {
	Key       string             `json:"key"`
	Version   int64              `json:"version"`
	Graph     *description.Graph `json:"graph"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`

	revision uint64
}

// Revision is the KV revision the record was read at.
func (r *Record) Revision() uint64 { return r.revision }

// Store provides persistence for graph descriptions using NATS KV
type Store struct {
	kv     *natsclient.KVStore
	bucket string
	logger *slog.Logger
}

// New opens (creating if needed) the bucket and returns a store on it.
func New(ctx context.Context, client *natsclient.Client, bucket string, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "graphstore", "New", "nats client cannot be nil")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	if logger == nil {
		logger = slog.Default()
	}

	kvb, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "vigraph graph descriptions",
		History:     10,
	})
	if err != nil {
		return nil, errors.Wrap(err, "graphstore", "New", "create KV bucket")
	}

	return &Store{
		kv:     client.NewKVStore(kvb),
		bucket: bucket,
		logger: logger.With("component", "graphstore", "bucket", bucket),
	}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

func checkGraph(method string, g *description.Graph) error {
	if g == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "graphstore", method, "graph cannot be nil")
	}
	if err := description.Validate(g); err != nil {
		return errors.WrapInvalid(err, "graphstore", method, "validate graph")
	}
	return nil
}

func checkKey(method, key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "graphstore", method, "key cannot be empty")
	}
	return nil
}

// Create stores a new graph under key; an existing key is a version conflict.
func (s *Store) Create(ctx context.Context, key string, g *description.Graph) (*Record, error) {
	if err := checkKey("Create", key); err != nil {
		return nil, err
	}
	if err := checkGraph("Create", g); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{Key: key, Version: 1, Graph: g, CreatedAt: now, UpdatedAt: now}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.WrapFatal(err, "graphstore", "Create", "marshal record")
	}

	rev, err := s.kv.Create(ctx, key, data)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: graph %q already exists", errors.ErrVersionConflict, key),
				"graphstore", "Create", "create in KV")
		}
		return nil, errors.Wrap(err, "graphstore", "Create", "create in KV")
	}
	rec.revision = rev
	s.logger.Info("graph created", "key", key)
	return rec, nil
}

// Get retrieves the graph stored under key.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	if err := checkKey("Get", key); err != nil {
		return nil, err
	}
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "graphstore", "Get", "get from KV")
	}
	return decode(entry.Value, entry.Revision)
}

// Update replaces the graph if rec.Version is still the stored version. On
// success rec carries the new version.
func (s *Store) Update(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "graphstore", "Update", "record cannot be nil")
	}
	if err := checkKey("Update", rec.Key); err != nil {
		return err
	}
	if err := checkGraph("Update", rec.Graph); err != nil {
		return err
	}

	current, err := s.Get(ctx, rec.Key)
	if err != nil {
		return errors.Wrap(err, "graphstore", "Update", "get current version")
	}
	if current.Version != rec.Version {
		return errors.WrapInvalid(
			fmt.Errorf("%w: expected version %d, stored %d", errors.ErrVersionConflict, rec.Version, current.Version),
			"graphstore", "Update", "check version")
	}

	next := *rec
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(&next)
	if err != nil {
		return errors.WrapFatal(err, "graphstore", "Update", "marshal record")
	}

	// The revision check catches writers that slipped in after our read.
	rev, err := s.kv.Update(ctx, rec.Key, data, current.revision)
	if err != nil {
		return errors.Wrap(err, "graphstore", "Update", "update in KV")
	}
	next.revision = rev
	*rec = next
	s.logger.Info("graph updated", "key", rec.Key, "version", rec.Version)
	return nil
}

// Modify applies fn to the stored graph and writes the result, retrying when
// another writer got there first. A missing key starts from an empty graph.
func (s *Store) Modify(ctx context.Context, key string, fn func(*description.Graph) error) (*Record, error) {
	if err := checkKey("Modify", key); err != nil {
		return nil, err
	}

	var out *Record
	rev, err := s.kv.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
		rec := &Record{Key: key, Graph: &description.Graph{}, CreatedAt: time.Now().UTC()}
		if current != nil {
			var err error
			if rec, err = decode(current, 0); err != nil {
				return nil, err
			}
		}
		if err := fn(rec.Graph); err != nil {
			return nil, err
		}
		if err := checkGraph("Modify", rec.Graph); err != nil {
			return nil, err
		}
		rec.Version++
		rec.UpdatedAt = time.Now().UTC()
		out = rec
		return json.Marshal(rec)
	})
	if err != nil {
		return nil, errors.Wrap(err, "graphstore", "Modify", "update with retry")
	}
	out.revision = rev
	return out, nil
}

// Delete removes the graph stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := checkKey("Delete", key); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "graphstore", "Delete", "delete from KV")
	}
	s.logger.Info("graph deleted", "key", key)
	return nil
}

// List returns every stored graph sorted by key. Keys deleted between the
// listing and the read are skipped.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "graphstore", "List", "list KV keys")
	}
	sort.Strings(keys)

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, errors.ErrKeyNotFound) {
				continue
			}
			return nil, errors.Wrap(err, "graphstore", "List", fmt.Sprintf("get graph %s", key))
		}
		records = append(records, rec)
	}
	return records, nil
}

func decode(data []byte, revision uint64) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err), "graphstore", "decode", "unmarshal record")
	}
	if rec.Graph == nil {
		rec.Graph = &description.Graph{}
	}
	rec.revision = revision
	return &rec, nil
}
