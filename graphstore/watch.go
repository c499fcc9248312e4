package graphstore

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vigraph/vg-server-sub000/errors"
)

// Change is one observed write to a watched key. Deleted is set, with a nil
// Record, when the key was deleted or purged.
type Change struct {
	Key     string
	Record  *Record
	Deleted bool
}

// Watch streams changes to key ("" watches every key) until ctx is done. The
// current value, if any, is delivered first. The channel is closed when the
// watch ends.
func (s *Store) Watch(ctx context.Context, key string) (<-chan Change, error) {
	pattern := key
	if pattern == "" {
		pattern = ">"
	}
	watcher, err := s.kv.Watch(ctx, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "graphstore", "Watch", "start watcher")
	}

	out := make(chan Change, 8)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Stop() }()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values.
				if entry == nil {
					continue
				}
				change, ok := s.toChange(entry)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) toChange(entry jetstream.KeyValueEntry) (Change, bool) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Change{Key: entry.Key(), Deleted: true}, true
	}
	rec, err := decode(entry.Value(), entry.Revision())
	if err != nil {
		s.logger.Warn("skipping undecodable graph", "key", entry.Key(), "revision", entry.Revision(), "error", err)
		return Change{}, false
	}
	return Change{Key: entry.Key(), Record: rec}, true
}
