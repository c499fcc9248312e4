package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/pkg/retry"
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries    int           // CAS retries after the first attempt
	RetryDelay    time.Duration // initial delay between CAS retries
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per-operation timeout; 0 disables
	MaxValueSize  int           // 0 disables the check
}

// DefaultKVOptions returns the options used by the graph store.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    10,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  1 << 20,
	}
}

// KVStore wraps a bucket with CAS helpers and classified errors.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket using the client's logger.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

func (kv *KVStore) checkSize(method string, value []byte) error {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d bytes exceeds %d", errors.ErrInvalidData, len(value), kv.options.MaxValueSize),
			"KVStore", method, "size check")
	}
	return nil
}

// Get retrieves a value with its revision. A missing key returns an error
// wrapping errors.ErrKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		return nil, classify(err, "Get", key)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes without a revision check.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize("Put", value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, classify(err, "Put", key)
	}
	kv.logger.Debug("kv put", "key", key, "revision", rev)
	return rev, nil
}

// Create writes only if the key does not exist.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize("Create", value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		return 0, classify(err, "Create", key)
	}
	kv.logger.Debug("kv create", "key", key, "revision", rev)
	return rev, nil
}

// Update writes only if the stored revision still equals revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := kv.checkSize("Update", value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		return 0, classify(err, "Update", key)
	}
	kv.logger.Debug("kv update", "key", key, "from", revision, "to", rev)
	return rev, nil
}

// UpdateWithRetry reads the key, applies fn and writes the result with CAS,
// retrying on conflicts. A missing key is passed to fn as nil and created.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) (uint64, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = kv.options.MaxRetries + 1
	cfg.InitialDelay = kv.options.RetryDelay
	cfg.MaxDelay = kv.options.MaxRetryDelay
	cfg.OnRetry = func(attempt int, err error) {
		kv.logger.Debug("kv cas retry", "key", key, "attempt", attempt, "error", err)
	}

	return retry.DoWithResult(ctx, cfg, func() (uint64, error) {
		var current []byte
		var revision uint64
		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case !stderrors.Is(err, errors.ErrKeyNotFound):
			return 0, err
		}

		next, err := fn(current)
		if err != nil {
			return 0, retry.NonRetryable(err)
		}
		if revision == 0 {
			return kv.Create(ctx, key, next)
		}
		return kv.Update(ctx, key, next, revision)
	})
}

// Delete removes a key from the bucket
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()
	if err := kv.bucket.Delete(ctx, key); err != nil {
		return classify(err, "Delete", key)
	}
	return nil
}

// Keys lists the keys in the bucket; an empty bucket returns nil.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()
	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, classify(err, "Keys", "*")
	}
	return keys, nil
}

// Watch creates a long-lived watcher; it is not bound by the timeout.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern)
	if err != nil {
		return nil, classify(err, "Watch", pattern)
	}
	return watcher, nil
}

// classify maps JetStream KV errors onto the shared sentinels. Conflicts stay
// transient so CAS loops retry them.
func classify(err error, method, key string) error {
	switch {
	case stderrors.Is(err, jetstream.ErrKeyNotFound), stderrors.Is(err, jetstream.ErrKeyDeleted):
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key), "KVStore", method, "lookup")
	case stderrors.Is(err, jetstream.ErrKeyExists), IsKVConflictError(err):
		return errors.WrapTransient(fmt.Errorf("%w: %s: %w", errors.ErrVersionConflict, key, err), "KVStore", method, "cas")
	case stderrors.Is(err, jetstream.ErrInvalidKey):
		return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrInvalidData, key), "KVStore", method, "key check")
	default:
		return errors.WrapTransient(err, "KVStore", method, key)
	}
}

// IsKVConflictError reports a wrong-revision or key-exists failure.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, errors.ErrVersionConflict) || stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
