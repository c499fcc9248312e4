package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vigraph/vg-server-sub000/errors"
	"github.com/vigraph/vg-server-sub000/tick"
	"github.com/vigraph/vg-server-sub000/value"
)

// SubjectPrefix is the NATS subject prefix for mirrored channels
const SubjectPrefix = "vigraph.channel."

// Transport is the messaging surface the bridge needs; *natsclient.Client
// satisfies it.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

type envelope struct {
	Origin  string      `msgpack:"o"`
	Channel string      `msgpack:"c"`
	Value   value.Value `msgpack:"v"`
}

// Bridge mirrors committed channel values to NATS and injects values
// published by other engines at the start of the next local tick.
type Bridge struct {
	router    *Router
	transport Transport
	origin    string
	logger    *slog.Logger
	allow     map[string]bool

	mu       sync.Mutex
	pending  map[string]value.Value
	injected map[string]value.Value
	ctx      context.Context
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithChannels limits the bridge to the named channels
func WithChannels(names ...string) BridgeOption {
	return func(b *Bridge) {
		b.allow = make(map[string]bool, len(names))
		for _, n := range names {
			b.allow[n] = true
		}
	}
}

// WithBridgeLogger sets the bridge logger
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// NewBridge creates a bridge between r and a transport
func NewBridge(r *Router, transport Transport, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		router:    r,
		transport: transport,
		origin:    uuid.NewString(),
		logger:    slog.Default(),
		pending:   make(map[string]value.Value),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "router-bridge")
	return b
}

// Start subscribes to remote channel values and hooks into the router
func (b *Bridge) Start(ctx context.Context) error {
	if b.transport == nil {
		return errors.WrapFatal(errors.ErrNoConnection, "Bridge", "Start", "transport check")
	}
	if err := b.transport.Subscribe(ctx, SubjectPrefix+">", b.receive); err != nil {
		return errors.WrapTransient(err, "Bridge", "Start", "subscribe")
	}

	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.router.AddSource(b)
	b.router.OnCommit(b.commit)
	return nil
}

func (b *Bridge) mirrored(name string) bool {
	if strings.ContainsAny(name, ".*> \t\r\n") {
		return false
	}
	return b.allow == nil || b.allow[name]
}

// commit publishes a locally committed value
func (b *Bridge) commit(name string, v value.Value) {
	if !b.mirrored(name) {
		return
	}
	b.mu.Lock()
	remote, ok := b.injected[name]
	b.mu.Unlock()
	if ok && remote.Equal(v) {
		// committed value came from another engine
		return
	}
	data, err := msgpack.Marshal(&envelope{Origin: b.origin, Channel: name, Value: v})
	if err != nil {
		b.logger.Warn("encode channel value", "channel", name, "error", err)
		return
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := b.transport.Publish(ctx, SubjectPrefix+name, data); err != nil {
		b.logger.Debug("publish channel value", "channel", name, "error", err)
	}
}

func (b *Bridge) receive(_ context.Context, data []byte) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		b.logger.Warn("decode channel value", "error", err)
		return
	}
	if env.Origin == b.origin || !b.mirrored(env.Channel) {
		return
	}

	b.mu.Lock()
	if old, ok := b.pending[env.Channel]; ok {
		old.Release()
	}
	b.pending[env.Channel] = env.Value
	b.mu.Unlock()
}

// Inject publishes the latest remote value of each channel at the root
// position
func (b *Bridge) Inject(r *Router) {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]value.Value)
	for _, v := range b.injected {
		v.Release()
	}
	b.injected = pending
	b.mu.Unlock()

	for name, v := range pending {
		if err := r.Publish(tick.Position{}, name, v); err != nil {
			b.logger.Warn("inject remote value", "channel", name, "error", err)
		}
	}
}
