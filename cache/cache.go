package cache

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig is returned from New when a construction parameter is
	// outside its valid range.
	ErrInvalidConfig = errors.New("cache: invalid configuration")

	// ErrSerialization is returned from Set when the value cannot be encoded.
	ErrSerialization = errors.New("cache: value cannot be serialized")
)

// Policy selects the eviction strategy applied when the store exceeds its
// byte budget.
type Policy int

const (
	// PolicyLRU evicts entries in ascending order of last access.
	PolicyLRU Policy = iota
	// PolicyLFU evicts entries in ascending order of access count,
	// breaking ties by insertion order.
	PolicyLFU
	// PolicyFIFO evicts entries in ascending order of insertion time,
	// ignoring access history.
	PolicyFIFO
	// PolicyHybrid scores entries by weighted recency and inverse
	// frequency, evicting the oldest-and-least-used first.
	PolicyHybrid
)

func (p Policy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	case PolicyFIFO:
		return "fifo"
	case PolicyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// DefaultTTL is the entry lifetime used when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// DefaultRemoteTimeout bounds every call to the remote tier. Prevents
// indefinite hangs on slow or unresponsive stores.
const DefaultRemoteTimeout = 5 * time.Second

// DefaultMaxMemory is the aggregate byte budget used when none is configured.
const DefaultMaxMemory = 64 << 20

// config holds the resolved engine configuration. Immutable after New.
type config struct {
	ttl                  time.Duration
	maxMemory            int64
	compressionThreshold int
	compressionLevel     int
	policy               Policy
	partitions           int
	l1SizeRatio          float64
	prefetchThreshold    float64
	recencyWeight        float64
	frequencyWeight      float64
	remote               RemoteStore
	remoteTimeout        time.Duration
	remoteFailureLimit   int
	expiryCheck          time.Duration
	telemetry            Telemetry
	logger               *zap.Logger
	hasher               Hasher
}

// Option configures an Engine.
type Option func(*config)

func defaultConfig() config {
	return config{
		ttl:                  DefaultTTL,
		maxMemory:            DefaultMaxMemory,
		compressionThreshold: 1024,
		compressionLevel:     6,
		policy:               PolicyLRU,
		partitions:           8,
		l1SizeRatio:          1.0,
		prefetchThreshold:    0.7,
		recencyWeight:        0.7,
		frequencyWeight:      0.3,
		remoteTimeout:        DefaultRemoteTimeout,
		remoteFailureLimit:   5,
		expiryCheck:          time.Minute,
		telemetry:            nopTelemetry{},
		logger:               zap.NewNop(),
		hasher:               NewXXHasher(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *config) validate() error {
	if c.ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, c.ttl)
	}
	if c.maxMemory <= 0 {
		return fmt.Errorf("%w: max memory must be positive, got %d", ErrInvalidConfig, c.maxMemory)
	}
	if c.compressionThreshold < 0 {
		return fmt.Errorf("%w: compression threshold must be non-negative, got %d", ErrInvalidConfig, c.compressionThreshold)
	}
	if c.compressionLevel < 1 || c.compressionLevel > 9 {
		return fmt.Errorf("%w: compression level must be in [1,9], got %d", ErrInvalidConfig, c.compressionLevel)
	}
	if c.partitions < 1 {
		return fmt.Errorf("%w: partition count must be at least 1, got %d", ErrInvalidConfig, c.partitions)
	}
	if c.l1SizeRatio <= 0 || c.l1SizeRatio > 1 {
		return fmt.Errorf("%w: l1 size ratio must be in (0,1], got %g", ErrInvalidConfig, c.l1SizeRatio)
	}
	if c.prefetchThreshold <= 0 || c.prefetchThreshold > 1 {
		return fmt.Errorf("%w: prefetch threshold must be in (0,1], got %g", ErrInvalidConfig, c.prefetchThreshold)
	}
	if c.recencyWeight < 0 || c.frequencyWeight < 0 || c.recencyWeight+c.frequencyWeight == 0 {
		return fmt.Errorf("%w: hybrid weights must be non-negative and not both zero", ErrInvalidConfig)
	}
	if c.remoteFailureLimit < 1 {
		return fmt.Errorf("%w: remote failure limit must be at least 1, got %d", ErrInvalidConfig, c.remoteFailureLimit)
	}
	if c.expiryCheck <= 0 {
		return fmt.Errorf("%w: expiry check interval must be positive, got %s", ErrInvalidConfig, c.expiryCheck)
	}
	return nil
}

// WithTTL sets the default entry lifetime. Expiry is measured from the last
// access, so a read extends an entry's life. Defaults to DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithMaxMemory sets the aggregate byte budget for the store.
// Defaults to DefaultMaxMemory (64 MiB).
func WithMaxMemory(n int64) Option {
	return func(c *config) { c.maxMemory = n }
}

// WithCompressionThreshold sets the serialized size in bytes above which
// values are compressed before storage. Defaults to 1024.
func WithCompressionThreshold(n int) Option {
	return func(c *config) { c.compressionThreshold = n }
}

// WithCompressionLevel sets the gzip level (1-9) used for values above the
// compression threshold. Defaults to 6.
func WithCompressionLevel(n int) Option {
	return func(c *config) { c.compressionLevel = n }
}

// WithEvictionPolicy selects the eviction strategy. Defaults to PolicyLRU.
func WithEvictionPolicy(p Policy) Option {
	return func(c *config) { c.policy = p }
}

// WithPartitions sets the number of independently locked shards the keyspace
// is split across. Defaults to 8.
func WithPartitions(n int) Option {
	return func(c *config) { c.partitions = n }
}

// WithL1SizeRatio sets the fraction (0,1] of the aggregate byte budget
// available to the in-memory tier. Defaults to 1.0.
func WithL1SizeRatio(r float64) Option {
	return func(c *config) { c.l1SizeRatio = r }
}

// WithPrefetchThreshold sets the fraction (0,1] of an entry's TTL that must
// have elapsed before a read triggers background prefetch of its related
// keys. Defaults to 0.7.
func WithPrefetchThreshold(r float64) Option {
	return func(c *config) { c.prefetchThreshold = r }
}

// WithHybridWeights overrides the recency/frequency weighting used by
// PolicyHybrid. Defaults to 0.7 recency, 0.3 frequency.
func WithHybridWeights(recency, frequency float64) Option {
	return func(c *config) {
		c.recencyWeight = recency
		c.frequencyWeight = frequency
	}
}

// WithRemoteStore attaches a secondary tier. The tier is always best-effort:
// its failures degrade the engine to L1-only behavior, never the operation.
func WithRemoteStore(store RemoteStore) Option {
	return func(c *config) { c.remote = store }
}

// WithRemoteTimeout bounds each call to the remote tier.
// Defaults to DefaultRemoteTimeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *config) { c.remoteTimeout = d }
}

// WithRemoteFailureLimit sets how many consecutive remote failures disable
// the remote tier for the remainder of the session. Defaults to 5.
func WithRemoteFailureLimit(n int) Option {
	return func(c *config) { c.remoteFailureLimit = n }
}

// WithTelemetry attaches a telemetry collaborator. Telemetry never affects
// the outcome of an operation.
func WithTelemetry(t Telemetry) Option {
	return func(c *config) {
		if t != nil {
			c.telemetry = t
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHasher overrides the key hashing strategy used for partition routing.
// Defaults to the xxhash implementation.
func WithHasher(h Hasher) Option {
	return func(c *config) {
		if h != nil {
			c.hasher = h
		}
	}
}

// WithExpiryCheck sets the interval for the background expired entry sweep.
// Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// setOptions holds the per-call options for Set.
type setOptions struct {
	ttl      time.Duration
	pattern  string
	metadata map[string]string
	prefetch []string
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

// WithEntryTTL overrides the engine TTL for this entry.
func WithEntryTTL(d time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = d }
}

// WithPattern registers the key under the given pattern so a later
// InvalidatePattern call removes it.
func WithPattern(p string) SetOption {
	return func(o *setOptions) { o.pattern = p }
}

// WithMetadata attaches opaque metadata to the entry.
func WithMetadata(m map[string]string) SetOption {
	return func(o *setOptions) { o.metadata = m }
}

// WithPrefetchKeys registers related keys that are warmed from the remote
// tier in the background when this key is read near the end of its TTL.
// When no pattern is given via WithPattern, the subscription is keyed by
// the entry's own key.
func WithPrefetchKeys(keys ...string) SetOption {
	return func(o *setOptions) { o.prefetch = keys }
}
