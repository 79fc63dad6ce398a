package cache

import (
	"sync"
	"time"
)

const (
	// DefaultPublishRateLimit is the minimum spacing between accepted
	// publishes from one client.
	DefaultPublishRateLimit = 1000 * time.Millisecond
	// DefaultPendingExpiry is how long a spooled HTTP message survives
	// unclaimed before CleanExpiredMessages purges it.
	DefaultPendingExpiry = 120 * time.Second
	// DefaultSweepInterval is how often the background sweep calls
	// CleanExpiredMessages.
	DefaultSweepInterval = 10 * time.Second
)

// Cache is the Device Cache. All state is process-local and non-durable;
// every operation is safe for concurrent use.
type Cache struct {
	mu sync.RWMutex

	byClientID map[string]DeviceSnapshot
	byAuthKey  map[string]DeviceSnapshot

	online map[string]SessionHandle
	mode   map[string]string // clientId -> "mqtt" | "http"

	deviceGroups map[string]map[string]struct{} // clientId -> group names
	groupMembers map[string]map[string]struct{} // group name -> clientIds

	lastPublish map[string]time.Time
	httpActive  map[string]time.Time

	pending map[string][]pendingEntry

	remoteShared map[string][]RemoteSharedDevice // peerBrokerId -> shared devices

	publishRateLimit time.Duration
	pendingExpiry    time.Duration
}

// Options configures timing knobs that otherwise default per spec.
type Options struct {
	PublishRateLimit time.Duration
	PendingExpiry    time.Duration
}

// New constructs an empty Device Cache.
func New(opts Options) *Cache {
	if opts.PublishRateLimit <= 0 {
		opts.PublishRateLimit = DefaultPublishRateLimit
	}
	if opts.PendingExpiry <= 0 {
		opts.PendingExpiry = DefaultPendingExpiry
	}
	return &Cache{
		byClientID:       make(map[string]DeviceSnapshot),
		byAuthKey:        make(map[string]DeviceSnapshot),
		online:           make(map[string]SessionHandle),
		mode:             make(map[string]string),
		deviceGroups:     make(map[string]map[string]struct{}),
		groupMembers:     make(map[string]map[string]struct{}),
		lastPublish:      make(map[string]time.Time),
		httpActive:       make(map[string]time.Time),
		pending:          make(map[string][]pendingEntry),
		remoteShared:     make(map[string][]RemoteSharedDevice),
		publishRateLimit: opts.PublishRateLimit,
		pendingExpiry:    opts.PendingExpiry,
	}
}

// RunSweep blocks, invoking CleanExpiredMessages every interval, until stop
// is closed (a caller can pass a context's Done() channel). The
// broker's app wiring starts this in its own goroutine.
func (c *Cache) RunSweep(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.CleanExpiredMessages()
		}
	}
}
