// Package clock provides the trusted clock: local wall time corrected by a
// network-time offset measured against an NTP server. The offset is refreshed
// by a dedicated background goroutine; readers never block on a sync in
// progress and never observe a partially written offset.
package clock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultRefreshInterval = 60 * time.Second
	defaultSyncTimeout     = 3 * time.Second
)

// queryFunc measures the clock offset against an NTP server. Injected for
// testability; the production implementation queries the server via
// github.com/beevik/ntp.
type queryFunc func(server string, timeout time.Duration) (time.Duration, error)

// ntpQuery is the production queryFunc.
func ntpQuery(server string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Config holds the construction parameters for a TrustedClock.
type Config struct {
	Server          string
	RefreshInterval time.Duration
	SyncTimeout     time.Duration
	Logger          *slog.Logger
}

// TrustedClock returns network-corrected time. Now() never blocks and never
// fails: it applies the last successfully measured offset to the local wall
// clock. Each successful sync replaces the offset wholesale (last-sync-wins,
// no smoothing); a failed sync leaves the previous offset untouched.
type TrustedClock struct {
	server  string
	refresh time.Duration
	timeout time.Duration
	logger  *slog.Logger
	query   queryFunc

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a TrustedClock, performs one blocking sync attempt, and starts
// the background refresh goroutine. A failed initial sync is non-fatal: the
// clock starts with offset 0 and logs a warning -- the service must come up
// even when the NTP server is unreachable.
func New(cfg Config) *TrustedClock {
	return newWithQuery(cfg, ntpQuery)
}

// newWithQuery is the injectable constructor used by tests.
func newWithQuery(cfg Config, query queryFunc) *TrustedClock {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &TrustedClock{
		server:  cfg.Server,
		refresh: refresh,
		timeout: timeout,
		logger:  logger,
		query:   query,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.logger.Info("trusted clock starting",
		"server", c.server,
		"refresh_interval", c.refresh,
		"sync_timeout", c.timeout,
	)

	c.syncOnce(true)
	go c.refreshLoop(ctx)

	return c
}

// Now returns the current trusted instant in UTC.
func (c *TrustedClock) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return time.Now().UTC().Add(offset)
}

// Offset returns the currently applied clock offset.
func (c *TrustedClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// LastSync returns the local time of the last successful sync, or the zero
// time if no sync has succeeded yet.
func (c *TrustedClock) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

// Stop cancels the background refresh goroutine and waits for it to exit.
// Idempotent.
func (c *TrustedClock) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("trusted clock stopping", "server", c.server)
		c.cancel()
		<-c.done
	})
}

// refreshLoop resynchronizes every refresh interval until cancelled.
func (c *TrustedClock) refreshLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncOnce(false)
		}
	}
}

// syncOnce performs one sync attempt. The NTP query runs off-lock; only the
// final offset swap takes the write lock, so readers are never held up by a
// slow or timing-out server.
func (c *TrustedClock) syncOnce(initial bool) {
	offset, err := c.query(c.server, c.timeout)
	if err != nil {
		msg := "ntp refresh failed, keeping previous offset"
		if initial {
			msg = "initial ntp sync failed, starting with zero offset"
		}
		c.logger.Warn(msg, "server", c.server, "error", err)
		return
	}

	c.mu.Lock()
	c.offset = offset
	c.lastSync = time.Now()
	c.mu.Unlock()

	c.logger.Info("ntp sync ok", "server", c.server, "offset", offset)
}
