package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/lib"
	"github.com/daybook-app/daybook/client/store"
	"github.com/daybook-app/daybook/shared"
)

// Coordinator owns the sync lifecycle: sync-marker bookkeeping, the recurring
// background timer, the foreground single-flight guard, and the
// changeset -> round trip -> merge orchestration.
//
// Known race, kept on purpose: the single-flight guard only protects
// foreground syncs against re-entrancy. Silent timer-driven syncs are allowed
// to overlap with each other and with a foreground sync. Merges are
// idempotent and commutative at the record level so this can't corrupt data;
// it just costs redundant traffic. The marker of whichever round trip
// completes last is the one that sticks, since the marker is persisted only
// at completion.
type Coordinator struct {
	store store.Store

	mu      stdsync.Mutex
	syncing bool

	dataVersion atomic.Int64

	stopOnce stdsync.Once
	done     chan struct{}
}

func NewCoordinator(st store.Store) *Coordinator {
	return &Coordinator{store: st, done: make(chan struct{})}
}

// DataVersion is a monotonically increasing counter bumped whenever a merge
// materially applied new data. Screens observe it to decide whether to reload.
func (c *Coordinator) DataVersion() int64 {
	return c.dataVersion.Load()
}

// SyncNow runs one foreground sync. It is a no-op if a foreground sync is
// already running. ErrNoSession is returned when there is no credential;
// callers should treat that as "nothing to do", not a failure.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return nil
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()
	return c.syncOnce(ctx)
}

// SyncSilent runs one background sync attempt, swallowing all errors.
// Deliberately not guarded: see the type comment.
func (c *Coordinator) SyncSilent(ctx context.Context) {
	err := c.syncOnce(ctx)
	if err != nil && !errors.Is(err, ErrNoSession) {
		hctx.GetLogger().Infof("silent sync failed: %v", err)
	}
}

// StartBackground starts the recurring silent-sync timer. Call it when an
// authenticated session begins and Stop when it ends. Each tick launches its
// own attempt so a stalled round trip never blocks the next tick.
func (c *Coordinator) StartBackground(ctx context.Context) {
	interval := hctx.GetConf(ctx).SyncInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				go c.SyncSilent(ctx)
			}
		}
	}()
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// LastSyncedAt reads the persisted sync marker. Zero means "never synced".
func (c *Coordinator) LastSyncedAt(ctx context.Context) (int64, error) {
	raw, found, err := c.store.Get(ctx, data.LAST_SYNCED_AT_KEY)
	if err != nil || !found {
		return 0, err
	}
	marker, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sync marker %q: %w", raw, err)
	}
	return marker, nil
}

func (c *Coordinator) syncOnce(ctx context.Context) error {
	config := hctx.GetConf(ctx)
	if config.SessionToken == "" || config.IsOffline {
		return ErrNoSession
	}

	marker, err := c.LastSyncedAt(ctx)
	if err != nil {
		return err
	}

	changes, err := BuildChangeSet(ctx, c.store, marker, config.IsPremium)
	if err != nil {
		return err
	}

	reqBody, err := json.Marshal(shared.SyncRequest{
		LastSyncedAt: marker,
		DeviceId:     config.DeviceId,
		Changes:      changes,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sync request: %w", err)
	}

	respBody, err := lib.ApiPost(ctx, "/api/v1/sync", "application/json", reqBody)
	if err != nil {
		return err
	}

	var resp shared.SyncResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("failed to decode sync response: %w", err)
	}
	if !resp.Success {
		return &RemoteRejectedError{Message: resp.Message}
	}

	applied, err := ApplyChangeSet(ctx, c.store, resp.Changes, config.IsPremium)
	if err != nil {
		return err
	}
	if applied {
		c.dataVersion.Add(1)
	}

	// The marker is persisted only after the merge has finished: a crash in
	// between just means the same delta is resent next time, which the merge
	// absorbs. The client always adopts the server's marker verbatim.
	return c.store.Set(ctx, data.LAST_SYNCED_AT_KEY, strconv.FormatInt(resp.SyncedAt, 10))
}
