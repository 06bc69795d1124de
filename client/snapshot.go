package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ahinestrog/openlibrary/reconcile"
)

// FetchSnapshot issues the four list fetches concurrently and joins them.
// All four must succeed; a partial result is never handed to the engine.
func (c *Client) FetchSnapshot(ctx context.Context) (reconcile.Snapshot, error) {
	var snap reconcile.Snapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Books, err = c.ListBooks(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Shelves, err = c.ListShelves(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.ShelfBooks, err = c.ListShelfBooks(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Borrows, err = c.ListBorrows(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return reconcile.Snapshot{}, err
	}
	return snap, nil
}

// SnapshotHolder keeps the latest joined snapshot. Refreshes are tagged
// with a generation number; a refresh that resolves after a newer one was
// issued is discarded, so the installed snapshot always belongs to the
// newest issued fetch rather than to whichever fetch happened to resolve
// last.
type SnapshotHolder struct {
	client *Client
	log    zerolog.Logger

	mu        sync.Mutex
	issued    uint64
	installed uint64
	snap      reconcile.Snapshot
	hasSnap   bool
}

func NewSnapshotHolder(c *Client, log zerolog.Logger) *SnapshotHolder {
	return &SnapshotHolder{client: c, log: log}
}

// Refresh fetches a fresh snapshot and installs it unless a newer refresh
// was issued in the meantime. Returns the snapshot it fetched and whether
// it was installed.
func (h *SnapshotHolder) Refresh(ctx context.Context) (reconcile.Snapshot, bool, error) {
	h.mu.Lock()
	h.issued++
	gen := h.issued
	h.mu.Unlock()

	snap, err := h.client.FetchSnapshot(ctx)
	if err != nil {
		return reconcile.Snapshot{}, false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen < h.issued {
		h.log.Debug().Uint64("gen", gen).Uint64("newest", h.issued).Msg("discarding stale snapshot")
		return snap, false, nil
	}
	h.installed = gen
	h.snap = snap
	h.hasSnap = true
	return snap, true, nil
}

// Latest returns the installed snapshot, if any refresh has completed.
func (h *SnapshotHolder) Latest() (reconcile.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap, h.hasSnap
}
