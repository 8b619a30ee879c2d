package controller

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowmill/flowmill/pkg/flow"
)

// StreamEvents returns a channel of the run's events with seq > afterSeq,
// in order. It polls the store and closes only once the run is terminal
// or paused and the log is fully drained, so the caller never misses the
// last events of a run that finished between polls. Cancel via ctx.
func (c *Controller) StreamEvents(ctx context.Context, runID string, afterSeq int64) (<-chan *flow.Event, error) {
	rec, err := c.store.GetFlowRun(ctx, runID)
	if err != nil {
		return nil, flow.NewInternal("failed to load flow run", err)
	}
	if rec == nil {
		return nil, flow.NewNotFound(runID)
	}

	out := make(chan *flow.Event)
	go func() {
		defer close(out)

		cursor := afterSeq
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			// Settled statuses are written after their lifecycle events, so a
			// read that starts after observing one sees the whole log. Reading
			// events first would let a tail appended in between slip past the
			// final drain check. Transient read errors wait for the next tick
			// rather than closing, so the caller cannot mistake them for a
			// drained log.
			rec, err := c.store.GetFlowRun(ctx, runID)
			switch {
			case err != nil:
				c.log.WithRunID(runID).WithError(err).Warn("event stream status read failed, retrying")
			case rec == nil:
				return
			default:
				settled := rec.Status.IsTerminal() || rec.Status.IsPaused()
				events, err := c.store.GetEvents(ctx, runID, cursor, 0)
				if err != nil {
					c.log.WithRunID(runID).WithError(err).Warn("event stream read failed, retrying")
					break
				}
				for _, e := range events {
					select {
					case out <- e:
						cursor = e.Seq
					case <-ctx.Done():
						return
					}
				}
				if settled && len(events) == 0 {
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// AwaitReply blocks until a new reply marker appears in the run's
// artifacts directory, watching the directory and falling back to a
// periodic stat for filesystems that drop notifications.
func (c *Controller) AwaitReply(ctx context.Context, runID string) error {
	marker := filepath.Join(c.ArtifactsDir(runID), ReplyMarkerName)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return flow.NewInternal("failed to create filesystem watcher", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.ArtifactsDir(runID)); err != nil {
		return flow.NewInternal("failed to watch artifacts directory", err)
	}

	// The marker may have landed between the stat and the watch.
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Name == marker && ev.Op.Has(fsnotify.Create|fsnotify.Write) {
				return nil
			}
		case err := <-watcher.Errors:
			c.log.WithRunID(runID).WithError(err).Warn("filesystem watcher error")
		case <-poll.C:
			if _, err := os.Stat(marker); err == nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
