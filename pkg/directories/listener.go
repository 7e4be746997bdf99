package directories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/medleyhq/medley/internal/logging"
	"github.com/medleyhq/medley/internal/metrics"
	"github.com/medleyhq/medley/pkg/batch"
	"github.com/medleyhq/medley/pkg/docstore"
	"github.com/medleyhq/medley/pkg/models"
	"go.uber.org/zap"
)

// Listener consumes the store's real-time change feed and applies it to
// the tree store in coalesced batches.
//
// Create, update, and delete events buffer independently over BatchWindow
// (bounded by BatchMaxItems) and flush as one store command per batch.
// Create and update flushes additionally feed a second-stage buffer that
// re-sorts the tree once per SortWindow, so a burst of events costs one
// sort, not one per event.
type Listener struct {
	tree   *Store
	remote docstore.Store

	batchWindow   time.Duration
	sortWindow    time.Duration
	batchMaxItems int
}

// ListenerConfig sets the batching policy.
type ListenerConfig struct {
	BatchWindow   time.Duration
	SortWindow    time.Duration
	BatchMaxItems int
}

// DefaultListenerConfig returns the standard batching policy: a 2s event
// window bounded at 256 items, and a 1s sort debounce.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		BatchWindow:   2 * time.Second,
		SortWindow:    time.Second,
		BatchMaxItems: 256,
	}
}

// NewListener creates a listener applying feed events to the tree store.
func NewListener(tree *Store, remote docstore.Store, cfg ListenerConfig) *Listener {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultListenerConfig().BatchWindow
	}
	if cfg.SortWindow <= 0 {
		cfg.SortWindow = DefaultListenerConfig().SortWindow
	}
	return &Listener{
		tree:          tree,
		remote:        remote,
		batchWindow:   cfg.BatchWindow,
		sortWindow:    cfg.SortWindow,
		batchMaxItems: cfg.BatchMaxItems,
	}
}

// Run subscribes to directory change events and applies them until ctx is
// cancelled or the feed ends. Pending batches are flushed on the way out.
func (l *Listener) Run(ctx context.Context) error {
	events, errs := l.remote.Subscribe(ctx, []string{models.DirectoryType})

	sortBuf := batch.New(l.sortWindow, 0, func(pending []struct{}) {
		l.tree.Sort()
		metrics.RecordSort()
		logging.Debug("directory list re-sorted")
	})

	createBuf := batch.New(l.batchWindow, l.batchMaxItems, func(dirs []models.Directory) {
		l.tree.ListenerCreateQueueCompleted(dirs)
		metrics.RecordBatchFlush("create", len(dirs))
		logging.Debug("applied create batch", zap.Int("count", len(dirs)))
		sortBuf.Add(struct{}{})
	})

	updateBuf := batch.New(l.batchWindow, l.batchMaxItems, func(dirs []models.Directory) {
		l.tree.ListenerUpdateQueueCompleted(dirs)
		metrics.RecordBatchFlush("update", len(dirs))
		logging.Debug("applied update batch", zap.Int("count", len(dirs)))
		sortBuf.Add(struct{}{})
	})

	deleteBuf := batch.New(l.batchWindow, l.batchMaxItems, func(ids []string) {
		l.tree.ListenerDeleteQueueCompleted(ids)
		metrics.RecordBatchFlush("delete", len(ids))
		logging.Debug("applied delete batch", zap.Int("count", len(ids)))
	})

	defer func() {
		createBuf.Close()
		updateBuf.Close()
		deleteBuf.Close()
		sortBuf.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.Warn("change feed error", zap.Error(err))

		case ev, ok := <-events:
			if !ok {
				logging.Info("change feed ended")
				return nil
			}
			metrics.RecordListenerEvent(string(ev.Type))

			switch ev.Type {
			case docstore.ChangeCreate:
				if dir, ok := decodeDirectory(ev); ok {
					createBuf.Add(dir)
				}
			case docstore.ChangeUpdate:
				if dir, ok := decodeDirectory(ev); ok {
					updateBuf.Add(dir)
				}
			case docstore.ChangeDelete:
				deleteBuf.Add(ev.ID)
			default:
				logging.Debug("ignoring change event",
					zap.String("type", string(ev.Type)),
					zap.String("id", ev.ID))
			}
		}
	}
}

func decodeDirectory(ev docstore.ChangeEvent) (models.Directory, bool) {
	var dir models.Directory
	if err := json.Unmarshal(ev.Document, &dir); err != nil || dir.ID == "" {
		logging.Warn("malformed directory in change event",
			zap.String("id", ev.ID), zap.Error(err))
		return models.Directory{}, false
	}
	return dir, true
}
