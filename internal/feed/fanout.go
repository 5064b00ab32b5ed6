package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/cache"
	"github.com/feedmill/feedmill/internal/db"
	"github.com/feedmill/feedmill/internal/models"
	"github.com/feedmill/feedmill/internal/queue"
	"github.com/feedmill/feedmill/pkg/logging"
	"github.com/feedmill/feedmill/pkg/telemetry"
)

// Task names for the fan-out pipeline
const (
	TaskFanoutMain  = "fanout:main"
	TaskFanoutBatch = "fanout:batch"
)

// FollowerLookup resolves the follower-id list for a publisher. The
// social graph itself is an external collaborator.
type FollowerLookup interface {
	FollowerIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Scheduler enqueues named tasks for asynchronous execution
type Scheduler interface {
	Schedule(ctx context.Context, name string, args interface{}) error
}

// MainTaskArgs carries a publish event into the main fan-out task
type MainTaskArgs struct {
	ItemID   int64 `json:"item_id"`
	AuthorID int64 `json:"author_id"`
}

// BatchTaskArgs carries one follower batch into a batch task
type BatchTaskArgs struct {
	ItemID      int64   `json:"item_id"`
	FollowerIDs []int64 `json:"follower_ids"`
}

// Fanout distributes a published item into follower timelines. The
// publisher's own entry is written synchronously; everything else runs
// on the task queue in batches of batchSize.
type Fanout struct {
	entries   *db.EntryRepository
	items     *db.ItemRepository
	followers FollowerLookup
	lists     *cache.BoundedList
	scheduler Scheduler
	batchSize int
	logger    *zap.Logger
}

// NewFanout creates a fan-out pipeline
func NewFanout(
	entries *db.EntryRepository,
	items *db.ItemRepository,
	followers FollowerLookup,
	lists *cache.BoundedList,
	scheduler Scheduler,
	batchSize int,
) *Fanout {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Fanout{
		entries:   entries,
		items:     items,
		followers: followers,
		lists:     lists,
		scheduler: scheduler,
		batchSize: batchSize,
		logger:    logging.WithComponent("fanout"),
	}
}

// Publish makes the item visible on the publisher's own timeline and
// schedules the asynchronous follower fan-out. The publisher's entry
// must exist before this returns; the cache push is best-effort.
func (f *Fanout) Publish(ctx context.Context, item *models.Item) error {
	ctx, span := telemetry.StartSpan(ctx, "fanout.publish")
	defer span.End()

	entry := models.FeedEntry{
		OwnerID:   item.AuthorID,
		ItemID:    item.ID,
		CreatedAt: item.CreatedAt,
	}
	if err := f.entries.Create(ctx, &entry); err != nil {
		return fmt.Errorf("failed to create publisher entry: %w", err)
	}

	f.pushEntry(ctx, item.AuthorID, item.ID)

	args := MainTaskArgs{ItemID: item.ID, AuthorID: item.AuthorID}
	if err := f.scheduler.Schedule(ctx, TaskFanoutMain, args); err != nil {
		return fmt.Errorf("failed to schedule fan-out: %w", err)
	}
	return nil
}

// RegisterHandlers wires the fan-out tasks into a worker's handler registry
func (f *Fanout) RegisterHandlers(worker *queue.Worker) {
	worker.Handle(TaskFanoutMain, f.HandleMainTask)
	worker.Handle(TaskFanoutBatch, f.HandleBatchTask)
}

// HandleMainTask resolves the publisher's followers and schedules one
// batch task per contiguous batch of follower ids
func (f *Fanout) HandleMainTask(ctx context.Context, payload json.RawMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "fanout.main")
	defer span.End()

	var args MainTaskArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return fmt.Errorf("failed to decode main task args: %w", err)
	}

	followerIDs, err := f.followers.FollowerIDs(ctx, args.AuthorID)
	if err != nil {
		return fmt.Errorf("failed to resolve followers: %w", err)
	}

	batches := batchIDs(followerIDs, f.batchSize)
	for _, batch := range batches {
		batchArgs := BatchTaskArgs{ItemID: args.ItemID, FollowerIDs: batch}
		if err := f.scheduler.Schedule(ctx, TaskFanoutBatch, batchArgs); err != nil {
			return fmt.Errorf("failed to schedule batch: %w", err)
		}
	}

	f.logger.Info("Fan-out scheduled",
		zap.Int64("item_id", args.ItemID),
		zap.Int64("author_id", args.AuthorID),
		zap.Int("followers", len(followerIDs)),
		zap.Int("batches", len(batches)))
	return nil
}

// HandleBatchTask creates one timeline entry per follower in the batch
// and pushes each into that follower's cache. Bulk insert skips rows
// already created by an earlier attempt, so retries are safe. Bulk
// writes trigger no side effects, which is why the cache push is an
// explicit call here.
func (f *Fanout) HandleBatchTask(ctx context.Context, payload json.RawMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "fanout.batch")
	defer span.End()

	var args BatchTaskArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return fmt.Errorf("failed to decode batch task args: %w", err)
	}
	if len(args.FollowerIDs) == 0 {
		return nil
	}

	item, err := f.items.GetByID(ctx, args.ItemID)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}
	if item == nil {
		f.logger.Warn("Item gone before fan-out, skipping batch",
			zap.Int64("item_id", args.ItemID))
		return nil
	}

	rows := make([]models.FeedEntry, 0, len(args.FollowerIDs))
	for _, followerID := range args.FollowerIDs {
		rows = append(rows, models.FeedEntry{
			OwnerID:   followerID,
			ItemID:    item.ID,
			CreatedAt: item.CreatedAt,
		})
	}
	if err := f.entries.BulkCreate(ctx, rows); err != nil {
		return fmt.Errorf("failed to bulk create entries: %w", err)
	}

	// Reload canonical rows so retried batches push the originally
	// created entries rather than the skipped duplicates.
	created, err := f.entries.ByItemAndOwners(ctx, item.ID, args.FollowerIDs)
	if err != nil {
		return fmt.Errorf("failed to reload entries: %w", err)
	}
	for i := range created {
		f.pushSnapshot(ctx, &created[i])
	}

	f.logger.Info("Batch fanned out",
		zap.Int64("item_id", item.ID),
		zap.Int("followers", len(args.FollowerIDs)))
	return nil
}

// pushEntry reloads the (owner, item) entry with its item and author
// preloaded and pushes it into the owner's cache, best-effort
func (f *Fanout) pushEntry(ctx context.Context, ownerID, itemID int64) {
	rows, err := f.entries.ByItemAndOwners(ctx, itemID, []int64{ownerID})
	if err != nil || len(rows) == 0 {
		f.logger.Warn("Cache push skipped, entry reload failed",
			zap.Int64("owner_id", ownerID), zap.Error(err))
		return
	}
	f.pushSnapshot(ctx, &rows[0])
}

// pushSnapshot serializes an entry and pushes it to the owner's bounded
// list. Cache failures are logged and swallowed: a follower who misses
// a push sees the entry after invalidation or via the store fallback.
func (f *Fanout) pushSnapshot(ctx context.Context, entry *models.FeedEntry) {
	payload, err := NewEntrySnapshot(entry).Marshal()
	if err != nil {
		f.logger.Warn("Cache push skipped, snapshot encoding failed",
			zap.Int64("owner_id", entry.OwnerID), zap.Error(err))
		return
	}

	key := cache.TimelineKey(entry.OwnerID)
	fallback := timelineFallback(f.entries, entry.OwnerID)
	if err := f.lists.Push(ctx, key, payload, fallback); err != nil {
		f.logger.Warn("Cache push failed",
			zap.Int64("owner_id", entry.OwnerID),
			zap.Int64("entry_id", entry.ID),
			zap.Error(err))
	}
}

// batchIDs partitions ids into contiguous batches of at most size
func batchIDs(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	batches := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
