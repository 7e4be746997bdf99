package directories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/internal/logging"
	"github.com/medleyhq/medley/internal/metrics"
	"github.com/medleyhq/medley/pkg/docstore"
	"github.com/medleyhq/medley/pkg/models"
	"go.uber.org/zap"
)

// Processor owns the asynchronous command workflows. Each workflow is a
// single-shot reaction: it validates, calls the remote store, and reports
// outcomes only by invoking tree store commands. Failures never retry;
// every failure is terminal for that attempt.
type Processor struct {
	tree   *Store
	remote docstore.Store

	// throttle adds artificial latency before remote calls, for
	// exercising slow-connection behavior. Zero disables it.
	throttle time.Duration
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithThrottle adds artificial latency before each workflow's remote calls.
func WithThrottle(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.throttle = d
	}
}

// NewProcessor creates a processor driving the given tree store against
// the given remote store.
func NewProcessor(tree *Store, remote docstore.Store, opts ...ProcessorOption) *Processor {
	p := &Processor{tree: tree, remote: remote}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch loads the full directory listing, ordered by name, and applies it
// to the tree store.
func (p *Processor) Fetch(ctx context.Context) error {
	start := time.Now()
	logging.Debug("fetch requested")
	p.tree.FetchRequested()

	var dirs []models.Directory
	err := p.remote.Query(ctx, docstore.Query{
		Types:   []string{models.DirectoryType},
		OrderBy: "name",
	}, &dirs)
	if err != nil {
		herr := normalizeError(err)
		p.tree.FetchFailed(herr)
		metrics.RecordCommand("fetch", time.Since(start), false)
		logging.Error("fetch failed", zap.Error(err))
		return err
	}

	p.tree.FetchCompleted(dirs)
	metrics.RecordCommand("fetch", time.Since(start), true)
	logging.Info("fetch completed", zap.Int("count", len(dirs)))
	return nil
}

// Create makes a new directory under parentID ("" for root level).
// assetID, when set, identifies the asset whose dialog triggered the
// create; it is carried through to the caller unchanged so the UI can link
// the new directory to it.
//
// The name-uniqueness check is check-then-act: a concurrent writer can
// slip a duplicate in between the count and the create.
func (p *Processor) Create(ctx context.Context, name, parentID, assetID string) (models.Directory, error) {
	start := time.Now()
	logging.Debug("create requested",
		zap.String("name", name),
		zap.String("parent", parentID),
		zap.String("asset", assetID))
	p.tree.CreateRequested()

	if err := ValidateName(name); err != nil {
		herr := &models.HTTPError{Message: err.Error(), StatusCode: 400}
		p.tree.CreateFailed(herr)
		metrics.RecordCommand("create", time.Since(start), false)
		return models.Directory{}, herr
	}

	if err := p.wait(ctx); err != nil {
		p.tree.CreateFailed(normalizeError(err))
		metrics.RecordCommand("create", time.Since(start), false)
		return models.Directory{}, err
	}

	if err := p.checkNameAvailable(ctx, name); err != nil {
		p.tree.CreateFailed(normalizeError(err))
		metrics.RecordCommand("create", time.Since(start), false)
		logging.Warn("create rejected", zap.String("name", name), zap.Error(err))
		return models.Directory{}, err
	}

	doc := models.Directory{Type: models.DirectoryType, Name: name}
	if parentID != "" {
		doc.Parent = &models.Reference{Ref: parentID, Type: "reference", Weak: true}
	}

	var created models.Directory
	if err := p.remote.Create(ctx, doc, &created); err != nil {
		p.tree.CreateFailed(normalizeError(err))
		metrics.RecordCommand("create", time.Since(start), false)
		logging.Error("create failed", zap.String("name", name), zap.Error(err))
		return models.Directory{}, err
	}

	p.tree.CreateCompleted(created)
	metrics.RecordCommand("create", time.Since(start), true)
	logging.Info("create completed",
		zap.String("id", created.ID),
		zap.String("name", created.Name))

	// The optimistic insert is not trusted as final: always reconcile
	// against a fresh listing.
	if err := p.Fetch(ctx); err != nil {
		return created, err
	}
	return created, nil
}

// Rename changes a directory's name. A rename to the directory's own
// current name is rejected as a duplicate, same as any other conflict.
func (p *Processor) Rename(ctx context.Context, dir models.Directory, newName string) (models.Directory, error) {
	start := time.Now()
	logging.Debug("rename requested",
		zap.String("id", dir.ID),
		zap.String("name", newName))
	p.tree.UpdateRequested(dir.ID)

	if err := ValidateName(newName); err != nil {
		herr := &models.HTTPError{Message: err.Error(), StatusCode: 400}
		p.tree.UpdateFailed(dir.ID, herr)
		metrics.RecordCommand("rename", time.Since(start), false)
		return models.Directory{}, herr
	}

	if err := p.wait(ctx); err != nil {
		p.tree.UpdateFailed(dir.ID, normalizeError(err))
		metrics.RecordCommand("rename", time.Since(start), false)
		return models.Directory{}, err
	}

	if err := p.checkNameAvailable(ctx, newName); err != nil {
		p.tree.UpdateFailed(dir.ID, normalizeError(err))
		metrics.RecordCommand("rename", time.Since(start), false)
		logging.Warn("rename rejected", zap.String("name", newName), zap.Error(err))
		return models.Directory{}, err
	}

	var updated models.Directory
	err := p.remote.Patch(ctx, dir.ID, docstore.Patch{
		Set: map[string]any{"name": newName},
	}, &updated)
	if err != nil {
		p.tree.UpdateFailed(dir.ID, normalizeError(err))
		metrics.RecordCommand("rename", time.Since(start), false)
		logging.Error("rename failed", zap.String("id", dir.ID), zap.Error(err))
		return models.Directory{}, err
	}

	p.tree.UpdateCompleted(updated)
	metrics.RecordCommand("rename", time.Since(start), true)
	logging.Info("rename completed",
		zap.String("id", updated.ID),
		zap.String("name", updated.Name))
	return updated, nil
}

// Delete removes a directory with cascading cleanup, in two phases:
//
//  1. Direct child directories are reparented to the target's parent (or
//     to root level) in one revision-guarded transaction.
//  2. Assets referencing the target are repointed the same way, and the
//     target document is deleted, in a second revision-guarded
//     transaction.
//
// There is no atomicity across the two transactions: a failure between
// them leaves children reparented while the target and its asset
// references stand. Neither phase is rolled back or retried.
func (p *Processor) Delete(ctx context.Context, dir models.Directory) error {
	start := time.Now()
	logging.Debug("delete requested", zap.String("id", dir.ID))
	p.tree.DeleteRequested(dir.ID)

	if err := p.wait(ctx); err != nil {
		p.tree.DeleteFailed(dir.ID, normalizeError(err))
		metrics.RecordCommand("delete", time.Since(start), false)
		return err
	}

	if err := p.reparentChildren(ctx, dir); err != nil {
		p.tree.DeleteFailed(dir.ID, normalizeError(err))
		metrics.RecordCommand("delete", time.Since(start), false)
		logging.Error("delete failed reparenting children",
			zap.String("id", dir.ID), zap.Error(err))
		return err
	}

	if err := p.detachAssetsAndDelete(ctx, dir); err != nil {
		p.tree.DeleteFailed(dir.ID, normalizeError(err))
		metrics.RecordCommand("delete", time.Since(start), false)
		logging.Error("delete failed detaching assets",
			zap.String("id", dir.ID), zap.Error(err))
		return err
	}

	p.tree.DeleteCompleted(dir.ID)
	metrics.RecordCommand("delete", time.Since(start), true)
	logging.Info("delete completed", zap.String("id", dir.ID))

	return p.Fetch(ctx)
}

// reparentChildren moves the target's direct children to the target's own
// parent in one transaction. Each patch is guarded by the child's
// last-seen revision, so a concurrently modified child aborts the whole
// transaction with no partial reparenting.
func (p *Processor) reparentChildren(ctx context.Context, dir models.Directory) error {
	var children []models.Directory
	err := p.remote.Query(ctx, docstore.Query{
		Types:      []string{models.DirectoryType},
		References: dir.ID,
	}, &children)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	muts := make([]docstore.Mutation, 0, len(children))
	for _, child := range children {
		patch := &docstore.Patch{IfRevisionID: child.Rev}
		if dir.Parent != nil {
			patch.Set = map[string]any{
				"parent": models.Reference{Ref: dir.ParentID(), Type: "reference", Weak: true},
			}
		} else {
			patch.Unset = []string{"parent"}
		}
		muts = append(muts, docstore.Mutation{ID: child.ID, Patch: patch})
	}
	return p.remote.Transaction(ctx, muts)
}

// detachAssetsAndDelete repoints every asset referencing the target and
// deletes the target document, in one transaction.
func (p *Processor) detachAssetsAndDelete(ctx context.Context, dir models.Directory) error {
	var assets []models.Asset
	err := p.remote.Query(ctx, docstore.Query{
		Types:      models.AssetTypes,
		References: dir.ID,
	}, &assets)
	if err != nil {
		return err
	}

	muts := make([]docstore.Mutation, 0, len(assets)+1)
	for _, asset := range assets {
		patch := &docstore.Patch{IfRevisionID: asset.Rev}
		dirs := repointReferences(asset.Directories, dir.ID, dir.ParentID())
		if len(dirs) == 0 {
			patch.Unset = []string{"directories"}
		} else {
			patch.Set = map[string]any{"directories": dirs}
		}
		muts = append(muts, docstore.Mutation{ID: asset.ID, Patch: patch})
	}
	muts = append(muts, docstore.Mutation{ID: dir.ID, Delete: true})
	return p.remote.Transaction(ctx, muts)
}

// repointReferences rebuilds an asset's directory reference list with every
// reference to target replaced by a reference to parentID, or dropped when
// parentID is "" (target was root-level). Duplicates are collapsed.
func repointReferences(refs []models.Reference, target, parentID string) []models.Reference {
	out := make([]models.Reference, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		id := ref.Ref
		if id == target {
			if parentID == "" {
				continue
			}
			ref = models.Reference{
				Ref:  parentID,
				Type: "reference",
				Key:  uuid.NewString(),
				Weak: true,
			}
			id = parentID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, ref)
	}
	return out
}

// checkNameAvailable is the shared uniqueness check: a count query on the
// exact name, conflict if anything matches. Check and write are not
// atomic.
func (p *Processor) checkNameAvailable(ctx context.Context, name string) error {
	count, err := p.remote.Count(ctx, docstore.Query{
		Types:      []string{models.DirectoryType},
		NameEquals: name,
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDirectoryExists
	}
	return nil
}

// wait applies the configured artificial latency.
func (p *Processor) wait(ctx context.Context) error {
	if p.throttle <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.throttle):
		return nil
	}
}

// normalizeError converts any workflow failure to the HTTPError shape the
// UI consumes. Stale-revision aborts are not distinguished from other
// remote failures; no retry is attempted either way.
func normalizeError(err error) *models.HTTPError {
	var herr *models.HTTPError
	if errors.As(err, &herr) {
		return herr
	}

	var rerr *docstore.RequestError
	if errors.As(err, &rerr) {
		msg := rerr.Message
		if msg == "" {
			msg = "Internal error"
		}
		code := rerr.StatusCode
		if code == 0 {
			code = 500
		}
		return &models.HTTPError{Message: msg, StatusCode: code}
	}

	return &models.HTTPError{Message: "Internal error", StatusCode: 500}
}
