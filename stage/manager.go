// Package stage implements the per-user staging area for translation edits:
// staging, the prune and rebase filters, and the commit of a filtered stage
// into the string repository.
package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lokalhub/translation-stage-api/datastore"
	"github.com/lokalhub/translation-stage-api/trans"
)

// Manager is the entry point for all stage operations of all owners.
type Manager struct {
	ds      *datastore.DataStore
	perms   trans.Permissions
	classes trans.Classifier
}

func NewManager(ds *datastore.DataStore, perms trans.Permissions, classes trans.Classifier) *Manager {
	return &Manager{ds: ds, perms: perms, classes: classes}
}

// Entry is one staged edit annotated with whether the owner could commit it
// right now.
type Entry struct {
	trans.StagedEdit
	Committable bool `json:"committable"`
}

// Summary counts the staged and committable entries of a stage.
type Summary struct {
	Staged      int `json:"staged"`
	Committable int `json:"committable"`
}

// CommitResult reports what a commit did with every staged entry.
type CommitResult struct {
	Commit    trans.CommitRecord        `json:"commit"`
	Committed []trans.TranslationRecord `json:"committed"`
	Outcome   Outcome                   `json:"outcome"`
}

// NothingToCommit reports that the filtered stage was empty and the
// repository was left untouched.
func (r CommitResult) NothingToCommit() bool {
	return len(r.Committed) == 0
}

// Put stages an edit, overwriting any previous edit of the same key by the
// same owner. Staging is always allowed; commit permission is checked only
// when the stage is pruned or committed.
func (m *Manager) Put(ctx context.Context, owner string, key trans.StringKey, content string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if owner == "" {
		return fmt.Errorf("%w: missing owner", trans.ErrInvalidKey)
	}

	edit := trans.StagedEdit{
		StringKey: key,
		Content:   content,
		OwnerID:   owner,
		EditedAt:  time.Now().UTC(),
	}

	return m.ds.PutStage(ctx, edit)
}

// Remove unstages one edit.
func (m *Manager) Remove(ctx context.Context, owner string, key trans.StringKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	return m.ds.RemoveStageEntries(ctx, owner, []trans.StringKey{key})
}

// Clear unstages everything the owner has staged. The auto-save stash keeps
// the pre-clear snapshot, so an accidental clear can be undone by applying
// it.
func (m *Manager) Clear(ctx context.Context, owner string) error {
	return m.ds.ClearStage(ctx, owner)
}

// List gets the owner's staged edits with their committability flags.
func (m *Manager) List(ctx context.Context, owner string) ([]Entry, Summary, error) {
	edits, err := m.ds.GetStage(ctx, owner)
	if err != nil {
		return nil, Summary{}, err
	}

	entries := make([]Entry, len(edits))
	sum := Summary{Staged: len(edits)}
	for i, edit := range edits {
		entries[i] = Entry{
			StagedEdit:  edit,
			Committable: m.perms.CanCommit(owner, edit.Lang, m.classes.Classify(edit.Component)),
		}
		if entries[i].Committable {
			sum.Committable++
		}
	}

	return entries, sum, nil
}

// PruneStage unstages all edits the owner lacks commit rights for. Runs
// automatically before every commit and can be invoked on demand.
func (m *Manager) PruneStage(ctx context.Context, owner string) (Outcome, error) {
	edits, err := m.ds.GetStage(ctx, owner)
	if err != nil {
		return Outcome{}, err
	}

	kept, pruned := Prune(edits, owner, m.perms, m.classes)
	out := Outcome{Kept: kept, Pruned: pruned}
	if len(pruned) == 0 {
		return out, nil
	}

	return out, m.ds.RemoveStageSnapshot(ctx, owner, pruned)
}

// RebaseStage unstages all edits that no longer modify the current
// translation or that lost against a newer committed value. Runs
// automatically before every commit and can be invoked on demand.
func (m *Manager) RebaseStage(ctx context.Context, owner string) (Outcome, error) {
	edits, err := m.ds.GetStage(ctx, owner)
	if err != nil {
		return Outcome{}, err
	}

	current, err := m.ds.CurrentForKeys(ctx, keysOf(edits))
	if err != nil {
		return Outcome{}, err
	}

	kept, unchanged, stale := Rebase(edits, current)
	out := Outcome{Kept: kept, Unchanged: unchanged, Stale: stale}
	dropped := out.Dropped()
	if len(dropped) == 0 {
		return out, nil
	}

	return out, m.ds.RemoveStageSnapshot(ctx, owner, dropped)
}

// Commit prunes and rebases the owner's stage and appends the surviving
// edits to the repository as one atomic commit. Committed entries leave the
// stage; filtered entries stay staged and are reported in the outcome, and
// so does an entry re-edited while the commit was in flight. When nothing
// survives the filters, no commit record is written and the result reports
// nothing to commit.
func (m *Manager) Commit(ctx context.Context, owner, message string) (CommitResult, error) {
	edits, err := m.ds.GetStage(ctx, owner)
	if err != nil {
		return CommitResult{}, err
	}

	kept, pruned := Prune(edits, owner, m.perms, m.classes)

	current, err := m.ds.CurrentForKeys(ctx, keysOf(kept))
	if err != nil {
		return CommitResult{}, err
	}
	kept, unchanged, stale := Rebase(kept, current)

	result := CommitResult{
		Outcome: Outcome{Kept: kept, Pruned: pruned, Unchanged: unchanged, Stale: stale},
	}
	if len(kept) == 0 {
		return result, nil
	}

	commit := trans.CommitRecord{
		ID:        uuid.NewString(),
		AuthorID:  owner,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	recs, err := m.ds.WriteCommit(ctx, commit, kept)
	if err != nil {
		return CommitResult{}, err
	}

	result.Commit = commit
	result.Committed = recs

	return result, nil
}

// MergeBranch stages every translation that is present on the source branch
// but whose key has never been committed on the target branch. The staged
// copies go through the normal filters on commit, so commit rights still
// apply.
func (m *Manager) MergeBranch(ctx context.Context, owner, source, target string) (count int, err error) {
	if source == "" || target == "" || source == target {
		return 0, fmt.Errorf("%w: merging needs two distinct branches", trans.ErrInvalidKey)
	}

	recs, err := m.ds.MissingOnBranch(ctx, source, target)
	if err != nil {
		return 0, err
	}

	for _, rec := range recs {
		key := rec.StringKey
		key.Branch = target
		if err = m.Put(ctx, owner, key, rec.Content); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func keysOf(edits []trans.StagedEdit) []trans.StringKey {
	keys := make([]trans.StringKey, len(edits))
	for i, edit := range edits {
		keys[i] = edit.StringKey
	}
	return keys
}
