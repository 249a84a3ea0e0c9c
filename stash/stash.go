// Package stash implements named snapshots of a stage, including the
// system-maintained auto-save stash.
package stash

import (
	"context"
	"fmt"
	"time"

	"github.com/lokalhub/translation-stage-api/datastore"
	"github.com/lokalhub/translation-stage-api/trans"
)

// Store is the entry point for all stash operations of all owners.
type Store struct {
	ds *datastore.DataStore
}

func NewStore(ds *datastore.DataStore) *Store {
	return &Store{ds: ds}
}

// Push snapshots the owner's current stage into a new stash. The stage is
// left as it is. A blank title gets a work-in-progress default.
func (s *Store) Push(ctx context.Context, owner, title string) (trans.Stash, error) {
	now := time.Now().UTC()
	if title == "" {
		title = "WIP - " + now.Format("2006-01-02 15:04")
	}

	return s.ds.PushStash(ctx, owner, title, now)
}

// List gets the owner's manual stashes, newest first. The auto-save stash is
// not listed; use AutoSave to reach it.
func (s *Store) List(ctx context.Context, owner string) ([]trans.Stash, error) {
	return s.ds.GetStashes(ctx, owner)
}

// AutoSave gets the owner's auto-save stash, the single system-maintained
// snapshot overwritten on every stage mutation.
func (s *Store) AutoSave(ctx context.Context, owner string) (trans.Stash, error) {
	return s.ds.GetAutoStash(ctx, owner)
}

// Get gets one of the owner's stashes by id.
func (s *Store) Get(ctx context.Context, owner string, id int64) (trans.Stash, error) {
	return s.ds.GetStash(ctx, owner, id)
}

// Strings gets the snapshot entries of one of the owner's stashes.
func (s *Store) Strings(ctx context.Context, owner string, id int64) ([]trans.StagedEdit, error) {
	if _, err := s.ds.GetStash(ctx, owner, id); err != nil {
		return nil, err
	}

	return s.ds.StashStrings(ctx, id)
}

// Apply copies the stash's snapshot entries into the owner's stage,
// overwriting staged edits of the same keys. The stash is kept.
func (s *Store) Apply(ctx context.Context, owner string, id int64) error {
	if _, err := s.ds.GetStash(ctx, owner, id); err != nil {
		return err
	}

	return s.ds.ApplyStashTo(ctx, id, owner, time.Now().UTC())
}

// ApplyTo copies any stash's snapshot entries into the given user's stage,
// regardless of who owns the stash. Used by the contribution workflow when a
// maintainer stages somebody else's submission; callers are responsible for
// the permission policy.
func (s *Store) ApplyTo(ctx context.Context, stashID int64, user string) error {
	if _, err := s.ds.GetStash(ctx, "", stashID); err != nil {
		return err
	}

	return s.ds.ApplyStashTo(ctx, stashID, user, time.Now().UTC())
}

// Pop applies the stash into the owner's stage and drops it. The auto-save
// stash cannot be popped; refusing it up front keeps the stage untouched
// rather than applying a snapshot that cannot be dropped afterwards.
func (s *Store) Pop(ctx context.Context, owner string, id int64) error {
	stash, err := s.ds.GetStash(ctx, owner, id)
	if err != nil {
		return err
	}
	if stash.AutoSave {
		return fmt.Errorf("%w: the auto-save stash cannot be popped", trans.ErrPermissionDenied)
	}

	if err := s.ds.ApplyStashTo(ctx, id, owner, time.Now().UTC()); err != nil {
		return err
	}

	return s.ds.DropStash(ctx, owner, id)
}

// Drop deletes the stash without applying it. The auto-save stash cannot be
// dropped.
func (s *Store) Drop(ctx context.Context, owner string, id int64) error {
	stash, err := s.ds.GetStash(ctx, owner, id)
	if err != nil {
		return err
	}
	if stash.AutoSave {
		return fmt.Errorf("%w: the auto-save stash cannot be dropped", trans.ErrPermissionDenied)
	}

	return s.ds.DropStash(ctx, owner, id)
}
