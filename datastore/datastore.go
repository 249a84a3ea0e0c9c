// Package datastore persists the string repository, per-user stages,
// stashes and contributions behind a database-agnostic API.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/trans"
)

// Adapter provides database-driver-specific query strings, etc.
type Adapter interface {
	PostCreate(*sqlx.DB) error
	EnsureVersionTableExists(*sqlx.DB) error
	MigrateUp(*sqlx.DB) (int64, error)
	MigrateDown(*sqlx.DB) (int64, error)
	SupportsLastInsertId() bool

	InsertRecordQuery() string
	CurrentTranslationQuery() string
	TranslationHistoryQuery() string
	MissingOnBranchQuery() string
	InsertCommitQuery() string
	GetCommitQuery() string
	RecentCommitsQuery() string
	CommitRecordsQuery() string

	UpsertStageQuery() string
	GetStageQuery() string
	DeleteStageEntryQuery() string
	DeleteStageEntryIfUnchangedQuery() string
	ClearStageQuery() string

	InsertStashQuery() string
	GetStashQuery() string
	GetStashesQuery() string
	GetAutoStashQuery() string
	TouchStashQuery() string
	DeleteStashQuery() string
	CopyStageToStashQuery() string
	DeleteStashStringsQuery() string
	GetStashStringsQuery() string
	CopyStashToStageQuery() string

	InsertContribQuery() string
	GetContribQuery() string
	GetContribsQuery() string
	UpdateContribQuery() string
	CountContribsForStashQuery() string
}

// DataStore wraps a database connection and serializes stage mutations per
// owner, so that two requests from the same user cannot lose updates.
// Different owners never contend with each other.
type DataStore struct {
	adapter    Adapter
	db         *sqlx.DB
	Stats      Stats
	stageLocks *ownerLocks
}

// autoStashTitle names the system-maintained backup stash of every owner.
const autoStashTitle = "Automatically saved backup"

type Stats map[StatKey]StatItem

type StatKey struct {
	Name   string
	Action string
}

type StatItem struct {
	Duration time.Duration
	Count    int
}

func (s Stats) Log(name, action string, d time.Duration) {
	item := s[StatKey{Name: name, Action: action}]
	item.Count++
	item.Duration += d
	s[StatKey{Name: name, Action: action}] = item
}

func (s Stats) String() (out string) {
	for k, v := range s {
		out += fmt.Sprintf("%v  %v '%v' actions took %v total, %v avg\n", v.Count, k.Name, k.Action, v.Duration, v.Duration/time.Duration(v.Count))
	}

	return out
}

type ownerLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *ownerLocks) get(owner string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m[owner]; !ok {
		l.m[owner] = &sync.Mutex{}
	}
	return l.m[owner]
}

// New creates a datastore using the given database connection. The driver
// parameter selects the database adapter and should be one of the
// config.DbDriver* constants.
func New(db *sqlx.DB, driver string) (ds *DataStore, err error) {
	adp, err := newAdapter(driver)
	if err != nil {
		return &DataStore{}, err
	}

	ds = &DataStore{
		adapter:    adp,
		db:         db,
		Stats:      make(map[StatKey]StatItem),
		stageLocks: &ownerLocks{m: make(map[string]*sync.Mutex)},
	}

	err = ds.adapter.PostCreate(ds.db)
	if err != nil {
		return ds, err
	}

	return ds, nil
}

func newAdapter(driver string) (adp Adapter, err error) {
	switch driver {
	case config.DbDriverSqlite3:
		adp = &Sqlite3Adapter{}
	case config.DbDriverPostgresql:
		adp = &PostgresAdapter{}
	}

	if adp == nil {
		return nil, fmt.Errorf("no adapter available for database driver '%v'", driver)
	}

	return adp, nil
}

// MigrateUp brings the database schema up to the latest version.
func (ds *DataStore) MigrateUp() (version int64, err error) {
	if err = ds.adapter.EnsureVersionTableExists(ds.db); err != nil {
		return 0, err
	}
	return ds.adapter.MigrateUp(ds.db)
}

// MigrateDown tears the database schema down completely.
func (ds *DataStore) MigrateDown() (version int64, err error) {
	if err = ds.adapter.EnsureVersionTableExists(ds.db); err != nil {
		return 0, err
	}
	return ds.adapter.MigrateDown(ds.db)
}

// insertID runs an insert and returns the generated row id, using
// LastInsertId or a RETURNING clause depending on the driver.
func (ds *DataStore) insertID(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (id int64, err error) {
	if ds.adapter.SupportsLastInsertId() {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}

	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

// inTx runs f inside a transaction, committing on success and rolling back
// on any error.
func (ds *DataStore) inTx(ctx context.Context, f func(*sqlx.Tx) error) error {
	tx, err := ds.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err = f(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// CurrentTranslation gets the current committed value for the given key,
// which is the most recently committed record. Returns trans.ErrNotFound
// when the key has never been committed.
func (ds *DataStore) CurrentTranslation(ctx context.Context, key trans.StringKey) (rec trans.TranslationRecord, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("record", "get", time.Since(start)) }()

	err = ds.db.GetContext(ctx, &rec, ds.adapter.CurrentTranslationQuery(), key.Branch, key.Component, key.StringID, key.Lang)
	if err == sql.ErrNoRows {
		return rec, fmt.Errorf("%w: %v", trans.ErrNotFound, key)
	}

	return rec, err
}

// TranslationHistory gets the full committed history for the given key,
// newest first. An uncommitted key yields an empty history, not an error.
func (ds *DataStore) TranslationHistory(ctx context.Context, key trans.StringKey) (recs []trans.TranslationRecord, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("record", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &recs, ds.adapter.TranslationHistoryQuery(), key.Branch, key.Component, key.StringID, key.Lang)

	return recs, err
}

// CurrentForKeys gets the current committed value for each of the given keys.
// Keys with no committed value are absent from the result.
func (ds *DataStore) CurrentForKeys(ctx context.Context, keys []trans.StringKey) (map[trans.StringKey]trans.TranslationRecord, error) {
	current := make(map[trans.StringKey]trans.TranslationRecord, len(keys))
	for _, key := range keys {
		rec, err := ds.CurrentTranslation(ctx, key)
		if errors.Is(err, trans.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		current[rec.StringKey] = rec
	}

	return current, nil
}

// MissingOnBranch gets the current translations present on the source branch
// whose key has no record at all on the target branch.
func (ds *DataStore) MissingOnBranch(ctx context.Context, source, target string) (recs []trans.TranslationRecord, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("record", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &recs, ds.adapter.MissingOnBranchQuery(), source, target)

	return recs, err
}

// RecentCommits gets up to limit most recent commit records, newest first.
func (ds *DataStore) RecentCommits(ctx context.Context, limit int) (commits []trans.CommitRecord, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("commit", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &commits, ds.adapter.RecentCommitsQuery(), limit)

	return commits, err
}

// CommitByID gets one commit record and the translation records it produced.
func (ds *DataStore) CommitByID(ctx context.Context, id string) (commit trans.CommitRecord, recs []trans.TranslationRecord, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("commit", "get", time.Since(start)) }()

	err = ds.db.GetContext(ctx, &commit, ds.adapter.GetCommitQuery(), id)
	if err == sql.ErrNoRows {
		return commit, nil, fmt.Errorf("%w: commit %v", trans.ErrNotFound, id)
	}
	if err != nil {
		return commit, nil, err
	}

	err = ds.db.SelectContext(ctx, &recs, ds.adapter.CommitRecordsQuery(), id)

	return commit, recs, err
}

// PutStage inserts or overwrites one staged edit and refreshes the owner's
// auto-save stash in the same transaction.
func (ds *DataStore) PutStage(ctx context.Context, edit trans.StagedEdit) error {
	start := time.Now()
	defer func() { ds.Stats.Log("stage", "put", time.Since(start)) }()

	lock := ds.stageLocks.get(edit.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	return ds.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, ds.adapter.UpsertStageQuery(),
			edit.OwnerID, edit.Branch, edit.Component, edit.StringID, edit.Lang, edit.Content, edit.EditedAt)
		if err != nil {
			return err
		}
		return ds.saveAutoStash(ctx, tx, edit.OwnerID, edit.EditedAt)
	})
}

// RemoveStageEntries removes the given keys from the owner's stage and
// refreshes the auto-save stash. Keys that are not staged are ignored.
func (ds *DataStore) RemoveStageEntries(ctx context.Context, owner string, keys []trans.StringKey) error {
	start := time.Now()
	defer func() { ds.Stats.Log("stage", "delete", time.Since(start)) }()

	lock := ds.stageLocks.get(owner)
	lock.Lock()
	defer lock.Unlock()

	return ds.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := ds.deleteStageEntries(ctx, tx, owner, keys); err != nil {
			return err
		}
		return ds.saveAutoStash(ctx, tx, owner, time.Now().UTC())
	})
}

func (ds *DataStore) deleteStageEntries(ctx context.Context, tx *sqlx.Tx, owner string, keys []trans.StringKey) error {
	for _, key := range keys {
		_, err := tx.ExecContext(ctx, ds.adapter.DeleteStageEntryQuery(),
			owner, key.Branch, key.Component, key.StringID, key.Lang)
		if err != nil {
			return err
		}
	}
	return nil
}

// deleteStageSnapshot removes the given edits from the stage only where the
// staged row still matches the snapshot's edit time. A re-edit that landed
// after the snapshot was read stays staged.
func (ds *DataStore) deleteStageSnapshot(ctx context.Context, tx *sqlx.Tx, edits []trans.StagedEdit) error {
	for _, edit := range edits {
		_, err := tx.ExecContext(ctx, ds.adapter.DeleteStageEntryIfUnchangedQuery(),
			edit.OwnerID, edit.Branch, edit.Component, edit.StringID, edit.Lang, edit.EditedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// RemoveStageSnapshot unstages the given edits unless they were re-edited
// after the snapshot was read, and refreshes the auto-save stash. The prune
// and rebase filters decide on a snapshot of the stage; a concurrent re-edit
// wins over the filter decision and stays staged.
func (ds *DataStore) RemoveStageSnapshot(ctx context.Context, owner string, edits []trans.StagedEdit) error {
	start := time.Now()
	defer func() { ds.Stats.Log("stage", "delete", time.Since(start)) }()

	lock := ds.stageLocks.get(owner)
	lock.Lock()
	defer lock.Unlock()

	return ds.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := ds.deleteStageSnapshot(ctx, tx, edits); err != nil {
			return err
		}
		return ds.saveAutoStash(ctx, tx, owner, time.Now().UTC())
	})
}

// ClearStage removes all of the owner's staged edits. The previous stage
// content survives in the auto-save stash until the next mutation.
func (ds *DataStore) ClearStage(ctx context.Context, owner string) error {
	start := time.Now()
	defer func() { ds.Stats.Log("stage", "delete", time.Since(start)) }()

	lock := ds.stageLocks.get(owner)
	lock.Lock()
	defer lock.Unlock()

	_, err := ds.db.ExecContext(ctx, ds.adapter.ClearStageQuery(), owner)

	return err
}

// GetStage gets all of the owner's staged edits ordered by key.
func (ds *DataStore) GetStage(ctx context.Context, owner string) (edits []trans.StagedEdit, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("stage", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &edits, ds.adapter.GetStageQuery(), owner)

	return edits, err
}

// WriteCommit atomically appends one translation record per staged edit,
// writes the commit record, unstages the committed entries and refreshes the
// auto-save stash. An entry re-edited after the edits snapshot was read is
// not unstaged; the newer edit survives the commit. A failure anywhere rolls
// the whole commit back; a partial commit is never observable.
func (ds *DataStore) WriteCommit(ctx context.Context, commit trans.CommitRecord, edits []trans.StagedEdit) (recs []trans.TranslationRecord, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("commit", "insert", time.Since(start)) }()

	if len(edits) == 0 {
		return nil, errors.New("datastore: refusing to write an empty commit")
	}

	owner := edits[0].OwnerID
	lock := ds.stageLocks.get(owner)
	lock.Lock()
	defer lock.Unlock()

	err = ds.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, ds.adapter.InsertCommitQuery(),
			commit.ID, commit.AuthorID, commit.Message, commit.CreatedAt)
		if err != nil {
			return err
		}

		for _, edit := range edits {
			rec := trans.TranslationRecord{
				StringKey: edit.StringKey,
				Content:   edit.Content,
				AuthorID:  commit.AuthorID,
				CommitID:  commit.ID,
				CreatedAt: commit.CreatedAt,
			}
			rec.ID, err = ds.insertID(ctx, tx, ds.adapter.InsertRecordQuery(),
				rec.Branch, rec.Component, rec.StringID, rec.Lang, rec.Content, rec.AuthorID, rec.CommitID, rec.CreatedAt)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}

		if err = ds.deleteStageSnapshot(ctx, tx, edits); err != nil {
			return err
		}
		return ds.saveAutoStash(ctx, tx, owner, commit.CreatedAt)
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}

// saveAutoStash overwrites the owner's auto-save stash with the current
// stage content. Runs inside the transaction of the triggering mutation.
func (ds *DataStore) saveAutoStash(ctx context.Context, tx *sqlx.Tx, owner string, now time.Time) error {
	var stashID int64
	err := tx.QueryRowContext(ctx, ds.adapter.GetAutoStashQuery(), owner).Scan(&stashID)
	switch {
	case err == sql.ErrNoRows:
		stashID, err = ds.insertID(ctx, tx, ds.adapter.InsertStashQuery(), owner, autoStashTitle, true, now)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err = tx.ExecContext(ctx, ds.adapter.TouchStashQuery(), now, stashID); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, ds.adapter.DeleteStashStringsQuery(), stashID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, ds.adapter.CopyStageToStashQuery(), stashID, owner)

	return err
}

// PushStash snapshots the owner's current stage into a new named stash. The
// stage itself is left untouched.
func (ds *DataStore) PushStash(ctx context.Context, owner, title string, now time.Time) (stash trans.Stash, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("stash", "insert", time.Since(start)) }()

	err = ds.inTx(ctx, func(tx *sqlx.Tx) error {
		id, err := ds.insertID(ctx, tx, ds.adapter.InsertStashQuery(), owner, title, false, now)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, ds.adapter.CopyStageToStashQuery(), id, owner); err != nil {
			return err
		}
		return tx.GetContext(ctx, &stash, ds.adapter.GetStashQuery(), id)
	})

	return stash, err
}

// GetStash gets one stash by id. Returns trans.ErrNotFound for ids that do
// not exist or belong to a different owner; pass owner "" to skip the
// ownership check.
func (ds *DataStore) GetStash(ctx context.Context, owner string, id int64) (stash trans.Stash, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("stash", "get", time.Since(start)) }()

	err = ds.db.GetContext(ctx, &stash, ds.adapter.GetStashQuery(), id)
	if err == sql.ErrNoRows || (err == nil && owner != "" && stash.OwnerID != owner) {
		return trans.Stash{}, fmt.Errorf("%w: stash %v", trans.ErrNotFound, id)
	}

	return stash, err
}

// GetStashes gets the owner's manual stashes, newest first. The auto-save
// stash is never listed here.
func (ds *DataStore) GetStashes(ctx context.Context, owner string) (stashes []trans.Stash, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("stash", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &stashes, ds.adapter.GetStashesQuery(), owner)

	return stashes, err
}

// GetAutoStash gets the owner's auto-save stash. Owners that have never
// mutated their stage do not have one yet.
func (ds *DataStore) GetAutoStash(ctx context.Context, owner string) (stash trans.Stash, err error) {
	var id int64
	err = ds.db.QueryRowContext(ctx, ds.adapter.GetAutoStashQuery(), owner).Scan(&id)
	if err == sql.ErrNoRows {
		return stash, fmt.Errorf("%w: no auto-save stash for %v", trans.ErrNotFound, owner)
	}
	if err != nil {
		return stash, err
	}

	return ds.GetStash(ctx, owner, id)
}

// StashStrings gets the snapshot entries of a stash.
func (ds *DataStore) StashStrings(ctx context.Context, stashID int64) (edits []trans.StagedEdit, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("stash", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &edits, ds.adapter.GetStashStringsQuery(), stashID)

	return edits, err
}

// ApplyStashTo copies the stash's snapshot entries into the target owner's
// stage, overwriting any staged edit for the same key, and refreshes the
// target's auto-save stash. The stash itself is not modified. Ownership and
// permission policy is the caller's responsibility.
func (ds *DataStore) ApplyStashTo(ctx context.Context, stashID int64, owner string, now time.Time) error {
	start := time.Now()
	defer func() { ds.Stats.Log("stash", "apply", time.Since(start)) }()

	lock := ds.stageLocks.get(owner)
	lock.Lock()
	defer lock.Unlock()

	return ds.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, ds.adapter.CopyStashToStageQuery(), owner, stashID)
		if err != nil {
			return err
		}
		return ds.saveAutoStash(ctx, tx, owner, now)
	})
}

// DropStash deletes a stash and its snapshot entries. A stash that was
// submitted as a contribution cannot be dropped; the review record needs its
// snapshot.
func (ds *DataStore) DropStash(ctx context.Context, owner string, id int64) error {
	start := time.Now()
	defer func() { ds.Stats.Log("stash", "delete", time.Since(start)) }()

	return ds.inTx(ctx, func(tx *sqlx.Tx) error {
		var contribs int
		if err := tx.GetContext(ctx, &contribs, ds.adapter.CountContribsForStashQuery(), id); err != nil {
			return err
		}
		if contribs > 0 {
			return fmt.Errorf("%w: stash %v was submitted as a contribution", trans.ErrPermissionDenied, id)
		}
		if _, err := tx.ExecContext(ctx, ds.adapter.DeleteStashStringsQuery(), id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, ds.adapter.DeleteStashQuery(), id, owner)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: stash %v", trans.ErrNotFound, id)
		}
		return nil
	})
}

// CreateContribution stores a new contribution record.
func (ds *DataStore) CreateContribution(ctx context.Context, c trans.Contribution) (trans.Contribution, error) {
	start := time.Now()
	defer func() { ds.Stats.Log("contrib", "insert", time.Since(start)) }()

	err := ds.inTx(ctx, func(tx *sqlx.Tx) error {
		id, err := ds.insertID(ctx, tx, ds.adapter.InsertContribQuery(),
			c.StashID, c.AuthorID, c.AssigneeID, c.Subject, c.Message, c.Status, c.CreatedAt, c.ModifiedAt)
		if err != nil {
			return err
		}
		c.ID = id
		return nil
	})

	return c, err
}

// GetContribution gets one contribution by id.
func (ds *DataStore) GetContribution(ctx context.Context, id int64) (c trans.Contribution, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("contrib", "get", time.Since(start)) }()

	err = ds.db.GetContext(ctx, &c, ds.adapter.GetContribQuery(), id)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("%w: contribution %v", trans.ErrNotFound, id)
	}

	return c, err
}

// GetContributions gets all contributions, most recently modified first.
func (ds *DataStore) GetContributions(ctx context.Context) (cs []trans.Contribution, err error) {
	start := time.Now()
	defer func() { ds.Stats.Log("contrib", "get", time.Since(start)) }()

	err = ds.db.SelectContext(ctx, &cs, ds.adapter.GetContribsQuery())

	return cs, err
}

// UpdateContribution stores the mutable review fields of a contribution.
func (ds *DataStore) UpdateContribution(ctx context.Context, c trans.Contribution) error {
	start := time.Now()
	defer func() { ds.Stats.Log("contrib", "update", time.Since(start)) }()

	result, err := ds.db.ExecContext(ctx, ds.adapter.UpdateContribQuery(),
		c.AssigneeID, c.Status, c.Message, c.ModifiedAt, c.ID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: contribution %v", trans.ErrNotFound, c.ID)
	}

	return nil
}
