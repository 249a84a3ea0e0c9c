package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/trans"
)

func newTestStore(t *testing.T) *DataStore {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ds, err := New(db, config.DbDriverSqlite3)
	require.NoError(t, err)

	_, err = ds.MigrateUp()
	require.NoError(t, err)

	return ds
}

func key(stringid string) trans.StringKey {
	return trans.StringKey{Branch: "main", Component: "core", StringID: stringid, Lang: "de"}
}

func edit(owner, stringid, content string, at time.Time) trans.StagedEdit {
	return trans.StagedEdit{
		StringKey: key(stringid),
		Content:   content,
		OwnerID:   owner,
		EditedAt:  at,
	}
}

func TestMigrateUpThenDown(t *testing.T) {
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	ds, err := New(db, config.DbDriverSqlite3)
	require.NoError(t, err)

	version, err := ds.MigrateUp()
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	// Running up again is a no-op
	version, err = ds.MigrateUp()
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	version, err = ds.MigrateDown()
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, "nosuchdb")
	assert.Error(t, err)
}

func TestPutStageOverwritesSameKey(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Herzlich willkommen", now.Add(time.Second))))

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "Herzlich willkommen", edits[0].Content)
}

func TestStagesAreIsolatedPerOwner(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	require.NoError(t, ds.PutStage(ctx, edit("ben", "welcome", "Wilkommen", now)))

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "anna", edits[0].OwnerID)
	assert.Equal(t, "Willkommen", edits[0].Content)
}

func TestRemoveStageEntriesIgnoresUnstagedKeys(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	require.NoError(t, ds.RemoveStageEntries(ctx, "anna", []trans.StringKey{key("welcome"), key("neverstaged")}))

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	assert.Empty(t, edits)
}

func TestWriteCommitAppendsRecordsAndUnstages(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e1 := edit("anna", "welcome", "Willkommen", now)
	e2 := edit("anna", "goodbye", "Auf Wiedersehen", now)
	require.NoError(t, ds.PutStage(ctx, e1))
	require.NoError(t, ds.PutStage(ctx, e2))

	commit := trans.CommitRecord{ID: "c-1", AuthorID: "anna", Message: "first", CreatedAt: now}
	recs, err := ds.WriteCommit(ctx, commit, []trans.StagedEdit{e1, e2})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Committed entries left the stage
	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	assert.Empty(t, edits)

	// Current value is readable back
	rec, err := ds.CurrentTranslation(ctx, key("welcome"))
	require.NoError(t, err)
	assert.Equal(t, "Willkommen", rec.Content)
	assert.Equal(t, "c-1", rec.CommitID)
	assert.Equal(t, "anna", rec.AuthorID)

	// And the commit is found with its records
	got, gotRecs, err := ds.CommitByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Message)
	assert.Len(t, gotRecs, 2)
}

func TestWriteCommitLeavesUncommittedEntriesStaged(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	committed := edit("anna", "welcome", "Willkommen", now)
	kept := edit("anna", "goodbye", "Auf Wiedersehen", now)
	require.NoError(t, ds.PutStage(ctx, committed))
	require.NoError(t, ds.PutStage(ctx, kept))

	commit := trans.CommitRecord{ID: "c-1", AuthorID: "anna", Message: "partial", CreatedAt: now}
	_, err := ds.WriteCommit(ctx, commit, []trans.StagedEdit{committed})
	require.NoError(t, err)

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "goodbye", edits[0].StringID)
}

func TestWriteCommitKeepsEditsNewerThanItsSnapshot(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", t0)))
	snapshot, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	// A second tab re-edits the key while the commit is being prepared
	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Moin", t0.Add(time.Second))))

	commit := trans.CommitRecord{ID: "c-1", AuthorID: "anna", CreatedAt: t0.Add(2 * time.Second)}
	_, err = ds.WriteCommit(ctx, commit, snapshot)
	require.NoError(t, err)

	// The snapshot's content was committed
	rec, err := ds.CurrentTranslation(ctx, key("welcome"))
	require.NoError(t, err)
	assert.Equal(t, "Willkommen", rec.Content)

	// The newer edit survived the unstaging
	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "Moin", edits[0].Content)
}

func TestRemoveStageSnapshotKeepsNewerEdits(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", t0)))
	require.NoError(t, ds.PutStage(ctx, edit("anna", "goodbye", "Auf Wiedersehen", t0)))
	snapshot, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Moin", t0.Add(time.Second))))

	require.NoError(t, ds.RemoveStageSnapshot(ctx, "anna", snapshot))

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "Moin", edits[0].Content)

	// The auto-save stash reflects the surviving stage
	auto, err := ds.GetAutoStash(ctx, "anna")
	require.NoError(t, err)
	assert.Equal(t, 1, auto.Strings)
}

func TestWriteCommitRefusesEmptyCommit(t *testing.T) {
	ds := newTestStore(t)

	_, err := ds.WriteCommit(context.Background(), trans.CommitRecord{ID: "c-1"}, nil)
	assert.Error(t, err)

	commits, err := ds.RecentCommits(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestCurrentTranslationIsNewestRecord(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	first := edit("anna", "welcome", "Willkommen", t0)
	require.NoError(t, ds.PutStage(ctx, first))
	_, err := ds.WriteCommit(ctx, trans.CommitRecord{ID: "c-1", AuthorID: "anna", CreatedAt: t0}, []trans.StagedEdit{first})
	require.NoError(t, err)

	second := edit("ben", "welcome", "Moin", t0.Add(time.Second))
	require.NoError(t, ds.PutStage(ctx, second))
	_, err = ds.WriteCommit(ctx, trans.CommitRecord{ID: "c-2", AuthorID: "ben", CreatedAt: t0.Add(time.Second)}, []trans.StagedEdit{second})
	require.NoError(t, err)

	rec, err := ds.CurrentTranslation(ctx, key("welcome"))
	require.NoError(t, err)
	assert.Equal(t, "Moin", rec.Content)

	history, err := ds.TranslationHistory(ctx, key("welcome"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Moin", history[0].Content)
	assert.Equal(t, "Willkommen", history[1].Content)
}

func TestCurrentTranslationNotFound(t *testing.T) {
	ds := newTestStore(t)

	_, err := ds.CurrentTranslation(context.Background(), key("nosuchstring"))
	assert.ErrorIs(t, err, trans.ErrNotFound)
}

func TestCurrentForKeysSkipsUncommitted(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := edit("anna", "welcome", "Willkommen", now)
	require.NoError(t, ds.PutStage(ctx, e))
	_, err := ds.WriteCommit(ctx, trans.CommitRecord{ID: "c-1", AuthorID: "anna", CreatedAt: now}, []trans.StagedEdit{e})
	require.NoError(t, err)

	current, err := ds.CurrentForKeys(ctx, []trans.StringKey{key("welcome"), key("nosuchstring")})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "Willkommen", current[key("welcome")].Content)
}

func TestPushStashSnapshotsStage(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))

	stash, err := ds.PushStash(ctx, "anna", "my work", now)
	require.NoError(t, err)
	assert.Equal(t, "my work", stash.Title)
	assert.False(t, stash.AutoSave)
	assert.Equal(t, 1, stash.Strings)

	// The stage itself is untouched
	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	assert.Len(t, edits, 1)

	strings, err := ds.StashStrings(ctx, stash.ID)
	require.NoError(t, err)
	require.Len(t, strings, 1)
	assert.Equal(t, "Willkommen", strings[0].Content)
}

func TestGetStashChecksOwnership(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stash, err := ds.PushStash(ctx, "anna", "my work", now)
	require.NoError(t, err)

	_, err = ds.GetStash(ctx, "ben", stash.ID)
	assert.ErrorIs(t, err, trans.ErrNotFound)

	// Blank owner skips the check
	got, err := ds.GetStash(ctx, "", stash.ID)
	require.NoError(t, err)
	assert.Equal(t, "anna", got.OwnerID)
}

func TestGetStashesExcludesAutoSave(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Staging creates the auto-save stash
	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	_, err := ds.PushStash(ctx, "anna", "my work", now)
	require.NoError(t, err)

	stashes, err := ds.GetStashes(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, stashes, 1)
	assert.Equal(t, "my work", stashes[0].Title)
}

func TestAutoStashFollowsStageMutations(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := ds.GetAutoStash(ctx, "anna")
	assert.ErrorIs(t, err, trans.ErrNotFound)

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	require.NoError(t, ds.PutStage(ctx, edit("anna", "goodbye", "Auf Wiedersehen", now)))

	auto, err := ds.GetAutoStash(ctx, "anna")
	require.NoError(t, err)
	assert.True(t, auto.AutoSave)
	assert.Equal(t, 2, auto.Strings)

	require.NoError(t, ds.RemoveStageEntries(ctx, "anna", []trans.StringKey{key("goodbye")}))

	auto, err = ds.GetAutoStash(ctx, "anna")
	require.NoError(t, err)
	assert.Equal(t, 1, auto.Strings)
}

func TestClearStageKeepsAutoStash(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	require.NoError(t, ds.ClearStage(ctx, "anna"))

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	assert.Empty(t, edits)

	// The pre-clear snapshot is still there for recovery
	auto, err := ds.GetAutoStash(ctx, "anna")
	require.NoError(t, err)
	assert.Equal(t, 1, auto.Strings)

	require.NoError(t, ds.ApplyStashTo(ctx, auto.ID, "anna", now.Add(time.Second)))
	edits, err = ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "Willkommen", edits[0].Content)
}

func TestApplyStashToOverwritesStagedKeys(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	stash, err := ds.PushStash(ctx, "anna", "snapshot", now)
	require.NoError(t, err)

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Moin", now.Add(time.Second))))
	require.NoError(t, ds.ApplyStashTo(ctx, stash.ID, "anna", now.Add(2*time.Second)))

	edits, err := ds.GetStage(ctx, "anna")
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "Willkommen", edits[0].Content)
}

func TestDropStashRefusesAutoSaveRow(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	auto, err := ds.GetAutoStash(ctx, "anna")
	require.NoError(t, err)

	err = ds.DropStash(ctx, "anna", auto.ID)
	assert.ErrorIs(t, err, trans.ErrNotFound)

	// Still there
	_, err = ds.GetAutoStash(ctx, "anna")
	assert.NoError(t, err)
}

func TestDropStashDeletesStashAndStrings(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	stash, err := ds.PushStash(ctx, "anna", "snapshot", now)
	require.NoError(t, err)

	require.NoError(t, ds.DropStash(ctx, "anna", stash.ID))

	_, err = ds.GetStash(ctx, "anna", stash.ID)
	assert.ErrorIs(t, err, trans.ErrNotFound)

	strings, err := ds.StashStrings(ctx, stash.ID)
	require.NoError(t, err)
	assert.Empty(t, strings)
}

func TestDropStashRefusesSubmittedStash(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	stash, err := ds.PushStash(ctx, "anna", "submission", now)
	require.NoError(t, err)

	_, err = ds.CreateContribution(ctx, trans.Contribution{
		StashID:    stash.ID,
		AuthorID:   "anna",
		Subject:    "German fixes",
		Status:     trans.StatusNew,
		CreatedAt:  now,
		ModifiedAt: now,
	})
	require.NoError(t, err)

	err = ds.DropStash(ctx, "anna", stash.ID)
	assert.ErrorIs(t, err, trans.ErrPermissionDenied)

	// The submitted snapshot is intact
	got, err := ds.GetStash(ctx, "anna", stash.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Strings)
}

func TestMissingOnBranch(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	commitOn := func(id, branch, stringid, content string, at time.Time) {
		t.Helper()
		e := trans.StagedEdit{
			StringKey: trans.StringKey{Branch: branch, Component: "core", StringID: stringid, Lang: "de"},
			Content:   content,
			OwnerID:   "anna",
			EditedAt:  at,
		}
		require.NoError(t, ds.PutStage(ctx, e))
		_, err := ds.WriteCommit(ctx, trans.CommitRecord{ID: id, AuthorID: "anna", CreatedAt: at}, []trans.StagedEdit{e})
		require.NoError(t, err)
	}

	commitOn("c-1", "v1", "welcome", "Willkommen", t0)
	commitOn("c-2", "v1", "welcome", "Moin", t0.Add(time.Second))
	commitOn("c-3", "v1", "goodbye", "Auf Wiedersehen", t0.Add(time.Second))
	commitOn("c-4", "v2", "welcome", "Willkommen", t0.Add(2*time.Second))

	recs, err := ds.MissingOnBranch(ctx, "v1", "v2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	// The current value of the missing key, not its first one
	assert.Equal(t, "goodbye", recs[0].StringID)
	assert.Equal(t, "Auf Wiedersehen", recs[0].Content)
	assert.Equal(t, "v1", recs[0].Branch)
}

func TestContributionRoundTrip(t *testing.T) {
	ds := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, ds.PutStage(ctx, edit("anna", "welcome", "Willkommen", now)))
	stash, err := ds.PushStash(ctx, "anna", "submission", now)
	require.NoError(t, err)

	c := trans.Contribution{
		StashID:    stash.ID,
		AuthorID:   "anna",
		Subject:    "German fixes",
		Message:    "please review",
		Status:     trans.StatusNew,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	c, err = ds.CreateContribution(ctx, c)
	require.NoError(t, err)
	assert.NotZero(t, c.ID)

	got, err := ds.GetContribution(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "German fixes", got.Subject)
	assert.Equal(t, trans.StatusNew, got.Status)

	got.Status = trans.StatusInReview
	got.AssigneeID = "maja"
	got.ModifiedAt = now.Add(time.Second)
	require.NoError(t, ds.UpdateContribution(ctx, got))

	got, err = ds.GetContribution(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, trans.StatusInReview, got.Status)
	assert.Equal(t, "maja", got.AssigneeID)

	all, err := ds.GetContributions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateContributionNotFound(t *testing.T) {
	ds := newTestStore(t)

	err := ds.UpdateContribution(context.Background(), trans.Contribution{ID: 4711})
	assert.ErrorIs(t, err, trans.ErrNotFound)
}
