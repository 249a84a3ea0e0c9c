package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokalhub/translation-stage-api/trans"
)

// langPerms grants commit rights for a fixed set of languages, any class.
type langPerms map[string]bool

func (p langPerms) CanCommit(userID, lang string, class trans.ComponentClass) bool { return p[lang] }
func (p langPerms) CanManage(userID string) bool                                   { return false }

type contribOnly struct{}

func (contribOnly) Classify(component string) trans.ComponentClass { return trans.ClassContrib }

func fedit(stringid, lang, content string, at time.Time) trans.StagedEdit {
	return trans.StagedEdit{
		StringKey: trans.StringKey{Branch: "main", Component: "core", StringID: stringid, Lang: lang},
		Content:   content,
		OwnerID:   "anna",
		EditedAt:  at,
	}
}

func TestPruneSplitsByCommitRights(t *testing.T) {
	now := time.Now().UTC()
	edits := []trans.StagedEdit{
		fedit("welcome", "de", "Willkommen", now),
		fedit("welcome", "fr", "Bienvenue", now),
	}

	kept, pruned := Prune(edits, "anna", langPerms{"de": true}, contribOnly{})

	require.Len(t, kept, 1)
	assert.Equal(t, "de", kept[0].Lang)
	require.Len(t, pruned, 1)
	assert.Equal(t, "fr", pruned[0].Lang)
}

func TestPruneIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	edits := []trans.StagedEdit{
		fedit("welcome", "de", "Willkommen", now),
		fedit("welcome", "fr", "Bienvenue", now),
	}

	kept, _ := Prune(edits, "anna", langPerms{"de": true}, contribOnly{})
	again, pruned := Prune(kept, "anna", langPerms{"de": true}, contribOnly{})

	assert.Equal(t, kept, again)
	assert.Empty(t, pruned)
}

func TestRebaseKeepsUncommittedKeys(t *testing.T) {
	now := time.Now().UTC()
	edits := []trans.StagedEdit{fedit("welcome", "de", "Willkommen", now)}

	kept, unchanged, stale := Rebase(edits, nil)

	assert.Len(t, kept, 1)
	assert.Empty(t, unchanged)
	assert.Empty(t, stale)
}

func TestRebaseDropsUnchangedEdits(t *testing.T) {
	now := time.Now().UTC()
	e := fedit("welcome", "de", "Willkommen", now)
	current := map[trans.StringKey]trans.TranslationRecord{
		e.StringKey: {StringKey: e.StringKey, Content: "Willkommen", CreatedAt: now.Add(-time.Hour)},
	}

	kept, unchanged, stale := Rebase([]trans.StagedEdit{e}, current)

	assert.Empty(t, kept)
	assert.Len(t, unchanged, 1)
	assert.Empty(t, stale)
}

func TestRebaseDropsStaleEdits(t *testing.T) {
	now := time.Now().UTC()
	e := fedit("welcome", "de", "Willkommen", now.Add(-time.Hour))
	current := map[trans.StringKey]trans.TranslationRecord{
		// Committed after the edit was staged, with different content
		e.StringKey: {StringKey: e.StringKey, Content: "Moin", CreatedAt: now},
	}

	kept, unchanged, stale := Rebase([]trans.StagedEdit{e}, current)

	assert.Empty(t, kept)
	assert.Empty(t, unchanged)
	assert.Len(t, stale, 1)
}

func TestRebaseKeepsEditsNewerThanCurrent(t *testing.T) {
	now := time.Now().UTC()
	e := fedit("welcome", "de", "Willkommen", now)
	current := map[trans.StringKey]trans.TranslationRecord{
		e.StringKey: {StringKey: e.StringKey, Content: "Moin", CreatedAt: now.Add(-time.Hour)},
	}

	kept, unchanged, stale := Rebase([]trans.StagedEdit{e}, current)

	assert.Len(t, kept, 1)
	assert.Empty(t, unchanged)
	assert.Empty(t, stale)
}

func TestRebaseIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	edits := []trans.StagedEdit{
		fedit("welcome", "de", "Willkommen", now),
		fedit("goodbye", "de", "Auf Wiedersehen", now.Add(-time.Hour)),
	}
	goodbye := edits[1].StringKey
	current := map[trans.StringKey]trans.TranslationRecord{
		goodbye: {StringKey: goodbye, Content: "Tschüss", CreatedAt: now},
	}

	kept, _, stale := Rebase(edits, current)
	require.Len(t, stale, 1)

	again, unchanged, stale := Rebase(kept, current)
	assert.Equal(t, kept, again)
	assert.Empty(t, unchanged)
	assert.Empty(t, stale)
}

func TestOutcomeDropped(t *testing.T) {
	now := time.Now().UTC()
	o := Outcome{
		Kept:      []trans.StagedEdit{fedit("a", "de", "x", now)},
		Pruned:    []trans.StagedEdit{fedit("b", "de", "x", now)},
		Unchanged: []trans.StagedEdit{fedit("c", "de", "x", now)},
		Stale:     []trans.StagedEdit{fedit("d", "de", "x", now)},
	}

	assert.Len(t, o.Dropped(), 3)
}
