package stage

import (
	"github.com/lokalhub/translation-stage-api/trans"
)

// Outcome classifies each staged edit examined by the prune and rebase
// filters. Filtering is normal behaviour, so outcomes are data, not errors.
type Outcome struct {
	// Kept survived the filter and is still staged.
	Kept []trans.StagedEdit
	// Pruned was dropped because the owner has no commit rights for its
	// language and component class.
	Pruned []trans.StagedEdit
	// Unchanged was dropped because it is textually identical to the
	// current committed value.
	Unchanged []trans.StagedEdit
	// Stale was dropped because somebody committed a newer value for the
	// key after the edit was staged.
	Stale []trans.StagedEdit
}

// Dropped returns all edits removed by the filters, in no particular order.
func (o Outcome) Dropped() []trans.StagedEdit {
	dropped := make([]trans.StagedEdit, 0, len(o.Pruned)+len(o.Unchanged)+len(o.Stale))
	dropped = append(dropped, o.Pruned...)
	dropped = append(dropped, o.Unchanged...)
	dropped = append(dropped, o.Stale...)
	return dropped
}

// Prune splits the edits into those the owner may commit and those they may
// not. It is a pure function of its inputs and idempotent: pruning an
// already pruned set keeps everything.
func Prune(edits []trans.StagedEdit, owner string, perms trans.Permissions, classes trans.Classifier) (kept, pruned []trans.StagedEdit) {
	for _, edit := range edits {
		if perms.CanCommit(owner, edit.Lang, classes.Classify(edit.Component)) {
			kept = append(kept, edit)
		} else {
			pruned = append(pruned, edit)
		}
	}

	return kept, pruned
}

// Rebase drops edits that are superseded by the committed repository state:
// an edit identical to the current value has nothing to commit, and an edit
// staged before the latest committed record for its key is stale and must be
// re-edited to override the newer work. current maps keys to their current
// committed record; keys with no committed value are absent. Pure and
// idempotent, like Prune.
func Rebase(edits []trans.StagedEdit, current map[trans.StringKey]trans.TranslationRecord) (kept, unchanged, stale []trans.StagedEdit) {
	for _, edit := range edits {
		rec, committed := current[edit.StringKey]
		switch {
		case !committed:
			kept = append(kept, edit)
		case edit.Content == rec.Content:
			unchanged = append(unchanged, edit)
		case edit.EditedAt.Before(rec.CreatedAt):
			stale = append(stale, edit)
		default:
			kept = append(kept, edit)
		}
	}

	return kept, unchanged, stale
}
