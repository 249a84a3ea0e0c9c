// Package trans defines the domain model shared by all parts of the
// translation staging API: string keys, committed records, staged edits,
// stashes and contributions.
package trans

import (
	"fmt"
	"strings"
	"time"
)

// StringKey uniquely identifies one localizable slot. Immutable once created.
type StringKey struct {
	Branch    string `json:"branch" db:"branch"`
	Component string `json:"component" db:"component"`
	StringID  string `json:"stringid" db:"stringid"`
	Lang      string `json:"lang" db:"lang"`
}

func (k StringKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Branch, k.Component, k.StringID, k.Lang)
}

// Validate checks that all four parts of the key are present and free of
// separator characters. Keys are validated once, at staging or import time.
func (k StringKey) Validate() error {
	parts := map[string]string{
		"branch":    k.Branch,
		"component": k.Component,
		"stringid":  k.StringID,
		"lang":      k.Lang,
	}
	for name, v := range parts {
		if v == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidKey, name)
		}
		if strings.ContainsAny(v, "/ \t\n") {
			return fmt.Errorf("%w: invalid %s %q", ErrInvalidKey, name, v)
		}
	}
	return nil
}

// TranslationRecord is one committed value for a StringKey. Records are
// immutable; the repository history for a key is only ever appended to. The
// current value of a key is the record with the greatest timestamp.
type TranslationRecord struct {
	ID        int64     `json:"id" db:"id"`
	StringKey
	Content   string    `json:"content" db:"content"`
	AuthorID  string    `json:"author" db:"author_id"`
	CommitID  string    `json:"commit" db:"commit_id"`
	CreatedAt time.Time `json:"createdat" db:"created_at"`
}

// StagedEdit is one uncommitted edit in an owner's stage. It is private to
// the owner and mutable until committed: re-editing the same key overwrites
// the previous edit.
type StagedEdit struct {
	StringKey
	Content  string    `json:"content" db:"content"`
	OwnerID  string    `json:"owner" db:"owner_id"`
	EditedAt time.Time `json:"editedat" db:"edited_at"`
}

// CommitRecord groups all translation records produced by one commit.
type CommitRecord struct {
	ID        string    `json:"id" db:"id"`
	AuthorID  string    `json:"author" db:"author_id"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"createdat" db:"created_at"`
}

// Stash is a frozen snapshot of a stage. Immutable once created, except for
// deletion. The auto-save stash (AutoSave true) is the single
// system-maintained backup per owner and is overwritten in place on every
// stage mutation.
type Stash struct {
	ID        int64     `json:"id" db:"id"`
	OwnerID   string    `json:"owner" db:"owner_id"`
	Title     string    `json:"title" db:"title"`
	AutoSave  bool      `json:"autosave" db:"autosave"`
	Strings   int       `json:"strings" db:"strings"`
	CreatedAt time.Time `json:"createdat" db:"created_at"`
}

// ContribStatus is the review state of a contribution. The numeric values
// are stable and appear on the wire and in the database.
type ContribStatus int

const (
	StatusNew      ContribStatus = 0
	StatusInReview ContribStatus = 10
	StatusRejected ContribStatus = 20
	StatusAccepted ContribStatus = 30
)

func (s ContribStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInReview:
		return "inreview"
	case StatusRejected:
		return "rejected"
	case StatusAccepted:
		return "accepted"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further status transitions are allowed.
func (s ContribStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Contribution wraps a stash submitted for maintainer review. The referenced
// stash is never mutated after submission; review state lives here.
type Contribution struct {
	ID         int64         `json:"id" db:"id"`
	StashID    int64         `json:"stash" db:"stash_id"`
	AuthorID   string        `json:"author" db:"author_id"`
	AssigneeID string        `json:"assignee" db:"assignee_id"`
	Subject    string        `json:"subject" db:"subject"`
	Message    string        `json:"message" db:"message"`
	Status     ContribStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"createdat" db:"created_at"`
	ModifiedAt time.Time     `json:"modifiedat" db:"modified_at"`
}
