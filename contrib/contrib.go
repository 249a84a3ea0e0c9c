// Package contrib implements the review workflow for contributed
// translations: stashes submitted by translators without commit rights,
// tracked from submission through review to acceptance or rejection.
package contrib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lokalhub/translation-stage-api/datastore"
	"github.com/lokalhub/translation-stage-api/notify"
	"github.com/lokalhub/translation-stage-api/stash"
	"github.com/lokalhub/translation-stage-api/trans"
)

// ErrMissingSubject is returned when a contribution is submitted without a
// subject line.
var ErrMissingSubject = errors.New("contribution subject is required")

// event names a workflow operation that may change a contribution's status.
type event string

const (
	evStartReview event = "startreview"
	evAssign      event = "assign"
	evResign      event = "resign"
	evAccept      event = "accept"
	evReject      event = "reject"
)

// transitions is the explicit table of allowed status changes. Events fired
// from a status missing here fail with trans.ErrInvalidTransition; the two
// terminal statuses appear as no event's source.
var transitions = map[event]map[trans.ContribStatus]trans.ContribStatus{
	evStartReview: {
		trans.StatusNew: trans.StatusInReview,
	},
	evAssign: {
		trans.StatusNew:      trans.StatusNew,
		trans.StatusInReview: trans.StatusInReview,
	},
	evResign: {
		trans.StatusNew:      trans.StatusNew,
		trans.StatusInReview: trans.StatusInReview,
	},
	evAccept: {
		trans.StatusNew:      trans.StatusAccepted,
		trans.StatusInReview: trans.StatusAccepted,
	},
	evReject: {
		trans.StatusNew:      trans.StatusRejected,
		trans.StatusInReview: trans.StatusRejected,
	},
}

func nextStatus(ev event, from trans.ContribStatus) (trans.ContribStatus, error) {
	to, ok := transitions[ev][from]
	if !ok {
		return from, fmt.Errorf("%w: %s from status %s", trans.ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// Workflow is the entry point for all contribution operations.
type Workflow struct {
	ds      *datastore.DataStore
	stashes *stash.Store
	perms   trans.Permissions
	sink    notify.Sink
	log     *slog.Logger
}

func NewWorkflow(ds *datastore.DataStore, stashes *stash.Store, perms trans.Permissions, sink notify.Sink, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{ds: ds, stashes: stashes, perms: perms, sink: sink, log: log}
}

// Submit wraps one of the author's stashes into a new contribution for the
// maintainers to review. The stash becomes frozen by convention: review
// state lives on the contribution, never on the stash.
func (w *Workflow) Submit(ctx context.Context, author string, stashID int64, subject, message string) (trans.Contribution, error) {
	if subject == "" {
		return trans.Contribution{}, ErrMissingSubject
	}

	st, err := w.ds.GetStash(ctx, author, stashID)
	if err != nil {
		return trans.Contribution{}, err
	}
	if st.AutoSave {
		return trans.Contribution{}, fmt.Errorf("%w: the auto-save stash cannot be submitted", trans.ErrPermissionDenied)
	}

	now := time.Now().UTC()
	c := trans.Contribution{
		StashID:    stashID,
		AuthorID:   author,
		Subject:    subject,
		Message:    message,
		Status:     trans.StatusNew,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	c, err = w.ds.CreateContribution(ctx, c)
	if err != nil {
		return trans.Contribution{}, err
	}

	w.notify(ctx, notify.MaintainersRecipient, notify.TemplateSubmitted, c)

	return c, nil
}

// StartReview assigns a new contribution to the calling maintainer, marks it
// in review and copies the submitted strings into the maintainer's stage.
func (w *Workflow) StartReview(ctx context.Context, maintainer string, id int64) (trans.Contribution, error) {
	c, err := w.manageable(ctx, maintainer, id)
	if err != nil {
		return trans.Contribution{}, err
	}

	c.Status, err = nextStatus(evStartReview, c.Status)
	if err != nil {
		return trans.Contribution{}, err
	}
	c.AssigneeID = maintainer
	c.ModifiedAt = time.Now().UTC()

	if err = w.stashes.ApplyTo(ctx, c.StashID, maintainer); err != nil {
		return trans.Contribution{}, err
	}
	if err = w.ds.UpdateContribution(ctx, c); err != nil {
		return trans.Contribution{}, err
	}

	w.notify(ctx, c.AuthorID, notify.TemplateReviewStarted, c)

	return c, nil
}

// AssignToMe sets the calling maintainer as the contribution's assignee
// without changing its status.
func (w *Workflow) AssignToMe(ctx context.Context, maintainer string, id int64) (trans.Contribution, error) {
	c, err := w.manageable(ctx, maintainer, id)
	if err != nil {
		return trans.Contribution{}, err
	}

	if _, err = nextStatus(evAssign, c.Status); err != nil {
		return trans.Contribution{}, err
	}
	c.AssigneeID = maintainer
	c.ModifiedAt = time.Now().UTC()

	return c, w.ds.UpdateContribution(ctx, c)
}

// Resign clears the contribution's assignee without changing its status.
func (w *Workflow) Resign(ctx context.Context, maintainer string, id int64) (trans.Contribution, error) {
	c, err := w.manageable(ctx, maintainer, id)
	if err != nil {
		return trans.Contribution{}, err
	}

	if _, err = nextStatus(evResign, c.Status); err != nil {
		return trans.Contribution{}, err
	}
	c.AssigneeID = ""
	c.ModifiedAt = time.Now().UTC()

	return c, w.ds.UpdateContribution(ctx, c)
}

// Accept marks the contribution as accepted and informs the author. The
// status is terminal.
func (w *Workflow) Accept(ctx context.Context, maintainer string, id int64) (trans.Contribution, error) {
	c, err := w.manageable(ctx, maintainer, id)
	if err != nil {
		return trans.Contribution{}, err
	}

	c.Status, err = nextStatus(evAccept, c.Status)
	if err != nil {
		return trans.Contribution{}, err
	}
	if c.AssigneeID == "" {
		c.AssigneeID = maintainer
	}
	c.ModifiedAt = time.Now().UTC()

	if err = w.ds.UpdateContribution(ctx, c); err != nil {
		return trans.Contribution{}, err
	}

	w.notify(ctx, c.AuthorID, notify.TemplateAccepted, c)

	return c, nil
}

// Reject marks the contribution as rejected, appends the mandatory comment
// for the author and informs them. The status is terminal.
func (w *Workflow) Reject(ctx context.Context, maintainer string, id int64, comment string) (trans.Contribution, error) {
	if comment == "" {
		return trans.Contribution{}, trans.ErrEmptyComment
	}

	c, err := w.manageable(ctx, maintainer, id)
	if err != nil {
		return trans.Contribution{}, err
	}

	c.Status, err = nextStatus(evReject, c.Status)
	if err != nil {
		return trans.Contribution{}, err
	}
	if c.AssigneeID == "" {
		c.AssigneeID = maintainer
	}
	c.Message = c.Message + "\n\n" + comment
	c.ModifiedAt = time.Now().UTC()

	if err = w.ds.UpdateContribution(ctx, c); err != nil {
		return trans.Contribution{}, err
	}

	w.notify(ctx, c.AuthorID, notify.TemplateRejected, c)

	return c, nil
}

// Apply copies the contribution's strings into the calling maintainer's
// stage. Allowed from any status and has no workflow side effect.
func (w *Workflow) Apply(ctx context.Context, maintainer string, id int64) error {
	c, err := w.manageable(ctx, maintainer, id)
	if err != nil {
		return err
	}

	return w.stashes.ApplyTo(ctx, c.StashID, maintainer)
}

// Get gets one contribution. Authors see their own submissions; maintainers
// see everything.
func (w *Workflow) Get(ctx context.Context, caller string, id int64) (trans.Contribution, error) {
	c, err := w.ds.GetContribution(ctx, id)
	if err != nil {
		return trans.Contribution{}, err
	}
	if c.AuthorID != caller && !w.perms.CanManage(caller) {
		return trans.Contribution{}, fmt.Errorf("%w: contribution %v", trans.ErrNotFound, id)
	}

	return c, nil
}

// Filter narrows a contribution listing.
type Filter struct {
	// Status limits the listing to one status when non-nil.
	Status *trans.ContribStatus
	// Assignee limits the listing to one assignee when non-empty.
	Assignee string
}

func (f Filter) matches(c trans.Contribution) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.Assignee != "" && c.AssigneeID != f.Assignee {
		return false
	}
	return true
}

// List gets contributions visible to the caller, most recently modified
// first. Maintainers see all contributions, everybody else only their own.
func (w *Workflow) List(ctx context.Context, caller string, filter Filter) ([]trans.Contribution, error) {
	all, err := w.ds.GetContributions(ctx)
	if err != nil {
		return nil, err
	}

	manager := w.perms.CanManage(caller)
	out := make([]trans.Contribution, 0, len(all))
	for _, c := range all {
		if !manager && c.AuthorID != caller {
			continue
		}
		if filter.matches(c) {
			out = append(out, c)
		}
	}

	return out, nil
}

// PresetCommitMessage suggests a commit message for applying the
// contribution into the language pack.
func PresetCommitMessage(c trans.Contribution) string {
	return fmt.Sprintf("Contributed translation #%d by %s", c.ID, c.AuthorID)
}

// manageable loads a contribution for a caller holding manage rights.
func (w *Workflow) manageable(ctx context.Context, caller string, id int64) (trans.Contribution, error) {
	if !w.perms.CanManage(caller) {
		return trans.Contribution{}, fmt.Errorf("%w: %v may not manage contributions", trans.ErrPermissionDenied, caller)
	}

	return w.ds.GetContribution(ctx, id)
}

// notify delivers a workflow notification. Failures are logged and do not
// roll back the transition.
func (w *Workflow) notify(ctx context.Context, recipient, template string, c trans.Contribution) {
	if w.sink == nil {
		return
	}

	n := notify.Notification{
		Recipient: recipient,
		Template:  template,
		Data: map[string]string{
			"id":       strconv.FormatInt(c.ID, 10),
			"subject":  c.Subject,
			"author":   c.AuthorID,
			"assignee": c.AssigneeID,
			"status":   c.Status.String(),
		},
	}
	if err := w.sink.Send(ctx, n); err != nil {
		w.log.WarnContext(ctx, "notification delivery failed",
			slog.String("template", template),
			slog.String("recipient", recipient),
			slog.Any("error", err))
	}
}
