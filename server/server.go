// Package server exposes the staging core as a JSON HTTP API. One route per
// operation; the caller's identity arrives in the X-User header and every
// constraint is enforced here regardless of what the client sends.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/contrib"
	"github.com/lokalhub/translation-stage-api/datastore"
	"github.com/lokalhub/translation-stage-api/importer"
	"github.com/lokalhub/translation-stage-api/notify"
	"github.com/lokalhub/translation-stage-api/permission"
	"github.com/lokalhub/translation-stage-api/stage"
	"github.com/lokalhub/translation-stage-api/stash"
	"github.com/lokalhub/translation-stage-api/trans"
)

func checkFatal(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Server wires the staging core components to their routes.
type Server struct {
	ds       *datastore.DataStore
	stage    *stage.Manager
	stashes  *stash.Store
	contribs *contrib.Workflow
	log      *slog.Logger
}

func New(ds *datastore.DataStore, stageMgr *stage.Manager, stashes *stash.Store, contribs *contrib.Workflow, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ds: ds, stage: stageMgr, stashes: stashes, contribs: contribs, log: log}
}

// statusFor maps core errors to HTTP statuses.
func statusFor(e error) int {
	switch {
	case errors.Is(e, trans.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e, trans.ErrInvalidKey), errors.Is(e, trans.ErrEmptyComment), errors.Is(e, contrib.ErrMissingSubject):
		return http.StatusBadRequest
	case errors.Is(e, trans.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(e, trans.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func checkHttpWithStatus(e error, w http.ResponseWriter, status int) (hadError bool) {
	if e != nil {
		w.WriteHeader(status)

		jsonErr := struct {
			Error string `json:"error"`
		}{
			Error: e.Error(),
		}
		enc := json.NewEncoder(w)
		enc.Encode(jsonErr)

		return true
	}
	return false
}

func checkHttp(e error, w http.ResponseWriter) (hadError bool) {
	if e == nil {
		return false
	}
	return checkHttpWithStatus(e, w, statusFor(e))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	enc := json.NewEncoder(w)
	checkHttp(enc.Encode(v), w)
}

func writeOk(w http.ResponseWriter) {
	w.Write([]byte("{\"result\":\"ok\"}\n"))
}

// user gets the caller's identity from the X-User header. Authentication
// itself happens upstream; an absent header is a bad request here.
func user(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.Header.Get("X-User")
	if u == "" {
		checkHttpWithStatus(errors.New("missing X-User header"), w, http.StatusUnauthorized)
		return "", false
	}
	return u, true
}

func keyFromVars(r *http.Request) trans.StringKey {
	vars := mux.Vars(r)
	return trans.StringKey{
		Branch:    vars["branch"],
		Component: vars["component"],
		StringID:  vars["stringid"],
		Lang:      vars["lang"],
	}
}

func stashId(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func setJsonHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

// Gets the current committed translation for one key
func (s *Server) getTranslationHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ds.CurrentTranslation(r.Context(), keyFromVars(r))
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, rec)
}

// Gets the full committed history for one key, newest first
func (s *Server) getHistoryHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.ds.TranslationHistory(r.Context(), keyFromVars(r))
	if checkHttp(err, w) {
		return
	}

	var output struct {
		History []trans.TranslationRecord `json:"history"`
	}
	output.History = recs
	if output.History == nil {
		output.History = []trans.TranslationRecord{}
	}

	writeJSON(w, output)
}

// Gets the most recent commits
func (s *Server) getCommitsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	commits, err := s.ds.RecentCommits(r.Context(), limit)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Commits []trans.CommitRecord `json:"commits"`
	}
	output.Commits = commits
	if output.Commits == nil {
		output.Commits = []trans.CommitRecord{}
	}

	writeJSON(w, output)
}

// Gets one commit and the records it produced
func (s *Server) getCommitHandler(w http.ResponseWriter, r *http.Request) {
	commit, recs, err := s.ds.CommitByID(r.Context(), mux.Vars(r)["id"])
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Commit  trans.CommitRecord        `json:"commit"`
		Records []trans.TranslationRecord `json:"records"`
	}
	output.Commit = commit
	output.Records = recs

	writeJSON(w, output)
}

// Gets the caller's stage with committability flags
func (s *Server) getStageHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	entries, summary, err := s.stage.List(r.Context(), owner)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Entries []stage.Entry `json:"entries"`
		Summary stage.Summary `json:"summary"`
	}
	output.Entries = entries
	output.Summary = summary

	writeJSON(w, output)
}

// Stages one edit for the caller
func (s *Server) putStageHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	var content struct {
		Content string `json:"content"`
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&content); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	if checkHttp(s.stage.Put(r.Context(), owner, keyFromVars(r), content.Content), w) {
		return
	}

	writeOk(w)
}

// Unstages one edit
func (s *Server) deleteStageEntryHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	if checkHttp(s.stage.Remove(r.Context(), owner, keyFromVars(r)), w) {
		return
	}

	writeOk(w)
}

// Unstages everything the caller has staged
func (s *Server) clearStageHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	if checkHttp(s.stage.Clear(r.Context(), owner), w) {
		return
	}

	writeOk(w)
}

// Unstages edits the caller may not commit
func (s *Server) pruneHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	out, err := s.stage.PruneStage(r.Context(), owner)
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, out)
}

// Unstages edits superseded by the committed repository state
func (s *Server) rebaseHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	out, err := s.stage.RebaseStage(r.Context(), owner)
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, out)
}

// Commits the caller's filtered stage into the repository
func (s *Server) commitHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	result, err := s.stage.Commit(r.Context(), owner, body.Message)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Result string `json:"result"`
		stage.CommitResult
	}
	output.Result = "ok"
	output.CommitResult = result
	if result.NothingToCommit() {
		output.Result = "nothing-to-commit"
	}

	writeJSON(w, output)
}

// Stages translations committed on a source branch whose keys are still
// untranslated on the target branch
func (s *Server) mergeHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	var body struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	count, err := s.stage.MergeBranch(r.Context(), owner, body.Source, body.Target)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Result string `json:"result"`
		Staged int    `json:"staged"`
	}
	output.Result = "ok"
	output.Staged = count

	writeJSON(w, output)
}

// Stages a whole batch of strings for the caller
func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	var batch importer.Batch
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&batch); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	count, err := batch.Stage(r.Context(), s.stage, owner)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Result string `json:"result"`
		Staged int    `json:"staged"`
	}
	output.Result = "ok"
	output.Staged = count

	writeJSON(w, output)
}

// Gets the caller's stashes
func (s *Server) getStashesHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	stashes, err := s.stashes.List(r.Context(), owner)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Stashes []trans.Stash `json:"stashes"`
	}
	output.Stashes = stashes
	if output.Stashes == nil {
		output.Stashes = []trans.Stash{}
	}

	writeJSON(w, output)
}

// Pushes the caller's stage into a new stash
func (s *Server) pushStashHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	pushed, err := s.stashes.Push(r.Context(), owner, body.Title)
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, pushed)
}

// Gets the caller's auto-save stash
func (s *Server) getAutoStashHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	autosave, err := s.stashes.AutoSave(r.Context(), owner)
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, autosave)
}

// Gets one stash and its snapshot entries
func (s *Server) getStashHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	st, err := s.stashes.Get(r.Context(), owner, stashId(r))
	if checkHttp(err, w) {
		return
	}
	strings, err := s.stashes.Strings(r.Context(), owner, st.ID)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Stash   trans.Stash        `json:"stash"`
		Strings []trans.StagedEdit `json:"strings"`
	}
	output.Stash = st
	output.Strings = strings
	if output.Strings == nil {
		output.Strings = []trans.StagedEdit{}
	}

	writeJSON(w, output)
}

// Applies a stash into the caller's stage, keeping the stash
func (s *Server) applyStashHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	if checkHttp(s.stashes.Apply(r.Context(), owner, stashId(r)), w) {
		return
	}

	writeOk(w)
}

// Applies a stash into the caller's stage and drops it
func (s *Server) popStashHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	if checkHttp(s.stashes.Pop(r.Context(), owner, stashId(r)), w) {
		return
	}

	writeOk(w)
}

// Drops a stash without applying it
func (s *Server) dropStashHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := user(w, r)
	if !ok {
		return
	}

	if checkHttp(s.stashes.Drop(r.Context(), owner, stashId(r)), w) {
		return
	}

	writeOk(w)
}

// Submits one of the caller's stashes for maintainer review
func (s *Server) submitContribHandler(w http.ResponseWriter, r *http.Request) {
	author, ok := user(w, r)
	if !ok {
		return
	}

	var body struct {
		Stash   int64  `json:"stash"`
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	c, err := s.contribs.Submit(r.Context(), author, body.Stash, body.Subject, body.Message)
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, c)
}

// Gets contributions visible to the caller, optionally filtered
func (s *Server) getContribsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := user(w, r)
	if !ok {
		return
	}

	var filter contrib.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			checkHttpWithStatus(fmt.Errorf("invalid status filter '%v'", v), w, http.StatusBadRequest)
			return
		}
		status := trans.ContribStatus(n)
		filter.Status = &status
	}
	filter.Assignee = r.URL.Query().Get("assignee")

	cs, err := s.contribs.List(r.Context(), caller, filter)
	if checkHttp(err, w) {
		return
	}

	var output struct {
		Contributions []trans.Contribution `json:"contributions"`
	}
	output.Contributions = cs

	writeJSON(w, output)
}

// Gets one contribution
func (s *Server) getContribHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := user(w, r)
	if !ok {
		return
	}

	c, err := s.contribs.Get(r.Context(), caller, stashId(r))
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, c)
}

func (s *Server) contribTransitionHandler(f func(*http.Request, string, int64) (trans.Contribution, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := user(w, r)
		if !ok {
			return
		}

		c, err := f(r, caller, stashId(r))
		if checkHttp(err, w) {
			return
		}

		writeJSON(w, c)
	}
}

// Rejects a contribution; the comment for the author is mandatory
func (s *Server) rejectContribHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := user(w, r)
	if !ok {
		return
	}

	var body struct {
		Comment string `json:"comment"`
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		checkHttpWithStatus(fmt.Errorf("could not decode request (%v)", err), w, http.StatusBadRequest)
		return
	}

	c, err := s.contribs.Reject(r.Context(), caller, stashId(r), body.Comment)
	if checkHttp(err, w) {
		return
	}

	writeJSON(w, c)
}

// Applies a contribution's strings into the caller's stage without touching
// its review status
func (s *Server) applyContribHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := user(w, r)
	if !ok {
		return
	}

	if checkHttp(s.contribs.Apply(r.Context(), caller, stashId(r)), w) {
		return
	}

	writeOk(w)
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)

	r.HandleFunc("/strings/{branch}/{component}/{stringid}/{lang}", s.getTranslationHandler).Methods("GET")
	r.HandleFunc("/strings/{branch}/{component}/{stringid}/{lang}/history", s.getHistoryHandler).Methods("GET")
	r.HandleFunc("/commits", s.getCommitsHandler).Methods("GET")
	r.HandleFunc("/commits/{id}", s.getCommitHandler).Methods("GET")

	r.HandleFunc("/stage", s.getStageHandler).Methods("GET")
	r.HandleFunc("/stage", s.clearStageHandler).Methods("DELETE")
	r.HandleFunc("/stage/strings/{branch}/{component}/{stringid}/{lang}", s.putStageHandler).Methods("PUT", "POST")
	r.HandleFunc("/stage/strings/{branch}/{component}/{stringid}/{lang}", s.deleteStageEntryHandler).Methods("DELETE")
	r.HandleFunc("/stage/prune", s.pruneHandler).Methods("POST")
	r.HandleFunc("/stage/rebase", s.rebaseHandler).Methods("POST")
	r.HandleFunc("/stage/commit", s.commitHandler).Methods("POST")
	r.HandleFunc("/stage/merge", s.mergeHandler).Methods("POST")
	r.HandleFunc("/stage/import", s.importHandler).Methods("POST")

	r.HandleFunc("/stashes", s.getStashesHandler).Methods("GET")
	r.HandleFunc("/stashes", s.pushStashHandler).Methods("POST")
	r.HandleFunc("/stashes/autosave", s.getAutoStashHandler).Methods("GET")
	r.HandleFunc("/stashes/{id:[0-9]+}", s.getStashHandler).Methods("GET")
	r.HandleFunc("/stashes/{id:[0-9]+}", s.dropStashHandler).Methods("DELETE")
	r.HandleFunc("/stashes/{id:[0-9]+}/apply", s.applyStashHandler).Methods("POST")
	r.HandleFunc("/stashes/{id:[0-9]+}/pop", s.popStashHandler).Methods("POST")

	r.HandleFunc("/contributions", s.getContribsHandler).Methods("GET")
	r.HandleFunc("/contributions", s.submitContribHandler).Methods("POST")
	r.HandleFunc("/contributions/{id:[0-9]+}", s.getContribHandler).Methods("GET")
	r.HandleFunc("/contributions/{id:[0-9]+}/review", s.contribTransitionHandler(func(r *http.Request, caller string, id int64) (trans.Contribution, error) {
		return s.contribs.StartReview(r.Context(), caller, id)
	})).Methods("POST")
	r.HandleFunc("/contributions/{id:[0-9]+}/assign", s.contribTransitionHandler(func(r *http.Request, caller string, id int64) (trans.Contribution, error) {
		return s.contribs.AssignToMe(r.Context(), caller, id)
	})).Methods("POST")
	r.HandleFunc("/contributions/{id:[0-9]+}/resign", s.contribTransitionHandler(func(r *http.Request, caller string, id int64) (trans.Contribution, error) {
		return s.contribs.Resign(r.Context(), caller, id)
	})).Methods("POST")
	r.HandleFunc("/contributions/{id:[0-9]+}/accept", s.contribTransitionHandler(func(r *http.Request, caller string, id int64) (trans.Contribution, error) {
		return s.contribs.Accept(r.Context(), caller, id)
	})).Methods("POST")
	r.HandleFunc("/contributions/{id:[0-9]+}/reject", s.rejectContribHandler).Methods("POST")
	r.HandleFunc("/contributions/{id:[0-9]+}/apply", s.applyContribHandler).Methods("POST")

	return r
}

// Serve runs the HTTP server until the process is stopped.
func Serve(c config.Config) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var db *sqlx.DB
	db, err := sqlx.Connect(c.DB.Driver, c.DB.ConnectionString())
	checkFatal(err)

	ds, err := datastore.New(db, c.DB.Driver)
	checkFatal(err)

	perms := permission.NewProvider(c.Permissions)
	classes := permission.NewClassifier(c.Components)
	stashes := stash.NewStore(ds)
	stageMgr := stage.NewManager(ds, perms, classes)
	contribs := contrib.NewWorkflow(ds, stashes, perms, notify.LogSink{Log: log}, log)

	s := New(ds, stageMgr, stashes, contribs, log)

	rWithMiddleWares := handlers.CombinedLoggingHandler(os.Stdout, setJsonHeaders(s.Router()))

	log.Info("listening", slog.Int("port", c.Server.Port))
	checkFatal(http.ListenAndServe(fmt.Sprintf(":%v", c.Server.Port), rWithMiddleWares))
}
