package datastore

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Sqlite3Adapter provides support for SQLite3 databases.
type Sqlite3Adapter struct{}

func (s Sqlite3Adapter) EnsureVersionTableExists(db *sqlx.DB) (err error) {
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS "schema_migrations" ("version" INTEGER PRIMARY KEY NOT NULL)`)
	if err != nil {
		return err
	}

	var count int
	err = db.Get(&count, `SELECT COUNT(*) FROM schema_migrations`)
	if err != nil {
		return err
	}
	switch {
	case count == 0:
		_, err = db.Exec(`INSERT INTO schema_migrations (version) VALUES (0)`)
	case count > 1:
		err = errors.New("too many rows in schema_migrations table")
	}

	return err
}

func (s Sqlite3Adapter) PostCreate(db *sqlx.DB) (err error) {
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return err
	}
	// Faster than using default journal file
	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return err
	}
	// Default (full) is slower
	_, err = db.Exec("PRAGMA synchronous = NORMAL")
	if err != nil {
		return err
	}

	return nil
}

func (s Sqlite3Adapter) up() []string {
	return []string{
		// 1
		`
CREATE TABLE "commits" (
    "id" TEXT PRIMARY KEY,
    "author_id" TEXT NOT NULL,
    "message" TEXT NOT NULL,
    "created_at" TIMESTAMP NOT NULL
);
CREATE TABLE "repository" (
    "id" INTEGER PRIMARY KEY AUTOINCREMENT,
    "branch" TEXT NOT NULL,
    "component" TEXT NOT NULL,
    "stringid" TEXT NOT NULL,
    "lang" TEXT NOT NULL,
    "content" TEXT NOT NULL,
    "author_id" TEXT NOT NULL,
    "commit_id" TEXT NOT NULL REFERENCES "commits"("id"),
    "created_at" TIMESTAMP NOT NULL
);
CREATE INDEX "repository_key" ON "repository" ("branch","component","stringid","lang","created_at");
CREATE INDEX "repository_commit" ON "repository" ("commit_id");
CREATE TABLE "stage" (
    "id" INTEGER PRIMARY KEY AUTOINCREMENT,
    "owner_id" TEXT NOT NULL,
    "branch" TEXT NOT NULL,
    "component" TEXT NOT NULL,
    "stringid" TEXT NOT NULL,
    "lang" TEXT NOT NULL,
    "content" TEXT NOT NULL,
    "edited_at" TIMESTAMP NOT NULL,
    UNIQUE ("owner_id","branch","component","stringid","lang")
);
CREATE INDEX "stage_owner" ON "stage" ("owner_id");
CREATE TABLE "stash" (
    "id" INTEGER PRIMARY KEY AUTOINCREMENT,
    "owner_id" TEXT NOT NULL,
    "title" TEXT NOT NULL,
    "autosave" BOOLEAN NOT NULL DEFAULT 0,
    "created_at" TIMESTAMP NOT NULL
);
CREATE INDEX "stash_owner" ON "stash" ("owner_id");
CREATE TABLE "stash_string" (
    "id" INTEGER PRIMARY KEY AUTOINCREMENT,
    "stash_id" INTEGER NOT NULL REFERENCES "stash"("id") ON DELETE CASCADE,
    "branch" TEXT NOT NULL,
    "component" TEXT NOT NULL,
    "stringid" TEXT NOT NULL,
    "lang" TEXT NOT NULL,
    "content" TEXT NOT NULL,
    "edited_at" TIMESTAMP NOT NULL
);
CREATE INDEX "stash_string_stash" ON "stash_string" ("stash_id");
`,
		// 2
		`
CREATE TABLE "contrib" (
    "id" INTEGER PRIMARY KEY AUTOINCREMENT,
    "stash_id" INTEGER NOT NULL REFERENCES "stash"("id"),
    "author_id" TEXT NOT NULL,
    "assignee_id" TEXT NOT NULL DEFAULT '',
    "subject" TEXT NOT NULL,
    "message" TEXT NOT NULL,
    "status" INTEGER NOT NULL DEFAULT 0,
    "created_at" TIMESTAMP NOT NULL,
    "modified_at" TIMESTAMP NOT NULL
);
CREATE INDEX "contrib_status" ON "contrib" ("status");
CREATE INDEX "contrib_assignee" ON "contrib" ("assignee_id");
`,
	}
}

func (s Sqlite3Adapter) down() []string {
	return []string{
		// 1
		`
DROP TABLE stash_string;
DROP TABLE stash;
DROP TABLE stage;
DROP TABLE repository;
DROP TABLE commits;
`,
		// 2
		`DROP TABLE contrib`,
	}
}

func (s Sqlite3Adapter) MigrateUp(db *sqlx.DB) (version int64, err error) {
	startVer, err := s.version(db)
	if err != nil {
		return version, err
	}

	for i, query := range s.up() {
		migTo := int64(i + 1)
		if migTo <= startVer {
			version = migTo
			continue
		}

		_, err = db.Exec(query)
		if err != nil {
			return version, err
		}

		err = s.updateVersion(migTo, db)
		if err != nil {
			return version, err
		}

		version = migTo
	}

	return version, err
}

func (s Sqlite3Adapter) MigrateDown(db *sqlx.DB) (version int64, err error) {
	startVer, err := s.version(db)
	if err != nil {
		return version, err
	}

	down := s.down()
	for i := len(down) - 1; i >= 0; i-- {
		query := down[i]
		migVer := int64(i + 1) // The version of the Down migration we will apply
		migTo := int64(i)      // The version we will end up at

		// Skip migrations for newer versions
		if migVer > startVer {
			version = startVer
			continue
		}

		_, err = db.Exec(query)
		if err != nil {
			return version, err
		}

		err = s.updateVersion(migTo, db)
		if err != nil {
			return version, err
		}

		version = migTo
	}

	return version, err
}

func (s Sqlite3Adapter) SupportsLastInsertId() bool {
	return true
}

func (s Sqlite3Adapter) InsertRecordQuery() string {
	return "INSERT INTO repository (branch, component, stringid, lang, content, author_id, commit_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
}

func (s Sqlite3Adapter) CurrentTranslationQuery() string {
	return "SELECT id, branch, component, stringid, lang, content, author_id, commit_id, created_at FROM repository WHERE branch = ? AND component = ? AND stringid = ? AND lang = ? ORDER BY created_at DESC, id DESC LIMIT 1"
}

func (s Sqlite3Adapter) TranslationHistoryQuery() string {
	return "SELECT id, branch, component, stringid, lang, content, author_id, commit_id, created_at FROM repository WHERE branch = ? AND component = ? AND stringid = ? AND lang = ? ORDER BY created_at DESC, id DESC"
}

func (s Sqlite3Adapter) MissingOnBranchQuery() string {
	return "SELECT r.id, r.branch, r.component, r.stringid, r.lang, r.content, r.author_id, r.commit_id, r.created_at FROM repository r WHERE r.branch = ? AND r.id = (SELECT r2.id FROM repository r2 WHERE r2.branch = r.branch AND r2.component = r.component AND r2.stringid = r.stringid AND r2.lang = r.lang ORDER BY r2.created_at DESC, r2.id DESC LIMIT 1) AND NOT EXISTS (SELECT 1 FROM repository t WHERE t.branch = ? AND t.component = r.component AND t.stringid = r.stringid AND t.lang = r.lang) ORDER BY r.component, r.stringid, r.lang"
}

func (s Sqlite3Adapter) InsertCommitQuery() string {
	return "INSERT INTO commits (id, author_id, message, created_at) VALUES (?, ?, ?, ?)"
}

func (s Sqlite3Adapter) GetCommitQuery() string {
	return "SELECT id, author_id, message, created_at FROM commits WHERE id = ?"
}

func (s Sqlite3Adapter) RecentCommitsQuery() string {
	return "SELECT id, author_id, message, created_at FROM commits ORDER BY created_at DESC LIMIT ?"
}

func (s Sqlite3Adapter) CommitRecordsQuery() string {
	return "SELECT id, branch, component, stringid, lang, content, author_id, commit_id, created_at FROM repository WHERE commit_id = ? ORDER BY component, stringid, lang, branch"
}

func (s Sqlite3Adapter) UpsertStageQuery() string {
	return "INSERT INTO stage (owner_id, branch, component, stringid, lang, content, edited_at) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (owner_id, branch, component, stringid, lang) DO UPDATE SET content = excluded.content, edited_at = excluded.edited_at"
}

func (s Sqlite3Adapter) GetStageQuery() string {
	return "SELECT owner_id, branch, component, stringid, lang, content, edited_at FROM stage WHERE owner_id = ? ORDER BY component, stringid, lang, branch"
}

func (s Sqlite3Adapter) DeleteStageEntryQuery() string {
	return "DELETE FROM stage WHERE owner_id = ? AND branch = ? AND component = ? AND stringid = ? AND lang = ?"
}

func (s Sqlite3Adapter) DeleteStageEntryIfUnchangedQuery() string {
	return "DELETE FROM stage WHERE owner_id = ? AND branch = ? AND component = ? AND stringid = ? AND lang = ? AND edited_at = ?"
}

func (s Sqlite3Adapter) ClearStageQuery() string {
	return "DELETE FROM stage WHERE owner_id = ?"
}

func (s Sqlite3Adapter) InsertStashQuery() string {
	return "INSERT INTO stash (owner_id, title, autosave, created_at) VALUES (?, ?, ?, ?)"
}

func (s Sqlite3Adapter) GetStashQuery() string {
	return "SELECT s.id, s.owner_id, s.title, s.autosave, s.created_at, (SELECT COUNT(*) FROM stash_string ss WHERE ss.stash_id = s.id) AS strings FROM stash s WHERE s.id = ?"
}

func (s Sqlite3Adapter) GetStashesQuery() string {
	return "SELECT s.id, s.owner_id, s.title, s.autosave, s.created_at, (SELECT COUNT(*) FROM stash_string ss WHERE ss.stash_id = s.id) AS strings FROM stash s WHERE s.owner_id = ? AND s.autosave = 0 ORDER BY s.created_at DESC, s.id DESC"
}

func (s Sqlite3Adapter) GetAutoStashQuery() string {
	return "SELECT id FROM stash WHERE owner_id = ? AND autosave = 1"
}

func (s Sqlite3Adapter) TouchStashQuery() string {
	return "UPDATE stash SET created_at = ? WHERE id = ?"
}

func (s Sqlite3Adapter) DeleteStashQuery() string {
	return "DELETE FROM stash WHERE id = ? AND owner_id = ? AND autosave = 0"
}

func (s Sqlite3Adapter) CopyStageToStashQuery() string {
	return "INSERT INTO stash_string (stash_id, branch, component, stringid, lang, content, edited_at) SELECT ?, branch, component, stringid, lang, content, edited_at FROM stage WHERE owner_id = ?"
}

func (s Sqlite3Adapter) DeleteStashStringsQuery() string {
	return "DELETE FROM stash_string WHERE stash_id = ?"
}

func (s Sqlite3Adapter) GetStashStringsQuery() string {
	return "SELECT branch, component, stringid, lang, content, edited_at FROM stash_string WHERE stash_id = ? ORDER BY component, stringid, lang, branch"
}

func (s Sqlite3Adapter) CopyStashToStageQuery() string {
	return "INSERT INTO stage (owner_id, branch, component, stringid, lang, content, edited_at) SELECT ?, branch, component, stringid, lang, content, edited_at FROM stash_string WHERE stash_id = ? ON CONFLICT (owner_id, branch, component, stringid, lang) DO UPDATE SET content = excluded.content, edited_at = excluded.edited_at"
}

func (s Sqlite3Adapter) InsertContribQuery() string {
	return "INSERT INTO contrib (stash_id, author_id, assignee_id, subject, message, status, created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
}

func (s Sqlite3Adapter) GetContribQuery() string {
	return "SELECT id, stash_id, author_id, assignee_id, subject, message, status, created_at, modified_at FROM contrib WHERE id = ?"
}

func (s Sqlite3Adapter) GetContribsQuery() string {
	return "SELECT id, stash_id, author_id, assignee_id, subject, message, status, created_at, modified_at FROM contrib ORDER BY modified_at DESC, id DESC"
}

func (s Sqlite3Adapter) UpdateContribQuery() string {
	return "UPDATE contrib SET assignee_id = ?, status = ?, message = ?, modified_at = ? WHERE id = ?"
}

func (s Sqlite3Adapter) CountContribsForStashQuery() string {
	return "SELECT COUNT(*) FROM contrib WHERE stash_id = ?"
}

func (s Sqlite3Adapter) version(db *sqlx.DB) (version int64, err error) {
	row := db.QueryRow("SELECT version FROM schema_migrations")
	err = row.Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		return 0, nil
	case err != nil:
		return 0, err
	default:
		return version, nil
	}
}

func (s Sqlite3Adapter) updateVersion(version int64, db *sqlx.DB) (err error) {
	_, err = db.Exec("UPDATE schema_migrations SET version = ?", int64(version))

	return err
}
