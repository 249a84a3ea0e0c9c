package datastore

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// PostgresAdapter provides support for PostgreSQL databases.
type PostgresAdapter struct{}

func (a PostgresAdapter) EnsureVersionTableExists(db *sqlx.DB) (err error) {
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version integer PRIMARY KEY NOT NULL)`)
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

func (a PostgresAdapter) PostCreate(db *sqlx.DB) (err error) {
	return nil
}

func (a PostgresAdapter) up() []string {
	return []string{
		// 1
		`
CREATE TABLE commits (
    id varchar PRIMARY KEY,
    author_id varchar NOT NULL,
    message text NOT NULL,
    created_at timestamptz NOT NULL
);
CREATE TABLE repository (
    id BIGSERIAL PRIMARY KEY,
    branch varchar NOT NULL,
    component varchar NOT NULL,
    stringid varchar NOT NULL,
    lang varchar NOT NULL,
    content text NOT NULL,
    author_id varchar NOT NULL,
    commit_id varchar NOT NULL REFERENCES commits(id),
    created_at timestamptz NOT NULL
);
CREATE INDEX repository_key_idx ON repository (branch, component, stringid, lang, created_at);
CREATE INDEX repository_commit_idx ON repository (commit_id);
CREATE TABLE stage (
    id BIGSERIAL PRIMARY KEY,
    owner_id varchar NOT NULL,
    branch varchar NOT NULL,
    component varchar NOT NULL,
    stringid varchar NOT NULL,
    lang varchar NOT NULL,
    content text NOT NULL,
    edited_at timestamptz NOT NULL,
    UNIQUE (owner_id, branch, component, stringid, lang)
);
CREATE INDEX stage_owner_idx ON stage (owner_id);
CREATE TABLE stash (
    id BIGSERIAL PRIMARY KEY,
    owner_id varchar NOT NULL,
    title varchar NOT NULL,
    autosave boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL
);
CREATE INDEX stash_owner_idx ON stash (owner_id);
CREATE TABLE stash_string (
    id BIGSERIAL PRIMARY KEY,
    stash_id bigint NOT NULL REFERENCES stash(id) ON DELETE CASCADE,
    branch varchar NOT NULL,
    component varchar NOT NULL,
    stringid varchar NOT NULL,
    lang varchar NOT NULL,
    content text NOT NULL,
    edited_at timestamptz NOT NULL
);
CREATE INDEX stash_string_stash_idx ON stash_string (stash_id);`,
		// 2
		`
CREATE TABLE contrib (
    id BIGSERIAL PRIMARY KEY,
    stash_id bigint NOT NULL REFERENCES stash(id),
    author_id varchar NOT NULL,
    assignee_id varchar NOT NULL DEFAULT '',
    subject varchar NOT NULL,
    message text NOT NULL,
    status integer NOT NULL DEFAULT 0,
    created_at timestamptz NOT NULL,
    modified_at timestamptz NOT NULL
);
CREATE INDEX contrib_status_idx ON contrib (status);
CREATE INDEX contrib_assignee_idx ON contrib (assignee_id);`,
	}
}

func (a PostgresAdapter) down() []string {
	return []string{
		// 1
		`
DROP TABLE IF EXISTS stash_string;
DROP TABLE IF EXISTS stash;
DROP TABLE IF EXISTS stage;
DROP TABLE IF EXISTS repository;
DROP TABLE IF EXISTS commits;
`,
		// 2
		`DROP TABLE IF EXISTS contrib;`,
	}
}

func (a PostgresAdapter) MigrateUp(db *sqlx.DB) (version int64, err error) {
	startVer, err := a.version(db)
	if err != nil {
		return version, err
	}

	for i, query := range a.up() {
		migTo := int64(i + 1)
		if migTo <= startVer {
			version = migTo
			continue
		}

		_, err = db.Exec(query)
		if err != nil {
			return version, err
		}

		err = a.updateVersion(migTo, db)
		if err != nil {
			return version, err
		}

		version = migTo
	}

	return version, err
}

func (a PostgresAdapter) MigrateDown(db *sqlx.DB) (version int64, err error) {
	startVer, err := a.version(db)
	if err != nil {
		return version, err
	}

	down := a.down()
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

		err = a.updateVersion(migTo, db)
		if err != nil {
			return version, err
		}

		version = migTo
	}

	return version, err
}

func (a PostgresAdapter) SupportsLastInsertId() bool {
	return false
}

func (a PostgresAdapter) InsertRecordQuery() string {
	return `INSERT INTO repository (branch, component, stringid, lang, content, author_id, commit_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id;`
}

func (a PostgresAdapter) CurrentTranslationQuery() string {
	return `SELECT id, branch, component, stringid, lang, content, author_id, commit_id, created_at FROM repository WHERE branch = $1 AND component = $2 AND stringid = $3 AND lang = $4 ORDER BY created_at DESC, id DESC LIMIT 1;`
}

func (a PostgresAdapter) TranslationHistoryQuery() string {
	return `SELECT id, branch, component, stringid, lang, content, author_id, commit_id, created_at FROM repository WHERE branch = $1 AND component = $2 AND stringid = $3 AND lang = $4 ORDER BY created_at DESC, id DESC;`
}

func (a PostgresAdapter) MissingOnBranchQuery() string {
	return `SELECT r.id, r.branch, r.component, r.stringid, r.lang, r.content, r.author_id, r.commit_id, r.created_at FROM repository r WHERE r.branch = $1 AND r.id = (SELECT r2.id FROM repository r2 WHERE r2.branch = r.branch AND r2.component = r.component AND r2.stringid = r.stringid AND r2.lang = r.lang ORDER BY r2.created_at DESC, r2.id DESC LIMIT 1) AND NOT EXISTS (SELECT 1 FROM repository t WHERE t.branch = $2 AND t.component = r.component AND t.stringid = r.stringid AND t.lang = r.lang) ORDER BY r.component, r.stringid, r.lang;`
}

func (a PostgresAdapter) InsertCommitQuery() string {
	return `INSERT INTO commits (id, author_id, message, created_at) VALUES ($1, $2, $3, $4);`
}

func (a PostgresAdapter) GetCommitQuery() string {
	return `SELECT id, author_id, message, created_at FROM commits WHERE id = $1;`
}

func (a PostgresAdapter) RecentCommitsQuery() string {
	return `SELECT id, author_id, message, created_at FROM commits ORDER BY created_at DESC LIMIT $1;`
}

func (a PostgresAdapter) CommitRecordsQuery() string {
	return `SELECT id, branch, component, stringid, lang, content, author_id, commit_id, created_at FROM repository WHERE commit_id = $1 ORDER BY component, stringid, lang, branch;`
}

func (a PostgresAdapter) UpsertStageQuery() string {
	return `INSERT INTO stage (owner_id, branch, component, stringid, lang, content, edited_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (owner_id, branch, component, stringid, lang) DO UPDATE SET content = excluded.content, edited_at = excluded.edited_at;`
}

func (a PostgresAdapter) GetStageQuery() string {
	return `SELECT owner_id, branch, component, stringid, lang, content, edited_at FROM stage WHERE owner_id = $1 ORDER BY component, stringid, lang, branch;`
}

func (a PostgresAdapter) DeleteStageEntryQuery() string {
	return `DELETE FROM stage WHERE owner_id = $1 AND branch = $2 AND component = $3 AND stringid = $4 AND lang = $5;`
}

func (a PostgresAdapter) DeleteStageEntryIfUnchangedQuery() string {
	return `DELETE FROM stage WHERE owner_id = $1 AND branch = $2 AND component = $3 AND stringid = $4 AND lang = $5 AND edited_at = $6;`
}

func (a PostgresAdapter) ClearStageQuery() string {
	return `DELETE FROM stage WHERE owner_id = $1;`
}

func (a PostgresAdapter) InsertStashQuery() string {
	return `INSERT INTO stash (owner_id, title, autosave, created_at) VALUES ($1, $2, $3, $4) RETURNING id;`
}

func (a PostgresAdapter) GetStashQuery() string {
	return `SELECT s.id, s.owner_id, s.title, s.autosave, s.created_at, (SELECT COUNT(*) FROM stash_string ss WHERE ss.stash_id = s.id) AS strings FROM stash s WHERE s.id = $1;`
}

func (a PostgresAdapter) GetStashesQuery() string {
	return `SELECT s.id, s.owner_id, s.title, s.autosave, s.created_at, (SELECT COUNT(*) FROM stash_string ss WHERE ss.stash_id = s.id) AS strings FROM stash s WHERE s.owner_id = $1 AND s.autosave = false ORDER BY s.created_at DESC, s.id DESC;`
}

func (a PostgresAdapter) GetAutoStashQuery() string {
	return `SELECT id FROM stash WHERE owner_id = $1 AND autosave = true;`
}

func (a PostgresAdapter) TouchStashQuery() string {
	return `UPDATE stash SET created_at = $1 WHERE id = $2;`
}

func (a PostgresAdapter) DeleteStashQuery() string {
	return `DELETE FROM stash WHERE id = $1 AND owner_id = $2 AND autosave = false;`
}

func (a PostgresAdapter) CopyStageToStashQuery() string {
	return `INSERT INTO stash_string (stash_id, branch, component, stringid, lang, content, edited_at) SELECT $1, branch, component, stringid, lang, content, edited_at FROM stage WHERE owner_id = $2;`
}

func (a PostgresAdapter) DeleteStashStringsQuery() string {
	return `DELETE FROM stash_string WHERE stash_id = $1;`
}

func (a PostgresAdapter) GetStashStringsQuery() string {
	return `SELECT branch, component, stringid, lang, content, edited_at FROM stash_string WHERE stash_id = $1 ORDER BY component, stringid, lang, branch;`
}

func (a PostgresAdapter) CopyStashToStageQuery() string {
	return `INSERT INTO stage (owner_id, branch, component, stringid, lang, content, edited_at) SELECT $1, branch, component, stringid, lang, content, edited_at FROM stash_string WHERE stash_id = $2 ON CONFLICT (owner_id, branch, component, stringid, lang) DO UPDATE SET content = excluded.content, edited_at = excluded.edited_at;`
}

func (a PostgresAdapter) InsertContribQuery() string {
	return `INSERT INTO contrib (stash_id, author_id, assignee_id, subject, message, status, created_at, modified_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id;`
}

func (a PostgresAdapter) GetContribQuery() string {
	return `SELECT id, stash_id, author_id, assignee_id, subject, message, status, created_at, modified_at FROM contrib WHERE id = $1;`
}

func (a PostgresAdapter) GetContribsQuery() string {
	return `SELECT id, stash_id, author_id, assignee_id, subject, message, status, created_at, modified_at FROM contrib ORDER BY modified_at DESC, id DESC;`
}

func (a PostgresAdapter) UpdateContribQuery() string {
	return `UPDATE contrib SET assignee_id = $1, status = $2, message = $3, modified_at = $4 WHERE id = $5;`
}

func (a PostgresAdapter) CountContribsForStashQuery() string {
	return `SELECT COUNT(*) FROM contrib WHERE stash_id = $1;`
}

func (a PostgresAdapter) version(db *sqlx.DB) (version int64, err error) {
	row := db.QueryRow(`SELECT version FROM schema_migrations;`)
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

func (a PostgresAdapter) updateVersion(version int64, db *sqlx.DB) (err error) {
	_, err = db.Exec(`UPDATE schema_migrations SET version = $1`, int64(version))

	return err
}
