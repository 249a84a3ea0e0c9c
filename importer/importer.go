// Package importer stages batches of translated strings from JSON files on
// disk, for translators who work offline.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/datastore"
	"github.com/lokalhub/translation-stage-api/permission"
	"github.com/lokalhub/translation-stage-api/stage"
)

func checkFatal(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ImportDir stages every batch file in dir into the owner's stage, sending
// the name of each imported file to notify.
func ImportDir(ctx context.Context, m *stage.Manager, owner, dir string, notify chan string) (count int, err error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}

	staged := 0
	for i, file := range files {
		batch, err := NewFromFile(file)
		if err != nil {
			return i, err
		}

		n, err := batch.Stage(ctx, m, owner)
		staged += n
		if err != nil {
			return i, err
		}

		notify <- fmt.Sprintf("%v (%v strings)", filepath.Base(file), n)
	}

	return len(files), nil
}

// Import runs the import command: stages all batch files from the configured
// import path into the given owner's stage.
func Import(c config.Config, owner string) {
	if owner == "" {
		checkFatal(fmt.Errorf("the import command needs an -owner"))
	}

	start := time.Now()

	results := make(chan string, 100)
	done := make(chan bool, 1)

	go func() {
		for {
			imported := <-results
			fmt.Println("Imported batch: ", imported)
		}
	}()

	var (
		count int
		stats datastore.Stats
	)
	go func() {
		var db *sqlx.DB
		db, err := sqlx.Connect(c.DB.Driver, c.DB.ConnectionString())
		checkFatal(err)
		ds, err := datastore.New(db, c.DB.Driver)
		checkFatal(err)

		m := stage.NewManager(ds, permission.NewProvider(c.Permissions), permission.NewClassifier(c.Components))
		count, err = ImportDir(context.Background(), m, owner, c.Import.Path, results)
		checkFatal(err)

		stats = ds.Stats

		done <- true
	}()
	<-done

	elapsed := time.Since(start).Seconds()
	fmt.Printf("Imported %v files in %fs\n\n", count, elapsed)

	fmt.Fprintln(os.Stderr, stats)
}
