/*
A service for managing a versioned repository of translated strings. Every
change is drafted in a per-user staging area, filtered against permissions and
the committed history, and lands in the repository as an immutable commit.
Stages can be snapshotted into stashes and stashes can be submitted as
contributions for maintainer review.

Various program settings are controlled by a TOML config file, which must be
available for the program to run. By default, the program will look for a file
called 'translation-stage-api.toml' in the same directory as its binary.
Individual settings can be overridden with TRANSAPI_* environment variables.

The program must be run with a 'command' argument to indicate what you would
like it to do. Available commands are:

  - serve: Starts an HTTP server providing a JSON API for the staging workflow.
  - import: Stages translation batches from JSON files in the configured
    'import_path' into the stage of the user given with -owner.
  - init-db: Creates or migrates the database schema.
  - help: Prints usage instructions
*/
package main

import (
	"flag"
	"path/filepath"

	"github.com/lokalhub/translation-stage-api/config"
	"github.com/lokalhub/translation-stage-api/importer"
	"github.com/lokalhub/translation-stage-api/server"
)

var (
	configPath  string
	importOwner string
)

func init() {
	defaultConfigPath := filepath.FromSlash("./translation-stage-api.toml")
	flag.StringVar(&configPath, "config", defaultConfigPath, "Full `path` and file name to the config file")
	flag.StringVar(&importOwner, "owner", "", "`user` whose stage receives imported batches (import command only)")
}

// Converts os.Args to one of the cmd* constants.
func parseArgs(args []string) (command string) {
	if len(args) < 1 {
		return cmdMissing
	}

	switch args[0] {
	case cmdHelp:
		return cmdHelp
	case cmdImport:
		return cmdImport
	case cmdInitDb:
		return cmdInitDb
	case cmdServe:
		return cmdServe
	}

	return cmdUnrecognised
}

func main() {
	flag.Parse()
	cfg, cfgErr := config.Load(configPath)
	var command = parseArgs(flag.Args())

	var commandFunc = CommandFunc(printMissingCommandUsage)
	switch command {
	case cmdUnrecognised:
		commandFunc = printUnrecognisedCommandUsage(flag.Args()[0])
	case cmdImport:
		commandFunc = CommandFunc(func(c config.Config) {
			importer.Import(c, importOwner)
		})
	case cmdInitDb:
		commandFunc = CommandFunc(initDb)
	case cmdServe:
		commandFunc = CommandFunc(server.Serve)
	}

	// Invalid config only matters for non-'help' commands
	if command != cmdUnrecognised && command != cmdMissing && command != cmdHelp {
		checkFatal(cfgErr)
	}

	commandFunc.Run(cfg)
}
