package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/marcus/coursesync/internal/docserver"
	"github.com/marcus/coursesync/internal/docstore"
	"github.com/marcus/coursesync/internal/remote"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "add-user":
		runAdminAddUser(args[1:])
	case "add-course":
		runAdminAddCourse(args[1:])
	case "list":
		runAdminList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: coursesync-server admin <command> [flags]

Commands:
  add-user    Create or rename a user profile document
  add-course  Create or rename a course document
  list        Print the documents in a collection`)
}

func openStore(dbPath string) *docstore.Store {
	if dbPath == "" {
		dbPath = docserver.LoadConfig().DBPath
	}
	store, err := docstore.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func runAdminAddUser(args []string) {
	fs := flag.NewFlagSet("admin add-user", flag.ExitOnError)
	id := fs.String("id", "", "user id (as sent in X-User-ID)")
	name := fs.String("name", "", "display name shown as the author")
	dbPath := fs.String("db", "", "path to docs.db (default: from DOCSTORE_DB_PATH or ./data/docs.db)")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "error: --id and --name are required")
		fs.Usage()
		os.Exit(1)
	}

	store := openStore(*dbPath)
	defer store.Close()

	doc, err := store.Set(remote.UserPath(*id), map[string]any{"displayName": strings.TrimSpace(*name)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("saved %s\n", doc.Path)
}

func runAdminAddCourse(args []string) {
	fs := flag.NewFlagSet("admin add-course", flag.ExitOnError)
	id := fs.String("id", "", "course id")
	name := fs.String("name", "", "course name")
	dbPath := fs.String("db", "", "path to docs.db (default: from DOCSTORE_DB_PATH or ./data/docs.db)")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "error: --id and --name are required")
		fs.Usage()
		os.Exit(1)
	}

	store := openStore(*dbPath)
	defer store.Close()

	doc, err := store.Set(remote.CoursePath(*id), map[string]any{"name": strings.TrimSpace(*name)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("saved %s\n", doc.Path)
}

func runAdminList(args []string) {
	fs := flag.NewFlagSet("admin list", flag.ExitOnError)
	path := fs.String("path", "", "collection path, e.g. courses/c1/discussions")
	dbPath := fs.String("db", "", "path to docs.db (default: from DOCSTORE_DB_PATH or ./data/docs.db)")
	fs.Parse(args)

	store := openStore(*dbPath)
	defer store.Close()

	docs, err := store.List(*path, "-createdAt")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, d := range docs {
		fmt.Printf("%s  %s  %v\n", d.CreatedAt.Format("2006-01-02 15:04"), d.Path, d.Fields)
	}
}
