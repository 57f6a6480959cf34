package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"hdgwatch/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

var openDB = sql.Open

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	envPath := fs.String("env", ".env", "path to .env file")
	dsn := fs.String("dsn", "", "postgres DSN (default SUPABASE_DB_DSN)")
	dir := fs.String("dir", "./migrations", "migrations dir")
	action := fs.String("action", "", "up/down/status/version/redo")
	useEmbed := fs.Bool("embed", false, "use embedded migrations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := loadEnv(*envPath); err != nil {
		return err
	}
	if strings.TrimSpace(*dsn) == "" {
		*dsn = os.Getenv("SUPABASE_DB_DSN")
	}
	if strings.TrimSpace(*dsn) == "" {
		return errors.New("dsn required")
	}
	if strings.TrimSpace(*action) == "" {
		return errors.New("action required")
	}
	switch *action {
	case "up", "down", "status", "version", "redo":
	default:
		return fmt.Errorf("unknown action %q", *action)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if *useEmbed {
		goose.SetBaseFS(migrations.EmbeddedFS)
		*dir = "."
	}

	db, err := openDB("postgres", *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	switch *action {
	case "up":
		return goose.Up(db, *dir)
	case "down":
		return goose.Down(db, *dir)
	case "status":
		return goose.Status(db, *dir)
	case "version":
		_, err := goose.GetDBVersion(db)
		return err
	default:
		return goose.Redo(db, *dir)
	}
}

func loadEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
