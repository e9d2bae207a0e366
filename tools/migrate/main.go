package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/md-rashed-zaman/clinicsched/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection url")
		direction   = flag.String("direction", "up", "up, down or force")
		version     = flag.Int("version", -1, "target version for force")
	)
	flag.Parse()

	if strings.TrimSpace(*databaseURL) == "" {
		fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", *databaseURL)
	if err != nil {
		fatal("open db: " + err.Error())
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		fatal("ping db: " + err.Error())
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		fatal("db driver: " + err.Error())
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		fatal("source driver: " + err.Error())
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		fatal("create migrator: " + err.Error())
	}
	defer func() { _, _ = m.Close() }()

	switch *direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "force":
		if *version < 0 {
			fatal("-version is required for force")
		}
		err = m.Force(*version)
	default:
		fatal("unknown direction " + *direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal("migrate " + *direction + ": " + err.Error())
	}
	fmt.Println("migrations complete")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
