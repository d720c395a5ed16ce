// gruenerator-migrate applies database schema migrations standalone,
// for deployments that run migrations as an init container with a raw
// DSN instead of a config file.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	// The sqlite driver registers itself via
	// golang-migrate/migrate/v4/database/sqlite (modernc.org/sqlite).
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/netzbegruenung/Gruenerator-sub005/internal/migrate"
)

func main() {
	driver := flag.String("driver", "postgres", "Database driver (postgres|sqlite)")
	dsn := flag.String("dsn", "", "Database connection string")
	action := flag.String("action", "up", "Migration action (up|down|status)")
	help := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Gruenerator Database Migration Tool\n\n")
		fmt.Fprintf(os.Stderr, "Applies the backend schema migrations for PostgreSQL or SQLite.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n\n")
		fmt.Fprintf(os.Stderr, "  PostgreSQL:\n")
		fmt.Fprintf(os.Stderr, "    %s -driver=postgres -dsn=\"host=localhost user=postgres password=postgres dbname=gruenerator port=5432 sslmode=disable\"\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  SQLite:\n")
		fmt.Fprintf(os.Stderr, "    %s -driver=sqlite -dsn=\".gruenerator/gruenerator.db\"\n\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	if *dsn == "" {
		log.Fatal("Error: -dsn flag is required\n\nRun with -help for usage information.")
	}
	if *driver != "postgres" && *driver != "sqlite" {
		log.Fatalf("Error: unsupported driver '%s' (must be 'postgres' or 'sqlite')\n", *driver)
	}

	log.Printf("Connecting to %s database...\n", *driver)
	sqlDB, err := sql.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v\n", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v\n", err)
	}

	switch *action {
	case "up":
		if err := migrate.RunMigrations(sqlDB, *driver); err != nil {
			log.Fatalf("Migration failed: %v\n", err)
		}
		log.Println("Migrations applied successfully")
	case "down":
		if err := migrate.RollbackLast(sqlDB, *driver); err != nil {
			log.Fatalf("Rollback failed: %v\n", err)
		}
		log.Println("Rolled back one migration")
	case "status":
		version, dirty, err := migrate.Version(sqlDB, *driver)
		if err != nil {
			log.Fatalf("Failed to read schema version: %v\n", err)
		}
		if version == 0 {
			log.Println("No migrations applied")
			return
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		log.Printf("Schema version %d (%s)\n", version, state)
	default:
		log.Fatalf("Error: unsupported action '%s' (must be 'up', 'down', or 'status')\n", *action)
	}
}
