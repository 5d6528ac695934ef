// migrate applies the embedded schema migrations to the access store
// (postgres) or the audit event store (mysql). Connection settings are read
// from the same POSTGRES_* and MYSQL_* variables the service uses, or given
// directly with -database-url.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/database/migrations"
)

func main() {
	targetName := flag.String("target", "postgres", "Schema to migrate: postgres or mysql")
	direction := flag.String("direction", "up", "Migration direction: up, down or version")
	databaseURL := flag.String("database-url", "", "Override the database URL built from the environment")
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: .env.local:", err)
	}

	target, err := migrations.ParseTarget(*targetName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	url := *databaseURL
	if url == "" {
		url, err = urlFromEnv(target)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}

	if *direction == "version" {
		version, dirty, versionErr := migrations.Version(target, url)
		if errors.Is(versionErr, migrations.ErrNoChange) {
			fmt.Printf("%s: no migrations applied\n", target)
			return
		}
		if versionErr != nil {
			fmt.Fprintln(os.Stderr, "migrate:", versionErr)
			os.Exit(1)
		}
		fmt.Printf("%s: version %d (dirty: %v)\n", target, version, dirty)
		return
	}

	dir, err := migrations.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	if err := migrations.Run(target, url, dir); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("%s: migrated %s\n", target, dir)
}

func urlFromEnv(target migrations.Target) (string, error) {
	var cfg config.Config

	switch target {
	case migrations.TargetMySQL:
		if err := envconfig.Process("MYSQL", &cfg.MySQLDatabase); err != nil {
			return "", err
		}
		if !cfg.IsMySQLDatabaseConfigured() {
			return "", errors.New("MYSQL_AUDIT_DB_USER and MYSQL_AUDIT_DB_PASSWORD are not set")
		}
		return migrations.DatabaseURL(target, cfg.MySQLDSN()), nil
	default:
		if err := envconfig.Process("POSTGRES", &cfg.PostgresDatabase); err != nil {
			return "", err
		}
		if !cfg.IsPostgresDatabaseConfigured() {
			return "", errors.New("POSTGRES_ACCESS_DB_USER and POSTGRES_ACCESS_DB_PASSWORD are not set")
		}
		return cfg.PostgresMigrationURL(), nil
	}
}
