package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/homeprojects/lead-auction-exchange/internal/infrastructure/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		source     = flag.String("source", "file://migrations", "Migration source URL")
		action     = flag.String("action", "up", "Migration action: up, down, version")
		steps      = flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	m, err := migrate.New(*source, databaseURL(cfg.Database.URL))
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	defer m.Close()

	switch *action {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatalf("Failed to read version: %v", verr)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return
	default:
		log.Fatalf("Unknown action %q", *action)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migration %s failed: %v", *action, err)
	}
	log.Printf("Migration %s complete", *action)
}

// databaseURL rewrites the configured postgres:// URL to the pgx5 driver
// scheme golang-migrate registers.
func databaseURL(url string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, scheme) {
			return "pgx5://" + strings.TrimPrefix(url, scheme)
		}
	}
	return url
}
