package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/freightbill/backend/internal/infrastructure/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		dir     = flag.String("dir", "migrations", "migrations directory")
		down    = flag.Bool("down", false, "roll back one migration instead of migrating up")
		steps   = flag.Int("steps", 0, "number of migrations to apply (0 = all)")
		version = flag.Bool("version", false, "print current migration version and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("failed to load configuration: %v", err)
	}

	m, err := migrate.New("file://"+*dir, databaseURL(&cfg.Database))
	if err != nil {
		fatalf("failed to initialize migrator: %v", err)
	}
	defer m.Close()

	if *version {
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			fatalf("failed to read version: %v", err)
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
		return
	}

	switch {
	case *down:
		err = m.Steps(-1)
	case *steps > 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatalf("migration failed: %v", err)
	}
	fmt.Println("migrations applied")
}

func databaseURL(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
