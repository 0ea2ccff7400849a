// vesseld-migrate is the offline schema tool for vesseld's state store.
// It applies (or rolls back) the versioned migrations embedded in
// pkg/storage against a database file, with a backup taken first. The
// daemon itself bootstraps its schema on first run; this tool exists for
// operators upgrading across daemon versions with the daemon stopped.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/vesseld/vesseld/pkg/storage"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/vesseld", "vesseld data directory")
	down       = flag.Bool("down", false, "Roll back one migration instead of migrating up")
	backupPath = flag.String("backup", "", "Path to back up the database before migrating (default: <data-dir>/state.db.backup)")
	noBackup   = flag.Bool("no-backup", false, "Skip the pre-migration backup")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	dbPath := filepath.Join(*dataDir, "state.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}
	log.Printf("database: %s", dbPath)

	if !*noBackup {
		backup := *backupPath
		if backup == "" {
			backup = dbPath + ".backup"
		}
		if err := copyFile(dbPath, backup); err != nil {
			log.Fatalf("create backup: %v", err)
		}
		log.Printf("backup written to %s", backup)
	}

	src, err := iofs.New(storage.MigrationsFS, "migrations")
	if err != nil {
		log.Fatalf("load migrations: %v", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+dbPath)
	if err != nil {
		log.Fatalf("open database for migration: %v", err)
	}
	defer m.Close()

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("schema already up to date")
		return
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	version, dirty, _ := m.Version()
	log.Printf("migration complete (version %d, dirty=%v)", version, dirty)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Sync()
}
