package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"ledger/internal/config"
	"ledger/internal/db"
)

// migrationLockKey serializes concurrent migrators on one database.
const migrationLockKey = 7_305_114_101

type migration struct {
	name     string
	up       string
	checksum string
}

func main() {
	cfg := config.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	ctx := context.Background()
	if _, err := database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename text PRIMARY KEY,
			checksum text NOT NULL DEFAULT '',
			applied_at timestamptz DEFAULT now()
		)`); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema_migrations")
	}

	migrations, err := loadMigrations(dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("failed to read migrations")
	}
	applied, err := appliedChecksums(ctx, database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read migration state")
	}
	todo, err := pending(migrations, applied)
	if err != nil {
		log.Fatal().Err(err).Msg("refusing to migrate")
	}
	if len(todo) == 0 {
		log.Info().Int("applied", len(applied)).Msg("schema is up to date")
		return
	}
	for _, m := range todo {
		err := db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
			return apply(ctx, tx, m)
		})
		if err != nil {
			log.Fatal().Err(err).Str("file", m.name).Msg("failed to apply migration")
		}
		log.Info().Str("file", m.name).Str("checksum", m.checksum[:12]).Msg("applied")
	}
}

// loadMigrations reads every *.sql file in name order. Only the part above
// "-- +migrate Down" is kept and checksummed.
func loadMigrations(dir string) ([]migration, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	migrations := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		up, _, _ := strings.Cut(string(content), "-- +migrate Down")
		sum := blake2b.Sum256([]byte(up))
		migrations = append(migrations, migration{
			name:     filepath.Base(file),
			up:       up,
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	return migrations, nil
}

func appliedChecksums(ctx context.Context, database *sqlx.DB) (map[string]string, error) {
	var rows []struct {
		Filename string `db:"filename"`
		Checksum string `db:"checksum"`
	}
	if err := database.SelectContext(ctx, &rows, `SELECT filename, checksum FROM schema_migrations`); err != nil {
		return nil, err
	}
	applied := make(map[string]string, len(rows))
	for _, row := range rows {
		applied[row.Filename] = row.Checksum
	}
	return applied, nil
}

// pending returns the migrations not yet applied. An applied file whose
// content changed is an error: the ledger schema must match its history.
// Rows recorded without a checksum are trusted.
func pending(migrations []migration, applied map[string]string) ([]migration, error) {
	var todo []migration
	for _, m := range migrations {
		checksum, ok := applied[m.name]
		if !ok {
			todo = append(todo, m)
			continue
		}
		if checksum != "" && checksum != m.checksum {
			return nil, fmt.Errorf("migration %s changed after it was applied", m.name)
		}
	}
	return todo, nil
}

// apply runs one migration and records it in the same transaction.
func apply(ctx context.Context, tx execer, m migration) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return err
	}
	for _, stmt := range splitSQL(m.up) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)
		ON CONFLICT (filename) DO NOTHING`, m.name, m.checksum)
	return err
}

func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
