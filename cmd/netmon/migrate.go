package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/wardflux/netmon/pkg/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations to the relational store",
	Long: `migrate applies every *.sql file under --migrations-dir, in
filename order, that has not already been recorded in the
schema_migrations table. Each file runs inside its own transaction; a
file that fails to apply leaves the database at the last successfully
applied migration.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("config", "netmon.yaml", "Path to the netmon YAML configuration file")
	migrateCmd.Flags().String("migrations-dir", "migrations", "Directory containing numbered *.sql migration files")
	migrateCmd.Flags().Bool("dry-run", false, "List pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	migrationsDir, _ := cmd.Flags().GetString("migrations-dir")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("netmon relational migration tool")
	log.Println("=================================")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("Migrations dir: %s", migrationsDir)
	log.Printf("Dry run: %v", dryRun)

	files, err := pendingFiles(migrationsDir)
	if err != nil {
		return fmt.Errorf("list migration files: %w", err)
	}
	if len(files) == 0 {
		log.Println("No .sql files found, nothing to do")
		return nil
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.Relational.DSN)
	if err != nil {
		return fmt.Errorf("connect to relational store: %w", err)
	}
	defer conn.Close(ctx)

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	var pending []string
	for _, f := range files {
		version := strings.TrimSuffix(filepath.Base(f), ".sql")
		if !applied[version] {
			pending = append(pending, f)
		}
	}

	if len(pending) == 0 {
		log.Println("✓ Database already up to date")
		return nil
	}

	log.Printf("%d pending migration(s):", len(pending))
	for _, f := range pending {
		log.Printf("  - %s", filepath.Base(f))
	}

	if dryRun {
		log.Println("Dry run: no changes applied")
		return nil
	}

	for _, f := range pending {
		version := strings.TrimSuffix(filepath.Base(f), ".sql")
		if err := applyMigration(ctx, conn, f, version); err != nil {
			return fmt.Errorf("apply %s: %w", filepath.Base(f), err)
		}
		log.Printf("✓ Applied %s", filepath.Base(f))
	}

	log.Printf("✓ Applied %d migration(s)", len(pending))
	return nil
}

func pendingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func ensureMigrationsTable(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *pgx.Conn, path, version string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit(ctx)
}
