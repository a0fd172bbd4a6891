package mariadb

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Each file holds exactly one statement: the driver does not enable multi-statements.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

const dimPlaceholder = "{{dim}}"

func (p *Pool) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func pendingMigrationFiles(applied map[string]bool) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") && !applied[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies pending migrations. MariaDB commits DDL implicitly, so a
// migration is recorded only after its statement succeeded.
func (p *Pool) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	files, err := pendingMigrationFiles(applied)
	if err != nil {
		return err
	}

	for _, file := range files {
		content, err := migrationsFS.ReadFile("migrations/" + file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		stmt := strings.ReplaceAll(string(content), dimPlaceholder, strconv.Itoa(dim))

		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := p.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", file); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		p.log.Info("applied migration", zap.String("file", file))
	}
	return nil
}
