package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/pgvector/pgvector-go"
)

const identityColumns = `id, embedding, metadata, version, created_at, updated_at`

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Get retrieves an identity by ID, returns nil if not found.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)

	ident, err := scanIdentityRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

// Query returns up to topK identities ordered by descending cosine similarity.
func (r *IdentityRepository) Query(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	// Use transaction to set ef_search for better recall (matching in-memory HNSW config).
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := `
		SELECT ` + identityColumns + `, embedding <=> $1::vector AS distance
		FROM identities
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`

	rows, err := tx.QueryContext(ctx, query, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("query similar identities: %w", err)
	}
	defer rows.Close()

	var matches []database.IdentityMatch
	for rows.Next() {
		var distance float64
		ident, err := scanIdentityRow(rows, &distance)
		if err != nil {
			return nil, err
		}
		matches = append(matches, database.IdentityMatch{Identity: ident, Score: 1 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return matches, nil
}

// Count returns the total number of identities stored.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// Upsert inserts (expectedVersion 0) or replaces the identity when its stored
// version still equals expectedVersion.
func (r *IdentityRepository) Upsert(ctx context.Context, identity database.StoredIdentity, expectedVersion int64) (int64, error) {
	if identity.ID == "" {
		return 0, errors.New("identity ID is required")
	}
	meta, err := database.EncodeMetadata(identity.Metadata)
	if err != nil {
		return 0, err
	}
	vec := pgvector.NewVector(identity.Embedding)

	var row *sql.Row
	if expectedVersion == 0 {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO identities (id, embedding, metadata, version)
			VALUES ($1, $2, $3::jsonb, 1)
			ON CONFLICT (id) DO NOTHING
			RETURNING version
		`, identity.ID, vec, string(meta))
	} else {
		row = r.pool.QueryRow(ctx, `
			UPDATE identities
			SET embedding = $2, metadata = $3::jsonb, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $4
			RETURNING version
		`, identity.ID, vec, string(meta), expectedVersion)
	}

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, database.ErrVersionConflict
		}
		return 0, fmt.Errorf("upsert identity: %w", err)
	}
	return version, nil
}

// Close closes the underlying pool.
func (r *IdentityRepository) Close() error {
	return r.pool.Close()
}

// scanIdentityRow scans a single row into a StoredIdentity, with optional extra
// scan destinations appended after the standard identity columns.
func scanIdentityRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredIdentity, error) {
	var ident database.StoredIdentity
	var vec pgvector.Vector
	var rawMeta []byte

	dest := make([]any, 0, 6+len(extraDest))
	dest = append(dest,
		&ident.ID,
		&vec,
		&rawMeta,
		&ident.Version,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return ident, fmt.Errorf("scan identity: %w", err)
	}

	meta, err := database.DecodeMetadata(rawMeta)
	if err != nil {
		return ident, fmt.Errorf("identity %s: %w", ident.ID, err)
	}
	ident.Embedding = vec.Slice()
	ident.Metadata = meta
	return ident, nil
}

// Verify interface compliance.
var _ database.IdentityReader = (*IdentityRepository)(nil)
var _ database.IdentityWriter = (*IdentityRepository)(nil)
