package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-registry/internal/database"
)

// mysqlErrDuplicateEntry is ER_DUP_ENTRY.
const mysqlErrDuplicateEntry = 1062

const identityColumns = `id, VEC_ToText(embedding), metadata, version, created_at, updated_at`

// IdentityRepository provides MariaDB-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new MariaDB identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// Get retrieves an identity by ID, returns nil if not found.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)

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
	vec := formatVector(embedding)
	query := `
		SELECT ` + identityColumns + `, VEC_DISTANCE_COSINE(embedding, VEC_FromText(?)) AS distance
		FROM identities
		ORDER BY distance
		LIMIT ?
	`
	rows, err := r.pool.db.QueryContext(ctx, query, vec, topK)
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
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
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
	vec := formatVector(identity.Embedding)

	if expectedVersion == 0 {
		_, err := r.pool.db.ExecContext(ctx,
			`INSERT INTO identities (id, embedding, metadata, version) VALUES (?, VEC_FromText(?), ?, 1)`,
			identity.ID, vec, string(meta))
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
			return 0, database.ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("insert identity: %w", err)
		}
		return 1, nil
	}

	// version always changes, so RowsAffected is 0 only when the guard failed.
	res, err := r.pool.db.ExecContext(ctx, `
		UPDATE identities
		SET embedding = VEC_FromText(?), metadata = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ? AND version = ?
	`, vec, string(meta), identity.ID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update identity: %w", err)
	}
	if n == 0 {
		return 0, database.ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

// Close closes the underlying pool.
func (r *IdentityRepository) Close() error {
	return r.pool.Close()
}

func scanIdentityRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredIdentity, error) {
	var ident database.StoredIdentity
	var vecText string
	var rawMeta []byte

	dest := append([]any{
		&ident.ID,
		&vecText,
		&rawMeta,
		&ident.Version,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	}, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return ident, fmt.Errorf("scan identity: %w", err)
	}

	embedding, err := parseVector(vecText)
	if err != nil {
		return ident, fmt.Errorf("identity %s: %w", ident.ID, err)
	}
	meta, err := database.DecodeMetadata(rawMeta)
	if err != nil {
		return ident, fmt.Errorf("identity %s: %w", ident.ID, err)
	}
	ident.Embedding = embedding
	ident.Metadata = meta
	return ident, nil
}

// formatVector renders an embedding in the text form accepted by VEC_FromText.
func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses the output of VEC_ToText.
func parseVector(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("parse vector: %w", err)
	}
	return v, nil
}

// Verify interface compliance.
var _ database.IdentityWriter = (*IdentityRepository)(nil)
