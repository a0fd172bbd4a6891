// Package memory provides an in-process identity index backed by an HNSW graph,
// with optional snapshot persistence between runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-registry/internal/database"
	"go.uber.org/zap"
)

// IdentityRepository keeps identities in a map and answers similarity queries from an HNSW graph.
type IdentityRepository struct {
	mu           sync.RWMutex
	identities   map[string]database.StoredIdentity
	index        *database.HNSWIndex
	snapshotPath string
	dim          int
	log          *zap.Logger
	now          func() time.Time
}

// Option configures an IdentityRepository.
type Option func(*IdentityRepository)

// WithSnapshot enables loading from and saving to path. dim is recorded in the
// snapshot so a dimension change forces a graph rebuild.
func WithSnapshot(path string, dim int) Option {
	return func(r *IdentityRepository) {
		r.snapshotPath = path
		r.dim = dim
	}
}

// WithLogger sets the logger used for snapshot diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(r *IdentityRepository) {
		r.log = log
	}
}

// NewIdentityRepository creates an empty repository, loading the snapshot when one is configured.
func NewIdentityRepository(opts ...Option) (*IdentityRepository, error) {
	r := &IdentityRepository{
		identities: make(map[string]database.StoredIdentity),
		index:      database.NewHNSWIndex(),
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.snapshotPath == "" {
		return r, nil
	}

	identities, err := r.index.LoadSnapshot(r.snapshotPath, r.dim)
	if errors.Is(err, database.ErrNoSnapshot) {
		r.log.Info("no identity snapshot found, starting empty", zap.String("path", r.snapshotPath))
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity snapshot: %w", err)
	}
	for _, ident := range identities {
		r.identities[ident.ID] = ident
	}
	r.log.Info("loaded identity snapshot",
		zap.String("path", r.snapshotPath),
		zap.Int("identities", len(identities)),
	)
	return r, nil
}

// Get retrieves an identity by ID, returns nil if not found.
func (r *IdentityRepository) Get(_ context.Context, id string) (*database.StoredIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.identities[id]
	if !ok {
		return nil, nil
	}
	c := ident.Clone()
	return &c, nil
}

// Query returns up to topK identities ordered by descending cosine similarity.
func (r *IdentityRepository) Query(ctx context.Context, embedding []float32, topK int) ([]database.IdentityMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Small graphs can return fewer than k neighbours, ask for a few more.
	searchK := max(topK, database.HNSWMinSearch)
	ids, distances := r.index.Search(embedding, searchK)

	matches := make([]database.IdentityMatch, 0, len(ids))
	for i, id := range ids {
		ident, ok := r.identities[id]
		if !ok {
			continue
		}
		matches = append(matches, database.IdentityMatch{
			Identity: ident.Clone(),
			Score:    1 - distances[i],
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the total number of identities stored.
func (r *IdentityRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities), nil
}

// Upsert stores the identity when expectedVersion matches the stored version.
func (r *IdentityRepository) Upsert(ctx context.Context, identity database.StoredIdentity, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("upsert identity: %w", err)
	}
	if identity.ID == "" {
		return 0, errors.New("identity ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.identities[identity.ID]
	var current int64
	if exists {
		current = existing.Version
	}
	if current != expectedVersion {
		return 0, database.ErrVersionConflict
	}

	stored := identity.Clone()
	stored.Version = current + 1
	stored.UpdatedAt = r.now().UTC()
	if exists {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = stored.UpdatedAt
	}
	if stored.Metadata.ImageURLs == nil {
		stored.Metadata.ImageURLs = []string{}
	}

	r.index.Add(stored.ID, stored.Embedding)
	r.identities[stored.ID] = stored
	return stored.Version, nil
}

// HNSWCount returns the number of nodes in the HNSW graph.
func (r *IdentityRepository) HNSWCount() int {
	return r.index.Count()
}

// SaveHNSWIndex writes the snapshot to disk if a path is configured.
func (r *IdentityRepository) SaveHNSWIndex() error {
	if r.snapshotPath == "" {
		return nil
	}

	r.mu.RLock()
	identities := make([]database.StoredIdentity, 0, len(r.identities))
	for _, ident := range r.identities {
		identities = append(identities, ident)
	}
	r.mu.RUnlock()

	sort.Slice(identities, func(i, j int) bool {
		return identities[i].ID < identities[j].ID
	})

	if err := r.index.SaveSnapshot(r.snapshotPath, identities, r.dim); err != nil {
		return fmt.Errorf("saving identity snapshot: %w", err)
	}
	r.log.Info("saved identity snapshot",
		zap.String("path", r.snapshotPath),
		zap.Int("identities", len(identities)),
	)
	return nil
}

// Close saves the snapshot when one is configured.
func (r *IdentityRepository) Close() error {
	return r.SaveHNSWIndex()
}

// Verify interface compliance.
var _ database.IdentityWriter = (*IdentityRepository)(nil)
var _ database.HNSWRebuilder = (*IdentityRepository)(nil)
