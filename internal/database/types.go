package database

import (
	"time"
)

// StoredIdentity represents an identity record stored in the similarity index
type StoredIdentity struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
	Version   int64 // optimistic concurrency token, 1 after the first write
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata is the payload stored next to an identity's embedding.
// Upserts overwrite it as a whole.
type Metadata struct {
	ImageURLs []string `json:"image_urls"`          // every photo ever attached, in append order
	DetScore  float64  `json:"det_score,omitempty"` // detection score of the sample behind Embedding
	Samples   int      `json:"samples,omitempty"`   // photos folded into Embedding
}

// IdentityMatch is a single nearest-neighbour result
type IdentityMatch struct {
	Identity StoredIdentity
	Score    float64 // cosine similarity, 1 = identical
}

// Clone returns a deep copy so callers can mutate the result without touching index state.
func (s *StoredIdentity) Clone() StoredIdentity {
	c := *s
	c.Embedding = append([]float32(nil), s.Embedding...)
	c.Metadata.ImageURLs = append([]string(nil), s.Metadata.ImageURLs...)
	return c
}
