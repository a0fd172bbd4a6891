package identity

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/embedder"
)

// EmbeddingPolicy decides which vector represents an identity after a photo is attached.
type EmbeddingPolicy string

const (
	// PolicyLast replaces the embedding with the newest sample.
	PolicyLast EmbeddingPolicy = "last"
	// PolicyAverage keeps the L2-normalized running mean of all samples.
	PolicyAverage EmbeddingPolicy = "average"
	// PolicyBest keeps the sample with the highest detection score.
	PolicyBest EmbeddingPolicy = "best"
)

// ParsePolicy parses a policy name; empty selects PolicyLast.
func ParsePolicy(s string) (EmbeddingPolicy, error) {
	switch p := EmbeddingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLast, nil
	case PolicyLast, PolicyAverage, PolicyBest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown embedding policy %q (want last, average or best)", s)
	}
}

// merge returns the embedding and detection score to store once face joins existing.
func (p EmbeddingPolicy) merge(existing *database.StoredIdentity, face *embedder.Face) ([]float32, float64) {
	// A vector of another length (e.g. after a model change) cannot be combined.
	if len(existing.Embedding) != len(face.Embedding) {
		return face.Embedding, face.DetScore
	}

	switch p {
	case PolicyAverage:
		n := existing.Metadata.Samples
		if n < 1 {
			n = 1
		}
		mean := make([]float32, len(face.Embedding))
		for i := range mean {
			mean[i] = (existing.Embedding[i]*float32(n) + face.Embedding[i]) / float32(n+1)
		}
		return database.Normalize(mean), max(existing.Metadata.DetScore, face.DetScore)
	case PolicyBest:
		if existing.Metadata.DetScore > face.DetScore {
			return existing.Embedding, existing.Metadata.DetScore
		}
		return face.Embedding, face.DetScore
	default:
		return face.Embedding, face.DetScore
	}
}
