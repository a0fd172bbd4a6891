package database

// Index backends selectable through configuration
const (
	BackendPostgres = "postgres"
	BackendMariaDB  = "mariadb"
	BackendMemory   = "memory"
)

// HNSW index parameters for 128-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWMinSearch is the minimum number of candidates requested from HNSW,
	// distances are recomputed exactly on the returned set.
	HNSWMinSearch = 10

	// HNSWCompactMinStale is the number of replaced nodes tolerated before the
	// graph is rebuilt, once they also outnumber the live ones.
	HNSWCompactMinStale = 32
)
