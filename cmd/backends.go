package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-registry/internal/blobstore"
	"github.com/kozaktomas/face-registry/internal/blobstore/azure"
	"github.com/kozaktomas/face-registry/internal/blobstore/local"
	blobmemory "github.com/kozaktomas/face-registry/internal/blobstore/memory"
	"github.com/kozaktomas/face-registry/internal/blobstore/minio"
	"github.com/kozaktomas/face-registry/internal/blobstore/s3"
	"github.com/kozaktomas/face-registry/internal/config"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mariadb"
	dbmemory "github.com/kozaktomas/face-registry/internal/database/memory"
	"github.com/kozaktomas/face-registry/internal/database/postgres"
	"github.com/kozaktomas/face-registry/internal/embedder"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/kozaktomas/face-registry/internal/logger"
	"go.uber.org/zap"
)

// app holds the collaborators shared by every command that touches the registry.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	index database.IdentityWriter
	blobs blobstore.Store
	svc   *identity.Service
}

// newApp loads the configuration and opens the index and the blob store.
func newApp(ctx context.Context, opts ...identity.Option) (*app, error) {
	return newAppFromConfig(ctx, config.Load(), opts...)
}

func newAppFromConfig(ctx context.Context, cfg *config.Config, opts ...identity.Option) (*app, error) {
	log := logger.Must(cfg.Logging.Level, cfg.Logging.Format)

	index, err := openIndex(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobStore(ctx, &cfg.Blob)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	svcCfg, err := serviceConfig(cfg)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	emb := embedder.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim, cfg.Embedding.Timeout)
	opts = append([]identity.Option{identity.WithLogger(log)}, opts...)

	return &app{
		cfg:   cfg,
		log:   log,
		index: index,
		blobs: blobs,
		svc:   identity.NewService(emb, index, blobs, svcCfg, opts...),
	}, nil
}

// Close releases the index. The memory backend writes its snapshot here.
func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		a.log.Warn("closing identity index", zap.Error(err))
	}
	_ = a.log.Sync()
}

func serviceConfig(cfg *config.Config) (identity.Config, error) {
	policy, err := identity.ParsePolicy(cfg.Match.EmbeddingPolicy)
	if err != nil {
		return identity.Config{}, err
	}
	threshold := cfg.Match.Threshold
	sc := identity.Config{
		Threshold:         &threshold,
		TopK:              cfg.Match.TopK,
		Policy:            policy,
		MaxAttachAttempts: cfg.Match.MaxAttachAttempts,
		MaxImageSize:      cfg.Embedding.MaxImageSize,
		KeyPrefix:         cfg.Blob.Prefix,
	}
	if err := sc.Validate(); err != nil {
		return identity.Config{}, err
	}
	return sc, nil
}

// openIndex connects to the configured identity index backend.
func openIndex(ctx context.Context, cfg *config.Config, log *zap.Logger) (database.IdentityWriter, error) {
	switch strings.ToLower(cfg.Database.Backend) {
	case database.BackendPostgres:
		repo, err := postgres.Initialize(ctx, &cfg.Database, cfg.Embedding.Dim, log)
		if err != nil {
			return nil, fmt.Errorf("opening PostgreSQL index: %w", err)
		}
		return repo, nil
	case database.BackendMariaDB:
		repo, err := mariadb.Initialize(ctx, &cfg.Database, cfg.Embedding.Dim, log)
		if err != nil {
			return nil, fmt.Errorf("opening MariaDB index: %w", err)
		}
		return repo, nil
	case database.BackendMemory, "":
		var opts []dbmemory.Option
		opts = append(opts, dbmemory.WithLogger(log))
		if cfg.Database.SnapshotPath != "" {
			opts = append(opts, dbmemory.WithSnapshot(cfg.Database.SnapshotPath, cfg.Embedding.Dim))
		}
		repo, err := dbmemory.NewIdentityRepository(opts...)
		if err != nil {
			return nil, fmt.Errorf("opening in-memory index: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q (want postgres, mariadb or memory)", cfg.Database.Backend)
	}
}

// openBlobStore connects to the configured blob store backend.
func openBlobStore(ctx context.Context, cfg *config.BlobConfig) (blobstore.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		store, err := s3.New(ctx, s3.Options{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			BaseURL:   cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("opening S3 blob store: %w", err)
		}
		return store, nil
	case "minio":
		store, err := minio.New(ctx, minio.Options{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			BaseURL:   cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("opening MinIO blob store: %w", err)
		}
		return store, nil
	case "azure":
		store, err := azure.New(azure.Options{
			AccountName: cfg.Account,
			AccountKey:  cfg.SecretKey,
			Container:   cfg.Bucket,
			BaseURL:     cfg.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("opening Azure blob store: %w", err)
		}
		return store, nil
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, errors.New("BLOB_LOCAL_DIR is required for the local blob store")
		}
		store, err := local.NewStore(cfg.LocalDir, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening local blob store: %w", err)
		}
		return store, nil
	case "memory":
		return blobmemory.NewStore(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q (want s3, minio, azure, local or memory)", cfg.Backend)
	}
}
