package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/face-registry/internal/blobstore/local"
	blobmemory "github.com/kozaktomas/face-registry/internal/blobstore/memory"
	"github.com/kozaktomas/face-registry/internal/config"
	dbmemory "github.com/kozaktomas/face-registry/internal/database/memory"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func TestOpenIndex(t *testing.T) {
	cfg := config.Defaults()
	cfg.Database.Backend = "memory"
	cfg.Database.SnapshotPath = filepath.Join(t.TempDir(), "index.hnsw")

	index, err := openIndex(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("openIndex: %v", err)
	}
	defer index.Close()
	if _, ok := index.(*dbmemory.IdentityRepository); !ok {
		t.Errorf("expected memory repository, got %T", index)
	}

	cfg.Database.Backend = "cassandra"
	if _, err := openIndex(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg.Database.Backend = "postgres"
	cfg.Database.URL = ""
	if _, err := openIndex(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected error for postgres without URL")
	}
}

func TestOpenBlobStore(t *testing.T) {
	ctx := context.Background()

	store, err := openBlobStore(ctx, &config.BlobConfig{Backend: "local", LocalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, ok := store.(*local.Store); !ok {
		t.Errorf("expected local store, got %T", store)
	}

	store, err = openBlobStore(ctx, &config.BlobConfig{Backend: "Memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*blobmemory.Store); !ok {
		t.Errorf("expected memory store, got %T", store)
	}

	for _, cfg := range []config.BlobConfig{
		{Backend: "ftp"},
		{Backend: "local"},
		{Backend: "s3"},
		{Backend: "minio", Bucket: "faces"},
		{Backend: "azure", Account: "acct"},
	} {
		if _, err := openBlobStore(ctx, &cfg); err == nil {
			t.Errorf("expected error for %s", cfg)
		}
	}
}

func TestServiceConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Match.EmbeddingPolicy = "average"

	sc, err := serviceConfig(cfg)
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	if sc.Policy != identity.PolicyAverage || *sc.Threshold != 0.95 || sc.KeyPrefix != "images" {
		t.Errorf("unexpected service config %+v", sc)
	}

	cfg.Match.EmbeddingPolicy = "median"
	if _, err := serviceConfig(cfg); err == nil {
		t.Error("expected error for unknown policy")
	}

	cfg.Match.EmbeddingPolicy = "last"
	cfg.Match.Threshold = 0
	sc, err = serviceConfig(cfg)
	if err != nil {
		t.Fatalf("serviceConfig with zero threshold: %v", err)
	}
	if sc.Threshold == nil || *sc.Threshold != 0 {
		t.Errorf("zero threshold was not kept: %v", sc.Threshold)
	}

	cfg.Match.Threshold = 1.5
	if _, err := serviceConfig(cfg); err == nil {
		t.Error("expected error for threshold above 1")
	}
}

func TestApplyThresholdFlag(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "match"}
		c.Flags().Float64("threshold", 0, "")
		return c
	}

	cfg := config.Defaults()
	applyThresholdFlag(newCmd(), cfg)
	if cfg.Match.Threshold != 0.95 {
		t.Errorf("unset flag changed threshold to %v", cfg.Match.Threshold)
	}

	c := newCmd()
	if err := c.Flags().Set("threshold", "0"); err != nil {
		t.Fatal(err)
	}
	applyThresholdFlag(c, cfg)
	if cfg.Match.Threshold != 0 {
		t.Errorf("explicit --threshold 0 ignored, got %v", cfg.Match.Threshold)
	}
}

func TestServiceError(t *testing.T) {
	cause := errors.New("connection reset")
	err := serviceError(&identity.Error{Kind: identity.KindUploadFailed, Message: "Failed to upload image.", Err: cause})

	if !strings.Contains(err.Error(), "Failed to upload image (upload_failed): connection reset") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should stay reachable")
	}

	plain := errors.New("plain")
	if serviceError(plain) != plain {
		t.Error("non-identity errors pass through")
	}
}
