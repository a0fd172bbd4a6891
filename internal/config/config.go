package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Match     MatchConfig     `yaml:"match"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
	Import    ImportConfig    `yaml:"import"`
}

type MatchConfig struct {
	Threshold         float64 `yaml:"threshold"`           // minimum cosine similarity for a match
	TopK              int     `yaml:"top_k"`               // neighbours requested from the index
	EmbeddingPolicy   string  `yaml:"embedding_policy"`    // last, average or best
	MaxAttachAttempts int     `yaml:"max_attach_attempts"` // re-merges after a version conflict
}

type EmbeddingConfig struct {
	URL          string        `yaml:"url"`            // face embedding server, defaults to http://localhost:8000
	Dim          int           `yaml:"dim"`            // defaults to 128
	Timeout      time.Duration `yaml:"timeout"`        // per-request HTTP timeout
	MaxImageSize int           `yaml:"max_image_size"` // longest edge after normalization (0 = keep)
}

type DatabaseConfig struct {
	Backend      string `yaml:"backend"`        // postgres, mariadb or memory
	URL          string `yaml:"url"`            // PostgreSQL URL or MariaDB DSN
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
	SnapshotPath string `yaml:"snapshot_path"`  // memory backend: identities are loaded from and saved to this file
}

type BlobConfig struct {
	Backend   string `yaml:"backend"`  // s3, minio, azure, local or memory
	Bucket    string `yaml:"bucket"`   // bucket (s3, minio) or container (azure)
	Prefix    string `yaml:"prefix"`   // key prefix, "images" by default
	Region    string `yaml:"region"`   // s3 region
	Endpoint  string `yaml:"endpoint"` // custom s3 endpoint or minio host:port
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Account   string `yaml:"account"`   // azure storage account name
	BaseURL   string `yaml:"base_url"`  // public URL prefix for locators (optional)
	LocalDir  string `yaml:"local_dir"` // local backend root directory
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	APIToken       string   `yaml:"api_token"`       // bearer token, empty disables auth
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS whitelist, localhost is always allowed
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type ImportConfig struct {
	Concurrency   int     `yaml:"concurrency"`
	RatePerSecond float64 `yaml:"rate_per_second"` // embedding calls per second (0 = unlimited)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// Defaults returns the configuration embedded in the binary, without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Match: MatchConfig{
			Threshold:         envFloat("MATCH_THRESHOLD", d.Match.Threshold),
			TopK:              envInt("MATCH_TOP_K", d.Match.TopK),
			EmbeddingPolicy:   envString("EMBEDDING_POLICY", d.Match.EmbeddingPolicy),
			MaxAttachAttempts: envInt("MATCH_MAX_ATTACH_ATTEMPTS", d.Match.MaxAttachAttempts),
		},
		Embedding: EmbeddingConfig{
			URL:          envString("EMBEDDING_URL", d.Embedding.URL),
			Dim:          envInt("EMBEDDING_DIM", d.Embedding.Dim),
			Timeout:      envDuration("EMBEDDING_TIMEOUT", d.Embedding.Timeout),
			MaxImageSize: envInt("EMBEDDING_MAX_IMAGE_SIZE", d.Embedding.MaxImageSize),
		},
		Database: DatabaseConfig{
			Backend:      envString("INDEX_BACKEND", d.Database.Backend),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			SnapshotPath: envString("INDEX_SNAPSHOT_PATH", d.Database.SnapshotPath),
		},
		Blob: BlobConfig{
			Backend:   envString("BLOB_BACKEND", d.Blob.Backend),
			Bucket:    envString("BLOB_BUCKET", d.Blob.Bucket),
			Prefix:    envString("BLOB_PREFIX", d.Blob.Prefix),
			Region:    envString("AWS_REGION", d.Blob.Region),
			Endpoint:  envString("BLOB_ENDPOINT", d.Blob.Endpoint),
			AccessKey: os.Getenv("BLOB_ACCESS_KEY"),
			SecretKey: os.Getenv("BLOB_SECRET_KEY"),
			UseSSL:    envBool("BLOB_USE_SSL", d.Blob.UseSSL),
			Account:   envString("AZURE_STORAGE_ACCOUNT_NAME", d.Blob.Account),
			BaseURL:   envString("BLOB_BASE_URL", d.Blob.BaseURL),
			LocalDir:  envString("BLOB_LOCAL_DIR", d.Blob.LocalDir),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", d.Web.Host),
			Port:           envInt("WEB_PORT", d.Web.Port),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", d.Logging.Level),
			Format: envString("LOG_FORMAT", d.Logging.Format),
		},
		Import: ImportConfig{
			Concurrency:   envInt("IMPORT_CONCURRENCY", d.Import.Concurrency),
			RatePerSecond: envFloat("IMPORT_RATE_PER_SECOND", d.Import.RatePerSecond),
		},
	}
}

// String returns a safe representation of BlobConfig with secrets masked.
func (c BlobConfig) String() string {
	return "BlobConfig{Backend:" + c.Backend + ", Bucket:" + c.Bucket + ", Endpoint:" + c.Endpoint +
		", AccessKey:" + maskSecret(c.AccessKey) + ", SecretKey:" + maskSecret(c.SecretKey) + "}"
}

// maskSecret shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskSecret(key string) string {
	const visible = 4
	if key == "" {
		return ""
	}
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}
