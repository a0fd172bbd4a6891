// Package identity reconciles incoming face photos with stored identities.
//
// A photo is embedded, compared with the nearest stored identity and then
// either attached to that identity or used to create a new one. Photos go to
// the blob store before their locator is written to the index, so the index
// never references a photo that does not exist.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-registry/internal/blobstore"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/embedder"
	"github.com/kozaktomas/face-registry/internal/imaging"
	"go.uber.org/zap"
)

// Outcome is the terminal state of a successful operation.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeNoMatch  Outcome = "no_match"
	OutcomeAttached Outcome = "attached"
	OutcomeCreated  Outcome = "created"
)

const (
	DefaultThreshold         = 0.95
	DefaultMaxAttachAttempts = 3
	DefaultKeyPrefix         = "images"
	photoContentType         = "image/jpeg"
)

// Config tunes the service.
type Config struct {
	Threshold         *float64 // minimum cosine similarity for a match, nil means DefaultThreshold
	TopK              int      // neighbours requested from the index
	Policy            EmbeddingPolicy
	MaxAttachAttempts int // upserts tried before a version conflict becomes fatal
	MaxImageSize      int // longest edge after normalization, 0 keeps the size
	KeyPrefix         string
}

// DefaultConfig returns the behaviour of the original matcher.
func DefaultConfig() Config {
	threshold := DefaultThreshold
	return Config{
		Threshold:         &threshold,
		TopK:              1,
		Policy:            PolicyLast,
		MaxAttachAttempts: DefaultMaxAttachAttempts,
		KeyPrefix:         DefaultKeyPrefix,
	}
}

// Validate reports settings NewService cannot fall back from.
func (c Config) Validate() error {
	if c.Threshold != nil && (*c.Threshold < -1 || *c.Threshold > 1 || math.IsNaN(*c.Threshold)) {
		return fmt.Errorf("match threshold %v outside [-1, 1]", *c.Threshold)
	}
	return nil
}

// MatchResult is returned by FindMatch.
type MatchResult struct {
	Matched    bool
	Outcome    Outcome
	IdentityID string
	ImageURLs  []string
	Score      float64 // similarity of the nearest identity, 0 when the index is empty
	Message    string
}

// WriteResult is returned by Attach and Create.
type WriteResult struct {
	IdentityID string
	ImageURL   string   // locator of the photo just stored
	ImageURLs  []string // all locators of the identity after the write
	Version    int64
	Outcome    Outcome
	Message    string
}

// Observer receives per-operation measurements.
type Observer interface {
	ObserveOperation(op string, outcome string, d time.Duration)
	ObserveMatchScore(score float64)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}
func (nopObserver) ObserveMatchScore(float64)                      {}

// Service implements find-match, attach and create over injected collaborators.
type Service struct {
	embedder embedder.Embedder
	index    database.IdentityWriter
	blobs    blobstore.Store
	cfg      Config
	locks    *KeyedMutex
	log      *zap.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides time.Now, used for staging keys.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides identity id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService wires the service. Zero or nil config fields fall back to DefaultConfig;
// callers should run cfg.Validate first.
func NewService(emb embedder.Embedder, index database.IdentityWriter, blobs blobstore.Store, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Threshold == nil {
		cfg.Threshold = def.Threshold
	}
	threshold := *cfg.Threshold
	cfg.Threshold = &threshold
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.MaxAttachAttempts <= 0 {
		cfg.MaxAttachAttempts = def.MaxAttachAttempts
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}

	s := &Service{
		embedder: emb,
		index:    index,
		blobs:    blobs,
		cfg:      cfg,
		locks:    NewKeyedMutex(),
		log:      zap.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Threshold returns the similarity a match must reach.
func (s *Service) Threshold() float64 {
	return *s.cfg.Threshold
}

// observe records the duration and outcome of op, using the error kind on failure.
func (s *Service) observe(op string, start time.Time, outcome Outcome, err error) {
	label := string(outcome)
	if err != nil {
		label = string(KindOf(err))
		if label == "" {
			label = "error"
		}
	}
	s.observer.ObserveOperation(op, label, time.Since(start))
}

// embed normalizes the photo and extracts the best face. No writes happen here.
func (s *Service) embed(ctx context.Context, data []byte, identityID string) (*imaging.Image, *embedder.Face, error) {
	img, err := imaging.Normalize(data, s.cfg.MaxImageSize)
	if err != nil {
		return nil, nil, newError(KindInvalidImage, identityID, err)
	}

	face, err := s.embedder.Embed(ctx, img.Data)
	if err != nil {
		return nil, nil, newError(KindEmbeddingFailed, identityID, err)
	}
	if face == nil || len(face.Embedding) == 0 {
		return nil, nil, newError(KindNoFaceDetected, identityID, nil)
	}
	return img, face, nil
}

// FindMatch looks up the identity most similar to the face in data. Read-only.
func (s *Service) FindMatch(ctx context.Context, data []byte) (res *MatchResult, err error) {
	start := time.Now()
	defer func() {
		var outcome Outcome
		if res != nil {
			outcome = res.Outcome
		}
		s.observe("find_match", start, outcome, err)
	}()

	_, face, err := s.embed(ctx, data, "")
	if err != nil {
		return nil, err
	}

	matches, err := s.index.Query(ctx, face.Embedding, s.cfg.TopK)
	if err != nil {
		s.log.Warn("index query failed", zap.Error(err))
		return nil, newError(KindIndexReadFailed, "", err)
	}

	if len(matches) == 0 {
		return &MatchResult{
			Outcome:   OutcomeNoMatch,
			ImageURLs: []string{},
			Message:   "No close matches found. Create a new ID?",
		}, nil
	}

	best := matches[0]
	s.observer.ObserveMatchScore(best.Score)

	if best.Score < s.Threshold() {
		s.log.Debug("nearest identity below threshold",
			zap.String("identity_id", best.Identity.ID),
			zap.Float64("score", best.Score),
		)
		return &MatchResult{
			Outcome:   OutcomeNoMatch,
			ImageURLs: []string{},
			Score:     best.Score,
			Message:   "No close matches found. Create a new ID?",
		}, nil
	}

	urls := best.Identity.Metadata.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	s.log.Info("identity matched",
		zap.String("identity_id", best.Identity.ID),
		zap.Float64("score", best.Score),
	)
	return &MatchResult{
		Matched:    true,
		Outcome:    OutcomeMatched,
		IdentityID: best.Identity.ID,
		ImageURLs:  urls,
		Score:      best.Score,
		Message: fmt.Sprintf(
			"Match found. File ID: %s. Do you want to update this profile or create a new ID?", best.Identity.ID),
	}, nil
}

// Attach stores the photo and appends it to an existing identity.
func (s *Service) Attach(ctx context.Context, data []byte, identityID string) (res *WriteResult, err error) {
	start := time.Now()
	defer func() {
		var outcome Outcome
		if res != nil {
			outcome = res.Outcome
		}
		s.observe("attach", start, outcome, err)
	}()

	if identityID == "" {
		return nil, notFoundIdentity(identityID)
	}

	img, face, err := s.embed(ctx, data, identityID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(identityID)
	defer unlock()

	existing, err := s.fetch(ctx, identityID)
	if err != nil {
		return nil, err
	}

	locator, err := s.upload(ctx, identityID, img)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		record := s.mergeRecord(existing, face, locator)

		version, err := s.index.Upsert(ctx, record, existing.Version)
		if err == nil {
			s.log.Info("photo attached to identity",
				zap.String("identity_id", identityID),
				zap.String("image_url", locator),
				zap.Int64("version", version),
				zap.Int("photos", len(record.Metadata.ImageURLs)),
			)
			return &WriteResult{
				IdentityID: identityID,
				ImageURL:   locator,
				ImageURLs:  record.Metadata.ImageURLs,
				Version:    version,
				Outcome:    OutcomeAttached,
				Message:    fmt.Sprintf("Image added to file. File ID: %s.", identityID),
			}, nil
		}

		if !errors.Is(err, database.ErrVersionConflict) || attempt >= s.cfg.MaxAttachAttempts {
			s.log.Error("identity upsert failed, uploaded photo is not referenced",
				zap.String("identity_id", identityID),
				zap.String("image_url", locator),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return nil, newError(KindIndexWriteFailed, identityID, err)
		}

		s.log.Debug("identity changed concurrently, re-merging",
			zap.String("identity_id", identityID),
			zap.Int("attempt", attempt),
		)
		if existing, err = s.fetch(ctx, identityID); err != nil {
			return nil, err
		}
	}
}

// Create stores the photo under a newly generated identity.
func (s *Service) Create(ctx context.Context, data []byte) (res *WriteResult, err error) {
	start := time.Now()
	defer func() {
		var outcome Outcome
		if res != nil {
			outcome = res.Outcome
		}
		s.observe("create", start, outcome, err)
	}()

	identityID := s.newID()

	img, face, err := s.embed(ctx, data, "")
	if err != nil {
		return nil, err
	}

	locator, err := s.upload(ctx, identityID, img)
	if err != nil {
		return nil, err
	}

	record := database.StoredIdentity{
		ID:        identityID,
		Embedding: face.Embedding,
		Metadata: database.Metadata{
			ImageURLs: []string{locator},
			DetScore:  face.DetScore,
			Samples:   1,
		},
	}
	version, err := s.index.Upsert(ctx, record, 0)
	if err != nil {
		s.log.Error("identity insert failed, uploaded photo is not referenced",
			zap.String("identity_id", identityID),
			zap.String("image_url", locator),
			zap.Error(err),
		)
		return nil, newError(KindIndexWriteFailed, identityID, err)
	}

	s.log.Info("identity created", zap.String("identity_id", identityID), zap.String("image_url", locator))
	return &WriteResult{
		IdentityID: identityID,
		ImageURL:   locator,
		ImageURLs:  record.Metadata.ImageURLs,
		Version:    version,
		Outcome:    OutcomeCreated,
		Message:    fmt.Sprintf("New record created. File ID: %s.", identityID),
	}, nil
}

// Get returns the stored identity.
func (s *Service) Get(ctx context.Context, identityID string) (*database.StoredIdentity, error) {
	if identityID == "" {
		return nil, notFoundIdentity(identityID)
	}
	return s.fetch(ctx, identityID)
}

// FetchPhoto downloads a stored photo by locator.
func (s *Service) FetchPhoto(ctx context.Context, locator string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, locator)
	if err != nil {
		if isMissingBlob(err) {
			return nil, &Error{Kind: KindNotFound, Message: "Photo not found.", Err: err}
		}
		return nil, newError(KindDownloadFailed, "", err)
	}
	return data, nil
}

// DeletePhoto removes a stored photo. Identity records that reference the
// locator are left unchanged.
func (s *Service) DeletePhoto(ctx context.Context, locator string) error {
	if err := s.blobs.Delete(ctx, locator); err != nil {
		if isMissingBlob(err) {
			return &Error{Kind: KindNotFound, Message: "Photo not found.", Err: err}
		}
		return newError(KindDeleteFailed, "", err)
	}
	s.log.Info("photo deleted", zap.String("image_url", locator))
	return nil
}

func isMissingBlob(err error) bool {
	return errors.Is(err, blobstore.ErrNotFound) ||
		errors.Is(err, blobstore.ErrForeignLocator) ||
		errors.Is(err, blobstore.ErrInvalidKey)
}

func (s *Service) fetch(ctx context.Context, identityID string) (*database.StoredIdentity, error) {
	existing, err := s.index.Get(ctx, identityID)
	if err != nil {
		s.log.Warn("index fetch failed", zap.String("identity_id", identityID), zap.Error(err))
		return nil, newError(KindIndexReadFailed, identityID, err)
	}
	if existing == nil {
		return nil, notFoundIdentity(identityID)
	}
	return existing, nil
}

func (s *Service) upload(ctx context.Context, identityID string, img *imaging.Image) (string, error) {
	key := StagingKey(s.cfg.KeyPrefix, identityID, s.now())
	locator, err := s.blobs.Put(ctx, key, img.Data, photoContentType)
	if err != nil {
		s.log.Warn("photo upload failed", zap.String("identity_id", identityID), zap.String("key", key), zap.Error(err))
		return "", newError(KindUploadFailed, identityID, err)
	}
	return locator, nil
}

// mergeRecord builds the full replacement record for an attach.
func (s *Service) mergeRecord(existing *database.StoredIdentity, face *embedder.Face, locator string) database.StoredIdentity {
	embedding, detScore := s.cfg.Policy.merge(existing, face)

	urls := make([]string, 0, len(existing.Metadata.ImageURLs)+1)
	urls = append(urls, existing.Metadata.ImageURLs...)
	urls = append(urls, locator)

	return database.StoredIdentity{
		ID:        existing.ID,
		Embedding: embedding,
		Metadata: database.Metadata{
			ImageURLs: urls,
			DetScore:  detScore,
			Samples:   existing.Metadata.Samples + 1,
		},
		CreatedAt: existing.CreatedAt,
	}
}
