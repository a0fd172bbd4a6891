package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"sync"
	"testing"
	"time"

	blobmemory "github.com/kozaktomas/face-registry/internal/blobstore/memory"
	"github.com/kozaktomas/face-registry/internal/database"
	dbmemory "github.com/kozaktomas/face-registry/internal/database/memory"
	"github.com/kozaktomas/face-registry/internal/database/mock"
	"github.com/kozaktomas/face-registry/internal/embedder"
)

// fakeEmbedder maps an image's width to a face, so tests can pick the
// embedding by choosing the width of a generated photo.
type fakeEmbedder struct {
	mu    sync.Mutex
	faces map[int]*embedder.Face
	err   error
	calls int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{faces: make(map[int]*embedder.Face)}
}

func (f *fakeEmbedder) set(width int, emb []float32, detScore float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[width] = &embedder.Face{Embedding: emb, DetScore: detScore}
}

func (f *fakeEmbedder) Embed(_ context.Context, data []byte) (*embedder.Face, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embedder received non-JPEG input: %w", err)
	}
	return f.faces[cfg.Width], nil
}

// photo returns a PNG of the given width.
func photo(t *testing.T, width int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, 8))
	for x := 0; x < width; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode photo: %v", err)
	}
	return buf.Bytes()
}

// unitAt returns a 2-d unit vector whose cosine similarity with (1, 0) is sim.
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

// steppingClock advances one millisecond per call so staging keys never collide.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type fixture struct {
	svc   *Service
	emb   *fakeEmbedder
	index *mock.MockIdentityStore
	blobs *blobmemory.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		emb:   newFakeEmbedder(),
		index: mock.NewMockIdentityStore(),
		blobs: blobmemory.NewStore("https://faces.s3.amazonaws.com"),
	}
	ids := 0
	f.svc = NewService(f.emb, f.index, f.blobs, cfg,
		WithClock(steppingClock()),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		}),
	)
	return f
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func TestNoFaceDetected_NoWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.index.AddIdentity(database.StoredIdentity{
		ID:        "existing",
		Embedding: []float32{1, 0},
		Metadata:  database.Metadata{ImageURLs: []string{"u0"}},
	})
	img := photo(t, 11) // no face registered for width 11

	_, err := f.svc.FindMatch(ctx, img)
	requireKind(t, err, KindNoFaceDetected)

	_, err = f.svc.Attach(ctx, img, "existing")
	requireKind(t, err, KindNoFaceDetected)

	_, err = f.svc.Create(ctx, img)
	requireKind(t, err, KindNoFaceDetected)

	if f.blobs.Len() != 0 {
		t.Errorf("expected no blob writes, got %d", f.blobs.Len())
	}
	if f.index.UpsertCalls != 0 {
		t.Errorf("expected no index writes, got %d", f.index.UpsertCalls)
	}
	if f.index.QueryCalls != 0 {
		t.Errorf("expected no index queries, got %d", f.index.QueryCalls)
	}
}

func TestFindMatch_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		sim       float64
		wantMatch bool
	}{
		{"identical", 1.0, true},
		{"above threshold", 0.97, true},
		{"just above threshold", 0.951, true},
		{"just below threshold", 0.949, false},
		{"far", 0.5, false},
		{"opposite", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.index.AddIdentity(database.StoredIdentity{
				ID:        "stored",
				Embedding: []float32{1, 0},
				Metadata:  database.Metadata{ImageURLs: []string{"u1"}},
			})
			f.emb.set(20, unitAt(tt.sim), 0.9)

			res, err := f.svc.FindMatch(context.Background(), photo(t, 20))
			if err != nil {
				t.Fatalf("FindMatch: %v", err)
			}
			if res.Matched != tt.wantMatch {
				t.Fatalf("Matched = %v, want %v (score %v)", res.Matched, tt.wantMatch, res.Score)
			}
			if tt.wantMatch {
				if res.IdentityID != "stored" || res.Outcome != OutcomeMatched {
					t.Errorf("unexpected match result %+v", res)
				}
				if len(res.ImageURLs) != 1 || res.ImageURLs[0] != "u1" {
					t.Errorf("unexpected locators %v", res.ImageURLs)
				}
			} else {
				if res.IdentityID != "" || res.Outcome != OutcomeNoMatch {
					t.Errorf("unexpected no-match result %+v", res)
				}
				if res.ImageURLs == nil || len(res.ImageURLs) != 0 {
					t.Errorf("expected empty locator list, got %#v", res.ImageURLs)
				}
			}
		})
	}
}

func TestFindMatch_ExplicitZeroThreshold(t *testing.T) {
	zero := 0.0
	f := newFixture(t, Config{Threshold: &zero})
	f.index.AddIdentity(database.StoredIdentity{
		ID:        "stored",
		Embedding: []float32{1, 0},
		Metadata:  database.Metadata{ImageURLs: []string{"u1"}},
	})
	f.emb.set(20, []float32{0, 1}, 0.9)

	if f.svc.Threshold() != 0 {
		t.Fatalf("explicit zero threshold replaced by %v", f.svc.Threshold())
	}
	res, err := f.svc.FindMatch(context.Background(), photo(t, 20))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if !res.Matched || res.IdentityID != "stored" {
		t.Errorf("orthogonal face should match at threshold 0, got %+v", res)
	}
}

func TestNewService_CopiesThreshold(t *testing.T) {
	threshold := 0.8
	svc := NewService(newFakeEmbedder(), mock.NewMockIdentityStore(), blobmemory.NewStore(""), Config{Threshold: &threshold})
	threshold = 0.1

	if svc.Threshold() != 0.8 {
		t.Errorf("expected 0.8, got %v", svc.Threshold())
	}
	if got := NewService(newFakeEmbedder(), mock.NewMockIdentityStore(), blobmemory.NewStore(""), Config{}).Threshold(); got != DefaultThreshold {
		t.Errorf("expected default threshold, got %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		threshold *float64
		wantErr   bool
	}{
		{"unset", nil, false},
		{"zero", ptrTo(0.0), false},
		{"lower bound", ptrTo(-1.0), false},
		{"upper bound", ptrTo(1.0), false},
		{"above one", ptrTo(1.01), true},
		{"below minus one", ptrTo(-2.0), true},
		{"nan", ptrTo(math.NaN()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Threshold: tt.threshold}.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func ptrTo[T any](v T) *T {
	return &v
}

func TestFindMatch_EmptyIndex(t *testing.T) {
	f := newFixture(t, Config{})
	f.emb.set(20, []float32{1, 0}, 0.9)

	res, err := f.svc.FindMatch(context.Background(), photo(t, 20))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if res.Matched || res.Outcome != OutcomeNoMatch {
		t.Errorf("expected no match on empty index, got %+v", res)
	}
}

func TestFindMatch_MissingLocatorsDecodeToEmptyList(t *testing.T) {
	f := newFixture(t, Config{})
	f.index.AddIdentity(database.StoredIdentity{ID: "legacy", Embedding: []float32{1, 0}})
	f.emb.set(20, []float32{1, 0}, 0.9)

	res, err := f.svc.FindMatch(context.Background(), photo(t, 20))
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if !res.Matched || res.ImageURLs == nil || len(res.ImageURLs) != 0 {
		t.Errorf("expected match with empty locator list, got %#v", res)
	}
}

func TestFindMatch_Idempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.index.AddIdentity(database.StoredIdentity{
		ID:        "stored",
		Embedding: []float32{1, 0},
		Metadata:  database.Metadata{ImageURLs: []string{"u1", "u2"}},
	})
	f.emb.set(20, unitAt(0.99), 0.9)
	img := photo(t, 20)

	first, err := f.svc.FindMatch(context.Background(), img)
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	second, err := f.svc.FindMatch(context.Background(), img)
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
	if f.index.UpsertCalls != 0 || f.blobs.Len() != 0 {
		t.Error("FindMatch must not write")
	}
}

func TestCreateThenFindMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.emb.set(30, []float32{0.6, 0.8}, 0.88)
	img := photo(t, 30)

	created, err := f.svc.Create(ctx, img)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Outcome != OutcomeCreated || created.Version != 1 {
		t.Errorf("unexpected create result %+v", created)
	}
	want := "https://faces.s3.amazonaws.com/images/id-1_20240517_093000_001000.jpg"
	if created.ImageURL != want {
		t.Errorf("ImageURL = %s, want %s", created.ImageURL, want)
	}

	res, err := f.svc.FindMatch(ctx, img)
	if err != nil {
		t.Fatalf("FindMatch: %v", err)
	}
	if !res.Matched || res.IdentityID != created.IdentityID {
		t.Fatalf("expected match with %s, got %+v", created.IdentityID, res)
	}
	if len(res.ImageURLs) != 1 || res.ImageURLs[0] != created.ImageURL {
		t.Errorf("expected one-element locator list, got %v", res.ImageURLs)
	}

	stored, _ := f.index.Get(ctx, created.IdentityID)
	if stored.Metadata.Samples != 1 || stored.Metadata.DetScore != 0.88 {
		t.Errorf("unexpected stored metadata %+v", stored.Metadata)
	}
}

func TestAttachAfterCreate_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.emb.set(30, []float32{1, 0}, 0.9)
	f.emb.set(31, unitAt(0.97), 0.8)

	created, err := f.svc.Create(ctx, photo(t, 30))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	attached, err := f.svc.Attach(ctx, photo(t, 31), created.IdentityID)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if attached.Outcome != OutcomeAttached || attached.Version != 2 {
		t.Errorf("unexpected attach result %+v", attached)
	}
	if len(attached.ImageURLs) != 2 || attached.ImageURLs[0] != created.ImageURL || attached.ImageURLs[1] != attached.ImageURL {
		t.Errorf("locators not appended in order: %v", attached.ImageURLs)
	}

	stored, _ := f.index.Get(ctx, created.IdentityID)
	wantEmb := unitAt(0.97)
	if stored.Embedding[0] != wantEmb[0] || stored.Embedding[1] != wantEmb[1] {
		t.Errorf("stored embedding %v, want %v", stored.Embedding, wantEmb)
	}
	if stored.Metadata.Samples != 2 {
		t.Errorf("expected 2 samples, got %d", stored.Metadata.Samples)
	}
}

func TestConcreteScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	embA := []float32{1, 0}
	embB := unitAt(0.97)
	f.emb.set(40, embA, 0.9)
	f.emb.set(41, embB, 0.9)
	imgA, imgB := photo(t, 40), photo(t, 41)

	created, err := f.svc.Create(ctx, imgA)
	if err != nil {
		t.Fatalf("Create(A): %v", err)
	}
	urlA := created.ImageURL

	match, err := f.svc.FindMatch(ctx, imgB)
	if err != nil {
		t.Fatalf("FindMatch(B): %v", err)
	}
	if !match.Matched || match.IdentityID != created.IdentityID || len(match.ImageURLs) != 1 || match.ImageURLs[0] != urlA {
		t.Fatalf("expected Match(%s, [%s]), got %+v", created.IdentityID, urlA, match)
	}

	attached, err := f.svc.Attach(ctx, imgB, match.IdentityID)
	if err != nil {
		t.Fatalf("Attach(B): %v", err)
	}
	if len(attached.ImageURLs) != 2 || attached.ImageURLs[0] != urlA || attached.ImageURLs[1] != attached.ImageURL {
		t.Errorf("expected [urlA, urlB], got %v", attached.ImageURLs)
	}

	stored, _ := f.index.Get(ctx, created.IdentityID)
	if stored.Embedding[0] != embB[0] || stored.Embedding[1] != embB[1] {
		t.Errorf("stored embedding should be B's")
	}
}

func TestConcreteScenario_MemoryIndex(t *testing.T) {
	ctx := context.Background()
	index, err := dbmemory.NewIdentityRepository()
	if err != nil {
		t.Fatal(err)
	}
	emb := newFakeEmbedder()
	embB := unitAt(0.97)
	emb.set(16, []float32{1, 0}, 0.9)
	emb.set(24, embB, 0.9)
	svc := NewService(emb, index, blobmemory.NewStore(""), Config{}, WithClock(steppingClock()))

	created, err := svc.Create(ctx, photo(t, 16))
	if err != nil {
		t.Fatalf("Create(A): %v", err)
	}

	match, err := svc.FindMatch(ctx, photo(t, 24))
	if err != nil {
		t.Fatalf("FindMatch(B): %v", err)
	}
	if !match.Matched || match.IdentityID != created.IdentityID {
		t.Fatalf("expected match on %s, got %+v", created.IdentityID, match)
	}

	attached, err := svc.Attach(ctx, photo(t, 24), created.IdentityID)
	if err != nil {
		t.Fatalf("Attach(B): %v", err)
	}
	if len(attached.ImageURLs) != 2 || attached.Version != 2 {
		t.Errorf("expected two locators at version 2, got %+v", attached)
	}

	again, err := svc.FindMatch(ctx, photo(t, 24))
	if err != nil {
		t.Fatalf("FindMatch after attach: %v", err)
	}
	if !again.Matched || again.IdentityID != created.IdentityID || len(again.ImageURLs) != 2 {
		t.Errorf("attached identity should stay searchable, got %+v", again)
	}
	if again.Score < 0.999 {
		t.Errorf("expected the replaced embedding to be indexed, score %v", again.Score)
	}
}

func TestUploadFailure_NoIndexWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.index.AddIdentity(database.StoredIdentity{
		ID:        "existing",
		Embedding: []float32{1, 0},
		Metadata:  database.Metadata{ImageURLs: []string{"u0"}},
	})
	f.emb.set(20, []float32{1, 0}, 0.9)
	f.blobs.PutError = errors.New("bucket unavailable")

	_, err := f.svc.Create(ctx, photo(t, 20))
	requireKind(t, err, KindUploadFailed)

	_, err = f.svc.Attach(ctx, photo(t, 20), "existing")
	requireKind(t, err, KindUploadFailed)

	if f.index.UpsertCalls != 0 {
		t.Errorf("expected no upserts after upload failure, got %d", f.index.UpsertCalls)
	}
	stored, _ := f.index.Get(ctx, "existing")
	if len(stored.Metadata.ImageURLs) != 1 {
		t.Errorf("existing record changed: %v", stored.Metadata.ImageURLs)
	}
}

func TestAttach_MissingIdentity(t *testing.T) {
	f := newFixture(t, Config{})
	f.emb.set(20, []float32{1, 0}, 0.9)

	_, err := f.svc.Attach(context.Background(), photo(t, 20), "ghost")
	requireKind(t, err, KindNotFound)

	var identityErr *Error
	if !errors.As(err, &identityErr) || identityErr.IdentityID != "ghost" {
		t.Errorf("expected identity id on error, got %+v", err)
	}
	if f.blobs.Len() != 0 || f.index.UpsertCalls != 0 {
		t.Error("attach to a missing identity must not write")
	}

	_, err = f.svc.Attach(context.Background(), photo(t, 20), "")
	requireKind(t, err, KindNotFound)
}

func TestCollaboratorFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid image", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.svc.FindMatch(ctx, []byte("not an image"))
		requireKind(t, err, KindInvalidImage)
		if f.emb.calls != 0 {
			t.Error("embedder must not be called for undecodable input")
		}
	})

	t.Run("embedding service down", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.emb.err = errors.New("connection refused")
		_, err := f.svc.Create(ctx, photo(t, 20))
		requireKind(t, err, KindEmbeddingFailed)
		if f.blobs.Len() != 0 {
			t.Error("no blob may be written when embedding fails")
		}
	})

	t.Run("index query fails", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.emb.set(20, []float32{1, 0}, 0.9)
		f.index.QueryError = errors.New("timeout")
		_, err := f.svc.FindMatch(ctx, photo(t, 20))
		requireKind(t, err, KindIndexReadFailed)
	})

	t.Run("index fetch fails", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.emb.set(20, []float32{1, 0}, 0.9)
		f.index.GetError = errors.New("timeout")
		_, err := f.svc.Attach(ctx, photo(t, 20), "x")
		requireKind(t, err, KindIndexReadFailed)
	})

	t.Run("index write fails after upload", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.emb.set(20, []float32{1, 0}, 0.9)
		f.index.UpsertError = errors.New("disk full")
		_, err := f.svc.Create(ctx, photo(t, 20))
		requireKind(t, err, KindIndexWriteFailed)
		if f.blobs.Len() != 1 {
			t.Errorf("uploaded blob should stay in place, got %d blobs", f.blobs.Len())
		}
		if !errors.Is(err, f.index.UpsertError) {
			t.Error("cause should be reachable through Unwrap")
		}
		if err.Error() != "Failed to update the identity index." {
			t.Errorf("message leaks cause: %q", err.Error())
		}
	})
}

func TestAttach_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.index.AddIdentity(database.StoredIdentity{
		ID:        "shared",
		Embedding: []float32{1, 0},
		Metadata:  database.Metadata{ImageURLs: []string{"u0"}},
	})
	f.emb.set(20, []float32{1, 0}, 0.9)

	// Another process appends "other" right before our first upsert.
	interfered := false
	f.index.BeforeUpsert = func(database.StoredIdentity, int64) {
		if interfered {
			return
		}
		interfered = true
		cur, _ := f.index.Get(ctx, "shared")
		cur.Metadata.ImageURLs = append(cur.Metadata.ImageURLs, "other")
		if _, err := f.index.Upsert(ctx, *cur, cur.Version); err != nil {
			t.Errorf("concurrent writer: %v", err)
		}
	}

	res, err := f.svc.Attach(ctx, photo(t, 20), "shared")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	want := []string{"u0", "other", res.ImageURL}
	if fmt.Sprint(res.ImageURLs) != fmt.Sprint(want) {
		t.Errorf("ImageURLs = %v, want %v", res.ImageURLs, want)
	}
	if res.Version != 3 {
		t.Errorf("expected version 3, got %d", res.Version)
	}
}

func TestAttach_PersistentConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxAttachAttempts: 3})
	f.index.AddIdentity(database.StoredIdentity{
		ID:        "hot",
		Embedding: []float32{1, 0},
		Metadata:  database.Metadata{ImageURLs: []string{"u0"}},
	})
	f.emb.set(20, []float32{1, 0}, 0.9)

	f.index.BeforeUpsert = func(ident database.StoredIdentity, expected int64) {
		if ident.ID != "hot" || expected == 0 {
			return
		}
		// Bump the version behind the service's back every time.
		cur, _ := f.index.Get(ctx, "hot")
		f.index.AddIdentity(database.StoredIdentity{
			ID: cur.ID, Embedding: cur.Embedding, Metadata: cur.Metadata, Version: cur.Version + 1,
		})
	}

	_, err := f.svc.Attach(ctx, photo(t, 20), "hot")
	requireKind(t, err, KindIndexWriteFailed)
	if !errors.Is(err, database.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict cause, got %v", errors.Unwrap(err))
	}
	if f.index.UpsertCalls != 3 {
		t.Errorf("expected 3 upsert attempts, got %d", f.index.UpsertCalls)
	}
}

func TestAttach_ConcurrentKeepsEveryLocator(t *testing.T) {
	ctx := context.Background()
	index, err := dbmemory.NewIdentityRepository()
	if err != nil {
		t.Fatal(err)
	}
	emb := newFakeEmbedder()
	emb.set(20, []float32{1, 0}, 0.9)
	blobs := blobmemory.NewStore("")
	svc := NewService(emb, index, blobs, Config{}, WithClock(steppingClock()))

	created, err := svc.Create(ctx, photo(t, 20))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 12
	img := photo(t, 20)
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Attach(ctx, img, created.IdentityID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Attach: %v", err)
	}

	stored, err := svc.Get(ctx, created.IdentityID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(stored.Metadata.ImageURLs) != workers+1 {
		t.Errorf("expected %d locators, got %d", workers+1, len(stored.Metadata.ImageURLs))
	}
	seen := make(map[string]bool)
	for _, u := range stored.Metadata.ImageURLs {
		if seen[u] {
			t.Errorf("duplicate locator %s", u)
		}
		seen[u] = true
	}
	if blobs.Len() != workers+1 {
		t.Errorf("expected %d blobs, got %d", workers+1, blobs.Len())
	}
	if stored.Version != workers+1 {
		t.Errorf("expected version %d, got %d", workers+1, stored.Version)
	}
	if svc.locks.size() != 0 {
		t.Errorf("lock entries leaked: %d", svc.locks.size())
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t, Config{})
	f.index.AddIdentity(database.StoredIdentity{ID: "a", Embedding: []float32{1, 0}})

	got, err := f.svc.Get(context.Background(), "a")
	if err != nil || got.ID != "a" {
		t.Fatalf("Get: %+v %v", got, err)
	}

	_, err = f.svc.Get(context.Background(), "b")
	requireKind(t, err, KindNotFound)
}

func TestPhotos(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.emb.set(20, []float32{1, 0}, 0.9)

	created, err := f.svc.Create(ctx, photo(t, 20))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := f.svc.FetchPhoto(ctx, created.ImageURL)
	if err != nil {
		t.Fatalf("FetchPhoto: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Errorf("stored photo is not a JPEG: %v", err)
	}

	if err := f.svc.DeletePhoto(ctx, created.ImageURL); err != nil {
		t.Fatalf("DeletePhoto: %v", err)
	}
	_, err = f.svc.FetchPhoto(ctx, created.ImageURL)
	requireKind(t, err, KindNotFound)
	requireKind(t, f.svc.DeletePhoto(ctx, created.ImageURL), KindNotFound)
	requireKind(t, f.svc.DeletePhoto(ctx, "https://elsewhere.example.com/x.jpg"), KindNotFound)

	// The identity record keeps the deleted locator.
	stored, _ := f.svc.Get(ctx, created.IdentityID)
	if len(stored.Metadata.ImageURLs) != 1 {
		t.Errorf("identity record should not be reconciled, got %v", stored.Metadata.ImageURLs)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	ops    []string
	scores []float64
}

func (r *recordingObserver) ObserveOperation(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+":"+outcome)
}

func (r *recordingObserver) ObserveMatchScore(score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, score)
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	emb := newFakeEmbedder()
	emb.set(20, []float32{1, 0}, 0.9)
	svc := NewService(emb, mock.NewMockIdentityStore(), blobmemory.NewStore(""), Config{}, WithObserver(obs))

	if _, err := svc.FindMatch(ctx, photo(t, 20)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, photo(t, 20)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.FindMatch(ctx, photo(t, 20)); err != nil {
		t.Fatal(err)
	}
	_, _ = svc.Create(ctx, photo(t, 99))

	want := []string{"find_match:no_match", "create:created", "find_match:matched", "create:no_face_detected"}
	if fmt.Sprint(obs.ops) != fmt.Sprint(want) {
		t.Errorf("ops = %v, want %v", obs.ops, want)
	}
	if len(obs.scores) != 1 {
		t.Errorf("expected one score observation, got %v", obs.scores)
	}
}
