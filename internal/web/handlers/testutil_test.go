package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	blobmemory "github.com/kozaktomas/face-registry/internal/blobstore/memory"
	"github.com/kozaktomas/face-registry/internal/database/mock"
	"github.com/kozaktomas/face-registry/internal/embedder"
	"github.com/kozaktomas/face-registry/internal/identity"
	"go.uber.org/zap"
)

// widthEmbedder returns the face registered for the width of the submitted image.
type widthEmbedder map[int][]float32

func (e widthEmbedder) Embed(_ context.Context, data []byte) (*embedder.Face, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	emb, ok := e[cfg.Width]
	if !ok {
		return nil, nil
	}
	return &embedder.Face{Embedding: emb, DetScore: 0.9}, nil
}

type testEnv struct {
	svc   *identity.Service
	index *mock.MockIdentityStore
	blobs *blobmemory.Store
}

// newTestEnv builds a service where 20px wide photos contain face (1, 0)
// and 21px wide photos contain face (0, 1).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		index: mock.NewMockIdentityStore(),
		blobs: blobmemory.NewStore("https://faces.example.com"),
	}
	emb := widthEmbedder{20: {1, 0}, 21: {0, 1}}
	env.svc = identity.NewService(emb, env.index, env.blobs, identity.Config{})
	return env
}

func testPhoto(t *testing.T, width int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, 6))
	for x := 0; x < width; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: 90, G: 140, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a request carrying data in the "image" field.
func multipartRequest(t *testing.T, method, path string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// newTestRouter mounts the handlers the same way the server does.
func newTestRouter(svc IdentityService) http.Handler {
	ih := NewIdentitiesHandler(svc, zap.NewNop())
	ph := NewPhotosHandler(svc, zap.NewNop())

	r := chi.NewRouter()
	r.Post("/match", ih.Match)
	r.Post("/identities", ih.Create)
	r.Get("/identities/{id}", ih.Get)
	r.Post("/identities/{id}/photos", ih.Attach)
	r.Get("/photos", ph.Get)
	r.Delete("/photos", ph.Delete)
	return r
}
