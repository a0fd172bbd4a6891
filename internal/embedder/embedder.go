// Package embedder talks to the external face-embedding service.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultEmbeddingURL = "http://localhost:8000"

// Face is the face selected from an image together with its embedding.
type Face struct {
	Embedding []float32
	DetScore  float64
	BBox      []float64 // [x1, y1, x2, y2]
	Model     string
}

// Embedder turns a photo into a face embedding.
// A nil Face with a nil error means no face was detected.
type Embedder interface {
	Embed(ctx context.Context, imageData []byte) (*Face, error)
}

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewClient creates a new embedding client. dim <= 0 disables the dimension check.
func NewClient(baseURL string, dim int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &faceResp, nil
}

// Embed returns the most confidently detected face, or nil if there is none.
func (c *Client) Embed(ctx context.Context, imageData []byte) (*Face, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}

	best := SelectBestFace(resp.Faces)
	if best == nil {
		return nil, nil
	}
	if c.dim > 0 && len(best.Embedding) != c.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dim, len(best.Embedding))
	}

	return &Face{
		Embedding: best.Embedding,
		DetScore:  best.DetScore,
		BBox:      best.BBox,
		Model:     resp.Model,
	}, nil
}

// SelectBestFace returns the detection with the highest det_score, ignoring
// entries without an embedding. Ties keep the earlier face.
func SelectBestFace(faces []FaceDetection) *FaceDetection {
	var best *FaceDetection
	for i := range faces {
		if len(faces[i].Embedding) == 0 {
			continue
		}
		if best == nil || faces[i].DetScore > best.DetScore {
			best = &faces[i]
		}
	}
	return best
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}

// Verify interface compliance.
var _ Embedder = (*Client)(nil)
