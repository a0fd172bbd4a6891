package database

import (
	"encoding/json"
	"fmt"
)

// legacyMetadata covers every metadata shape written over the index's lifetime:
// batch imports stored a single "s3_url", the first interactive version an
// "s3_urls" list, current writers "image_urls".
type legacyMetadata struct {
	ImageURLs []string        `json:"image_urls"`
	S3URLs    json.RawMessage `json:"s3_urls"`
	S3URL     json.RawMessage `json:"s3_url"`
	DetScore  float64         `json:"det_score"`
	Samples   int             `json:"samples"`
}

// DecodeMetadata migrates a stored metadata document to the current shape.
// Missing or empty locator fields decode to an empty list, never an error.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Metadata{ImageURLs: []string{}}, nil
	}

	var legacy legacyMetadata
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return Metadata{}, fmt.Errorf("decoding identity metadata: %w", err)
	}

	urls := legacy.ImageURLs
	if len(urls) == 0 {
		urls = stringOrList(legacy.S3URLs)
	}
	if len(urls) == 0 {
		urls = stringOrList(legacy.S3URL)
	}
	if urls == nil {
		urls = []string{}
	}

	samples := legacy.Samples
	if samples == 0 {
		samples = len(urls)
	}

	return Metadata{ImageURLs: urls, DetScore: legacy.DetScore, Samples: samples}, nil
}

// EncodeMetadata serializes metadata in the current shape.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m.ImageURLs == nil {
		m.ImageURLs = []string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding identity metadata: %w", err)
	}
	return data, nil
}

// stringOrList accepts either a JSON string or a JSON array of strings.
func stringOrList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return dropEmpty(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func dropEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
