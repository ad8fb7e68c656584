package main

import (
	"context"
	"time"
)

type ImageRecord struct {
	UserID    string    `json:"user_id"`
	ImageID   string    `json:"image_id"`
	ImageURL  string    `json:"image_url"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is one row of a similarity search.
type Match struct {
	ImageID    string  `json:"image_id"`
	ImageURL   string  `json:"image_url"`
	Similarity float64 `json:"similarity"`
}

type SearchQuery struct {
	Embedding []float32
	Threshold float64
	Count     int
}

// ImageIndex keeps one record per uploaded image and answers similarity
// searches scoped to a single user.
type ImageIndex interface {
	Insert(ctx context.Context, user *User, record ImageRecord) error
	Delete(ctx context.Context, user *User, imageID string) error
	Search(ctx context.Context, user *User, query SearchQuery) ([]Match, error)
	Has(ctx context.Context, user *User, imageID string) (bool, error)
}

// filterMatches drops matches below the threshold and keeps at most count
// entries. matches must already be ordered by similarity.
func filterMatches(matches []Match, threshold float64, count int) []Match {
	result := make([]Match, 0, min(len(matches), count))

	for _, match := range matches {
		if match.Similarity < threshold {
			continue
		}

		result = append(result, match)

		if len(result) >= count {
			break
		}
	}

	return result
}
