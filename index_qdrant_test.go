package main

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchedKeywords(t *testing.T, filter *qdrant.Filter) map[string]string {
	t.Helper()

	keywords := make(map[string]string, len(filter.GetMust()))

	for _, condition := range filter.GetMust() {
		field := condition.GetField()
		require.NotNil(t, field)

		keywords[field.GetKey()] = field.GetMatch().GetKeyword()
	}

	return keywords
}

func TestQdrantQueryPoints(t *testing.T) {
	index := &QdrantIndex{collection: "picsearch", dimensions: 3}

	req := index.queryPoints(&User{ID: "user-1"}, SearchQuery{
		Embedding: []float32{0.1, 0.2, 0.3},
		Threshold: 0.25,
		Count:     6,
	})

	assert.Equal(t, "picsearch", req.GetCollectionName())
	assert.Equal(t, uint64(6), req.GetLimit())
	assert.Equal(t, float32(0.25), req.GetScoreThreshold())
	assert.True(t, req.GetWithPayload().GetEnable())
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, req.GetQuery().GetNearest().GetDense().GetData())

	assert.Equal(t, map[string]string{"user_id": "user-1"}, matchedKeywords(t, req.GetFilter()))
}

func TestQdrantImageFilter(t *testing.T) {
	index := &QdrantIndex{collection: "picsearch", dimensions: 3}

	filter := index.imageFilter(&User{ID: "user-1"}, "abc")

	assert.Equal(t, map[string]string{
		"user_id":  "user-1",
		"image_id": "abc",
	}, matchedKeywords(t, filter))
}

func TestQdrantInsertChecksRecord(t *testing.T) {
	index := &QdrantIndex{collection: "picsearch", dimensions: 3}

	user := &User{ID: "user-1"}

	err := index.Insert(context.Background(), user, ImageRecord{UserID: "user-2", ImageID: "abc", Embedding: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, ErrForbiddenPath)

	err = index.Insert(context.Background(), user, ImageRecord{UserID: "user-1", ImageID: "abc", Embedding: []float32{1, 2}})
	assert.EqualError(t, err, "embedding has 2 dimensions, collection expects 3")
}
