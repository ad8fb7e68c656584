package main

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

func NewQdrantIndex(cfg PicConfigQdrant) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	index := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
	}

	err = index.createCollection(context.Background())
	if err != nil {
		client.Close()

		return nil, err
	}

	return index, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func (q *QdrantIndex) createCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check qdrant collection %s: %w", q.collection, err)
	}

	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection %s: %w", q.collection, err)
	}

	log.InfoF("Created qdrant collection %s\n", q.collection)

	return nil
}

func (q *QdrantIndex) Insert(ctx context.Context, user *User, record ImageRecord) error {
	if user == nil || record.UserID != user.ID {
		return ErrForbiddenPath
	}

	if len(record.Embedding) != q.dimensions {
		return fmt.Errorf("embedding has %d dimensions, collection expects %d", len(record.Embedding), q.dimensions)
	}

	created := record.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(record.ImageID),
				Vectors: qdrant.NewVectorsDense(record.Embedding),
				Payload: qdrant.NewValueMap(map[string]any{
					"user_id":    record.UserID,
					"image_id":   record.ImageID,
					"image_url":  record.ImageURL,
					"created_at": created.Unix(),
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert qdrant point: %w", err)
	}

	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, user *User, imageID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: q.imageFilter(user, imageID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete qdrant point %s: %w", imageID, err)
	}

	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, user *User, query SearchQuery) ([]Match, error) {
	points, err := q.client.Query(ctx, q.queryPoints(user, query))
	if err != nil {
		return nil, fmt.Errorf("failed to query qdrant: %w", err)
	}

	matches := make([]Match, 0, len(points))

	for _, point := range points {
		matches = append(matches, Match{
			ImageID:    point.Payload["image_id"].GetStringValue(),
			ImageURL:   point.Payload["image_url"].GetStringValue(),
			Similarity: float64(point.Score),
		})
	}

	return matches, nil
}

// queryPoints restricts the search to the user's points and lets qdrant
// apply the similarity threshold and match count.
func (q *QdrantIndex) queryPoints(user *User, query SearchQuery) *qdrant.QueryPoints {
	return &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(query.Embedding),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("user_id", user.ID),
			},
		},
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(float32(query.Threshold)),
		Limit:          qdrant.PtrOf(uint64(query.Count)),
	}
}

func (q *QdrantIndex) Has(ctx context.Context, user *User, imageID string) (bool, error) {
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         q.imageFilter(user, imageID),
		Limit:          qdrant.PtrOf(uint32(1)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to scroll qdrant: %w", err)
	}

	return len(points) > 0, nil
}

func (q *QdrantIndex) imageFilter(user *User, imageID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("user_id", user.ID),
			qdrant.NewMatch("image_id", imageID),
		},
	}
}
