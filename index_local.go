package main

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// LocalIndex keeps image records in sqlite and their embeddings in the
// vector store.
type LocalIndex struct {
	db      *Database
	vectors *VectorStore
}

func NewLocalIndex(db *Database, vectors *VectorStore) *LocalIndex {
	return &LocalIndex{
		db:      db,
		vectors: vectors,
	}
}

func (l *LocalIndex) Insert(ctx context.Context, user *User, record ImageRecord) error {
	if user == nil || record.UserID != user.ID {
		return ErrForbiddenPath
	}

	if len(record.Embedding) == 0 {
		return ErrNoEmbedding
	}

	if owner := l.vectors.Owner(ctx, record.ImageID); owner != "" && owner != user.ID {
		return ErrForbiddenPath
	}

	row := &ImageRow{
		ImageID:   record.ImageID,
		UserID:    record.UserID,
		ImageURL:  record.ImageURL,
		CreatedAt: record.CreatedAt,
	}

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	_, err := l.db.db.NewInsert().
		Model(row).
		On("CONFLICT (image_id) DO UPDATE").
		Set("image_url = EXCLUDED.image_url").
		Exec(ctx)
	if err != nil {
		return err
	}

	return l.vectors.Add(ctx, record.ImageID, record.UserID, record.ImageURL, record.Embedding)
}

func (l *LocalIndex) Delete(ctx context.Context, user *User, imageID string) error {
	_, err := l.db.db.NewDelete().
		Model((*ImageRow)(nil)).
		Where("image_id = ?", imageID).
		Where("user_id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return err
	}

	if l.vectors.Owner(ctx, imageID) != user.ID {
		return nil
	}

	return l.vectors.Delete(ctx, imageID)
}

func (l *LocalIndex) Search(ctx context.Context, user *User, query SearchQuery) ([]Match, error) {
	results, err := l.vectors.Query(ctx, user.ID, query.Embedding, query.Count)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return []Match{}, nil
	}

	ids := make([]string, 0, len(results))

	for _, result := range results {
		ids = append(ids, result.ID)
	}

	var rows []ImageRow

	err = l.db.db.NewSelect().
		Model(&rows).
		Where("image_id IN (?)", bun.In(ids)).
		Where("user_id = ?", user.ID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	urls := make(map[string]string, len(rows))

	for _, row := range rows {
		urls[row.ImageID] = row.ImageURL
	}

	matches := make([]Match, 0, len(results))

	for _, result := range results {
		url, ok := urls[result.ID]
		if !ok {
			continue
		}

		matches = append(matches, Match{
			ImageID:    result.ID,
			ImageURL:   url,
			Similarity: float64(result.Similarity),
		})
	}

	return filterMatches(matches, query.Threshold, query.Count), nil
}

// Has reports whether both the record and its embedding exist.
func (l *LocalIndex) Has(ctx context.Context, user *User, imageID string) (bool, error) {
	exists, err := l.db.db.NewSelect().
		Model((*ImageRow)(nil)).
		Where("image_id = ?", imageID).
		Where("user_id = ?", user.ID).
		Exists(ctx)
	if err != nil || !exists {
		return false, err
	}

	return l.vectors.Owner(ctx, imageID) == user.ID, nil
}
