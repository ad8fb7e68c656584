package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

type GalleryOptions struct {
	PageSize     int
	MaxFileSize  int64
	Threshold    float64
	MatchCount   int
	Normalize    bool
	Quality      int
	IndexTimeout time.Duration
	Suggestions  []string
}

// Gallery ties storage, the image index, the prediction server and the
// thumbnail proxy together.
type Gallery struct {
	storage  ObjectStore
	index    ImageIndex
	embedder Embedder
	proxy    *Imgproxy
	events   *Hub
	opts     GalleryOptions

	wg sync.WaitGroup
}

func NewGallery(storage ObjectStore, index ImageIndex, embedder Embedder, proxy *Imgproxy, events *Hub, opts GalleryOptions) *Gallery {
	return &Gallery{
		storage:  storage,
		index:    index,
		embedder: embedder,
		proxy:    proxy,
		events:   events,
		opts:     opts,
	}
}

func GalleryOptionsFromConfig(cfg *PicConfig) GalleryOptions {
	return GalleryOptions{
		PageSize:     cfg.Gallery.PageSize,
		MaxFileSize:  cfg.MaxFileSizeBytes(),
		Threshold:    cfg.Search.SimilarityThreshold,
		MatchCount:   cfg.Search.MatchCount,
		Normalize:    cfg.Images.Normalize,
		Quality:      cfg.Images.Quality,
		IndexTimeout: cfg.IndexTimeout(),
		Suggestions:  cfg.UI.Suggestions,
	}
}

func (g *Gallery) List(ctx context.Context, user *User) ([]GalleryImage, error) {
	return g.Page(ctx, user, 0)
}

func (g *Gallery) Page(ctx context.Context, user *User, offset int) ([]GalleryImage, error) {
	objects, err := g.storage.List(ctx, user, UserPrefix(user.ID), NewListOptions(g.opts.PageSize, offset))
	if err != nil {
		return nil, err
	}

	images := make([]GalleryImage, 0, len(objects))

	for _, object := range objects {
		images = append(images, g.image(user.ID, object))
	}

	return images, nil
}

func (g *Gallery) Upload(ctx context.Context, user *User, file UploadFile) (*GalleryImage, error) {
	if file.Size > g.opts.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	head := make([]byte, MaxSniffBytes)

	n, err := io.ReadFull(file.Reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return nil, ErrInvalidImage
		}

		return nil, err
	}

	head = head[:n]

	typ := sniffType(head)
	if !isUploadable(typ) {
		return nil, ErrInvalidImage
	}

	var (
		body        io.Reader = io.MultiReader(bytes.NewReader(head), file.Reader)
		contentType           = contentTypeOf(typ)
		storedSize            = file.Size
	)

	body = &sizeLimitReader{
		rd:  body,
		max: g.opts.MaxFileSize,
	}

	if g.opts.Normalize {
		path, size, err := saveImageAsWebP(body, g.opts.Quality)
		if err != nil {
			return nil, err
		}

		defer os.Remove(path)

		normalized, err := OpenFileForReading(path)
		if err != nil {
			return nil, err
		}

		defer normalized.Close()

		log.NoteF("Normalized %s to webp (%s -> %s)\n", file.Name, humanize.IBytes(uint64(file.Size)), humanize.IBytes(uint64(size)))

		body = normalized
		contentType = contentTypeOf(TypeWEBP)
		storedSize = size
	}

	imageID := uuid.NewString()
	path := ObjectPath(user.ID, imageID)

	err = g.storage.Upload(ctx, user, path, contentType, body)
	if err != nil {
		return nil, err
	}

	image := g.image(user.ID, StoredObject{
		Name:      imageID,
		Size:      storedSize,
		CreatedAt: time.Now(),
	})

	g.events.Broadcast(user.ID, Event{
		Type:    EventUpload,
		ImageID: imageID,
		Image:   &image,
	})

	g.indexAsync(*user, imageID, image.URL)

	return &image, nil
}

// IndexImage embeds a stored image and records it in the index.
func (g *Gallery) IndexImage(ctx context.Context, user *User, imageID, imageURL string) error {
	embedding, err := g.embedder.EmbedImage(ctx, imageURL)
	if err != nil {
		return err
	}

	return g.index.Insert(ctx, user, ImageRecord{
		UserID:    user.ID,
		ImageID:   imageID,
		ImageURL:  imageURL,
		Embedding: embedding,
		CreatedAt: time.Now(),
	})
}

// indexAsync runs IndexImage detached from the request. Failures are only
// logged and published, the upload itself already succeeded.
func (g *Gallery) indexAsync(user User, imageID, imageURL string) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.opts.IndexTimeout)
		defer cancel()

		err := g.IndexImage(ctx, &user, imageID, imageURL)
		if err != nil {
			log.WarningF("[%s] Index failed: %v\n", imageID, err)

			g.events.Broadcast(user.ID, Event{
				Type:    EventIndexFailed,
				ImageID: imageID,
				Error:   messageFor(err),
			})

			return
		}

		g.events.Broadcast(user.ID, Event{
			Type:    EventIndexed,
			ImageID: imageID,
		})
	}()
}

// Delete removes the stored object first. The index record is only touched
// once the object is gone.
func (g *Gallery) Delete(ctx context.Context, user *User, name string) error {
	name = strings.TrimSpace(name)

	path := ObjectPath(user.ID, name)

	err := checkObjectPath(user, path)
	if err != nil {
		return err
	}

	err = g.storage.Remove(ctx, user, []string{path})
	if err != nil {
		return err
	}

	err = g.index.Delete(ctx, user, name)
	if err != nil {
		return err
	}

	g.events.Broadcast(user.ID, Event{
		Type:    EventDelete,
		ImageID: name,
	})

	return nil
}

func (g *Gallery) Search(ctx context.Context, user *User, prompt string) (*SearchResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	timer := NewTimer()

	timer.Start("embedding")

	embedding, err := g.embedder.EmbedText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	timer.Stop("embedding")

	if len(embedding) == 0 {
		return nil, ErrNoEmbedding
	}

	timer.Start("search")

	matches, err := g.index.Search(ctx, user, SearchQuery{
		Embedding: embedding,
		Threshold: g.opts.Threshold,
		Count:     g.opts.MatchCount,
	})
	if err != nil {
		return nil, err
	}

	timer.Stop("search")

	results := make([]SearchImage, 0, len(matches))

	for _, match := range matches {
		results = append(results, SearchImage{
			GalleryImage: GalleryImage{
				Name:         match.ImageID,
				Path:         ObjectPath(user.ID, match.ImageID),
				URL:          match.ImageURL,
				ThumbnailURL: g.proxy.Thumbnail(match.ImageURL),
			},
			Similarity: match.Similarity,
		})
	}

	return &SearchResult{
		Prompt:  prompt,
		Results: results,
		Timings: timer,
	}, nil
}

func (g *Gallery) Suggestions() []string {
	return g.opts.Suggestions
}

// Wait blocks until every background indexing task finished.
func (g *Gallery) Wait() {
	g.wg.Wait()
}

func (g *Gallery) image(userID string, object StoredObject) GalleryImage {
	path := ObjectPath(userID, object.Name)
	url := g.storage.PublicURL(path)

	return GalleryImage{
		Name:         object.Name,
		Path:         path,
		URL:          url,
		ThumbnailURL: g.proxy.Thumbnail(url),
		Size:         object.Size,
		CreatedAt:    object.CreatedAt,
	}
}
