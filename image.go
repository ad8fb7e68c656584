package main

import (
	"io"
	"time"
)

type GalleryImage struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Size         int64     `json:"size,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

type SearchImage struct {
	GalleryImage

	Similarity float64 `json:"similarity"`
}

type SearchResult struct {
	Prompt  string        `json:"prompt"`
	Results []SearchImage `json:"results"`
	Timings *Timer        `json:"timings"`
}

type UploadFile struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// sizeLimitReader fails with ErrFileTooLarge once more than max bytes were
// read, declared sizes can not be trusted.
type sizeLimitReader struct {
	rd  io.Reader
	max int64
	n   int64
}

func (s *sizeLimitReader) Read(p []byte) (int, error) {
	n, err := s.rd.Read(p)

	s.n += int64(n)

	if s.n > s.max {
		return n, ErrFileTooLarge
	}

	return n, err
}
