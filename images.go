package main

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
)

func decodeImage(rd io.Reader) (image.Image, error) {
	img, _, err := image.Decode(rd)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	return img, nil
}

// saveImageAsWebP re-encodes rd into a temp file and returns its path and
// size. The caller removes the file.
func saveImageAsWebP(rd io.Reader, quality int) (string, int64, error) {
	img, err := decodeImage(rd)
	if err != nil {
		return "", 0, err
	}

	wr, path, err := OpenTempFileForWriting()
	if err != nil {
		return "", 0, err
	}

	err = webp.Encode(wr, img, getWebPOptions(quality))

	wr.Close()

	if err != nil {
		os.Remove(path)

		return "", 0, err
	}

	return path, wr.N, nil
}

func getWebPOptions(quality int) *webp.Options {
	if quality >= 100 {
		return &webp.Options{
			Lossless: true,
		}
	}

	return &webp.Options{
		Quality: float32(quality),
	}
}
