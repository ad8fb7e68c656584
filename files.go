package main

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

func OpenFileForReading(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

func OpenFileForWriting(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

func EnsureDirectory(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return err
	}

	return os.MkdirAll(path, 0755)
}

// WriteFile streams rd into path through a temp file in the same directory,
// so readers never observe a partially written image.
func WriteFile(path string, rd io.Reader) (int64, error) {
	err := EnsureDirectory(filepath.Dir(path))
	if err != nil {
		return 0, err
	}

	tmp, err := GetTempFilePath(filepath.Dir(path))
	if err != nil {
		return 0, err
	}

	wr, err := OpenCountWriter(tmp)
	if err != nil {
		return 0, err
	}

	_, err = io.Copy(wr, rd)

	wr.Close()

	if err != nil {
		os.Remove(tmp)

		return 0, err
	}

	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)

		return 0, err
	}

	return wr.N, nil
}

func GetTempFilePath(dir string) (string, error) {
	b := make([]byte, 16)

	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = os.TempDir()
	}

	return filepath.Join(dir, ".picsearch_"+hex.EncodeToString(b)), nil
}

func OpenTempFileForWriting() (*CountWriter, string, error) {
	path, err := GetTempFilePath("")
	if err != nil {
		return nil, "", err
	}

	file, err := OpenCountWriter(path)
	if err != nil {
		return nil, "", err
	}

	return file, path, nil
}
