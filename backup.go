package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const BackupTimeFormat = "2006_01_02-15_04"

var backupNameRgx = regexp.MustCompile(`^\d{4}_\d{2}_\d{2}-\d{2}_\d{2}\.tar\.gz$`)

type Backup struct {
	Time time.Time
	Path string
}

type BackupList struct {
	Backups []*Backup
}

// Backuper snapshots the local backends: the sqlite database, the image
// storage and the vector directory.
type Backuper struct {
	directory string
	interval  time.Duration
	keep      int

	database *Database
	storage  string
	vectors  string
}

func NewBackuper(cfg PicConfigBackup, database *Database, storage, vectors string) *Backuper {
	return &Backuper{
		directory: cfg.Directory,
		interval:  time.Duration(cfg.Interval) * time.Hour,
		keep:      cfg.KeepAmount,
		database:  database,
		storage:   storage,
		vectors:   vectors,
	}
}

func (b *Backup) Exists() bool {
	_, err := os.Stat(b.Path)

	return !os.IsNotExist(err)
}

func (l *BackupList) Next(interval time.Duration) (time.Duration, time.Time) {
	now := time.Now().UTC()

	var newest time.Time

	for _, backup := range l.Backups {
		if newest.IsZero() || newest.Before(backup.Time) {
			newest = backup.Time
		}
	}

	if newest.IsZero() {
		return 0, now
	}

	next := newest.Add(interval)

	if next.Before(now) {
		return 0, now
	}

	return next.Sub(now), next
}

func (l *BackupList) Evict(keep int) error {
	clean := make([]*Backup, 0, len(l.Backups))

	for _, backup := range l.Backups {
		if !backup.Exists() {
			continue
		}

		clean = append(clean, backup)
	}

	sort.Slice(clean, func(i, j int) bool {
		return clean[i].Time.Before(clean[j].Time)
	})

	for len(clean) > keep {
		evict := clean[0]

		log.NoteF("Evicting %s...\n", evict.Path)

		err := os.Remove(evict.Path)
		if err != nil {
			return err
		}

		clean = clean[1:]
	}

	l.Backups = clean

	return nil
}

// Run creates a backup every interval until ctx is done.
func (b *Backuper) Run(ctx context.Context) error {
	backups, err := b.Read()
	if err != nil {
		return err
	}

	for {
		err := backups.Evict(b.keep)
		if err != nil {
			log.WarningF("Failed to evict backups: %v\n", err)
		}

		wait, next := backups.Next(b.interval)

		if wait > 0 {
			log.InfoF("Next backup in %s\n", wait.Round(time.Second))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		backup, err := b.Create(ctx, next)
		if err != nil {
			log.WarningF("Failed to create backup: %v\n", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}

			continue
		}

		backups.Backups = append(backups.Backups, backup)
	}
}

func (b *Backuper) Read() (*BackupList, error) {
	log.Info("Reading backups...")

	err := EnsureDirectory(b.directory)
	if err != nil {
		return nil, err
	}

	backups := &BackupList{}

	err = filepath.WalkDir(b.directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := filepath.Base(path)

		if d.IsDir() || !backupNameRgx.MatchString(name) {
			return nil
		}

		created, err := time.ParseInLocation(BackupTimeFormat, strings.TrimSuffix(name, ".tar.gz"), time.UTC)
		if err != nil {
			log.WarningF("Failed to parse backup name: %v\n", err)

			return nil
		}

		backups.Backups = append(backups.Backups, &Backup{
			Time: created,
			Path: path,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return backups, nil
}

func (b *Backuper) Create(ctx context.Context, now time.Time) (*Backup, error) {
	log.Info("Creating new backup...")

	err := EnsureDirectory(b.directory)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(b.directory, now.UTC().Format(BackupTimeFormat)+".tar.gz")

	wr, err := OpenCountWriter(path)
	if err != nil {
		return nil, err
	}

	err = b.write(ctx, wr)

	wr.Close()

	if err != nil {
		os.Remove(path)

		return nil, err
	}

	log.InfoF("Completed %s (%s)\n", path, humanize.IBytes(uint64(wr.N)))

	return &Backup{
		Time: now,
		Path: path,
	}, nil
}

func (b *Backuper) write(ctx context.Context, out io.Writer) error {
	gzWriter := gzip.NewWriter(out)
	tarWriter := tar.NewWriter(gzWriter)

	err := b.writeAll(ctx, tarWriter)
	if err != nil {
		return err
	}

	err = tarWriter.Close()
	if err != nil {
		return err
	}

	return gzWriter.Close()
}

func (b *Backuper) writeAll(ctx context.Context, wr *tar.Writer) error {
	buf := make([]byte, 1024*1024)

	log.Info("Backing up database...")

	snapshot, err := GetTempFilePath("")
	if err != nil {
		return err
	}

	defer os.Remove(snapshot)

	err = b.database.Snapshot(ctx, snapshot)
	if err != nil {
		return err
	}

	err = AddFileToBackup(wr, snapshot, filepath.Base(b.database.Path()), buf)
	if err != nil {
		return err
	}

	log.Info("Backing up vectors...")

	err = AddDirectoryToBackup(ctx, wr, b.vectors, buf)
	if err != nil {
		return err
	}

	log.Info("Backing up storage...")

	return AddDirectoryToBackup(ctx, wr, b.storage, buf)
}

func AddDirectoryToBackup(ctx context.Context, wr *tar.Writer, root string, buf []byte) error {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || strings.HasPrefix(d.Name(), ".picsearch_") {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	var (
		completed atomic.Uint64
		total     = len(files)
		done      = make(chan struct{})
		quit      = make(chan struct{})
	)

	go func() {
		defer close(quit)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				current := completed.Load()

				log.NoteF("Backing up %.1f%% (%d of %d)\n", float64(current)/float64(max(total, 1))*100, current, total)
			}
		}
	}()

	defer func() {
		close(done)

		<-quit
	}()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		err = AddFileToBackup(wr, path, filepath.ToSlash(path), buf)
		if err != nil {
			return err
		}

		completed.Add(1)
	}

	return nil
}

func AddFileToBackup(wr *tar.Writer, path, name string, buf []byte) error {
	file, err := OpenFileForReading(path)
	if err != nil {
		return err
	}

	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:     name,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
	}

	err = wr.WriteHeader(header)
	if err != nil {
		return err
	}

	_, err = io.CopyBuffer(wr, file, buf)

	return err
}
