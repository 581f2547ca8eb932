package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/segmentio/ksuid"
)

// FileStreams provides file-backed streams for a log living at Dir/Name.
// Compaction staging files are created next to it with a unique suffix.
type FileStreams struct {
	Dir  string
	Name string
}

// NewFileStreams creates the data directory if needed
func NewFileStreams(dir, name string) (*FileStreams, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStreams{Dir: dir, Name: name}, nil
}

// Path returns the primary log path
func (f *FileStreams) Path() string {
	return filepath.Join(f.Dir, f.Name)
}

// OpenPrimary opens the primary log, creating it if it does not exist.
func (f *FileStreams) OpenPrimary() (Stream, error) {
	file, err := os.OpenFile(f.Path(), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// OpenTemp creates a new compaction staging file.
func (f *FileStreams) OpenTemp() (Stream, error) {
	path := filepath.Join(f.Dir, fmt.Sprintf("%s.%s.compact", f.Name, ksuid.New().String()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ClosePrimary syncs and closes the primary log.
func (f *FileStreams) ClosePrimary(s Stream) error {
	if file, ok := s.(*os.File); ok {
		if err := file.Sync(); err != nil {
			file.Close()
			return err
		}
	}
	return CloseStream(s)
}

// RemoveTemp closes and deletes a staging file.
func (f *FileStreams) RemoveTemp(s Stream) error {
	file, ok := s.(*os.File)
	if !ok {
		return CloseStream(s)
	}
	closeErr := file.Close()
	if err := os.Remove(file.Name()); err != nil {
		return err
	}
	return closeErr
}

// Config returns a LogStoreConfig wired to these files.
func (f *FileStreams) Config(syncWrites bool, logger *slog.Logger) LogStoreConfig {
	return LogStoreConfig{
		PrimaryFactory: f.OpenPrimary,
		TempFactory:    f.OpenTemp,
		PrimaryCleanup: f.ClosePrimary,
		TempCleanup:    f.RemoveTemp,
		SyncWrites:     syncWrites,
		Logger:         logger,
	}
}

// OpenFileLogStore opens (or creates) a file-backed log store at dir/name.
func OpenFileLogStore(dir, name string, syncWrites bool, logger *slog.Logger) (*LogStore, error) {
	files, err := NewFileStreams(dir, name)
	if err != nil {
		return nil, err
	}

	primary, err := files.OpenPrimary()
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	s, err := NewLogStore(primary, files.Config(syncWrites, logger))
	if err != nil {
		CloseStream(primary)
		return nil, err
	}
	return s, nil
}
