package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"payment-reconciliation-engine/internal/features"
	"payment-reconciliation-engine/internal/scorer"
	rerrors "payment-reconciliation-engine/pkg/errors"
)

const (
	modelFileName   = "model.json"
	historyFileName = "history.json"
)

// FileStore keeps the model and the counterparty history as JSON documents
// in a directory. Writes go through a temp file and rename.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var (
	_ scorer.ModelStore     = (*FileStore)(nil)
	_ features.HistoryStore = (*FileStore)(nil)
)

// NewFileStore creates dir if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rerrors.FileError(rerrors.CodeFilePermission, dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) LoadModel(ctx context.Context) (*scorer.ModelParams, error) {
	var params scorer.ModelParams
	found, err := f.read(modelFileName, &params)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, scorer.ErrModelNotFound
	}
	return &params, nil
}

func (f *FileStore) SaveModel(ctx context.Context, params *scorer.ModelParams) error {
	return f.write(modelFileName, params)
}

// LoadHistory returns an empty snapshot when no history has been saved.
func (f *FileStore) LoadHistory(ctx context.Context) (features.HistorySnapshot, error) {
	snapshot := features.HistorySnapshot{Counts: make(map[string]map[string]int)}
	if _, err := f.read(historyFileName, &snapshot); err != nil {
		return features.HistorySnapshot{}, err
	}
	if snapshot.Counts == nil {
		snapshot.Counts = make(map[string]map[string]int)
	}
	return snapshot, nil
}

func (f *FileStore) SaveHistory(ctx context.Context, snapshot features.HistorySnapshot) error {
	return f.write(historyFileName, snapshot)
}

func (f *FileStore) read(name string, v interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, rerrors.StorageError(rerrors.CodePersistenceFailed, "read "+name, err).
			WithContext("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, rerrors.FileError(rerrors.CodeFileCorrupted, path, err)
	}
	return true, nil
}

func (f *FileStore) write(name string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "encode "+name, err)
	}

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "write "+name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "write "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "write "+name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		return rerrors.StorageError(rerrors.CodePersistenceFailed, "replace "+name, err)
	}
	return nil
}
