package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	datasetFileMode           = 0o644
	datasetTempFilePattern    = "dataset-*.json"
	jsonIndentPrefix          = ""
	jsonIndentString          = "  "
	errMessageEmptyPath       = "dataset path cannot be empty"
	errMessageEmptyDataset    = "dataset contains no records"
	errMessageMismatchedFile  = "payload file does not match the bound dataset file"
	readErrorFormat           = "read dataset %s: %w"
	unmarshalErrorFormat      = "unmarshal dataset %s: %w"
	marshalErrorFormat        = "marshal dataset: %w"
	createTempFileErrorFormat = "create temp dataset file: %w"
	writeTempFileErrorFormat  = "write temp dataset file: %w"
	renameErrorFormat         = "replace dataset %s: %w"
)

var (
	// ErrEmptyPath indicates a missing dataset path argument.
	ErrEmptyPath = errors.New(errMessageEmptyPath)
	// ErrEmptyDataset indicates a dataset file with no records.
	ErrEmptyDataset = errors.New(errMessageEmptyDataset)
	// ErrMismatchedFile indicates a replacement payload bound to another file.
	ErrMismatchedFile = errors.New(errMessageMismatchedFile)
)

// LoadDataset reads, parses, and sorts the record collection stored at path.
// A missing file or an empty collection is an error: both make the review
// tool useless and are treated as fatal at startup.
func LoadDataset(path string) ([]AccountRecord, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf(readErrorFormat, path, readErr)
	}
	var accountRecords []AccountRecord
	if unmarshalErr := json.Unmarshal(contents, &accountRecords); unmarshalErr != nil {
		return nil, fmt.Errorf(unmarshalErrorFormat, path, unmarshalErr)
	}
	if len(accountRecords) == 0 {
		return nil, ErrEmptyDataset
	}
	SortRecords(accountRecords)
	return accountRecords, nil
}

// SaveDataset persists the record collection as pretty-printed JSON. The
// write goes to a temporary file in the target directory followed by an
// atomic rename, so a mid-write failure cannot destroy the previous state.
func SaveDataset(path string, accountRecords []AccountRecord) error {
	if path == "" {
		return ErrEmptyPath
	}
	encoded, marshalErr := json.MarshalIndent(accountRecords, jsonIndentPrefix, jsonIndentString)
	if marshalErr != nil {
		return fmt.Errorf(marshalErrorFormat, marshalErr)
	}
	encoded = append(encoded, '\n')

	tempFile, createErr := os.CreateTemp(filepath.Dir(path), datasetTempFilePattern)
	if createErr != nil {
		return fmt.Errorf(createTempFileErrorFormat, createErr)
	}
	tempPath := tempFile.Name()
	if _, writeErr := tempFile.Write(encoded); writeErr != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf(writeTempFileErrorFormat, writeErr)
	}
	if closeErr := tempFile.Close(); closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf(writeTempFileErrorFormat, closeErr)
	}
	if chmodErr := os.Chmod(tempPath, datasetFileMode); chmodErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf(writeTempFileErrorFormat, chmodErr)
	}
	if renameErr := os.Rename(tempPath, path); renameErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf(renameErrorFormat, path, renameErr)
	}
	return nil
}

// Store binds an in-memory record collection to its backing file. Only a
// successful persistence swaps the in-memory copy, establishing
// last-write-wins semantics for the single expected writer.
type Store struct {
	mutex          sync.Mutex
	filePath       string
	accountRecords []AccountRecord
}

// NewStore loads the dataset at path and returns a store bound to it.
func NewStore(path string) (*Store, error) {
	accountRecords, loadErr := LoadDataset(path)
	if loadErr != nil {
		return nil, loadErr
	}
	return &Store{filePath: path, accountRecords: accountRecords}, nil
}

// FilePath returns the bound dataset file path.
func (store *Store) FilePath() string {
	return store.filePath
}

// Snapshot returns the dataset with an independent copy of the records.
func (store *Store) Snapshot() Dataset {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return Dataset{File: store.filePath, Data: CloneRecords(store.accountRecords)}
}

// Replace validates the payload's file identity, sorts and persists the
// replacement records, and swaps the in-memory copy once the write landed.
func (store *Store) Replace(payload Dataset) error {
	if payload.File != store.filePath {
		return ErrMismatchedFile
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	replacement := CloneRecords(payload.Data)
	SortRecords(replacement)
	if saveErr := SaveDataset(store.filePath, replacement); saveErr != nil {
		return saveErr
	}
	store.accountRecords = replacement
	return nil
}
