package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Values map[string]json.RawMessage `json:"values"`
	Sets   map[string][]string        `json:"sets"`
}

// FileStore implements Store as a single JSON document on local disk.
// Every mutation rewrites the file through a temp file + rename so a
// crash never leaves a torn document. Single-process only.
type FileStore struct {
	mu   sync.RWMutex
	path string
	doc  fileDocument
}

// NewFileStore opens (or creates) the ledger file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc: fileDocument{
			Values: make(map[string]json.RawMessage),
			Sets:   make(map[string][]string),
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger file %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse ledger file %s: %w", path, err)
		}
	}
	if s.doc.Values == nil {
		s.doc.Values = make(map[string]json.RawMessage)
	}
	if s.doc.Sets == nil {
		s.doc.Sets = make(map[string][]string)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.doc.Values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("file store: value for %s is not valid JSON", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.Values[key]
	s.doc.Values[key] = append(json.RawMessage(nil), value...)
	if err := s.flush(); err != nil {
		if had {
			s.doc.Values[key] = prev
		} else {
			delete(s.doc.Values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.doc.Values[key]
	return ok, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.Values[key]
	if !had {
		return nil
	}
	delete(s.doc.Values, key)
	if err := s.flush(); err != nil {
		s.doc.Values[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) AddToSet(_ context.Context, setKey, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.doc.Sets[setKey]
	i := sort.SearchStrings(prev, member)
	if i < len(prev) && prev[i] == member {
		return nil
	}

	next := make([]string, 0, len(prev)+1)
	next = append(next, prev[:i]...)
	next = append(next, member)
	next = append(next, prev[i:]...)

	s.doc.Sets[setKey] = next
	if err := s.flush(); err != nil {
		s.restoreSet(setKey, prev)
		return err
	}
	return nil
}

func (s *FileStore) RemoveFromSet(_ context.Context, setKey, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.doc.Sets[setKey]
	i := sort.SearchStrings(prev, member)
	if i >= len(prev) || prev[i] != member {
		return nil
	}

	next := make([]string, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)

	s.restoreSet(setKey, next)
	if err := s.flush(); err != nil {
		s.restoreSet(setKey, prev)
		return err
	}
	return nil
}

func (s *FileStore) Members(_ context.Context, setKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string{}, s.doc.Sets[setKey]...), nil
}

func (s *FileStore) restoreSet(setKey string, members []string) {
	if len(members) == 0 {
		delete(s.doc.Sets, setKey)
		return
	}
	s.doc.Sets[setKey] = members
}

// flush writes the document atomically. Caller holds s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
