// Package credstore owns the OAuth credential used against the Code Assist
// backend: loading it from the environment or disk, handing out stable
// snapshots to concurrent readers, and persisting mutations atomically.
package credstore

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// EnvVar is the environment variable carrying a serialized credential blob.
// It takes precedence over the credential file.
const EnvVar = "GEMINI_CREDENTIALS"

// ErrNotFound is returned when neither the environment nor the credential
// file holds a credential.
var ErrNotFound = errors.New("no credential found")

// Store is the single process-wide owner of the Credential. Readers get
// copies; all mutation goes through Save/Update which hold the write lock
// for the update window only.
type Store struct {
	path string

	mu   sync.RWMutex
	cred *Credential
}

// New creates a store backed by the given credential file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing credential file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the credential, preferring the GEMINI_CREDENTIALS environment
// blob over the file. Structural validation failures surface as
// *MalformedError; a fully absent credential as ErrNotFound.
func (s *Store) Load() (*Credential, error) {
	if blob := os.Getenv(EnvVar); blob != "" {
		cred, err := ParseCredential([]byte(blob))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvVar, err)
		}
		s.set(cred)
		return cred.clone(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	cred, err := ParseCredential(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	s.set(cred)
	return cred.clone(), nil
}

// Current returns a snapshot of the in-memory credential, if any.
func (s *Store) Current() (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, false
	}
	return s.cred.clone(), true
}

// Save persists the credential atomically (write-temp-then-rename) and
// installs it as the current credential.
func (s *Store) Save(cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(cred); err != nil {
		return err
	}
	s.cred = cred.clone()
	return nil
}

// Update applies fn to a copy of the current credential under the write
// lock, persists the result, and returns the new snapshot. The refreshed
// state is durable before any caller sees it.
func (s *Store) Update(fn func(*Credential)) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, ErrNotFound
	}
	next := s.cred.clone()
	fn(next)
	if err := s.writeLocked(next); err != nil {
		return nil, err
	}
	s.cred = next
	return next.clone(), nil
}

// Clear drops the in-memory credential (the file is left untouched).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
}

func (s *Store) set(cred *Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred.clone()
}

// writeLocked performs the atomic write. A crash mid-write leaves at worst
// an orphaned temp file, never a corrupt credential.
func (s *Store) writeLocked(cred *Credential) error {
	data, err := cred.Encode()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create credential dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".oauth_creds-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		log.Printf("⚠️ Could not restrict credential file mode: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("install credential file: %w", err)
	}
	return nil
}
