// Package storage is the file-backed default implementation of the
// client's persistence capability: topic root, shared secret history,
// volume, and alert set, each an opaque blob written with the
// temp-file-then-atomic-rename pattern so a crash mid-write never
// corrupts the previous good copy.
package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/nimbusvoice/aiaclient/alert"
	"github.com/nimbusvoice/aiaclient/secretmgr"
)

// Store persists named blobs under a directory, one file per key.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New constructs a Store rooted at dir. dir must already exist.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(key string) string { return filepath.Join(s.dir, key) }

func (s *Store) save(key string, v interface{}) error {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(key), raw)
}

func (s *Store) load(key string, v interface{}) (bool, error) {
	s.mu.Lock()
	raw, err := os.ReadFile(s.path(key))
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, cbor.Unmarshal(raw, v)
}

// writeAtomic writes data to a .tmp file, backs up any existing file
// to a ~ suffix, then renames the new file into place and drops the
// backup.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	backup := path + "~"
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(path, backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StoreSecrets implements secretmgr.Persister.
func (s *Store) StoreSecrets(records []*secretmgr.SecretRecord) error {
	return s.save("secrets", records)
}

// LoadSecrets recovers the secret history from a previous session.
func (s *Store) LoadSecrets() ([]*secretmgr.SecretRecord, error) {
	var records []*secretmgr.SecretRecord
	_, err := s.load("secrets", &records)
	return records, err
}

// registration bundles the secret and topic root a successful
// registration exchange produces, so both land on disk as a single
// write.
type registration struct {
	Secret    []byte
	TopicRoot string
}

// StoreRegistration implements registration.Persister, persisting the
// derived secret and topic root as one atomic write so a crash between
// the two can never leave one without the other.
func (s *Store) StoreRegistration(secret []byte, topicRoot string) error {
	return s.save("registration", &registration{Secret: secret, TopicRoot: topicRoot})
}

// LoadTopicRoot recovers the topic root from a previous registration.
func (s *Store) LoadTopicRoot() (string, bool, error) {
	var reg registration
	ok, err := s.load("registration", &reg)
	return reg.TopicRoot, ok, err
}

// LoadSecret recovers the secret from a previous registration.
func (s *Store) LoadSecret() ([]byte, bool, error) {
	var reg registration
	ok, err := s.load("registration", &reg)
	return reg.Secret, ok, err
}

// StoreAlerts implements alert.Persister.
func (s *Store) StoreAlerts(tokens []alert.Token) error {
	return s.save("alerts", tokens)
}

// LoadAlerts recovers the alert set from a previous session.
func (s *Store) LoadAlerts() ([]alert.Token, error) {
	var tokens []alert.Token
	_, err := s.load("alerts", &tokens)
	return tokens, err
}

// StoreVolume persists the optional last-known output volume.
func (s *Store) StoreVolume(level int) error {
	return s.save("volume", level)
}

// LoadVolume recovers the last persisted volume, if any was stored.
func (s *Store) LoadVolume() (int, bool, error) {
	var level int
	ok, err := s.load("volume", &level)
	return level, ok, err
}
