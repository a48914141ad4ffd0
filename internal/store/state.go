package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveCoreState stores the opaque pairing blob delivered by the core.
// There is exactly one row; a new blob replaces the old one.
func (s *Store) SaveCoreState(blob []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO core_state (id, blob, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP`,
		blob,
	)
	if err != nil {
		return fmt.Errorf("saving core state: %w", err)
	}
	return nil
}

// CoreState returns the stored pairing blob, or nil when none has been
// saved yet.
func (s *Store) CoreState() ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT blob FROM core_state WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading core state: %w", err)
	}
	return blob, nil
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}
