package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// snapshotFileName is the name of the account snapshot inside the data
// directory.
const snapshotFileName = "accounts.json"

// snapshotRecord is the persisted shape of one account. LastHeartbeat
// is not persisted: presence age is meaningless across a restart, so
// reloaded accounts get a fresh stamp instead.
type snapshotRecord struct {
	Credential string `json:"credential"`
	LoginCount int64  `json:"login_count"`
	Experience int64  `json:"experience"`
	Online     bool   `json:"online"`
}

// Snapshot persists the full account map as one JSON document. Every
// write replaces the whole file via a temp-file rename, so a crash
// mid-write leaves the previous snapshot intact.
type Snapshot struct {
	path string
}

// NewSnapshot creates a snapshot rooted in dataDir.
func NewSnapshot(dataDir string) *Snapshot {
	return &Snapshot{path: filepath.Join(dataDir, snapshotFileName)}
}

// Path returns the snapshot file path.
func (s *Snapshot) Path() string {
	return s.path
}

// Write replaces the snapshot with the given accounts.
func (s *Snapshot) Write(accounts map[string]*Account) error {
	records := make(map[string]snapshotRecord, len(accounts))
	for username, acct := range accounts {
		records[username] = snapshotRecord{
			Credential: acct.Credential,
			LoginCount: acct.LoginCount,
			Experience: acct.Experience,
			Online:     acct.Online,
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath) // Clean up temp file
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}

	return nil
}

// Load reads the snapshot. A missing file yields an empty account map;
// this is the cold-start path, not an error.
func (s *Snapshot) Load() (map[string]*Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*Account), nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var records map[string]snapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	accounts := make(map[string]*Account, len(records))
	for username, rec := range records {
		accounts[username] = &Account{
			Username:   username,
			Credential: rec.Credential,
			LoginCount: rec.LoginCount,
			Experience: rec.Experience,
			Online:     rec.Online,
		}
	}

	return accounts, nil
}
