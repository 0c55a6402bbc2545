// Package cache persists small per-project files that live alongside the
// database file but outside it, such as the projectid identity marker
// used to recognize a project root across process restarts without
// re-querying the database.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Identity is the contents of the projectid file kept alongside each
// project's database: {"id": "<uuid>", "description": "<text>"}.
type Identity struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// LoadOrCreateIdentity reads <dir>/projectid, creating a fresh UUID-tagged
// identity if the file is absent or unreadable. A corrupt file is treated
// the same as a missing one: this marker is advisory, not authoritative
// (the project row in the database is authoritative), so tolerating a
// bad read and regenerating is safer than failing startup over it.
func LoadOrCreateIdentity(dir, description string) (*Identity, error) {
	path := filepath.Join(dir, "projectid")

	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if json.Unmarshal(data, &id) == nil && id.ID != "" {
			return &id, nil
		}
	}

	id := &Identity{ID: uuid.New().String(), Description: description}
	if err := id.Save(dir); err != nil {
		return nil, err
	}
	return id, nil
}

// Save atomically writes the identity file (temp file + rename) so a
// crash mid-write never leaves a truncated projectid behind.
func (id *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, "projectid")
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
