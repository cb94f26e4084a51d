package store

import (
	"context"
	"fmt"
)

// Profile describes one named configuration profile.
type Profile struct {
	Name      string
	IsDefault bool
}

// ListProfiles returns all profiles of the store's instance.
func (s *Store) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, is_default FROM profiles WHERE instance_name = ? ORDER BY name`,
		s.instance)
	if err != nil {
		return nil, fmt.Errorf("config: list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		var isDefault int
		if err := rows.Scan(&p.Name, &isDefault); err != nil {
			return nil, fmt.Errorf("config: scan profile row: %w", err)
		}
		p.IsDefault = isDefault != 0
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CreateProfile registers a new profile under the store's instance.
// Creating an existing profile is a no-op.
func (s *Store) CreateProfile(ctx context.Context, name string) error {
	if s.readOnly {
		return fmt.Errorf("config: create profile: store opened read-only")
	}
	if name == "" {
		return fmt.Errorf("config: create profile: name is required")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (instance_name, name) VALUES (?, ?)`,
		s.instance, name); err != nil {
		return fmt.Errorf("config: create profile %q: %w", name, err)
	}
	return nil
}
