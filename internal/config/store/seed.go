package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veles-ai/veles/internal/config"
)

// defaultSettings are written once per profile; user edits win thereafter.
var defaultSettings = map[string]string{
	config.KeyEndpoint:   config.DefaultEndpoint,
	config.KeyMaxRetries: "3",
	config.KeyRetryDelay: "1s",
	config.KeyFreshness:  "30s",
	config.KeyHealthPort: "8080",
}

func seedDefaults(ctx context.Context, db *sql.DB, instanceName, profileName string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO instances (name) VALUES (?)`, instanceName); err != nil {
		return fmt.Errorf("config: seed instance: %w", err)
	}

	isDefault := 0
	if profileName == config.DefaultProfile {
		isDefault = 1
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (instance_name, name, is_default) VALUES (?, ?, ?)`,
		instanceName, profileName, isDefault); err != nil {
		return fmt.Errorf("config: seed profile: %w", err)
	}

	for key, value := range defaultSettings {
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (instance_name, profile_name, key, value) VALUES (?, ?, ?, ?)`,
			instanceName, profileName, key, value); err != nil {
			return fmt.Errorf("config: seed setting %q: %w", key, err)
		}
	}
	return nil
}
