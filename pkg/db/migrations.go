package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

// LoadMigrationFiles returns the scripts of the regular .sql files in dir.
// File names carry a numeric prefix, so name order is apply order. Blank
// scripts are skipped.
func LoadMigrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - migration directory %s: %w", migrationsLogPrefix, dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s - migration %s: %w", migrationsLogPrefix, name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			slog.Warn(fmt.Sprintf("%s - Skipping empty migration %s", migrationsLogPrefix, name))
			continue
		}
		scripts = append(scripts, string(data))
	}
	slog.Debug(fmt.Sprintf("%s - %d migration script(s) in %s", migrationsLogPrefix, len(scripts), dir))
	return scripts, nil
}
