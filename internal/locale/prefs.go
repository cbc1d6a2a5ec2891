package locale

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Preferences is the client state persisted across sessions
type Preferences struct {
	Locale Tag `yaml:"locale"`
}

// DefaultPrefsPath returns the preferences file under the user config directory
func DefaultPrefsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "chat-gateway", "prefs.yaml"), nil
}

// LoadPreferences reads the preferences file. A missing file yields defaults;
// an unsupported saved locale is replaced by the default.
func LoadPreferences(path string) (Preferences, error) {
	prefs := Preferences{Locale: Default}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("read preferences: %w", err)
	}

	var saved Preferences
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return prefs, fmt.Errorf("parse preferences: %w", err)
	}
	if tag, err := Parse(string(saved.Locale)); err == nil {
		prefs.Locale = tag
	}
	return prefs, nil
}

// SavePreferences writes the preferences file, creating its directory
func SavePreferences(path string, prefs Preferences) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	data, err := yaml.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
