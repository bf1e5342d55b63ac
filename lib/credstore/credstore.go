// Package credstore persists login credentials between runs so the
// exporter can be re-run without prompting every time.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cardsexport/lib/configutil"
)

const (
	EnvBaseUrl  = "CARDS_BASE_URL"
	EnvEmail    = "CARDS_EMAIL"
	EnvPassword = "CARDS_PASSWORD"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	BaseHost string `json:"base_host,omitempty"`
}

func (c Credentials) Complete() bool {
	return c.Email != "" && c.Password != ""
}

// Path is the on-disk location of the stored credentials. Overridable
// for tests via dir.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cardsexport", "credentials.json"), nil
}

// Load reads stored credentials and applies environment overrides.
// A missing file is not an error; the zero value comes back instead.
func Load() (Credentials, error) {
	path, err := Path()
	if err != nil {
		return Credentials{}, err
	}
	return load(path)
}

func load(path string) (Credentials, error) {
	creds, err := configutil.ReadConfig[Credentials](path)
	if err != nil && !os.IsNotExist(err) {
		return Credentials{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if v := os.Getenv(EnvEmail); v != "" {
		creds.Email = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		creds.Password = v
	}
	if v := os.Getenv(EnvBaseUrl); v != "" {
		creds.BaseHost = v
	}
	return creds, nil
}

// Save writes the credentials with owner-only permissions.
func Save(creds Credentials) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return save(path, creds)
}

func save(path string, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Clear drops stored credentials, typically after a rejected login.
func Clear() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return clear(path)
}

func clear(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
