package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Secrets sensitive values loaded from the .secrets file
type Secrets struct {
	values map[string]string
}

// NewSecrets creates a new Secrets instance
func NewSecrets() *Secrets {
	return &Secrets{
		values: make(map[string]string),
	}
}

// SecretsPath returns the secrets file path
func SecretsPath() string {
	return filepath.Join(GetConfigDir(), ".secrets")
}

// LoadSecrets loads KEY=value pairs from the .secrets file.
// A missing file yields empty secrets.
func LoadSecrets() (*Secrets, error) {
	secrets := NewSecrets()

	file, err := os.Open(SecretsPath())
	if os.IsNotExist(err) {
		return secrets, nil
	}
	if err != nil {
		return secrets, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
			secrets.values[key] = value
		}
	}

	return secrets, scanner.Err()
}

// Get returns the value for a key
func (s *Secrets) Get(key string) string {
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

// Has checks if a key exists
func (s *Secrets) Has(key string) bool {
	if s == nil || s.values == nil {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// Lookup resolves a variable from the environment first, then from the secrets
func (s *Secrets) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	if s.Has(key) {
		return s.Get(key), true
	}
	return "", false
}

// ExpandSecret expands $VAR and ${VAR} references in value.
// The .secrets file is re-read on every call so rotated keys are picked up
// without a restart. An undefined variable is an error.
func ExpandSecret(value string) (string, error) {
	if !strings.Contains(value, "$") {
		return value, nil
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := os.Expand(value, func(key string) string {
		v, ok := secrets.Lookup(key)
		if !ok {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: variable %s is not set", ErrInvalid, strings.Join(missing, ", "))
	}
	return expanded, nil
}
