// Package dbenv resolves the database connection string. The environment
// variable wins; a .env file in the working directory is the fallback so
// local runs don't need an exported variable.
package dbenv

import (
	"fmt"
	"os"
	"strings"
)

// DefaultVar is the conventional environment variable name.
const DefaultVar = "DATABASE_URL"

// Resolve returns the connection string from the named environment variable,
// falling back to envFile (ignored if missing). Empty everywhere is an error.
func Resolve(envVar, envFile string) (string, error) {
	if envVar == "" {
		envVar = DefaultVar
	}
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return v, nil
	}
	if envFile != "" {
		values, err := parseEnvFile(envFile)
		if err != nil {
			return "", err
		}
		if v := strings.TrimSpace(values[envVar]); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s is not set", envVar)
}

// parseEnvFile reads KEY=VALUE lines. Comments, blank lines and lines without
// '=' are skipped; single or double quotes around values are stripped.
func parseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	values := make(map[string]string)
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == value[len(value)-1] && (value[0] == '\'' || value[0] == '"') {
			value = value[1 : len(value)-1]
		}
		values[key] = value
	}
	return values, nil
}
