package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vigraph/vg-server-sub000/errors"
)

const (
	maxConfigSize = 10 << 20 // 10MB max config file size
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

var configExtensions = []string{".json", ".yaml", ".yml"}

func invalidPath(path, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s: %s", errors.ErrInvalidConfig, path, reason),
		"config", "validateConfigPath", "path check")
}

// validateConfigPath rejects empty or overlong paths, relative paths that
// leave the working directory, and unknown extensions.
func validateConfigPath(path string) error {
	if path == "" {
		return invalidPath(path, "empty config path")
	}
	if len(path) > maxPathLen {
		return invalidPath(path[:64]+"...", "path too long")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return errors.WrapTransient(err, "config", "validateConfigPath", "get working directory")
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return invalidPath(path, err.Error())
		}
		if rel, err := filepath.Rel(cwd, abs); err != nil || strings.HasPrefix(rel, "..") {
			return invalidPath(path, "resolves outside working directory")
		}
	}

	if !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))) {
		return invalidPath(path, "only JSON or YAML config files allowed")
	}
	return nil
}

// safeReadFile reads a config file after path, size and type checks.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrMissingConfig, err),
			"config", "safeReadFile", "stat")
	}
	if !info.Mode().IsRegular() {
		return nil, invalidPath(path, "not a regular file")
	}
	if info.Size() > maxConfigSize {
		return nil, invalidPath(path, fmt.Sprintf("file too large: %d bytes", info.Size()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "config", "safeReadFile", "read")
	}
	return data, nil
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return errors.WrapInvalid(fmt.Errorf("%w: %s too long", errors.ErrInvalidConfig, key),
			"config", "validateEnvVar", "length check")
	}
	if strings.Contains(value, "\x00") {
		return errors.WrapInvalid(fmt.Errorf("%w: null byte in %s", errors.ErrInvalidConfig, key),
			"config", "validateEnvVar", "content check")
	}
	return nil
}

// validateJSONDepth rejects documents nested deeper than maxJSONDepth before
// they reach the decoder.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString, escaped := false, false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("malformed JSON: unbalanced brackets")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
