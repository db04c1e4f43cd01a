// Package security validates operator-supplied file paths.
package security

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileTooLarge is returned when a file exceeds the caller's size limit.
var ErrFileTooLarge = errors.New("file too large")

// dangerousChars contains shell metacharacters that have no place in a path.
var dangerousChars = []string{";", "&", "|", "$", "`", "<", ">", "\n", "\r"}

// ValidateFilePath cleans path, makes it absolute and resolves symlinks when
// the target exists.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}

	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return "", fmt.Errorf("file path contains forbidden character %q: %s", char, path)
		}
	}

	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cleanPath, nil
		}
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	return resolvedPath, nil
}

// SafeReadFile reads a validated path, refusing files over maxBytes.
// A maxBytes of zero or less disables the limit.
func SafeReadFile(path string, maxBytes int64) ([]byte, error) {
	cleanPath, err := ValidateFilePath(path)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path is validated above
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if maxBytes <= 0 {
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, path, maxBytes)
	}
	return data, nil
}
