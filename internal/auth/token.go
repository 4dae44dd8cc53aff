// Package auth supplies the backend API token.
package auth

import (
	"fmt"
	"os"
	"strings"
)

// TokenProvider yields the current API token. An empty token with a nil
// error means the app runs unauthenticated and backend upload is skipped.
type TokenProvider interface {
	Token() (string, error)
}

// Static is a fixed token from configuration.
type Static string

func (s Static) Token() (string, error) {
	return string(s), nil
}

// FileProvider reads the token from a file on every call, so a rotated
// token is picked up without restarting.
type FileProvider struct {
	path string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) Token() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// New picks the provider for the configured token source. A token file
// takes precedence over an inline token.
func New(token, tokenFile string) TokenProvider {
	if tokenFile != "" {
		return NewFileProvider(tokenFile)
	}
	return Static(token)
}
