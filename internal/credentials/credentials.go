// Package credentials provides bearer-token lookup for the chat backend.
//
// The token is always injected explicitly into the components that need it;
// nothing in this module reads ambient global state.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoCredential indicates that no bearer token is available. Connection
// attempts must not be made in this state.
var ErrNoCredential = errors.New("no credential available")

// Provider supplies the bearer token used for REST calls and the WebSocket
// handshake.
type Provider interface {
	// Token returns the current bearer token. It returns ErrNoCredential
	// (possibly wrapped) when none is configured.
	Token() (string, error)
}

// Static is a fixed in-memory token.
type Static string

// Token implements Provider.
func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// FileProvider reads the token from a file on every call, so a refreshed
// token on disk is picked up without restarting.
type FileProvider struct {
	Path string
}

// Token implements Provider.
func (f *FileProvider) Token() (string, error) {
	if f.Path == "" {
		return "", ErrNoCredential
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("token file %s: %w", f.Path, ErrNoCredential)
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty: %w", f.Path, ErrNoCredential)
	}
	return token, nil
}
