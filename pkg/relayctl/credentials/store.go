// Package credentials stores the relayctl bearer token, in the OS keychain
// when one is available and in a private file otherwise.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "smtp-relay-relayctl"

// ErrNotFound is returned when no token is stored for a context.
var ErrNotFound = errors.New("no stored token")

type Store struct {
	// UseKeychain selects the OS keychain, falling back to FilePath when the
	// keychain is unavailable.
	UseKeychain bool
	// FilePath holds tokens as "<context>\t<token>" lines.
	FilePath string
}

func (s Store) Get(contextName string) (string, error) {
	if s.UseKeychain {
		token, err := keyring.Get(keyringService, contextName)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) && s.FilePath == "" {
			return "", fmt.Errorf("failed to read keychain: %w", err)
		}
	}
	tokens, err := s.readFile()
	if err != nil {
		return "", err
	}
	token, ok := tokens[contextName]
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

// Save reports where the token ended up.
func (s Store) Save(contextName, token string) (string, error) {
	if token == "" {
		return "", errors.New("token is empty")
	}
	if s.UseKeychain {
		err := keyring.Set(keyringService, contextName, token)
		if err == nil {
			return "keychain", nil
		}
		if s.FilePath == "" {
			return "", fmt.Errorf("failed to write keychain: %w", err)
		}
	}
	tokens, err := s.readFile()
	if err != nil {
		return "", err
	}
	tokens[contextName] = token
	if err := s.writeFile(tokens); err != nil {
		return "", err
	}
	return s.FilePath, nil
}

func (s Store) Delete(contextName string) error {
	if s.UseKeychain {
		if err := keyring.Delete(keyringService, contextName); err != nil && !errors.Is(err, keyring.ErrNotFound) && s.FilePath == "" {
			return fmt.Errorf("failed to delete keychain entry: %w", err)
		}
	}
	if s.FilePath == "" {
		return nil
	}
	tokens, err := s.readFile()
	if err != nil {
		return err
	}
	if _, ok := tokens[contextName]; !ok {
		return nil
	}
	delete(tokens, contextName)
	return s.writeFile(tokens)
}

func (s Store) readFile() (map[string]string, error) {
	tokens := map[string]string{}
	if s.FilePath == "" {
		return tokens, nil
	}
	content, err := os.ReadFile(s.FilePath)
	if os.IsNotExist(err) {
		return tokens, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	for _, line := range strings.Split(string(content), "\n") {
		name, token, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if ok && name != "" {
			tokens[name] = token
		}
	}
	return tokens, nil
}

func (s Store) writeFile(tokens map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.FilePath), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	var b strings.Builder
	for name, token := range tokens {
		b.WriteString(name + "\t" + token + "\n")
	}
	return os.WriteFile(s.FilePath, []byte(b.String()), 0o600)
}
