package keystore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fernet/fernet-go"
)

// SecretSize is the length of the raw at-rest encryption secret in bytes.
const SecretSize = 32

// LoadOrCreateSecret loads the process-wide encryption secret from path,
// generating and persisting a fresh one (mode 0600) on first run. An
// existing file that cannot be read or has the wrong size yields a
// SecretUnavailableError rather than being silently replaced.
func LoadOrCreateSecret(path string) (*fernet.Key, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != SecretSize {
			return nil, &SecretUnavailableError{
				Path: path,
				Err:  fmt.Errorf("expected %d bytes, found %d", SecretSize, len(data)),
			}
		}
		var k fernet.Key
		copy(k[:], data)
		return &k, nil
	}
	if !os.IsNotExist(err) {
		return nil, &SecretUnavailableError{Path: path, Err: err}
	}

	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, &SecretUnavailableError{Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &SecretUnavailableError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, k[:], 0600); err != nil {
		return nil, &SecretUnavailableError{Path: path, Err: err}
	}
	return &k, nil
}
