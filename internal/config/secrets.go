package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretMissing is returned by RequireSecret when neither NAME nor
// NAME_FILE is set.
var ErrSecretMissing = errors.New("secret not set")

// SecretFileError reports an unreadable NAME_FILE. It carries the path,
// never the contents.
type SecretFileError struct {
	Var  string
	Path string
	Err  error
}

func (e *SecretFileError) Error() string {
	return fmt.Sprintf("read secret %s=%s: %v", e.Var, e.Path, e.Err)
}

func (e *SecretFileError) Unwrap() error { return e.Err }

// ResolveSecret returns the value of the environment variable name, or the
// trimmed contents of the file named by name_FILE. The file wins when both
// are set. An unset secret is "".
func ResolveSecret(name string) (string, error) {
	fileVar := name + "_FILE"
	if path := os.Getenv(fileVar); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", &SecretFileError{Var: fileVar, Path: path, Err: err}
		}
		return strings.TrimSpace(string(b)), nil
	}
	return os.Getenv(name), nil
}

// RequireSecret is ResolveSecret for credentials an enabled backend
// cannot run without.
func RequireSecret(name string) (string, error) {
	v, err := ResolveSecret(name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrSecretMissing)
	}
	return v, nil
}
