package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	return path
}

func TestResolveSecret(t *testing.T) {
	tests := []struct {
		name string
		env  string
		file *string
		want string
	}{
		{name: "env only", env: "env-value", want: "env-value"},
		{name: "file only", file: strPtr("file-value\n"), want: "file-value"},
		{name: "file wins over env", env: "env-value", file: strPtr("file-value"), want: "file-value"},
		{name: "neither set", want: ""},
		{name: "file is trimmed", file: strPtr("  secret-value  \n\n"), want: "secret-value"},
		{name: "empty file", file: strPtr(""), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const name = "ALCHEMY_TEST_SECRET"
			t.Setenv(name, tt.env)
			t.Setenv(name+"_FILE", "")
			if tt.file != nil {
				t.Setenv(name+"_FILE", writeSecret(t, *tt.file))
			}

			got, err := ResolveSecret(name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveSecretUnreadableFile(t *testing.T) {
	const name = "ALCHEMY_TEST_MISSING_FILE"
	t.Setenv(name+"_FILE", "/nonexistent/path/to/secret")

	_, err := ResolveSecret(name)

	var fileErr *SecretFileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("expected *SecretFileError, got %v", err)
	}
	if fileErr.Var != name+"_FILE" || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %+v", fileErr)
	}
}

func TestRequireSecret(t *testing.T) {
	const name = "ALCHEMY_TEST_REQUIRED"
	t.Setenv(name, "")
	t.Setenv(name+"_FILE", "")

	if _, err := RequireSecret(name); !errors.Is(err, ErrSecretMissing) {
		t.Errorf("unset secret: got %v, want ErrSecretMissing", err)
	}

	t.Setenv(name, "present")
	v, err := RequireSecret(name)
	if err != nil || v != "present" {
		t.Errorf("RequireSecret = %q, %v", v, err)
	}
}

func strPtr(s string) *string { return &s }
