// Package secret resolves credential references in configuration values.
package secret

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Prefixes mark a value as a reference rather than the secret itself.
const (
	EnvPrefix  = "env:"
	FilePrefix = "file:"
)

var ErrUnresolved = errors.New("secret reference cannot be resolved")

// IsReference reports whether s names a secret instead of holding it.
func IsReference(s string) bool {
	return strings.HasPrefix(s, EnvPrefix) || strings.HasPrefix(s, FilePrefix)
}

// Resolve 解析 env:NAME / file:PATH 引用；普通字符串原样返回
func Resolve(s string) (string, error) {
	switch {
	case strings.HasPrefix(s, EnvPrefix):
		name := strings.TrimPrefix(s, EnvPrefix)
		if name == "" {
			return "", fmt.Errorf("%w: empty variable name", ErrUnresolved)
		}
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrUnresolved, name)
		}
		return v, nil
	case strings.HasPrefix(s, FilePrefix):
		path := strings.TrimPrefix(s, FilePrefix)
		if path == "" {
			return "", fmt.Errorf("%w: empty file path", ErrUnresolved)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnresolved, err)
		}
		// one trailing newline is what editors add
		v := strings.TrimSuffix(strings.TrimSuffix(string(b), "\n"), "\r")
		if v == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrUnresolved, path)
		}
		return v, nil
	}
	return s, nil
}
