//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.icttutor.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "icttutor-data"
	}
	return filepath.Join(home, "Library", "Application Support", "icttutor")
}

// darwinBackend shells out to the `defaults` CLI so settings live in the
// user's preferences domain like any other macOS app.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

// defaults exits with code 1 when the key is absent; that maps to ok=false.
func (b *darwinBackend) lookup(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	val := strings.TrimSpace(string(out))
	if err == nil {
		return val, true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", false, nil
	}
	return "", false, fmt.Errorf("reading default %s: %w, output: %s", key, err, val)
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.lookup(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	val, ok, err := b.lookup(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return exec.Command("defaults", "write", b.domain, key, "-string", val).Run()
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return exec.Command("defaults", "write", b.domain, key, "-int", strconv.Itoa(val)).Run()
}

func (b *darwinBackend) Delete(key string) error {
	return exec.Command("defaults", "delete", b.domain, key).Run()
}
