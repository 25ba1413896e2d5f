package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/ggoodman/keycloak-bearer-go/config"
)

// StaticKeyFile serves the legacy public key from a PEM file instead of the
// realm endpoint.
type StaticKeyFile struct {
	path string
}

// NewStaticKeyFile checks that path is readable.
func NewStaticKeyFile(path string) (*StaticKeyFile, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: public key file path is empty", config.ErrConfiguration)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: public key file: %v", config.ErrConfiguration, err)
	}
	return &StaticKeyFile{path: path}, nil
}

// LegacyPublicKey returns the file contents. A missing or empty file reads as
// no key.
func (f *StaticKeyFile) LegacyPublicKey(ctx context.Context) (string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read public key file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Watch invalidates cache whenever the key file is written, replaced or
// removed. It blocks until ctx is done. The parent directory is watched so
// atomic renames (as done by secret mounts) are seen.
func (f *StaticKeyFile) Watch(ctx context.Context, cache *KeyCache, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				cache.Invalidate()
				log.InfoContext(ctx, "jwtauth.key.file_changed", slog.String("path", f.path), slog.String("op", ev.Op.String()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "jwtauth.key.watch_error", slog.String("err", err.Error()))
		}
	}
}
