// Watches the configuration file for changes.

package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the re-read configuration every time path is
// written. Invalid files are logged and ignored. The watch stops when ctx is
// done.
//
// The parent directory is watched since editors often replace the file
// instead of writing to it.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return err
	}
	name := filepath.Clean(path)
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := read(path)
				if err != nil {
					slog.WarnContext(ctx, "Ignoring config change", "path", path, "err", err)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching config", "err", err)
			}
		}
	}()
	return nil
}

// ApplyLogLevel returns an onChange callback for Watch that sets level from
// the file's log_level.
func ApplyLogLevel(level *slog.LevelVar) func(*Config) {
	return func(cfg *Config) {
		l, err := ParseLevel(cfg.LogLevel)
		if err != nil {
			return
		}
		if level.Level() != l {
			slog.Info("Log level changed", "level", l.String())
			level.Set(l)
		}
	}
}
