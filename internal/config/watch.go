package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is written. It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML or weights that no longer sum to 1),
// the error is logged and the previous config remains active — Watch does
// not call onChange.
func Watch(ctx context.Context, log zerolog.Logger, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Info().Str("path", path).Msg("config: watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only reload on write or create events. Editors often write via
			// rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).
					Msg("config: reload failed — keeping previous config")
				continue
			}

			log.Info().Str("path", path).Msg("config: reloaded")
			onChange(cfg)

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config: watcher error")
		}
	}
}
