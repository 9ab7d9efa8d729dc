// Package profile loads per-session dietary profiles from a TOML file and
// re-applies them when the file changes.
//
// The file maps session ids to profile values:
//
//	[profiles.alice]
//	goals = "lose weight"
//	restrictions = "vegetarian"
package profile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Target receives loaded profiles.
type Target interface {
	SetProfile(id string, profile map[string]string)
}

type file struct {
	Profiles map[string]map[string]string `toml:"profiles"`
}

// Load reads the profiles file at path.
func Load(path string) (map[string]map[string]string, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("profile: load %s: %w", path, err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]map[string]string{}
	}
	return f.Profiles, nil
}

// Apply pushes every profile to target and returns how many were applied.
func Apply(target Target, profiles map[string]map[string]string) int {
	for id, p := range profiles {
		target.SetProfile(id, p)
	}
	return len(profiles)
}

// LoadAndApply loads path and applies it to target.
func LoadAndApply(path string, target Target) (int, error) {
	profiles, err := Load(path)
	if err != nil {
		return 0, err
	}
	return Apply(target, profiles), nil
}

// Watcher re-applies the profiles file whenever it is written.
type Watcher struct {
	path     string
	target   Target
	log      logrus.FieldLogger
	debounce time.Duration
	// applied is signalled after each reload; used by tests.
	applied chan int
}

// NewWatcher creates a Watcher. A non-positive debounce defaults to 200ms.
func NewWatcher(path string, target Target, log logrus.FieldLogger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{path: path, target: target, log: log, debounce: debounce}
}

// Run watches the file's directory until ctx is cancelled. Editors often
// replace files by rename, so the directory is watched rather than the file.
// A reload that fails to parse keeps the previously applied profiles.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile: create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("profile: resolve path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("profile: watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = true
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("profiles watch error")

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			n, err := LoadAndApply(w.path, w.target)
			if err != nil {
				w.log.WithError(err).Warn("profiles reload failed, keeping previous profiles")
				continue
			}
			w.log.WithFields(logrus.Fields{"path": w.path, "profiles": n}).Info("profiles reloaded")
			if w.applied != nil {
				w.applied <- n
			}
		}
	}
}
