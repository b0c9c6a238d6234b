// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ratevault/swapcore/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/atomic"
)

const namedLogger = "cfgwatcher"

// Watcher keeps the configuration in sync with its file and hands every
// successfully loaded version to the registered listeners.
type Watcher struct {
	log  *logging.Logger
	cfg  Config
	path string

	reloads   atomic.Uint64
	listeners []func(Config)
	mu        sync.Mutex
}

// NewFromFile loads the configuration at path and starts watching it until
// ctx is cancelled.
func NewFromFile(ctx context.Context, log *logging.Logger, path string) (*Watcher, error) {
	watcherlog := log.Named(namedLogger)
	// configuration changes are always worth a line in the logs
	watcherlog.SetLevel(logging.DebugLevel)

	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		log:  watcherlog,
		cfg:  *cfg,
		path: filepath.Clean(path),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace the file rather than write it in place, so the
	// directory is watched and events are filtered by name
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return nil, err
	}

	w.log.Info("config watcher started successfully",
		logging.String("config", w.path))

	go w.watch(ctx, watcher)

	return w, nil
}

// Get returns the last configuration loaded.
func (w *Watcher) Get() Config {
	w.mu.Lock()
	conf := w.cfg
	w.mu.Unlock()
	return conf
}

// Reloads is the number of times the file was loaded after start.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

func (w *Watcher) OnConfigUpdate(fns ...func(Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fns...)
	w.mu.Unlock()
}

func (w *Watcher) load() error {
	cfg, err := Read(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.cfg = *cfg
	listeners := make([]func(Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.reloads.Inc()
	for _, f := range listeners {
		f(*cfg)
	}
	return nil
}

func (w *Watcher) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !event.Has(fsnotify.Write) {
				// the replacing file may not be complete yet
				time.Sleep(50 * time.Millisecond)
			}
			w.log.Info("configuration updated", logging.String("event", event.Name))
			if err := w.load(); err != nil {
				w.log.Error("unable to load configuration", logging.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher received error event", logging.Error(err))
		case <-ctx.Done():
			w.log.Debug("config watcher stopped")
			return
		}
	}
}
