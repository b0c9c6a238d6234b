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

package snapshot

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	vgfs "github.com/ratevault/swapcore/libs/fs"
	"github.com/ratevault/swapcore/logging"

	"github.com/goccy/go-json"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/maps"
)

var (
	ErrNoSnapshot        = errors.New("no snapshot taken yet")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrDuplicateProvider = errors.New("a provider is already registered for this namespace")
	ErrHashMismatch      = errors.New("snapshot payloads do not match their hash")
	ErrEngineClosed      = errors.New("snapshot engine is closed")
)

var keyLatest = []byte("latest")

const (
	snapshotPrefix        = "snapshot/"
	metaSuffix            = "/meta"
	payloadNamespaceInfix = "/ns/"
)

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Snapshot describes one stored snapshot.
type Snapshot struct {
	Version    uint64    `json:"version"`
	Taken      time.Time `json:"taken"`
	Hash       string    `json:"hash"`
	Namespaces []string  `json:"namespaces"`
}

// Engine takes snapshots of the registered providers into a goleveldb
// store and restores them.
type Engine struct {
	Config
	log         *logging.Logger
	timeService TimeService

	mu        sync.Mutex
	db        *leveldb.DB
	providers map[string]Provider
}

// New opens the snapshot store described by conf.
func New(log *logging.Logger, conf Config, timeService TimeService) (*Engine, error) {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot configuration: %w", err)
	}
	db, err := openDB(conf)
	if err != nil {
		return nil, err
	}
	log.Info("snapshot store opened",
		logging.String("storage", conf.Storage),
		logging.String("path", conf.DBPath),
	)
	return &Engine{
		Config:      conf,
		log:         log,
		timeService: timeService,
		db:          db,
		providers:   map[string]Provider{},
	}, nil
}

func openDB(conf Config) (*leveldb.DB, error) {
	if conf.Storage == memDB {
		return leveldb.Open(storage.NewMemStorage(), nil)
	}
	if err := vgfs.EnsureDir(conf.DBPath); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(conf.DBPath, &opt.Options{
		Filter:          filter.NewBloomFilter(10),
		BlockCacher:     opt.NoCacher,
		OpenFilesCacher: opt.NoCacher,
	})
	if err != nil {
		return nil, fmt.Errorf("could not open the snapshot database: %w", err)
	}
	return db, nil
}

// ReloadConf updates the log level, storage settings only apply on restart.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}
	e.mu.Lock()
	e.KeepRecent = cfg.KeepRecent
	e.mu.Unlock()
}

// AddProviders registers engines whose state is saved and restored.
func (e *Engine) AddProviders(providers ...Provider) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range providers {
		ns := p.Namespace()
		if _, ok := e.providers[ns]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, ns)
		}
		e.providers[ns] = p
	}
	return nil
}

// Close closes the underlying store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// Snapshot saves the state of every provider as a new version.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, ErrEngineClosed
	}

	latest, err := e.latest()
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return nil, err
	}
	snap := &Snapshot{
		Version:    latest + 1,
		Taken:      e.timeService.GetTimeNow(),
		Namespaces: orderNamespaces(maps.Keys(e.providers)),
	}

	batch := new(leveldb.Batch)
	hasher := sha3.New256()
	for _, ns := range snap.Namespaces {
		state, err := e.providers[ns].GetState()
		if err != nil {
			return nil, fmt.Errorf("could not get state of %s: %w", ns, err)
		}
		hasher.Write([]byte(ns))
		hasher.Write(state)
		batch.Put(payloadKey(snap.Version, ns), state)
	}
	snap.Hash = hex.EncodeToString(hasher.Sum(nil))

	meta, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("could not serialise snapshot metadata: %w", err)
	}
	batch.Put(metaKey(snap.Version), meta)
	batch.Put(keyLatest, versionBytes(snap.Version))
	if err := e.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("could not write snapshot: %w", err)
	}

	if err := e.prune(snap.Version); err != nil {
		e.log.Warn("could not prune old snapshots", logging.Error(err))
	}
	e.log.Info("snapshot taken",
		logging.Uint64("version", snap.Version),
		logging.String("hash", snap.Hash),
		logging.Strings("namespaces", snap.Namespaces),
	)
	return snap, nil
}

// Restore loads the given version into the providers, version 0 restores
// the latest snapshot.
func (e *Engine) Restore(ctx context.Context, version uint64) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, ErrEngineClosed
	}

	if version == 0 {
		latest, err := e.latest()
		if err != nil {
			return nil, err
		}
		version = latest
	}
	snap, err := e.meta(version)
	if err != nil {
		return nil, err
	}

	payloads := make(map[string][]byte, len(snap.Namespaces))
	hasher := sha3.New256()
	for _, ns := range snap.Namespaces {
		state, err := e.db.Get(payloadKey(version, ns), nil)
		if err != nil {
			return nil, fmt.Errorf("could not read %s state of snapshot %d: %w", ns, version, err)
		}
		hasher.Write([]byte(ns))
		hasher.Write(state)
		payloads[ns] = state
	}
	if hex.EncodeToString(hasher.Sum(nil)) != snap.Hash {
		return nil, fmt.Errorf("%w: version %d", ErrHashMismatch, version)
	}

	for _, ns := range snap.Namespaces {
		p, ok := e.providers[ns]
		if !ok {
			e.log.Warn("no provider registered for snapshot namespace", logging.String("namespace", ns))
			continue
		}
		if err := p.LoadState(ctx, payloads[ns]); err != nil {
			return nil, fmt.Errorf("could not restore %s: %w", ns, err)
		}
	}
	e.log.Info("snapshot restored",
		logging.Uint64("version", version),
		logging.String("hash", snap.Hash),
	)
	return snap, nil
}

// List returns the stored snapshots, oldest first.
func (e *Engine) List() ([]*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, ErrEngineClosed
	}
	versions, err := e.versions()
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(versions))
	for _, v := range versions {
		snap, err := e.meta(v)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (e *Engine) latest() (uint64, error) {
	buf, err := e.db.Get(keyLatest, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, ErrNoSnapshot
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

func (e *Engine) meta(version uint64) (*Snapshot, error) {
	buf, err := e.db.Get(metaKey(version), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %d", ErrSnapshotNotFound, version)
	}
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(buf, snap); err != nil {
		return nil, fmt.Errorf("could not deserialise snapshot metadata: %w", err)
	}
	return snap, nil
}

// versions lists the stored versions in ascending order.
func (e *Engine) versions() ([]uint64, error) {
	it := e.db.NewIterator(util.BytesPrefix([]byte(snapshotPrefix)), nil)
	defer it.Release()
	out := []uint64{}
	for it.Next() {
		key := string(it.Key())
		if !strings.HasSuffix(key, metaSuffix) {
			continue
		}
		var v uint64
		if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(key, snapshotPrefix), metaSuffix), "%d", &v); err != nil {
			return nil, fmt.Errorf("malformed snapshot key %q: %w", key, err)
		}
		out = append(out, v)
	}
	return out, it.Error()
}

// prune drops everything older than the KeepRecent most recent versions.
func (e *Engine) prune(latest uint64) error {
	keep := uint64(e.KeepRecent)
	if keep < 1 || latest <= keep {
		return nil
	}
	oldest := latest - keep + 1
	it := e.db.NewIterator(util.BytesPrefix([]byte(snapshotPrefix)), nil)
	defer it.Release()
	batch := new(leveldb.Batch)
	for it.Next() {
		// keys are ordered by zero padded version
		if string(it.Key()) >= versionPrefix(oldest) {
			break
		}
		batch.Delete(append([]byte{}, it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	return e.db.Write(batch, nil)
}

func versionPrefix(version uint64) string {
	return fmt.Sprintf("%s%020d", snapshotPrefix, version)
}

func metaKey(version uint64) []byte {
	return []byte(versionPrefix(version) + metaSuffix)
}

func payloadKey(version uint64, ns string) []byte {
	return []byte(versionPrefix(version) + payloadNamespaceInfix + ns)
}

func versionBytes(version uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version)
	return buf
}
