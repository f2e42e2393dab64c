// Package savepoint implements the durable snapshot mechanism C8/C9
// depend on through index.Savepointer/index.Restorer: a full Badger
// backup taken every SAVEPOINT_INTERVAL blocks (§4.8), kept on disk
// FIFO up to MAX_SAVEPOINTS deep (§4.9), and restored from the oldest
// kept copy when the reorg controller decides to roll back.
package savepoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
)

const fileSuffix = ".savepoint"

// Manager takes and restores savepoints for a single *storage.BadgerDB,
// keeping each savepoint as its own independent full backup file (rather
// than a chain of incremental deltas) so any one of them can be restored
// on its own, named by the height it was taken at.
type Manager struct {
	db       *storage.BadgerDB
	dir      string
	interval uint64
	max      uint64

	mu    sync.Mutex
	files []string // oldest first, by ascending height
}

// New returns a Manager writing savepoints under dir (created if
// missing), taking one every interval blocks and keeping at most max of
// them (FIFO eviction). interval == 0 disables taking new savepoints
// (matching spec.md §4.9's Durability == None), though RestoreOldest
// still works against whatever was already on disk.
func New(db *storage.BadgerDB, dir string, interval, max uint64) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("savepoint: create dir %s: %w", dir, err)
	}
	m := &Manager{db: db, dir: dir, interval: interval, max: max}
	if err := m.loadExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

// loadExisting discovers savepoint files already on disk (e.g. left
// over from a previous run) and orders them oldest-first by the height
// encoded in their filename.
func (m *Manager) loadExisting() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("savepoint: read dir %s: %w", m.dir, err)
	}

	type found struct {
		height uint64
		path   string
	}
	var all []found
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		heightStr := strings.TrimSuffix(e.Name(), fileSuffix)
		height, err := strconv.ParseUint(heightStr, 10, 64)
		if err != nil {
			continue // not one of ours, ignore
		}
		all = append(all, found{height: height, path: filepath.Join(m.dir, e.Name())})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].height < all[j].height })

	m.files = m.files[:0]
	for _, f := range all {
		m.files = append(m.files, f.path)
	}
	return nil
}

func savepointPath(dir string, height uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", height, fileSuffix))
}

// MaybeSavepoint takes a new savepoint if height falls on the configured
// interval, then evicts the oldest kept savepoint(s) past max,
// satisfying index.Savepointer.
func (m *Manager) MaybeSavepoint(height uint64) error {
	if m.interval == 0 || height%m.interval != 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := savepointPath(m.dir, height)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("savepoint: create %s: %w", path, err)
	}
	_, backupErr := m.db.Backup(f, 0)
	closeErr := f.Close()
	if backupErr != nil {
		os.Remove(path)
		return fmt.Errorf("savepoint: backup at height %d: %w", height, backupErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return fmt.Errorf("savepoint: close %s: %w", path, closeErr)
	}

	m.files = append(m.files, path)
	for m.max > 0 && uint64(len(m.files)) > m.max {
		evict := m.files[0]
		m.files = m.files[1:]
		if err := os.Remove(evict); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("savepoint: evict %s: %w", evict, err)
		}
	}
	return nil
}

// RestoreOldest empties the live database and replays the oldest kept
// savepoint into it, satisfying index.Restorer. The restored height is
// whatever the caller already knows from the savepoint it asked for;
// Manager itself only tracks filenames, not index semantics.
func (m *Manager) RestoreOldest() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.files) == 0 {
		return fmt.Errorf("savepoint: no savepoints available to restore")
	}
	oldest := m.files[0]

	f, err := os.Open(oldest)
	if err != nil {
		return fmt.Errorf("savepoint: open %s: %w", oldest, err)
	}
	defer f.Close()

	if err := m.db.DropAll(); err != nil {
		return fmt.Errorf("savepoint: drop existing data: %w", err)
	}
	if err := m.db.Load(f); err != nil {
		return fmt.Errorf("savepoint: load %s: %w", oldest, err)
	}
	return nil
}

// Count reports how many savepoints are currently kept, for health
// checks and tests.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
