// Package engine is the catalog that owns the shared page.Store,
// cache.NodeCache and lock.Manager for a set of named trees, and drives
// checkpoints over them; it has no crash-recovery or log-replay path.
// Grounded in the teacher's
// pkg/database.Database (basepath + name->index map + CreateTable/GetTable
// shape), generalized from one pager-per-table to a single shared store and
// cache (spec's NodeCache and LockManager are explicitly engine-wide, not
// per-tree) plus a catalog page recording each tree's root id.
package engine

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/otiai10/copy"

	"pagetree/pkg/cache"
	"pagetree/pkg/config"
	"pagetree/pkg/lock"
	"pagetree/pkg/page"
	"pagetree/pkg/pgerr"
	"pagetree/pkg/tree"
)

var treeNamePattern = regexp.MustCompile(`^\w+$`)

// Engine is an open database directory: one page.Store, one
// cache.NodeCache, one lock.Manager, and any number of named Trees sharing
// them.
type Engine struct {
	basePath string
	opts     config.Options

	store page.Store
	cache *cache.NodeCache
	locks *lock.Manager

	mu    sync.RWMutex
	trees map[string]*tree.Tree

	catalog *catalogFile
}

// catalogRecordSize is the fixed width of one tree's catalog entry:
// a 64-byte, NUL-padded name followed by its 8-byte root page id.
const catalogRecordSize = 64 + 8

// catalogFile persists the name -> root-page-id mapping across restarts, a
// concern dinodb didn't need (it relied on one file per table instead).
type catalogFile struct {
	mu   sync.Mutex
	path string
}

// Open opens (creating if necessary) an engine rooted at dir.
func Open(dir string, opts config.Options) (*Engine, error) {
	if opts == (config.Options{}) {
		opts = config.DefaultOptions()
	}
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, err
	}

	dataPath := filepath.Join(dir, "data.pt")
	store, err := page.OpenFile(dataPath, opts.PageSize, opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		basePath: dir,
		opts:     opts,
		store:    store,
		cache:    cache.New(store, opts.CacheCapacity, opts.MaxKeySize),
		locks:    lock.NewManager(opts.LockPartitions, opts.LockTimeout),
		trees:    make(map[string]*tree.Tree),
		catalog:  &catalogFile{path: filepath.Join(dir, "catalog")},
	}

	roots, err := e.catalog.load()
	if err != nil {
		return nil, err
	}
	for name, rootID := range roots {
		t, err := tree.Open(name, e.cache, e.locks, opts, rootID)
		if err != nil {
			return nil, err
		}
		e.trees[name] = t
	}
	return e, nil
}

// CreateTree creates a new, empty named tree.
func (e *Engine) CreateTree(name string) (*tree.Tree, error) {
	if !treeNamePattern.MatchString(name) {
		return nil, fmt.Errorf("pagetree: tree name %q must be alphanumeric", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.trees[name]; ok {
		return nil, pgerr.ErrDuplicateKey
	}
	t, err := tree.Open(name, e.cache, e.locks, e.opts, page.Unassigned)
	if err != nil {
		return nil, err
	}
	e.trees[name] = t
	if err := e.catalog.save(name, t.RootID()); err != nil {
		return nil, err
	}
	return t, nil
}

// Tree returns a previously created/opened named tree.
func (e *Engine) Tree(name string) (*tree.Tree, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.trees[name]
	if !ok {
		return nil, pgerr.ErrClosedIndex
	}
	return t, nil
}

// Trees returns every open tree, keyed by name.
func (e *Engine) Trees() map[string]*tree.Tree {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]*tree.Tree, len(e.trees))
	for k, v := range e.trees {
		out[k] = v
	}
	return out
}

// Checkpoint flushes every dirty node to the store and snapshots the whole
// data directory into a sibling "<dir>-checkpoints/<label>" folder via a
// directory copy, the same "stop the world briefly, copy everything"
// approach the teacher uses for recovery_manager snapshots (copy.Copy),
// kept outside basePath so a snapshot never tries to copy itself.
func (e *Engine) Checkpoint(label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, t := range e.trees {
		if err := e.catalog.save(name, t.RootID()); err != nil {
			return err
		}
	}
	if _, err := e.cache.Checkpoint(); err != nil {
		return err
	}

	dst := filepath.Join(e.basePath+"-checkpoints", label)
	return copy.Copy(e.basePath, dst)
}

// Close checkpoints and releases the engine's store.
func (e *Engine) Close() error {
	if err := e.Checkpoint("close-" + time.Now().UTC().Format("20060102T150405")); err != nil {
		return err
	}
	return e.store.Close()
}

func (c *catalogFile) load() (map[string]page.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *catalogFile) save(name string, rootID page.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(name) > 64 {
		return fmt.Errorf("pagetree: tree name %q exceeds the 64-byte catalog slot", name)
	}

	roots, err := c.loadLocked()
	if err != nil {
		return err
	}
	roots[name] = rootID

	buf := make([]byte, 0, len(roots)*catalogRecordSize)
	for n, id := range roots {
		rec := make([]byte, catalogRecordSize)
		copy(rec, n)
		binary.LittleEndian.PutUint64(rec[64:], uint64(id))
		buf = append(buf, rec...)
	}
	return os.WriteFile(c.path, buf, 0o664)
}

func (c *catalogFile) loadLocked() (map[string]page.ID, error) {
	buf, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return make(map[string]page.ID), nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]page.ID)
	for off := 0; off+catalogRecordSize <= len(buf); off += catalogRecordSize {
		rec := buf[off : off+catalogRecordSize]
		out[string(trimNUL(rec[:64]))] = page.ID(binary.LittleEndian.Uint64(rec[64:72]))
	}
	return out, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
