// Package pager manages Cryo's backing file as a sequence of fixed-size
// pages, with a cache that flushes through to disk when it evicts a
// dirty page. Page 0 is reserved metadata: the root page id, the page
// count, and the head of the free list.
package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DavisRayM/cryo/page"
)

// ID identifies a page within the backing file.
type ID uint64

const (
	// MetaPageID is the fixed location of the file's metadata page.
	MetaPageID ID = 0

	metaRootOff     = 0
	metaNumPagesOff = 8
	metaFreeListOff = 16
	metaNilPage     = ^uint64(0)
)

var (
	// ErrOutOfBounds is returned when a page id beyond the file's extent
	// is requested.
	ErrOutOfBounds = errors.New("pager: page id out of bounds")
	// ErrCorrupt is returned when the metadata page cannot be parsed.
	ErrCorrupt = errors.New("pager: corrupt metadata")
	// ErrPoisonedState is returned by any call after the pager has
	// recorded an unrecoverable I/O error; the pager must be reopened.
	ErrPoisonedState = errors.New("pager: poisoned state")

	// DefaultCacheSize bounds the number of decoded pages kept in memory
	// while commit is enabled.
	DefaultCacheSize = 256
)

type entry struct {
	page  *page.Page
	dirty bool
}

// Pager owns the backing file and the decoded-page cache sitting in
// front of it. Commit controls whether dirty pages may reach disk:
// while Commit(false) — WAL replay — pages are held in an unbounded
// map instead of the bounded LRU, since replay must never silently
// lose a page to eviction (spec: the cache "grows unbounded in
// replay, by design — replay is bounded by WAL size").
type Pager struct {
	file      *os.File
	cache     *lru.Cache[ID, *entry]
	replaying map[ID]*entry
	numPages  uint64
	root      ID
	freeList  ID
	commit    bool
	poisoned  error
}

// Open opens or creates the backing file at path, initializing a fresh
// metadata + root leaf page pair if the file is empty.
func Open(path string, cacheSize int) (*Pager, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}

	p := &Pager{file: f, commit: true, replaying: make(map[ID]*entry)}
	cache, err := lru.NewWithEvict(cacheSize, p.onEvict)
	if err != nil {
		return nil, fmt.Errorf("pager: init cache: %w", err)
	}
	p.cache = cache

	if fi.Size() == 0 {
		if err := p.bootstrap(); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err := p.loadMeta(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pager) bootstrap() error {
	p.numPages = 2
	p.root = 1
	p.freeList = ID(metaNilPage)

	root := page.New(page.KindLeaf)
	if err := p.writePageRaw(1, root); err != nil {
		return err
	}
	return p.flushMeta()
}

func (p *Pager) loadMeta() error {
	buf := make([]byte, page.Size)
	if _, err := p.file.ReadAt(buf, int64(MetaPageID)*page.Size); err != nil {
		return fmt.Errorf("pager: read metadata: %w", err)
	}
	p.root = ID(binary.BigEndian.Uint64(buf[metaRootOff : metaRootOff+8]))
	p.numPages = binary.BigEndian.Uint64(buf[metaNumPagesOff : metaNumPagesOff+8])
	free := binary.BigEndian.Uint64(buf[metaFreeListOff : metaFreeListOff+8])
	p.freeList = ID(free)
	if p.numPages < 2 {
		return fmt.Errorf("pager: metadata numPages %d: %w", p.numPages, ErrCorrupt)
	}
	return nil
}

// flushMeta unconditionally writes the current in-memory metadata
// fields to disk. Callers that must respect the commit gate use
// persistMeta instead.
func (p *Pager) flushMeta() error {
	buf := make([]byte, page.Size)
	binary.BigEndian.PutUint64(buf[metaRootOff:metaRootOff+8], uint64(p.root))
	binary.BigEndian.PutUint64(buf[metaNumPagesOff:metaNumPagesOff+8], p.numPages)
	binary.BigEndian.PutUint64(buf[metaFreeListOff:metaFreeListOff+8], uint64(p.freeList))
	if _, err := p.file.WriteAt(buf, int64(MetaPageID)*page.Size); err != nil {
		return p.poison(fmt.Errorf("pager: write metadata: %w", err))
	}
	return nil
}

// persistMeta writes the metadata page if commit is enabled; while
// commit is disabled (WAL replay) it is a no-op, since the in-memory
// root/numPages/freeList fields already reflect the replayed state and
// a later Flush (once commit is re-enabled at checkpoint) persists
// them — replay itself must never touch disk.
func (p *Pager) persistMeta() error {
	if !p.commit {
		return nil
	}
	return p.flushMeta()
}

func (p *Pager) poison(err error) error {
	p.poisoned = err
	return err
}

func (p *Pager) checkPoisoned() error {
	if p.poisoned != nil {
		return fmt.Errorf("%v: %w", p.poisoned, ErrPoisonedState)
	}
	return nil
}

// Root returns the current root page id.
func (p *Pager) Root() ID { return p.root }

// SetRoot updates the root page id and persists the metadata page
// (subject to the commit gate; see persistMeta).
func (p *Pager) SetRoot(id ID) error {
	if err := p.checkPoisoned(); err != nil {
		return err
	}
	p.root = id
	return p.persistMeta()
}

// NumPages returns the number of pages allocated in the file, including
// the metadata page.
func (p *Pager) NumPages() uint64 { return p.numPages }

// Allocate reserves a fresh page id, reusing the free list's head when
// non-empty, and returns an empty page of the requested kind bound to it.
func (p *Pager) Allocate(kind page.Kind) (ID, *page.Page, error) {
	if err := p.checkPoisoned(); err != nil {
		return 0, nil, err
	}

	var id ID
	if p.freeList != ID(metaNilPage) {
		id = p.freeList
		freed, err := p.Read(id)
		if err != nil {
			return 0, nil, fmt.Errorf("pager: allocate from free list: %w", err)
		}
		p.freeList = ID(freed.Parent)
	} else {
		id = ID(p.numPages)
		p.numPages++
	}

	pg := page.New(kind)
	if err := p.Write(id, pg); err != nil {
		return 0, nil, err
	}
	if err := p.persistMeta(); err != nil {
		return 0, nil, err
	}
	return id, pg, nil
}

// Free returns a page id to the free list for reuse by a later Allocate.
func (p *Pager) Free(id ID) error {
	if err := p.checkPoisoned(); err != nil {
		return err
	}
	if id == MetaPageID || id == p.root {
		return fmt.Errorf("pager: cannot free page %d", id)
	}
	marker := page.New(page.KindLeaf)
	marker.HasParent = true
	marker.Parent = uint64(p.freeList)
	if err := p.Write(id, marker); err != nil {
		return err
	}
	p.freeList = id
	return p.persistMeta()
}

// Read returns the decoded page for id, loading it from disk on a
// cache miss. While commit is disabled, lookups and insertions go
// through the unbounded replay map instead of the bounded LRU.
func (p *Pager) Read(id ID) (*page.Page, error) {
	if err := p.checkPoisoned(); err != nil {
		return nil, err
	}
	if id == MetaPageID || uint64(id) >= p.numPages {
		return nil, fmt.Errorf("pager: read page %d (numPages %d): %w", id, p.numPages, ErrOutOfBounds)
	}

	if !p.commit {
		if e, ok := p.replaying[id]; ok {
			return e.page, nil
		}
	} else if e, ok := p.cache.Get(id); ok {
		return e.page, nil
	}

	buf := make([]byte, page.Size)
	if _, err := p.file.ReadAt(buf, int64(id)*page.Size); err != nil && err != io.EOF {
		return nil, p.poison(fmt.Errorf("pager: read page %d: %w", id, err))
	}
	pg, err := page.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("pager: decode page %d: %w", id, err)
	}

	if !p.commit {
		p.replaying[id] = &entry{page: pg}
	} else {
		p.cache.Add(id, &entry{page: pg})
	}
	return pg, nil
}

// Write stores pg under id, marking it dirty for later flush. While
// commit is disabled the entry goes into the unbounded replay map, so
// it can never be silently dropped by LRU eviction mid-replay.
func (p *Pager) Write(id ID, pg *page.Page) error {
	if err := p.checkPoisoned(); err != nil {
		return err
	}
	e := &entry{page: pg, dirty: true}
	if !p.commit {
		p.replaying[id] = e
	} else {
		p.cache.Add(id, e)
	}
	return nil
}

func (p *Pager) writePageRaw(id ID, pg *page.Page) error {
	buf, err := pg.Encode()
	if err != nil {
		return fmt.Errorf("pager: encode page %d: %w", id, err)
	}
	if _, err := p.file.WriteAt(buf, int64(id)*page.Size); err != nil {
		return p.poison(fmt.Errorf("pager: write page %d: %w", id, err))
	}
	return nil
}

// onEvict is the bounded LRU cache's eviction callback. It only ever
// fires while commit is enabled (entries are added to the bounded
// cache only in that state — see Read/Write), so it always persists a
// dirty page when evicted.
func (p *Pager) onEvict(id ID, e *entry) {
	if !e.dirty || !p.commit {
		return
	}
	if err := p.writePageRaw(id, e.page); err != nil {
		p.poison(err)
	}
}

// Commit toggles whether dirty pages may reach disk. The WAL sets this
// false before replaying its log on open — entering replay mode
// flushes anything already dirty in the bounded cache (ordinary
// eviction semantics still apply at that instant, since commit is
// still true) and then routes all further Read/Write traffic to the
// unbounded replay map, so replay can accumulate arbitrarily many
// pages without ever losing one to eviction. Setting commit back to
// true folds the replay map back into the bounded cache, resuming
// normal write-back behavior.
func (p *Pager) Commit(enabled bool) {
	if enabled == p.commit {
		return
	}
	if !enabled {
		p.cache.Purge()
		p.commit = false
		return
	}
	p.commit = true
	for id, e := range p.replaying {
		p.cache.Add(id, e)
	}
	p.replaying = make(map[ID]*entry)
}

// Flush writes every dirty cached page to the backing file, persists
// the metadata page, and syncs — but only while commit is enabled; per
// spec, flush() is a no-op when commit is disabled.
func (p *Pager) Flush() error {
	if err := p.checkPoisoned(); err != nil {
		return err
	}
	if !p.commit {
		return nil
	}

	for _, id := range p.cache.Keys() {
		e, ok := p.cache.Peek(id)
		if !ok || !e.dirty {
			continue
		}
		if err := p.writePageRaw(id, e.page); err != nil {
			return err
		}
		e.dirty = false
	}
	if err := p.flushMeta(); err != nil {
		return err
	}
	return p.file.Sync()
}

// FreeListIDs returns every id currently on the free list, head first.
// It exists for invariant checks (the free list must be duplicate-free
// and disjoint from live pages); the hot Allocate/Free path only ever
// needs the head.
func (p *Pager) FreeListIDs() ([]ID, error) {
	var ids []ID
	seen := make(map[ID]bool)
	cur := p.freeList
	for cur != ID(metaNilPage) {
		if seen[cur] {
			return nil, fmt.Errorf("pager: free list cycle at page %d: %w", cur, ErrCorrupt)
		}
		seen[cur] = true
		ids = append(ids, cur)
		pg, err := p.Read(cur)
		if err != nil {
			return nil, fmt.Errorf("pager: walk free list at %d: %w", cur, err)
		}
		cur = ID(pg.Parent)
	}
	return ids, nil
}

// Close flushes pending writes and closes the backing file.
func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	return p.file.Close()
}
