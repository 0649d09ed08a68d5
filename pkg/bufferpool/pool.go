// Package bufferpool implements the buffer pool contract a page-resident
// B+tree is built on: pinned pages are resident and safe to dereference,
// unpinned pages are eligible for eviction, and a bounded set of frames is
// shuffled between an extent store and memory as pages are pinned,
// unpinned, and released.
package bufferpool

import (
	"errors"
	"sync"

	"storagecore/pkg/extentstore"
	"storagecore/pkg/list"
)

// NoPageID is the page id used by a frame that isn't currently caching any
// page.
const NoPageID int64 = -1

var (
	// ErrPoolExhausted is returned when every frame is pinned and none can
	// be evicted to make room for a page the caller is asking for.
	ErrPoolExhausted = errors.New("bufferpool: no available frames")
	// ErrPageNotFound is returned by Unpin/SetPageDirty/Release when the
	// page id isn't currently resident.
	ErrPageNotFound = errors.New("bufferpool: page not resident")
	// ErrNegativePinCount is returned if Unpin is called more times than
	// the page was pinned.
	ErrNegativePinCount = errors.New("bufferpool: pin count went negative")
	// ErrPagesStillPinned is returned by Close if pages are still pinned.
	ErrPagesStillPinned = errors.New("bufferpool: pages are still pinned")
)

// BufferHandler is a pinned reference to one resident page. Data is backed
// directly by the pool's frame; writes through it must be followed by
// SetPageDirty so the page is flushed back to the store.
type BufferHandler struct {
	PageID int64
	Data   []byte
}

// BufferPool is the contract the B+tree node layer is built against. A
// pinned page's Data is stable until the matching Unpin.
type BufferPool interface {
	PageSize() int64
	Alloc() (*BufferHandler, error)
	Pin(pageID int64) (*BufferHandler, error)
	Unpin(pageID int64) error
	SetPageDirty(pageID int64) error
	Release(pageID int64) error
	Close() error
}

// frame is one in-memory slot, independent of which page (if any) it
// currently caches.
type frame struct {
	pageID   int64
	pinCount int
	dirty    bool
	data     []byte
}

// Pool is the reference BufferPool implementation: a fixed number of
// frames, backed by an extent store, moved between free/unpinned/pinned
// queues exactly as the page table says they should be.
type Pool struct {
	store        *extentstore.Store
	pageSize     int64
	freeList     *list.List[*frame]
	unpinnedList *list.List[*frame]
	pinnedList   *list.List[*frame]
	pageTable    map[int64]*list.Link[*frame]
	mu           sync.Mutex
}

// New constructs a Pool with capacity frames, backed by store.
func New(store *extentstore.Store, capacity int) *Pool {
	pool := &Pool{
		store:        store,
		pageSize:     store.ExtentSize(),
		freeList:     list.NewList[*frame](),
		unpinnedList: list.NewList[*frame](),
		pinnedList:   list.NewList[*frame](),
		pageTable:    make(map[int64]*list.Link[*frame]),
	}
	for i := 0; i < capacity; i++ {
		pool.freeList.PushTail(&frame{pageID: NoPageID, data: store.NewExtentBuffer()})
	}
	return pool
}

// PageSize returns the size in bytes of one page (one extent).
func (pool *Pool) PageSize() int64 {
	return pool.pageSize
}

// flushFrame writes a frame's data back to the store if it's dirty.
func (pool *Pool) flushFrame(f *frame) error {
	if !f.dirty {
		return nil
	}
	if err := pool.store.Write(f.data, f.pageID); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// takeFrame returns a frame ready to be reused for pageID, preferring the
// free list and falling back to evicting the head of the unpinned list.
// pool.mu must be held by the caller.
func (pool *Pool) takeFrame(pageID int64) (*frame, error) {
	if link := pool.freeList.PeekHead(); link != nil {
		link.PopSelf()
		f := link.GetValue()
		f.pageID = pageID
		f.pinCount = 0
		f.dirty = false
		return f, nil
	}
	if link := pool.unpinnedList.PeekHead(); link != nil {
		link.PopSelf()
		f := link.GetValue()
		if err := pool.flushFrame(f); err != nil {
			return nil, err
		}
		delete(pool.pageTable, f.pageID)
		f.pageID = pageID
		f.pinCount = 0
		f.dirty = false
		return f, nil
	}
	return nil, ErrPoolExhausted
}

// Alloc reserves a new page in the backing store and returns it pinned
// with pin count 1.
func (pool *Pool) Alloc() (*BufferHandler, error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	pageID, err := pool.store.Reserve(1)
	if err != nil {
		return nil, err
	}
	f, err := pool.takeFrame(pageID)
	if err != nil {
		return nil, err
	}
	f.pinCount = 1
	f.dirty = true
	link := pool.pinnedList.PushTail(f)
	pool.pageTable[pageID] = link
	return &BufferHandler{PageID: pageID, Data: f.data}, nil
}

// Pin returns the page with the given id, reading it from the store if
// it isn't already resident, and increments its pin count.
func (pool *Pool) Pin(pageID int64) (*BufferHandler, error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if link, ok := pool.pageTable[pageID]; ok {
		f := link.GetValue()
		if link.GetList() == pool.unpinnedList {
			link.PopSelf()
			pool.pageTable[pageID] = pool.pinnedList.PushTail(f)
		}
		f.pinCount++
		return &BufferHandler{PageID: pageID, Data: f.data}, nil
	}

	f, err := pool.takeFrame(pageID)
	if err != nil {
		return nil, err
	}
	if err := pool.store.Read(f.data, pageID); err != nil {
		pool.freeList.PushTail(f)
		return nil, err
	}
	f.pinCount = 1
	link := pool.pinnedList.PushTail(f)
	pool.pageTable[pageID] = link
	return &BufferHandler{PageID: pageID, Data: f.data}, nil
}

// Unpin decrements a page's pin count, moving it to the unpinned queue
// once the count reaches zero.
func (pool *Pool) Unpin(pageID int64) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	link, ok := pool.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}
	f := link.GetValue()
	f.pinCount--
	if f.pinCount < 0 {
		return ErrNegativePinCount
	}
	if f.pinCount == 0 {
		link.PopSelf()
		pool.pageTable[pageID] = pool.unpinnedList.PushTail(f)
	}
	return nil
}

// SetPageDirty marks a resident page as having been modified, so it is
// flushed back to the store on eviction or Close.
func (pool *Pool) SetPageDirty(pageID int64) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	link, ok := pool.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}
	link.GetValue().dirty = true
	return nil
}

// Release discards a page from the pool without flushing it, on the
// assumption the caller has destroyed what it represents (e.g. a merged
// B+tree node) and its data no longer matters. The frame returns to the
// free list.
func (pool *Pool) Release(pageID int64) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	link, ok := pool.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}
	f := link.GetValue()
	link.PopSelf()
	delete(pool.pageTable, pageID)
	f.pageID = NoPageID
	f.dirty = false
	f.pinCount = 0
	pool.freeList.PushTail(f)
	return nil
}

// flushAll flushes every dirty resident page. pool.mu must be held.
func (pool *Pool) flushAll() error {
	var firstErr error
	record := func(link *list.Link[*frame]) {
		if err := pool.flushFrame(link.GetValue()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	pool.pinnedList.Map(record)
	pool.unpinnedList.Map(record)
	return firstErr
}

// Close flushes all dirty pages and closes the backing store. It returns
// ErrPagesStillPinned if any page is still pinned.
func (pool *Pool) Close() error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.pinnedList.PeekHead() != nil {
		return ErrPagesStillPinned
	}
	if err := pool.flushAll(); err != nil {
		return err
	}
	return pool.store.Close()
}
