// Package kpage models the page allocator that spec.md §6 lists as an
// external collaborator: "supplies and releases one fixed-size page." Each
// kernel thread's control block and (logical) kernel stack co-reside in one
// page (spec §3); kpage hands out zeroed pages and reclaims them.
package kpage

import "sync"

// Size is the fixed page size, in bytes, handed out by Allocator.Alloc.
// It matches pintos's 4KiB pages; the exact size is not load-bearing for
// this kernel's logic (no real stack lives in it).
const Size = 4096

// Allocator hands out and reclaims fixed-size zeroed pages.
type Allocator interface {
	// Alloc returns a zeroed page, or nil if none are available.
	Alloc() *Page
	// Free returns p to the allocator. p's bytes are zeroed before reuse.
	Free(p *Page)
	// Outstanding returns the number of pages currently allocated and not
	// yet freed.
	Outstanding() int
}

// Page is one fixed-size allocation.
type Page struct {
	Bytes [Size]byte
}

// pool is a sync.Pool-backed Allocator. Using sync.Pool (rather than a bare
// make/append arena) mirrors the teacher corpus's idiom of handing reusable
// fixed-size buffers through a pool instead of the GC.
type pool struct {
	mu          sync.Mutex
	outstanding int
	free        sync.Pool
}

// NewAllocator returns an Allocator backed by a pool of zeroed pages.
func NewAllocator() Allocator {
	p := &pool{}
	p.free.New = func() interface{} { return new(Page) }
	return p
}

func (p *pool) Alloc() *Page {
	page := p.free.Get().(*Page)
	*page = Page{} // zeroed
	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()
	return page
}

func (p *pool) Free(page *Page) {
	*page = Page{}
	p.free.Put(page)
	p.mu.Lock()
	p.outstanding--
	p.mu.Unlock()
}

func (p *pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
