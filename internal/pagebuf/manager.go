package pagebuf

import (
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/sys/unix"
)

// SpillPaths is the external spill-file factory: given a page index it
// returns a filesystem path unique and stable for that index. Satisfied
// by internal/spillfile.Factory.
type SpillPaths interface {
	Path(idx uint32) (string, error)
}

// Stats is a snapshot of the process-wide page counters.
type Stats struct {
	NMapped int64
	NOnDisk int64
	NFree   int64
}

// Manager implements pin/unpin/free/ptr over the page table, enforcing
// the per-slot MAPPED/ONDISK state machine. All four
// operations are synchronous and are never called concurrently — the
// page table, counters and headroom reserve are owned exclusively by
// the I/O loop.
type Manager struct {
	t     *table
	spill SpillPaths
	log   *log.Logger

	nmapped int64
	nondisk int64
	nfree   int64

	// pressured is latched true the first time the kernel refuses an
	// anonymous mapping. Once set, Pin never again takes the anonymous
	// branch and Free never again credits nfree, regardless of how many
	// pages are subsequently freed — the demotion to disk-only
	// allocation is one-way for the remainder of the run.
	pressured bool

	headroom []byte // 4*PageSize, released on first ENOMEM
}

// NewManager creates a page manager. memBytes is the host's total
// physical memory as reported by the memory probe; nfree is seeded to
// half of it, in pages.
func NewManager(memBytes uint64, spill SpillPaths, logger *log.Logger) *Manager {
	headroom := make([]byte, 4*PageSize)
	for i := 0; i < len(headroom); i += os.Getpagesize() {
		headroom[i] = 1
	}
	return &Manager{
		t:        newTable(),
		spill:    spill,
		log:      logger,
		nfree:    int64(memBytes / PageSize / 2),
		headroom: headroom,
	}
}

// Stats returns a snapshot of the page counters.
func (m *Manager) Stats() Stats {
	return Stats{NMapped: m.nmapped, NOnDisk: m.nondisk, NFree: m.nfree}
}

// Pin ensures slot idx is MAPPED, per the state table in the page
// manager design: a no-op on an already-mapped slot, a remap of an
// on-disk slot, or — for a fresh slot — an anonymous allocation that
// falls back to spill-file creation once nfree is exhausted or the
// kernel returns ENOMEM.
func (m *Manager) Pin(idx uint32) error {
	s, err := m.t.slot(idx)
	if err != nil {
		return err
	}

	if s.state&flagMapped != 0 {
		return nil
	}

	if s.state&flagOnDisk != 0 {
		return m.remapOnDisk(s, idx)
	}

	if m.nfree > 0 && !m.pressured {
		data, mmapErr := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if mmapErr == nil {
			s.base = data
			s.state = flagMapped
			m.nmapped++
			m.nfree--
			return nil
		}
		if !errors.Is(mmapErr, unix.ENOMEM) {
			return fmt.Errorf("pin %d: anonymous mmap: %w", idx, mmapErr)
		}
		m.log.Printf("ENOMEM allocating anonymous page %d (nfree was %d); demoting to disk for remainder of run", idx, m.nfree)
		m.nfree = 0
		m.pressured = true
		m.releaseHeadroom()
	}

	return m.spillCreate(s, idx)
}

// spillCreate creates idx's backing file and maps it, transitioning a
// {} slot straight to {MAPPED,ONDISK}.
func (m *Manager) spillCreate(s *pageSlot, idx uint32) error {
	path, err := m.spill.Path(idx)
	if err != nil {
		return fmt.Errorf("pin %d: spill path: %w", idx, err)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return fmt.Errorf("pin %d: create spill file: %w", idx, err)
	}
	if err := unix.Ftruncate(fd, PageSize); err != nil {
		unix.Close(fd)
		return fmt.Errorf("pin %d: truncate spill file: %w", idx, err)
	}
	data, err := unix.Mmap(fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("pin %d: mmap spill file: %w", idx, err)
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("pin %d: close spill fd: %w", idx, err)
	}
	s.base = data
	s.state = flagMapped | flagOnDisk
	m.nmapped++
	m.nondisk++
	return nil
}

// remapOnDisk re-materializes an {ONDISK} slot by reopening and mapping
// its existing backing file.
func (m *Manager) remapOnDisk(s *pageSlot, idx uint32) error {
	path, err := m.spill.Path(idx)
	if err != nil {
		return fmt.Errorf("pin %d: spill path: %w", idx, err)
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("pin %d: reopen spill file: %w", idx, err)
	}
	data, err := unix.Mmap(fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("pin %d: remap spill file: %w", idx, err)
	}
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("pin %d: close spill fd: %w", idx, err)
	}
	s.base = data
	s.state |= flagMapped
	m.nmapped++
	return nil
}

// Unpin surrenders the in-memory mapping of an on-disk slot so it may be
// re-materialized later. It is a no-op on anonymous pages — there is no
// swap-out path, so an anonymous page stays resident until freed — and
// a no-op on slots in the table's window that are not currently mapped.
// An idx outside the window (never pinned, or already freed) is an error.
func (m *Manager) Unpin(idx uint32) error {
	s := m.t.peek(idx)
	if s == nil {
		return fmt.Errorf("unpin %d: unknown slot", idx)
	}
	if s.state != flagMapped|flagOnDisk {
		return nil
	}
	if err := unix.Munmap(s.base); err != nil {
		return fmt.Errorf("unpin %d: munmap: %w", idx, err)
	}
	s.base = nil
	s.state &^= flagMapped
	m.nmapped--
	return nil
}

// Free permanently releases idx's storage and marks the slot unused. An
// on-disk slot must already be unpinned; an anonymous slot returns its
// budget to nfree, unless the ENOMEM demotion has latched pressured.
func (m *Manager) Free(idx uint32) error {
	s := m.t.peek(idx)
	if s == nil {
		return fmt.Errorf("free %d: unknown slot", idx)
	}

	switch {
	case s.state&flagOnDisk != 0:
		if s.state&flagMapped != 0 {
			panic(fmt.Sprintf("free %d: page still mapped, caller must unpin first", idx))
		}
		path, err := m.spill.Path(idx)
		if err != nil {
			return fmt.Errorf("free %d: spill path: %w", idx, err)
		}
		if err := unix.Unlink(path); err != nil {
			return fmt.Errorf("free %d: unlink spill file: %w", idx, err)
		}
		s.state &^= flagOnDisk
		m.nondisk--

	case s.state&flagMapped != 0:
		if err := unix.Munmap(s.base); err != nil {
			return fmt.Errorf("free %d: munmap: %w", idx, err)
		}
		s.base = nil
		s.state &^= flagMapped
		m.nmapped--
		if !m.pressured {
			m.nfree++
		}
	}

	m.t.release(idx)
	return nil
}

// Ptr returns the byte slice backing addr, starting at its offset and
// running to the end of the page. It returns an error if the slot at
// addr.Idx is outside the table's window or not MAPPED; addr.Off is not
// checked beyond the slice bounds — a bad offset is a programmer error in
// the I/O loop.
func (m *Manager) Ptr(addr Addr) ([]byte, error) {
	s := m.t.peek(addr.Idx)
	if s == nil || s.state&flagMapped == 0 {
		return nil, fmt.Errorf("ptr %s: page not mapped", addr)
	}
	return s.base[addr.Off:], nil
}

func (m *Manager) releaseHeadroom() {
	m.headroom = nil
}
