// Package memreader is the narrow adapter over the external out-of-band
// memory transport (an FPGA-backed VMM or a flat physical-memory dump file).
// It is the one place in the module that names a transport backend; every
// other package consumes the Reader interface only, the way pe's callers
// never reach past Image into a file handle.
package memreader

import (
	"sync"

	"github.com/memcore-dev/memcore/coreerr"
)

// ProcessInfo describes one process as enumerated by the transport.
type ProcessInfo struct {
	PID         uint32
	PPID        uint32
	Name        string
	Path        string
	BaseAddress uint64
	Is64Bit     bool
}

// ModuleInfo describes one loaded module.
type ModuleInfo struct {
	Name        string
	Path        string
	BaseAddress uint64
	EntryPoint  uint64
	Size        uint32
	Is64Bit     bool
}

// MemoryRegion describes one mapped region of a process's address space.
type MemoryRegion struct {
	BaseAddress uint64
	Size        uint64
	Protection  string
	Type        string
}

// Reader is the uniform memory access contract every analysis subsystem is
// written against. No subsystem above this package ever imports a concrete
// backend.
type Reader interface {
	// Read returns up to n bytes starting at va in pid's address space. It
	// returns an empty slice (never an error) on any failure: wrong pid,
	// unmapped page, transport error. Callers treat len(result) as
	// authoritative, not success/failure.
	Read(pid uint32, va uint64, n uint32) []byte

	// Write is all-or-nothing from the caller's point of view.
	Write(pid uint32, va uint64, data []byte) bool

	// Translate resolves va to a physical address, when the transport
	// supports it.
	Translate(pid uint32, va uint64) (phys uint64, ok bool)

	ListProcesses() ([]ProcessInfo, error)
	ListModules(pid uint32) ([]ModuleInfo, error)
	ListRegions(pid uint32) ([]MemoryRegion, error)
	ReadPhysical(pa uint64, n uint32) []byte
}

// Config selects and configures a backend. Exactly one of VMM or DumpPath
// should be set.
type Config struct {
	// VMM, when non-nil, is used directly as the transport (dependency
	// injection point for the FPGA-backed backend and for tests).
	VMM VMM

	// DumpPath, when VMM is nil, opens a flat physical-memory dump file
	// through DumpReader.
	DumpPath string
}

// Session owns the opened backend for the lifetime of a connection. It is a
// scoped resource exactly like pe's former file.go open/close pair:
// acquired once, released on Close, guaranteed released on every exit path
// including a failed Open. Each Open call builds an independent Session;
// Open does not detect or refuse a second Open of a backend that another
// Session already holds.
type Session struct {
	mu     sync.Mutex
	reader Reader
	closer func() error
	open   bool
}

// Open acquires the backend named by cfg. On any failure, whatever was
// partially acquired is released before Open returns.
func Open(cfg Config) (s *Session, err error) {
	s = &Session{}
	defer func() {
		if err != nil && s != nil && s.open {
			_ = s.Close()
			s = nil
		}
	}()

	switch {
	case cfg.VMM != nil:
		s.reader = &VMMReader{vmm: cfg.VMM}
		s.closer = cfg.VMM.Close
		s.open = true
	case cfg.DumpPath != "":
		dr, oerr := OpenDumpReader(cfg.DumpPath)
		if oerr != nil {
			return nil, coreerr.Wrap(coreerr.Transport, "memreader.Open", "dump_path", oerr)
		}
		s.reader = dr
		s.closer = dr.Close
		s.open = true
	default:
		return nil, coreerr.New(coreerr.InvalidInput, "memreader.Open", "config")
	}

	return s, nil
}

// Reader returns the Session's underlying Reader. Valid only while the
// Session is open.
func (s *Session) Reader() Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

// Close releases the backend. A second Open after Close is legal and
// acquires a fresh backend; calling Close twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
