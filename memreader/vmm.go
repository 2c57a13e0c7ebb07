package memreader

// VMM is the external virtual-memory-manager transport: an FPGA-backed DMA
// connection in production, or a fake in tests. It is intentionally the
// only interface in the module shaped around a live, stateful hardware
// handle; VMMReader is the single adapter that names it.
type VMM interface {
	Read(pid uint32, va uint64, n uint32) []byte
	Write(pid uint32, va uint64, data []byte) bool
	Translate(pid uint32, va uint64) (phys uint64, ok bool)
	ListProcesses() ([]ProcessInfo, error)
	ListModules(pid uint32) ([]ModuleInfo, error)
	ListRegions(pid uint32) ([]MemoryRegion, error)
	ReadPhysical(pa uint64, n uint32) []byte
	Close() error
}

// VMMReader adapts a VMM handle to the Reader contract. It holds no state
// of its own beyond the handle: every method is a direct pass-through, kept
// as its own type (rather than having VMM satisfy Reader directly) so the
// rest of the module never imports the VMM interface.
type VMMReader struct {
	vmm VMM
}

// NewVMMReader wraps an already-connected VMM handle.
func NewVMMReader(vmm VMM) *VMMReader { return &VMMReader{vmm: vmm} }

func (r *VMMReader) Read(pid uint32, va uint64, n uint32) []byte {
	return r.vmm.Read(pid, va, n)
}

func (r *VMMReader) Write(pid uint32, va uint64, data []byte) bool {
	return r.vmm.Write(pid, va, data)
}

func (r *VMMReader) Translate(pid uint32, va uint64) (uint64, bool) {
	return r.vmm.Translate(pid, va)
}

func (r *VMMReader) ListProcesses() ([]ProcessInfo, error) { return r.vmm.ListProcesses() }

func (r *VMMReader) ListModules(pid uint32) ([]ModuleInfo, error) { return r.vmm.ListModules(pid) }

func (r *VMMReader) ListRegions(pid uint32) ([]MemoryRegion, error) { return r.vmm.ListRegions(pid) }

func (r *VMMReader) ReadPhysical(pa uint64, n uint32) []byte { return r.vmm.ReadPhysical(pa, n) }
