package model

import (
	"strings"

	"golang.org/x/exp/maps"
	xslices "golang.org/x/exp/slices"

	"github.com/jillesme/bigrig/container"
)

// LevelOfDetail orders memory dump granularities: unspecified < light <
// detailed.
type LevelOfDetail uint8

const (
	LevelUnspecified LevelOfDetail = iota
	LevelLight
	LevelDetailed
)

// LevelFromString maps the wire value of args.dumps.level_of_detail.
func LevelFromString(s string) (LevelOfDetail, bool) {
	switch s {
	case "":
		return LevelUnspecified, true
	case "light":
		return LevelLight, true
	case "detailed":
		return LevelDetailed, true
	default:
		return LevelUnspecified, false
	}
}

func (l LevelOfDetail) String() string {
	switch l {
	case LevelLight:
		return "light"
	case LevelDetailed:
		return "detailed"
	default:
		return "unspecified"
	}
}

// MemoryDumpContainer is the common surface of global and per-process dumps
// that allocator dumps attach to.
type MemoryDumpContainer interface {
	AllocatorDump(fullName string) (*MemoryAllocatorDump, bool)
	AttachAllocatorDump(d *MemoryAllocatorDump)
	AllocatorDumpNames() []string
	RootAllocatorDumps() []*MemoryAllocatorDump
	ContainerName() string
}

// allocatorDumpIndex implements the dump-by-name index shared by both
// containers.
type allocatorDumpIndex struct {
	byFullName map[string]*MemoryAllocatorDump
	roots      []*MemoryAllocatorDump
}

func (x *allocatorDumpIndex) AllocatorDump(fullName string) (*MemoryAllocatorDump, bool) {
	d, ok := x.byFullName[fullName]
	return d, ok
}

func (x *allocatorDumpIndex) AttachAllocatorDump(d *MemoryAllocatorDump) {
	if x.byFullName == nil {
		x.byFullName = make(map[string]*MemoryAllocatorDump)
	}
	x.byFullName[d.FullName] = d
	if !strings.Contains(d.FullName, "/") {
		x.roots = append(x.roots, d)
	}
}

func (x *allocatorDumpIndex) AllocatorDumpNames() []string {
	names := maps.Keys(x.byFullName)
	xslices.Sort(names)
	return names
}

func (x *allocatorDumpIndex) RootAllocatorDumps() []*MemoryAllocatorDump {
	return x.roots
}

// GlobalMemoryDump spans the time range covering all of its contributing
// process dumps.
type GlobalMemoryDump struct {
	allocatorDumpIndex

	Start    float64
	Duration float64

	LevelOfDetail LevelOfDetail

	ProcessDumps []*ProcessMemoryDump
}

func (g *GlobalMemoryDump) ContainerName() string { return "global" }

func (g *GlobalMemoryDump) End() float64 { return g.Start + g.Duration }

// ProcessMemoryDump is one process's contribution to a global dump.
type ProcessMemoryDump struct {
	allocatorDumpIndex

	GlobalDump *GlobalMemoryDump
	Process    *Process
	Start      float64

	LevelOfDetail LevelOfDetail

	Totals    *ProcessTotals
	VMRegions []*VMRegion
	HeapDumps map[string]*HeapDump
}

func (p *ProcessMemoryDump) ContainerName() string {
	return "process " + p.Process.Name
}

// ProcessTotals are the resident-set totals of one process dump.
type ProcessTotals struct {
	ResidentBytes                  uint64
	PeakResidentBytes              container.Option[uint64]
	ArePeakResidentBytesResettable bool
}

// VMRegion protection flag bits.
const (
	VMRegionProtectionRead    = 1 << 2
	VMRegionProtectionWrite   = 1 << 1
	VMRegionProtectionExecute = 1 << 0
)

// VMRegion is one mapped memory range of a process.
type VMRegion struct {
	StartAddress    uint64
	SizeInBytes     uint64
	ProtectionFlags uint32
	MappedFile      string
	ByteStats       VMRegionByteStats
}

// VMRegionByteStats breaks a region's bytes down by sharing and residency.
type VMRegionByteStats struct {
	PrivateCleanResident uint64
	PrivateDirtyResident uint64
	SharedCleanResident  uint64
	SharedDirtyResident  uint64
	ProportionalResident uint64
	Swapped              uint64
}

// MemoryAllocatorDump is a node in a container's '/'-named allocator tree.
type MemoryAllocatorDump struct {
	Container MemoryDumpContainer
	FullName  string
	GUID      string

	Parent   *MemoryAllocatorDump
	Children []*MemoryAllocatorDump

	Attributes map[string]*DumpAttribute

	// Owns is the single ownership edge allowed per source.
	Owns    *MemoryAllocatorLink
	OwnedBy []*MemoryAllocatorLink

	Retains    []*MemoryAllocatorLink
	RetainedBy []*MemoryAllocatorLink
}

// Name is the last segment of the dump's full name.
func (d *MemoryAllocatorDump) Name() string {
	if i := strings.LastIndex(d.FullName, "/"); i >= 0 {
		return d.FullName[i+1:]
	}
	return d.FullName
}

// DumpAttribute is one typed attribute value of an allocator dump.
type DumpAttribute struct {
	Type  string
	Units string
	Value any
}

// MemoryAllocatorLink is an ownership or retention edge between two
// allocator dumps.
type MemoryAllocatorLink struct {
	Source     *MemoryAllocatorDump
	Target     *MemoryAllocatorDump
	Importance int
}

// HeapDump is an allocator's heap profile within a process dump.
type HeapDump struct {
	ProcessDump   *ProcessMemoryDump
	AllocatorName string
	Entries       []*HeapEntry
}

// HeapEntry attributes a byte count to a leaf stack frame.
type HeapEntry struct {
	LeafFrame *StackFrame
	Size      uint64
}
