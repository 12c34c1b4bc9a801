package importer

import (
	"fmt"
	"strings"

	"github.com/jillesme/bigrig/container"
	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/model"
)

// rawMemoryEdge is one allocators_graph entry, kept by GUID until every
// allocator dump of the group is registered.
type rawMemoryEdge struct {
	source     string
	target     string
	kind       string
	importance int
}

// createMemoryDumps assembles one global dump per dump id, in the order the
// ids were first seen.
func (i *Importer) createMemoryDumps() {
	for _, id := range i.memoryDumpIDs {
		i.assembleMemoryDump(id, i.memoryDumps[id])
	}
}

func (i *Importer) assembleMemoryDump(id string, g *memoryDumpGroup) {
	if g.global == nil {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf(
			"Process memory dumps with id %s have no global dump event.", id))
		return
	}

	min, max := ms(g.global.Ts), ms(g.global.Ts)
	for _, ev := range g.processes {
		ts := ms(ev.Ts)
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	gmd := &model.GlobalMemoryDump{Start: min, Duration: max - min}

	guids := make(map[string]*model.MemoryAllocatorDump)
	seenPids := container.NewSet[int64]()
	var edges []rawMemoryEdge
	for _, ev := range g.processes {
		if seenPids.Contains(ev.Pid) {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"Duplicate process memory dump for pid %d in dump id %s.", ev.Pid, id))
			continue
		}
		seenPids.Add(ev.Pid)
		pmd, pmdEdges := i.assembleProcessMemoryDump(gmd, guids, ev, id)
		gmd.ProcessDumps = append(gmd.ProcessDumps, pmd)
		edges = append(edges, pmdEdges...)
	}

	level := model.LevelUnspecified
	differ := false
	for _, pmd := range gmd.ProcessDumps {
		if pmd.LevelOfDetail != gmd.ProcessDumps[0].LevelOfDetail {
			differ = true
		}
		if pmd.LevelOfDetail > level {
			level = pmd.LevelOfDetail
		}
	}
	if differ {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf(
			"Process memory dumps of id %s have differing levels of detail.", id))
	}
	gmd.LevelOfDetail = level

	buildAllocatorTree(gmd)
	for _, pmd := range gmd.ProcessDumps {
		buildAllocatorTree(pmd)
	}
	i.applyMemoryEdges(guids, edges)

	i.model.GlobalMemoryDumps = append(i.model.GlobalMemoryDumps, gmd)
}

func (i *Importer) assembleProcessMemoryDump(gmd *model.GlobalMemoryDump, guids map[string]*model.MemoryAllocatorDump, ev *trace.Event, id string) (*model.ProcessMemoryDump, []rawMemoryEdge) {
	p := i.process(ev)
	pmd := &model.ProcessMemoryDump{
		GlobalDump: gmd,
		Process:    p,
		Start:      ms(ev.Ts),
	}
	p.MemoryDumps = append(p.MemoryDumps, pmd)

	dumps, ok := asMap(ev.Args.Map["dumps"])
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf(
			"Process memory dump for pid %d in dump id %s has no dumps argument.", ev.Pid, id))
		return pmd, nil
	}

	if lodAny, ok := dumps["level_of_detail"]; ok {
		s, _ := asString(lodAny)
		lod, valid := model.LevelFromString(s)
		if !valid {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Unknown level of detail %q in dump id %s.", s, id))
		} else {
			pmd.LevelOfDetail = lod
		}
	}

	if totAny, ok := dumps["process_totals"]; ok {
		pmd.Totals = i.parseProcessTotals(totAny, ev.Pid, id)
	}
	if mmapsAny, ok := dumps["process_mmaps"]; ok {
		i.parseVMRegions(pmd, mmapsAny, id)
	}
	if framesAny, ok := dumps["stackFrames"]; ok {
		i.importProcessStackFrames(ev.Pid, framesAny)
	}
	if allocAny, ok := dumps["allocators"]; ok {
		allocs, isMap := asMap(allocAny)
		if !isMap {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed allocators in dump id %s.", id))
		} else {
			for _, fullName := range sortedKeys(allocs) {
				i.registerAllocatorDump(gmd, pmd, guids, fullName, allocs[fullName], id)
			}
		}
	}

	var edges []rawMemoryEdge
	if graphAny, ok := dumps["allocators_graph"]; ok {
		edges = i.parseAllocatorGraph(graphAny, id)
	}
	if heapsAny, ok := dumps["heaps"]; ok {
		i.parseHeapDumps(pmd, ev.Pid, heapsAny, id)
	}
	return pmd, edges
}

func (i *Importer) parseProcessTotals(v any, pid int64, id string) *model.ProcessTotals {
	m, ok := asMap(v)
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed process_totals for pid %d in dump id %s.", pid, id))
		return nil
	}
	rb, ok := asHexUint(m["resident_set_bytes"])
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf(
			"Process totals for pid %d in dump id %s have no resident_set_bytes.", pid, id))
		return nil
	}
	tot := &model.ProcessTotals{ResidentBytes: rb}

	peak, hasPeak := asHexUint(m["peak_resident_set_bytes"])
	resettable, hasResettable := asBool(m["is_peak_rss_resetable"])
	if hasPeak != hasResettable {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf(
			"Process totals for pid %d in dump id %s have only one of peak_resident_set_bytes and is_peak_rss_resetable.", pid, id))
	}
	if hasPeak && hasResettable {
		tot.PeakResidentBytes = container.Some(peak)
		tot.ArePeakResidentBytesResettable = resettable
	}
	return tot
}

func (i *Importer) parseVMRegions(pmd *model.ProcessMemoryDump, v any, id string) {
	mm, ok := asMap(v)
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed process_mmaps in dump id %s.", id))
		return
	}
	regions, ok := asArray(mm["vm_regions"])
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("process_mmaps without vm_regions in dump id %s.", id))
		return
	}
	for _, rAny := range regions {
		r, ok := asMap(rAny)
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed vm region in dump id %s.", id))
			continue
		}
		sa, okSa := asHexUint(r["sa"])
		sz, okSz := asHexUint(r["sz"])
		if !okSa || !okSz {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"VM region without a start address or size in dump id %s.", id))
			continue
		}
		region := &model.VMRegion{
			StartAddress: sa,
			SizeInBytes:  sz,
		}
		if pf, ok := asInt64(r["pf"]); ok {
			region.ProtectionFlags = uint32(pf)
		}
		region.MappedFile, _ = asString(r["mf"])
		if bs, ok := asMap(r["bs"]); ok {
			region.ByteStats = model.VMRegionByteStats{
				PrivateCleanResident: hexOrZero(bs["pc"]),
				PrivateDirtyResident: hexOrZero(bs["pd"]),
				SharedCleanResident:  hexOrZero(bs["sc"]),
				SharedDirtyResident:  hexOrZero(bs["sd"]),
				ProportionalResident: hexOrZero(bs["pss"]),
				Swapped:              hexOrZero(bs["sw"]),
			}
		}
		pmd.VMRegions = append(pmd.VMRegions, region)
	}
}

// registerAllocatorDump adds or merges one raw allocator dump. A name
// prefixed global/ targets the global dump; GUIDs unify dumps reported by
// several processes.
func (i *Importer) registerAllocatorDump(gmd *model.GlobalMemoryDump, pmd *model.ProcessMemoryDump, guids map[string]*model.MemoryAllocatorDump, fullName string, rawAny any, id string) {
	raw, ok := asMap(rawAny)
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed allocator dump %s in dump id %s.", fullName, id))
		return
	}
	var cont model.MemoryDumpContainer = pmd
	name := fullName
	if strings.HasPrefix(fullName, "global/") {
		cont = gmd
		name = strings.TrimPrefix(fullName, "global/")
	}
	guid, _ := asString(raw["guid"])

	var d *model.MemoryAllocatorDump
	if guid != "" {
		if existing, ok := guids[guid]; ok {
			if existing.Container != cont {
				i.warn(WarnMemoryDumpParse, fmt.Sprintf(
					"Allocator dump guid %s appears in both %s and %s.",
					guid, existing.Container.ContainerName(), cont.ContainerName()))
				return
			}
			if existing.FullName != name {
				i.warn(WarnMemoryDumpParse, fmt.Sprintf(
					"Allocator dump guid %s is named both %s and %s.", guid, existing.FullName, name))
				return
			}
			d = existing
		}
	}
	if d == nil {
		if existing, ok := cont.AllocatorDump(name); ok {
			d = existing
		} else {
			d = &model.MemoryAllocatorDump{Container: cont, FullName: name}
			cont.AttachAllocatorDump(d)
		}
		if guid != "" && d.GUID == "" {
			d.GUID = guid
			guids[guid] = d
		}
	}

	attrs, ok := asMap(raw["attrs"])
	if !ok {
		return
	}
	if d.Attributes == nil {
		d.Attributes = make(map[string]*model.DumpAttribute)
	}
	for _, an := range sortedKeys(attrs) {
		am, ok := asMap(attrs[an])
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"Malformed attribute %s on allocator dump %s in dump id %s.", an, name, id))
			continue
		}
		if _, dup := d.Attributes[an]; dup {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"Duplicate attribute %s on allocator dump %s in dump id %s.", an, name, id))
			continue
		}
		typ, _ := asString(am["type"])
		units, _ := asString(am["units"])
		d.Attributes[an] = &model.DumpAttribute{Type: typ, Units: units, Value: am["value"]}
	}
}

// buildAllocatorTree links every dump of a container to its parent, creating
// implicit intermediate dumps for path segments no event reported.
func buildAllocatorTree(c model.MemoryDumpContainer) {
	for _, name := range c.AllocatorDumpNames() {
		d, _ := c.AllocatorDump(name)
		if d.Parent == nil && strings.Contains(d.FullName, "/") {
			ensureAllocatorParent(c, d)
		}
	}
}

func ensureAllocatorParent(c model.MemoryDumpContainer, d *model.MemoryAllocatorDump) {
	idx := strings.LastIndex(d.FullName, "/")
	if idx < 0 {
		return
	}
	parentName := d.FullName[:idx]
	parent, ok := c.AllocatorDump(parentName)
	if !ok {
		parent = &model.MemoryAllocatorDump{Container: c, FullName: parentName}
		c.AttachAllocatorDump(parent)
		ensureAllocatorParent(c, parent)
	}
	d.Parent = parent
	parent.Children = append(parent.Children, d)
}

func (i *Importer) parseAllocatorGraph(v any, id string) []rawMemoryEdge {
	entries, ok := asArray(v)
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed allocators_graph in dump id %s.", id))
		return nil
	}
	var edges []rawMemoryEdge
	for _, eAny := range entries {
		em, ok := asMap(eAny)
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed allocator edge in dump id %s.", id))
			continue
		}
		source, okSrc := asString(em["source"])
		target, okDst := asString(em["target"])
		if !okSrc || !okDst || source == "" || target == "" {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"Allocator edge without a source or target guid in dump id %s.", id))
			continue
		}
		kind, _ := asString(em["type"])
		importance, _ := asInt64(em["importance"])
		edges = append(edges, rawMemoryEdge{
			source:     source,
			target:     target,
			kind:       kind,
			importance: int(importance),
		})
	}
	return edges
}

func (i *Importer) applyMemoryEdges(guids map[string]*model.MemoryAllocatorDump, edges []rawMemoryEdge) {
	for _, e := range edges {
		src, ok := guids[e.source]
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Allocator edge from unknown guid %s.", e.source))
			continue
		}
		dst, ok := guids[e.target]
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Allocator edge to unknown guid %s.", e.target))
			continue
		}
		link := &model.MemoryAllocatorLink{Source: src, Target: dst, Importance: e.importance}
		switch e.kind {
		case "ownership":
			if src.Owns != nil {
				i.warn(WarnMemoryDumpParse, fmt.Sprintf(
					"Allocator dump %s already owns a dump, ignoring a second ownership edge.", src.FullName))
				continue
			}
			src.Owns = link
			dst.OwnedBy = append(dst.OwnedBy, link)
		case "retention":
			src.Retains = append(src.Retains, link)
			dst.RetainedBy = append(dst.RetainedBy, link)
		default:
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Unknown allocator edge type %q.", e.kind))
		}
	}
}

func (i *Importer) parseHeapDumps(pmd *model.ProcessMemoryDump, pid int64, v any, id string) {
	heaps, ok := asMap(v)
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed heaps in dump id %s.", id))
		return
	}
	prefix := fmt.Sprintf("p%d:", pid)
	for _, allocName := range sortedKeys(heaps) {
		hm, ok := asMap(heaps[allocName])
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"Malformed heap dump %s in dump id %s.", allocName, id))
			continue
		}
		entries, ok := asArray(hm["entries"])
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf(
				"Heap dump %s in dump id %s has no entries.", allocName, id))
			continue
		}
		hd := &model.HeapDump{ProcessDump: pmd, AllocatorName: allocName}
		for _, eAny := range entries {
			em, ok := asMap(eAny)
			if !ok {
				i.warn(WarnMemoryDumpParse, fmt.Sprintf(
					"Malformed heap entry in heap dump %s of dump id %s.", allocName, id))
				continue
			}
			size, ok := asHexUint(em["size"])
			if !ok {
				i.warn(WarnMemoryDumpParse, fmt.Sprintf(
					"Heap entry without a size in heap dump %s of dump id %s.", allocName, id))
				continue
			}
			var leaf *model.StackFrame
			if bt := idString(em["bt"]); bt != "" {
				f, ok := i.model.StackFrames[prefix+bt]
				if !ok {
					i.warn(WarnMemoryDumpParse, fmt.Sprintf(
						"Heap entry names unknown stack frame %s in dump id %s.", bt, id))
					continue
				}
				leaf = f
			}
			hd.Entries = append(hd.Entries, &model.HeapEntry{LeafFrame: leaf, Size: size})
		}
		if pmd.HeapDumps == nil {
			pmd.HeapDumps = make(map[string]*model.HeapDump)
		}
		pmd.HeapDumps[allocName] = hd
	}
}

// importProcessStackFrames registers the frame dictionary a dump event
// carries for its heap entries, scoped by the process prefix. Frames already
// registered by an earlier dump of the same process are kept as they are.
func (i *Importer) importProcessStackFrames(pid int64, rawAny any) {
	raw, ok := asMap(rawAny)
	if !ok {
		i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed stackFrames in a dump of pid %d.", pid))
		return
	}
	prefix := fmt.Sprintf("p%d:", pid)
	root, ok := i.model.StackFrames[prefix]
	if !ok {
		root = &model.StackFrame{ID: prefix, ColorID: model.StringColorID(prefix)}
		if err := i.model.AddStackFrame(root); err != nil {
			i.warn(WarnParse, err.Error())
			return
		}
	}

	ids := sortedKeys(raw)
	for _, id := range ids {
		if _, exists := i.model.StackFrames[prefix+id]; exists {
			continue
		}
		rec, ok := asMap(raw[id])
		if !ok {
			i.warn(WarnMemoryDumpParse, fmt.Sprintf("Malformed stack frame %s in a dump of pid %d.", id, pid))
			continue
		}
		title, _ := asString(rec["name"])
		if cat, ok := asString(rec["category"]); ok && cat != "" {
			title = cat + ":" + title
		}
		srcInfo, _ := asString(rec["src"])
		f := &model.StackFrame{
			ID:         prefix + id,
			Title:      title,
			ColorID:    model.StringColorID(title),
			SourceInfo: srcInfo,
		}
		if err := i.model.AddStackFrame(f); err != nil {
			i.warn(WarnParse, err.Error())
		}
	}
	for _, id := range ids {
		f, ok := i.model.StackFrames[prefix+id]
		if !ok || f.Parent != nil {
			continue
		}
		rec, ok := asMap(raw[id])
		if !ok {
			continue
		}
		parentID := idString(rec["parent"])
		if parentID == "" {
			f.Parent = root
			continue
		}
		parent, ok := i.model.StackFrames[prefix+parentID]
		if !ok {
			i.warn(WarnParse, fmt.Sprintf(
				"Missing parent frame %s for stack frame %s of pid %d.", parentID, id, pid))
			f.Parent = root
			continue
		}
		f.Parent = parent
	}
}
