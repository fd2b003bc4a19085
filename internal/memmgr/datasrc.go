package memmgr

// Generation is a monotonically increasing identifier assigned to each
// successive data-source-clients configuration. It never changes once a
// DataSrcInfo is constructed (invariant I5).
type Generation int64

// SegmentKey identifies one SegmentInfo within a DataSrcInfo.
type SegmentKey struct {
	Class       string
	DatasrcName string
}

// DatasrcClassConfig is a snapshot of one generation's data-source-clients
// configuration: for each DNS class, the set of configured data sources and
// whether each has shared-memory caching enabled. Only caching-enabled
// entries get a SegmentInfo; the rest are served directly by the data
// source and never touch the builder.
type DatasrcClassConfig map[string]map[string]bool

// DataSrcInfo groups every SegmentInfo that belongs to one generation of
// data-source-clients configuration.
type DataSrcInfo struct {
	generation Generation
	segments   map[SegmentKey]*SegmentInfo
}

// ResetParamFunc computes the initial reset parameters for a segment about
// to be created, typically derived from the configured mapped_file_dir.
type ResetParamFunc func(generation Generation, class, datasrcName string) SegmentParams

// NewDataSrcInfo builds a DataSrcInfo for one generation, creating a
// SegmentInfo for every class/datasrc pair with caching enabled.
func NewDataSrcInfo(generation Generation, cfg DatasrcClassConfig, resetParam ResetParamFunc) *DataSrcInfo {
	segments := make(map[SegmentKey]*SegmentInfo)
	for class, datasrcs := range cfg {
		for name, cachingEnabled := range datasrcs {
			if !cachingEnabled {
				continue
			}
			key := SegmentKey{Class: class, DatasrcName: name}
			segments[key] = NewSegmentInfo(generation, class, name, resetParam(generation, class, name))
		}
	}
	return &DataSrcInfo{generation: generation, segments: segments}
}

// GenerationID returns the generation this DataSrcInfo was constructed for.
func (d *DataSrcInfo) GenerationID() Generation { return d.generation }

// Segment looks up the SegmentInfo for a class/datasrc pair.
func (d *DataSrcInfo) Segment(class, datasrcName string) (*SegmentInfo, bool) {
	seg, ok := d.segments[SegmentKey{Class: class, DatasrcName: datasrcName}]
	return seg, ok
}

// Segments returns every SegmentInfo in this generation.
func (d *DataSrcInfo) Segments() map[SegmentKey]*SegmentInfo { return d.segments }

// AllReaders returns the union, across every segment in this generation, of
// readers still holding either a current or an old segment version. It is
// computed on demand rather than tracked separately, so it can never drift
// out of sync with the underlying segments.
func (d *DataSrcInfo) AllReaders() map[string]struct{} {
	all := make(map[string]struct{})
	for _, seg := range d.segments {
		for r := range seg.CurrentReaders() {
			all[r] = struct{}{}
		}
		for r := range seg.OldReaders() {
			all[r] = struct{}{}
		}
	}
	return all
}

// Cancel removes reader from every segment in this generation. Used when a
// superseded generation's builder cancel has been acknowledged and readers
// are releasing it one by one; any copy-phase follow-up commands returned
// by the segments are discarded, since a cancelled generation's builder
// work is already moot.
func (d *DataSrcInfo) Cancel(reader string) {
	for _, seg := range d.segments {
		seg.RemoveReader(reader)
	}
}

// Stats aggregates per-segment diagnostics for this generation.
func (d *DataSrcInfo) Stats() []SegmentStats {
	stats := make([]SegmentStats, 0, len(d.segments))
	for _, seg := range d.segments {
		stats = append(stats, seg.Stats())
	}
	return stats
}
