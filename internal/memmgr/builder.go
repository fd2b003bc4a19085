package memmgr

import "context"

// SegmentBuilder performs the out-of-scope I/O behind a builder command: a
// real implementation parses zone files and writes shared-memory segment
// images. The coordinator only ever calls this interface; it never touches
// zone data itself.
type SegmentBuilder interface {
	// Validate checks that the segment's mapped file at the given action
	// slot ("primary" or "secondary") is structurally usable.
	Validate(ctx context.Context, dsi *DataSrcInfo, class, datasrcName, action string) error

	// Load (re)builds the segment from zone data. origin is empty to mean
	// "every zone in this data source".
	Load(ctx context.Context, dsi *DataSrcInfo, class, datasrcName, origin string) error

	// Copy finalizes the segment once every reader holding the previous
	// version has synced off it.
	Copy(ctx context.Context, dsi *DataSrcInfo, class, datasrcName string) error

	// Cancel abandons all in-flight and future work for a superseded
	// generation.
	Cancel(ctx context.Context, dsi *DataSrcInfo) error
}
