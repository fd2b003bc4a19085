package memmgr

import (
	"context"
	"fmt"
)

// ZoneLoader is the out-of-scope collaborator that actually parses zone
// files and writes shared-memory segment images. memmgrd never touches
// zone data; ReferenceBuilder exists only to give BuilderWorker a
// SegmentBuilder it can call end-to-end, for wiring and for tests that
// want something more realistic than a hand-rolled fake.
type ZoneLoader interface {
	// LoadZone writes origin (or, if origin is empty, every zone in
	// datasrcName) into the mapped file at path.
	LoadZone(ctx context.Context, class, datasrcName, origin, path string) error

	// ValidateSegment checks that the mapped file at path is structurally
	// usable without necessarily reloading its contents.
	ValidateSegment(ctx context.Context, path string) error
}

// ReferenceBuilder adapts a ZoneLoader to the SegmentBuilder contract.
// It resolves each command's segment path itself (DataSrcInfo only knows
// SegmentInfo, not the filesystem layout) via a PathResolver, so swapping
// in a different on-disk layout never touches the coordinator.
type ReferenceBuilder struct {
	loader   ZoneLoader
	resolver PathResolver
}

// PathResolver derives the on-disk mapped-file path for one segment.
type PathResolver func(generation Generation, class, datasrcName string) string

// NewReferenceBuilder wires a ZoneLoader into the SegmentBuilder contract.
// If resolver is nil, SegmentPath rooted at mappedFileDir is used.
func NewReferenceBuilder(loader ZoneLoader, mappedFileDir string, resolver PathResolver) *ReferenceBuilder {
	if resolver == nil {
		resolver = func(generation Generation, class, datasrcName string) string {
			return SegmentPath(mappedFileDir, generation, class, datasrcName)
		}
	}
	return &ReferenceBuilder{loader: loader, resolver: resolver}
}

func (b *ReferenceBuilder) Validate(ctx context.Context, dsi *DataSrcInfo, class, datasrcName, action string) error {
	path := b.resolver(dsi.GenerationID(), class, datasrcName)
	if err := b.loader.ValidateSegment(ctx, path); err != nil {
		return fmt.Errorf("validating %s/%s (%s): %w", class, datasrcName, action, err)
	}
	return nil
}

func (b *ReferenceBuilder) Load(ctx context.Context, dsi *DataSrcInfo, class, datasrcName, origin string) error {
	path := b.resolver(dsi.GenerationID(), class, datasrcName)
	if err := b.loader.LoadZone(ctx, class, datasrcName, origin, path); err != nil {
		return fmt.Errorf("loading %s/%s: %w", class, datasrcName, err)
	}
	return nil
}

func (b *ReferenceBuilder) Copy(ctx context.Context, dsi *DataSrcInfo, class, datasrcName string) error {
	path := b.resolver(dsi.GenerationID(), class, datasrcName)
	return b.loader.ValidateSegment(ctx, path)
}

func (b *ReferenceBuilder) Cancel(ctx context.Context, dsi *DataSrcInfo) error {
	return nil
}
