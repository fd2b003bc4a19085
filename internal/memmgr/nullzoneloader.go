package memmgr

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
)

// NullZoneLoader is a ZoneLoader that touches the mapped-file path but
// never actually parses zone data. It exists so memmgrd can be run and
// exercised end to end (startup, builder round-trips, reader hand-off)
// without a real zone parser wired in, since zone parsing is out of
// scope. Production deployments inject a real ZoneLoader instead.
type NullZoneLoader struct {
	fs afero.Fs
}

// NewNullZoneLoader returns a ZoneLoader backed by fs. If fs is nil, the
// real OS filesystem is used.
func NewNullZoneLoader(fs afero.Fs) *NullZoneLoader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &NullZoneLoader{fs: fs}
}

func (l *NullZoneLoader) LoadZone(ctx context.Context, class, datasrcName, origin, path string) error {
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(l.fs, path, []byte{}, 0o644)
}

func (l *NullZoneLoader) ValidateSegment(ctx context.Context, path string) error {
	_, err := l.fs.Stat(path)
	return err
}
