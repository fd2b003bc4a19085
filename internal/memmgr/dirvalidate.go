package memmgr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ValidateMappedFileDir checks that path exists, is a directory, and is
// writable. It is ported from the teacher's CheckDirectoryWritable, rewired
// onto afero.Fs so the check can run against an in-memory filesystem in
// tests instead of touching disk. Reconfiguring onto a missing or
// non-directory path is rejected rather than repaired: operators are
// expected to provision mapped_file_dir themselves.
//
// Note: when memmgrd runs as root the write probe below always succeeds
// regardless of the directory's actual permission bits, so this check
// cannot catch a misconfigured mapped_file_dir in that case. The teacher's
// own CheckDirectoryWritable has the same gap; we do not attempt to solve
// it here (e.g. by inspecting mode bits or dropping capabilities).
func ValidateMappedFileDir(fs afero.Fs, path string) error {
	if path == "" {
		return fmt.Errorf("mapped_file_dir cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	info, err := fs.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mapped_file_dir %s does not exist: not a directory", absPath)
		}
		return fmt.Errorf("cannot access mapped_file_dir %s: %w", absPath, err)
	} else if !info.IsDir() {
		return fmt.Errorf("mapped_file_dir %s exists but is not a directory", absPath)
	}

	testFile := filepath.Join(absPath, ".memmgrd-write-test")
	if err := afero.WriteFile(fs, testFile, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("mapped_file_dir %s is not writable: %w", absPath, err)
	}
	_ = fs.Remove(testFile)

	return nil
}

// SegmentPath derives the mapped-file path for one segment under root,
// namespaced by generation so successive generations never collide.
func SegmentPath(root string, generation Generation, class, datasrcName string) string {
	return filepath.Join(root, fmt.Sprintf("gen-%d", generation), class, datasrcName+".mapped")
}
