// Package packager implements DeterministicPackager: byte-for-byte
// reproducible ZIP archives for Evidence Bundle export.
//
// Built on archive/zip from the standard library. No example repo in the
// pack ships a ZIP library that beats the stdlib writer for this: the
// determinism requirement (fixed mtime, fixed mode, forced DEFLATE,
// sorted entries, empty comment) is achieved entirely through how
// archive/zip.Writer is driven, not through anything a third-party
// archiver would add.
package packager

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// Entry is one file to place in the archive at a bundle-relative path.
type Entry struct {
	Path  string
	Bytes []byte
	IsDir bool
}

// epoch is the fixed mtime every entry carries when determinism is
// enabled
var epoch = time.Unix(0, 0).UTC()

// WriteDeterministic packs entries into a ZIP archive with sorted paths,
// epoch mtimes, fixed modes (0644 files / 0755 dirs), forced DEFLATE
// level 9, and an empty archive comment.
func WriteDeterministic(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, e := range sorted {
		path := e.Path
		var mode os.FileMode
		if e.IsDir {
			mode = 0o755 | os.ModeDir
			if len(path) == 0 || path[len(path)-1] != '/' {
				path += "/"
			}
		} else {
			mode = 0o644
		}

		header := &zip.FileHeader{
			Name:     path,
			Method:   zip.Deflate,
			Modified: epoch,
		}
		header.SetMode(mode)

		fw, err := w.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("packager: create entry %s: %w", path, err)
		}
		if !e.IsDir {
			if _, err := fw.Write(e.Bytes); err != nil {
				return nil, fmt.Errorf("packager: write entry %s: %w", path, err)
			}
		}
	}

	w.SetComment("")
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("packager: close archive: %w", err)
	}
	return buf.Bytes(), nil
}
