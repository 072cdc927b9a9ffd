package payload

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/ota-installer/internal/domain/ota"
)

// errNegativeOffset is returned when the archive reports an impossible data offset.
var errNegativeOffset = errors.New("negative data offset")

// Locate returns where the data of entryName starts inside the archive at path.
//
// The offset is the entry's local header offset plus the fixed local header size
// plus the file name and extra field lengths read from the local header itself;
// the central directory copy of the extra field may differ and is not used.
// Every failure wraps ota.ErrLocate together with its cause.
func Locate(path, entryName string) (ota.Location, error) {
	archive, err := openArchive(path)
	if err != nil {
		return ota.Location{}, fmt.Errorf("%w: %w", ota.ErrLocate, err)
	}

	defer func() {
		_ = archive.Close()
	}()

	entry := archive.find(entryName)
	if entry == nil {
		return ota.Location{}, fmt.Errorf("%w: %s: %w", ota.ErrLocate, entryName, ota.ErrEntryNotFound)
	}

	// DataOffset reads the local file header at the recorded header offset.
	offset, err := entry.DataOffset()
	if err != nil {
		return ota.Location{}, fmt.Errorf("%w: read local header of %s: %w", ota.ErrLocate, entryName, err)
	}

	if offset < 0 {
		return ota.Location{}, fmt.Errorf("%w: %s: %w", ota.ErrLocate, entryName, errNegativeOffset)
	}

	return ota.Location{
		Offset: uint64(offset),
		Size:   entry.UncompressedSize64,
		Method: entry.Method,
	}, nil
}

// Stored reports whether the located data is uncompressed and can be read in place.
func Stored(location ota.Location) bool {
	return location.Method == zip.Store
}

// archiveFile couples the zip reader with the file it reads from.
type archiveFile struct {
	*zip.Reader

	file *os.File
}

// openArchive opens the file read-only and parses its central directory.
// The file is closed again if parsing fails.
func openArchive(path string) (*archiveFile, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("stat archive: %w", err)
	}

	reader, err := zip.NewReader(file, info.Size())
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("read central directory: %w", err)
	}

	return &archiveFile{
		Reader: reader,
		file:   file,
	}, nil
}

// find returns the first entry with the exact name or nil.
func (a *archiveFile) find(name string) *zip.File {
	for _, entry := range a.File {
		if entry.Name == name {
			return entry
		}
	}

	return nil
}

// Close releases the underlying file.
func (a *archiveFile) Close() error {
	return a.file.Close()
}
