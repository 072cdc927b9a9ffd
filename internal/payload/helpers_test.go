package payload

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// localHeaderSize is the fixed part of a zip local file header.
const localHeaderSize = 30

// testEntry describes one entry written by writeArchive.
type testEntry struct {
	// name is the entry path inside the archive.
	name string
	// extra is the raw extra field stored with the entry.
	extra []byte
	// data is the entry contents.
	data []byte
	// deflate compresses the entry instead of storing it.
	deflate bool
}

// writeArchive writes a zip file preceded by prefix filler bytes and returns its path
// together with the local header offset of every stored entry. Offsets are only
// tracked up to the first deflated entry; later ones are reported as -1.
func writeArchive(t *testing.T, prefix int, entries ...testEntry) (string, []int64) {
	t.Helper()

	var buf bytes.Buffer

	buf.Write(bytes.Repeat([]byte{0xa5}, prefix))

	w := zip.NewWriter(&buf)
	w.SetOffset(int64(prefix))

	var (
		offsets = make([]int64, 0, len(entries))
		cursor  = int64(prefix)
	)

	for _, e := range entries {
		if e.deflate {
			offsets = append(offsets, -1)
			cursor = -1

			fw, err := w.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
			require.NoError(t, err)

			_, err = fw.Write(e.data)
			require.NoError(t, err)

			continue
		}

		offsets = append(offsets, cursor)
		if cursor >= 0 {
			cursor += localHeaderSize + int64(len(e.name)) + int64(len(e.extra)) + int64(len(e.data))
		}

		fw, err := w.CreateRaw(&zip.FileHeader{
			Name:               e.name,
			Method:             zip.Store,
			Extra:              e.extra,
			CRC32:              crc32.ChecksumIEEE(e.data),
			CompressedSize64:   uint64(len(e.data)),
			UncompressedSize64: uint64(len(e.data)),
		})
		require.NoError(t, err)

		_, err = fw.Write(e.data)
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "update.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path, offsets
}

// alignmentExtra builds a zipalign style extra field of the given total length.
func alignmentExtra(total int) []byte {
	extra := make([]byte, total)
	binary.LittleEndian.PutUint16(extra[0:], 0xd935)
	binary.LittleEndian.PutUint16(extra[2:], uint16(total-4))
	binary.LittleEndian.PutUint16(extra[4:], 4096)

	return extra
}

// writeSkewedArchive hand-builds a single-entry stored archive whose local header
// carries localExtra while the central directory records no extra field, the way
// zipalign pads entries. It returns the archive path.
func writeSkewedArchive(t *testing.T, name string, localExtra, data []byte) string {
	t.Helper()

	le := binary.LittleEndian
	crc := crc32.ChecksumIEEE(data)

	var raw []byte

	// Local file header.
	raw = le.AppendUint32(raw, 0x04034b50)
	raw = le.AppendUint16(raw, 10) // version needed
	raw = le.AppendUint16(raw, 0)  // flags
	raw = le.AppendUint16(raw, zip.Store)
	raw = le.AppendUint16(raw, 0) // mod time
	raw = le.AppendUint16(raw, 0) // mod date
	raw = le.AppendUint32(raw, crc)
	raw = le.AppendUint32(raw, uint32(len(data)))
	raw = le.AppendUint32(raw, uint32(len(data)))
	raw = le.AppendUint16(raw, uint16(len(name)))
	raw = le.AppendUint16(raw, uint16(len(localExtra)))
	raw = append(raw, name...)
	raw = append(raw, localExtra...)
	raw = append(raw, data...)

	directoryOffset := len(raw)

	// Central directory header without an extra field.
	raw = le.AppendUint32(raw, 0x02014b50)
	raw = le.AppendUint16(raw, 20) // version made by
	raw = le.AppendUint16(raw, 10) // version needed
	raw = le.AppendUint16(raw, 0)  // flags
	raw = le.AppendUint16(raw, zip.Store)
	raw = le.AppendUint16(raw, 0) // mod time
	raw = le.AppendUint16(raw, 0) // mod date
	raw = le.AppendUint32(raw, crc)
	raw = le.AppendUint32(raw, uint32(len(data)))
	raw = le.AppendUint32(raw, uint32(len(data)))
	raw = le.AppendUint16(raw, uint16(len(name)))
	raw = le.AppendUint16(raw, 0) // extra length
	raw = le.AppendUint16(raw, 0) // comment length
	raw = le.AppendUint16(raw, 0) // disk number
	raw = le.AppendUint16(raw, 0) // internal attributes
	raw = le.AppendUint32(raw, 0) // external attributes
	raw = le.AppendUint32(raw, 0) // local header offset
	raw = append(raw, name...)

	directorySize := len(raw) - directoryOffset

	// End of central directory.
	raw = le.AppendUint32(raw, 0x06054b50)
	raw = le.AppendUint16(raw, 0)
	raw = le.AppendUint16(raw, 0)
	raw = le.AppendUint16(raw, 1)
	raw = le.AppendUint16(raw, 1)
	raw = le.AppendUint32(raw, uint32(directorySize))
	raw = le.AppendUint32(raw, uint32(directoryOffset))
	raw = le.AppendUint16(raw, 0)

	path := filepath.Join(t.TempDir(), "aligned.zip")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	return path
}
