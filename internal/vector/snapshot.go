package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/pkg/utils"
)

// Snapshot layout (little endian):
//
//	magic "YVIX" | version u16 | index id str | dimension u32 | next id u64 | count u64
//	count × (id u64 | dimension × f32 | source str | page u32 | order u32 | text str)
//	crc32 (IEEE) of everything before it
//
// where str is a u32 byte length followed by UTF-8 bytes.
const (
	snapshotMagic   = "YVIX"
	snapshotVersion = 2
)

var (
	// ErrSnapshotNotFound is returned by Load when no snapshot exists at the path.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrCorruptSnapshot is returned when a snapshot fails validation.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// writeSnapshot writes st to a temporary file next to path, syncs it and renames
// it over path, so a reader of path sees either the old or the new snapshot.
func writeSnapshot(path string, st *state) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create index dir: %v", models.ErrPersist, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", models.ErrPersist, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(encodeSnapshot(st)); err != nil {
		return fmt.Errorf("%w: write snapshot: %v", models.ErrPersist, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync snapshot: %v", models.ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close snapshot: %v", models.ErrPersist, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		committed = true
		return fmt.Errorf("%w: rename snapshot: %v", models.ErrPersist, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not all platforms support it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func encodeSnapshot(st *state) []byte {
	le := binary.LittleEndian
	size := 34 + len(st.id) + len(st.entries)*(8+4*st.dim+16)
	buf := make([]byte, 0, size)
	buf = append(buf, snapshotMagic...)
	buf = le.AppendUint16(buf, snapshotVersion)
	buf = appendString(buf, st.id)
	buf = le.AppendUint32(buf, uint32(st.dim))
	buf = le.AppendUint64(buf, st.nextID)
	buf = le.AppendUint64(buf, uint64(len(st.entries)))
	for _, e := range st.entries {
		buf = le.AppendUint64(buf, e.ID)
		for _, v := range e.Vector {
			buf = le.AppendUint32(buf, math.Float32bits(v))
		}
		buf = appendString(buf, e.Chunk.Source)
		buf = le.AppendUint32(buf, uint32(e.Chunk.Page))
		buf = le.AppendUint32(buf, uint32(e.Chunk.Order))
		buf = appendString(buf, e.Chunk.Text)
	}
	return le.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readSnapshot(path string) (*state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	st, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

func decodeSnapshot(data []byte) (*state, error) {
	if len(data) < len(snapshotMagic)+4 {
		return nil, fmt.Errorf("%w: too short", ErrCorruptSnapshot)
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}
	if string(body[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}

	d := &decoder{buf: body[len(snapshotMagic):]}
	if v := d.u16(); d.err == nil && v != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}
	st := &state{id: d.str()}
	st.dim = int(d.u32())
	st.nextID = d.u64()
	count := d.u64()
	if d.err != nil {
		return nil, d.err
	}
	if st.id == "" {
		return nil, fmt.Errorf("%w: missing index id", ErrCorruptSnapshot)
	}
	// each entry takes at least 24 bytes plus its vector
	if count > uint64(len(d.buf))/uint64(24+4*st.dim) {
		return nil, fmt.Errorf("%w: entry count %d exceeds file size", ErrCorruptSnapshot, count)
	}
	st.entries = make([]IndexEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		e := IndexEntry{ID: d.u64(), Vector: make([]float32, st.dim)}
		for j := range e.Vector {
			e.Vector[j] = math.Float32frombits(d.u32())
		}
		e.Chunk.Source = d.str()
		e.Chunk.Page = int(d.u32())
		e.Chunk.Order = int(d.u32())
		e.Chunk.Text = d.str()
		if d.err != nil {
			return nil, d.err
		}
		if e.ID >= st.nextID {
			return nil, fmt.Errorf("%w: entry id %d not below next id %d", ErrCorruptSnapshot, e.ID, st.nextID)
		}
		e.norm = utils.Norm(e.Vector)
		st.entries = append(st.entries, e)
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, len(d.buf))
	}
	return st, nil
}

// decoder reads little-endian values from buf; the first short read sets err and
// makes all later reads return zero values.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = fmt.Errorf("%w: unexpected end of data", ErrCorruptSnapshot)
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) str() string {
	n := d.u32()
	return string(d.take(int(n)))
}
