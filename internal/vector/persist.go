package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File layout (little endian):
//
//	magic "LMVX" | version u16 | metric u8 | reserved u8 | dimensions u32 | count u32
//	count × ( idLen u32 | id | dimensions × f32 )
const formatVersion uint16 = 1

var magic = [4]byte{'L', 'M', 'V', 'X'}

func metricCode(m Metric) uint8 {
	if m == InnerProduct {
		return 1
	}
	return 0
}

// Save persists the index atomically (temp file plus rename) and returns the file's CRC32.
func (m *MemoryIndex) Save(path string) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return 0, fmt.Errorf("index path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(tmp, crc))
	if err := m.encode(w); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("flush index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("replace index: %w", err)
	}
	return crc.Sum32(), nil
}

func (m *MemoryIndex) encode(w io.Writer) error {
	header := []any{magic, formatVersion, metricCode(m.metric), uint8(0), uint32(m.dimensions), uint32(len(m.ids))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, id := range m.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents. The file must match
// checksum, the format version, and this index's metric and dimensions. Content problems
// (including a missing file) wrap ErrCorrupt; on any error the index is left unchanged.
func (m *MemoryIndex) Load(path string, checksum uint32) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s missing", ErrCorrupt, filepath.Base(path))
		}
		return fmt.Errorf("read index file: %w", err)
	}
	if got := crc32.ChecksumIEEE(data); got != checksum {
		return fmt.Errorf("%w: checksum %08x, manifest says %08x", ErrCorrupt, got, checksum)
	}

	r := bytes.NewReader(data)
	var (
		gotMagic [4]byte
		version  uint16
		metric   uint8
		reserved uint8
		dim, n   uint32
	)
	for _, v := range []any{&gotMagic, &version, &metric, &reserved, &dim, &n} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: short header", ErrCorrupt)
		}
	}
	if gotMagic != magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if version != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, version)
	}
	if metric != metricCode(m.metric) {
		return fmt.Errorf("%w: metric differs from manifest", ErrCorrupt)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("%w: file has %d dimensions, manifest %d", ErrCorrupt, dim, m.dimensions)
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	norms := make([]float64, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("%w: truncated at entry %d", ErrCorrupt, i)
		}
		if int64(idLen) > int64(r.Len()) {
			return fmt.Errorf("%w: id length %d out of range", ErrCorrupt, idLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return fmt.Errorf("%w: truncated id at entry %d", ErrCorrupt, i)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%w: truncated vector at entry %d", ErrCorrupt, i)
		}
		vec := bytesToFloat32Slice(buf)
		ids = append(ids, string(idBytes))
		vectors = append(vectors, vec)
		norms = append(norms, L2Norm(vec))
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}

	m.mu.Lock()
	m.ids, m.vectors, m.norms = ids, vectors, norms
	m.mu.Unlock()
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
