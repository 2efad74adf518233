package flat

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

const (
	indexFile   = "index.bin"
	mappingFile = "mapping.json"

	formatVersion = 1
)

var magic = [4]byte{'F', 'G', 'I', 'X'}

// ErrCorrupt is returned when an index file cannot be decoded.
var ErrCorrupt = errors.New("flat index: corrupt index file")

type header struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint32
}

var headerSize = binary.Size(header{})

// generation is one immutable, fully loaded index build.
type generation struct {
	name    string
	dim     int
	count   int
	data    []float32 // count rows of dim values
	mapping map[int]int64
}

func (g *generation) row(i int) []float32 {
	return g.data[i*g.dim : (i+1)*g.dim]
}

func writeVectors(path string, dim int, vectors [][]float32) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	h := header{Magic: magic, Version: formatVersion, Dim: uint32(dim), Count: uint32(len(vectors))}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		f.Close()
		return err
	}
	var buf [4]byte
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			if _, err := w.Write(buf[:]); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readVectors(path string) (dim, count int, data []float32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, 0, nil, err
	}

	r := bufio.NewReader(f)
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return 0, 0, nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != formatVersion {
		return 0, 0, nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}

	if err := checkSize(h, st.Size()); err != nil {
		return 0, 0, nil, err
	}

	n := int(h.Dim) * int(h.Count)
	data = make([]float32, n)
	var buf [4]byte
	for i := range n {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, nil, fmt.Errorf("%w: row data: %v", ErrCorrupt, err)
		}
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return int(h.Dim), int(h.Count), data, nil
}

// checkSize rejects a header whose dimensions disagree with the file size,
// before any row storage is allocated from it.
func checkSize(h header, size int64) error {
	payload := size - int64(headerSize)
	if payload < 0 || payload%4 != 0 {
		return fmt.Errorf("%w: %d bytes is not a header plus float32 rows", ErrCorrupt, size)
	}
	values := uint64(payload / 4)
	switch {
	case h.Dim == 0 && h.Count == 0 && values == 0:
		return nil
	case h.Dim == 0, values%uint64(h.Dim) != 0, values/uint64(h.Dim) != uint64(h.Count):
		return fmt.Errorf("%w: header claims %d rows of %d values, file holds %d values",
			ErrCorrupt, h.Count, h.Dim, values)
	}
	return nil
}

func writeMapping(path string, ids []int64) error {
	m := make(map[string]int64, len(ids))
	for pos, id := range ids {
		m[strconv.Itoa(pos)] = id
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeFileSync(path, b)
}

func readMapping(path string) (map[int]int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]int64
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: mapping: %v", ErrCorrupt, err)
	}
	out := make(map[int]int64, len(raw))
	for k, id := range raw {
		pos, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w: mapping key %q", ErrCorrupt, k)
		}
		out[pos] = id
	}
	return out, nil
}

func writeFileSync(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
