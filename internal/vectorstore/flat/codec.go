package flat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"ragmerge/internal/fsutil"
)

// File layout, little endian: 8-byte magic, uint32 dimension, uint64 count,
// then count*dimension float32 values.
const (
	indexMagic  = "FLATL2v1"
	matrixMagic = "EMBF32v1"

	headerSize = 8 + 4 + 8
	maxValues  = 1 << 31
)

// ErrCorrupt is returned when a file does not hold a valid index or matrix.
var ErrCorrupt = errors.New("corrupt vector file")

// SaveIndex writes x to path atomically.
func SaveIndex(path string, x *Index) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		return writeMatrix(w, indexMagic, x.dimension, x.Len(), x.data)
	})
}

// LoadIndex reads an index file. A missing file yields an error matching fs.ErrNotExist.
func LoadIndex(path string) (*Index, error) {
	dim, data, err := readFile(path, indexMagic)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, fmt.Errorf("%s: zero dimension: %w", path, ErrCorrupt)
	}
	return &Index{dimension: dim, data: data}, nil
}

// WriteMatrix stores vectors as the raw embeddings side-car.
func WriteMatrix(path string, vectors [][]float32) error {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	data := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("side-car row %d has %d values, want %d", i, len(v), dim)
		}
		data = append(data, v...)
	}
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		return writeMatrix(w, matrixMagic, dim, len(vectors), data)
	})
}

// ReadMatrix loads the embeddings side-car. A missing file yields an error matching fs.ErrNotExist.
func ReadMatrix(path string) ([][]float32, error) {
	dim, data, err := readFile(path, matrixMagic)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	n := len(data) / dim
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = data[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return out, nil
}

func writeMatrix(w io.Writer, magic string, dim, count int, data []float32) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(dim)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(count)); err != nil {
		return err
	}
	if len(data) > 0 {
		if err := binary.Write(bw, binary.LittleEndian, data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readFile(path, magic string) (int, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	dim, data, err := readMatrix(bufio.NewReader(f), magic, info.Size())
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", path, err)
	}
	return dim, data, nil
}

// readMatrix decodes one file of size bytes. The header must describe
// exactly the payload that follows it.
func readMatrix(r io.Reader, magic string, size int64) (int, []float32, error) {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", ErrCorrupt)
	}
	if string(head) != magic {
		return 0, nil, fmt.Errorf("bad magic %q: %w", head, ErrCorrupt)
	}
	var dim uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return 0, nil, fmt.Errorf("read dimension: %w", ErrCorrupt)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, nil, fmt.Errorf("read count: %w", ErrCorrupt)
	}
	if dim == 0 && count != 0 {
		return 0, nil, fmt.Errorf("implausible shape %dx%d: %w", count, dim, ErrCorrupt)
	}
	if dim != 0 && count > maxValues/uint64(dim) {
		return 0, nil, fmt.Errorf("implausible shape %dx%d: %w", count, dim, ErrCorrupt)
	}
	total := uint64(dim) * count
	if want := headerSize + 4*total; size != int64(want) {
		return 0, nil, fmt.Errorf("shape %dx%d needs %d bytes, file has %d: %w", count, dim, want, size, ErrCorrupt)
	}
	data := make([]float32, total)
	if total > 0 {
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return 0, nil, fmt.Errorf("read %d values: %w", total, ErrCorrupt)
		}
	}
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		return 0, nil, fmt.Errorf("trailing data after %d values: %w", total, ErrCorrupt)
	}
	return int(dim), data, nil
}
