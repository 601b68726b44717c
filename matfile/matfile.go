// Package matfile reads and writes MATLAB Level 5 MAT files holding numeric arrays.
package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrFormat is returned for files that are not well formed Level 5 MAT files.
var ErrFormat = errors.New("matfile: bad format")

const headerSize = 128

// data element types
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// array classes
const (
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT64 = 15
)

// Array is a numeric variable in row-major (C) order.
type Array struct {
	Name  string
	Shape []int
	Data  []float64
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.Shape) }

// File is the set of numeric variables of a MAT file, keyed by name.
type File struct {
	Vars map[string]*Array
}

// Get returns the named variable or an error naming the file contents.
func (f *File) Get(name string) (*Array, error) {
	a, ok := f.Vars[name]
	if !ok {
		return nil, fmt.Errorf("matfile: no numeric variable %q", name)
	}
	return a, nil
}

// Open reads a MAT file from disk.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode parses the bytes of a MAT file.
func Decode(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file too small: %d bytes", ErrFormat, len(data))
	}
	var order binary.ByteOrder
	switch string(data[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: unknown endian indicator %q", ErrFormat, data[126:128])
	}
	if v := order.Uint16(data[124:126]); v != 0x0100 {
		return nil, fmt.Errorf("%w: unsupported version 0x%04x", ErrFormat, v)
	}

	f := &File{Vars: make(map[string]*Array)}
	r := &reader{buf: data[headerSize:], order: order}
	for r.len() > 0 {
		typ, body, err := r.element()
		if err != nil {
			return nil, err
		}
		if err := f.addElement(typ, body, order); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *File) addElement(typ uint32, body []byte, order binary.ByteOrder) error {
	switch typ {
	case miCOMPRESSED:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: compressed element: %v", ErrFormat, err)
		}
		inflated, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return fmt.Errorf("%w: inflate: %v", ErrFormat, err)
		}
		r := &reader{buf: inflated, order: order}
		for r.len() > 0 {
			t, b, err := r.element()
			if err != nil {
				return err
			}
			if err := f.addElement(t, b, order); err != nil {
				return err
			}
		}
		return nil
	case miMATRIX:
		a, err := parseMatrix(body, order)
		if err != nil {
			return err
		}
		if a != nil {
			f.Vars[a.Name] = a
		}
		return nil
	default:
		// top-level elements other than matrices carry nothing we read
		return nil
	}
}

// parseMatrix returns nil for arrays of non-numeric classes.
func parseMatrix(body []byte, order binary.ByteOrder) (*Array, error) {
	if len(body) == 0 {
		return nil, nil
	}
	r := &reader{buf: body, order: order}

	_, flags, err := r.element()
	if err != nil {
		return nil, err
	}
	if len(flags) < 8 {
		return nil, fmt.Errorf("%w: short array flags", ErrFormat)
	}
	class := order.Uint32(flags[:4]) & 0xff
	if class < mxDOUBLE || class > mxUINT64 {
		return nil, nil
	}
	complexFlag := order.Uint32(flags[:4])&0x0800 != 0

	dimType, dimBytes, err := r.element()
	if err != nil {
		return nil, err
	}
	dimVals, err := decodeNumbers(dimType, dimBytes, order)
	if err != nil {
		return nil, err
	}
	dims := make([]int, len(dimVals))
	for i, d := range dimVals {
		dims[i] = int(d)
	}

	_, name, err := r.element()
	if err != nil {
		return nil, err
	}

	realType, realBytes, err := r.element()
	if err != nil {
		return nil, err
	}
	if complexFlag {
		return nil, fmt.Errorf("%w: complex array %q not supported", ErrFormat, name)
	}
	colMajor, err := decodeNumbers(realType, realBytes, order)
	if err != nil {
		return nil, err
	}
	if n := numel(dims); n != len(colMajor) {
		return nil, fmt.Errorf("%w: array %q has %d values for shape %v", ErrFormat, name, len(colMajor), dims)
	}
	return &Array{Name: string(name), Shape: dims, Data: toRowMajor(colMajor, dims)}, nil
}

type reader struct {
	buf   []byte
	order binary.ByteOrder
}

func (r *reader) len() int { return len(r.buf) }

// element reads one tag + body, consuming the padding after it.
func (r *reader) element() (uint32, []byte, error) {
	if len(r.buf) < 8 {
		return 0, nil, fmt.Errorf("%w: truncated tag", ErrFormat)
	}
	first := r.order.Uint32(r.buf[:4])
	if small := first >> 16; small != 0 {
		// small data element: size in the upper half, payload in the next four bytes
		typ := first & 0xffff
		if small > 4 {
			return 0, nil, fmt.Errorf("%w: small element of %d bytes", ErrFormat, small)
		}
		body := r.buf[4 : 4+small]
		r.buf = r.buf[8:]
		return typ, body, nil
	}
	n := int(r.order.Uint32(r.buf[4:8]))
	if 8+n > len(r.buf) {
		return 0, nil, fmt.Errorf("%w: element of %d bytes exceeds remaining %d", ErrFormat, n, len(r.buf)-8)
	}
	body := r.buf[8 : 8+n]
	next := 8 + n
	if first != miCOMPRESSED {
		next = 8 + pad8(n)
		if next > len(r.buf) {
			next = len(r.buf)
		}
	}
	r.buf = r.buf[next:]
	return first, body, nil
}

func pad8(n int) int {
	if rem := n % 8; rem != 0 {
		return n + 8 - rem
	}
	return n
}

func numel(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func decodeNumbers(typ uint32, b []byte, order binary.ByteOrder) ([]float64, error) {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("%w: unsupported numeric type %d", ErrFormat, typ)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrFormat, len(b), size)
	}
	out := make([]float64, len(b)/size)
	for i := range out {
		p := b[i*size : (i+1)*size]
		switch typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(order.Uint16(p)))
		case miUINT16:
			out[i] = float64(order.Uint16(p))
		case miINT32:
			out[i] = float64(int32(order.Uint32(p)))
		case miUINT32:
			out[i] = float64(order.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(order.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(order.Uint64(p))
		case miINT64:
			out[i] = float64(int64(order.Uint64(p)))
		case miUINT64:
			out[i] = float64(order.Uint64(p))
		}
	}
	return out, nil
}

// toRowMajor reorders Fortran-ordered values into C order for the same shape.
func toRowMajor(src []float64, dims []int) []float64 {
	if len(dims) < 2 {
		return src
	}
	dst := make([]float64, len(src))
	idx := make([]int, len(dims))
	for i := range dst {
		// i walks C order; compute the matching Fortran offset
		off, stride := 0, 1
		for d := 0; d < len(dims); d++ {
			off += idx[d] * stride
			stride *= dims[d]
		}
		dst[i] = src[off]
		for d := len(dims) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < dims[d] {
				break
			}
			idx[d] = 0
		}
	}
	return dst
}

// toColMajor is the inverse of toRowMajor.
func toColMajor(src []float64, dims []int) []float64 {
	if len(dims) < 2 {
		return src
	}
	dst := make([]float64, len(src))
	idx := make([]int, len(dims))
	for i := range src {
		off, stride := 0, 1
		for d := 0; d < len(dims); d++ {
			off += idx[d] * stride
			stride *= dims[d]
		}
		dst[off] = src[i]
		for d := len(dims) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < dims[d] {
				break
			}
			idx[d] = 0
		}
	}
	return dst
}
