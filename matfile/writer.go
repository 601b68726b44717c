package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"
)

// Writer accumulates variables and serialises them as a little-endian Level 5 file.
type Writer struct {
	// Compress stores every variable inside a zlib miCOMPRESSED element.
	Compress bool
	vars     []*Array
}

// Add queues a variable. Shape must multiply out to len(data); rank 1 is stored as a row vector.
func (w *Writer) Add(name string, shape []int, data []float64) error {
	if name == "" {
		return fmt.Errorf("matfile: empty variable name")
	}
	if numel(shape) != len(data) {
		return fmt.Errorf("matfile: variable %q has %d values for shape %v", name, len(data), shape)
	}
	dims := append([]int(nil), shape...)
	if len(dims) == 1 {
		dims = []int{1, dims[0]}
	}
	w.vars = append(w.vars, &Array{Name: name, Shape: dims, Data: data})
	return nil
}

// Bytes returns the encoded file.
func (w *Writer) Bytes() ([]byte, error) {
	var out bytes.Buffer
	header := make([]byte, headerSize)
	for i := range header[:116] {
		header[i] = ' '
	}
	copy(header, fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: %s",
		time.Now().UTC().Format(time.ANSIC)))
	binary.LittleEndian.PutUint16(header[124:126], 0x0100)
	copy(header[126:128], "IM")
	out.Write(header)

	for _, a := range w.vars {
		elem := encodeMatrix(a)
		if !w.Compress {
			out.Write(elem)
			continue
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(elem); err != nil {
			return nil, fmt.Errorf("compress %q: %w", a.Name, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress %q: %w", a.Name, err)
		}
		writeTag(&out, miCOMPRESSED, z.Len())
		out.Write(z.Bytes())
	}
	return out.Bytes(), nil
}

// WriteFile encodes and writes the file to path.
func (w *Writer) WriteFile(path string) error {
	b, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func encodeMatrix(a *Array) []byte {
	var body bytes.Buffer

	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, mxDOUBLE)
	writeElement(&body, miUINT32, flags)

	dims := make([]byte, 4*len(a.Shape))
	for i, d := range a.Shape {
		binary.LittleEndian.PutUint32(dims[4*i:], uint32(int32(d)))
	}
	writeElement(&body, miINT32, dims)

	writeElement(&body, miINT8, []byte(a.Name))

	values := toColMajor(a.Data, a.Shape)
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	writeElement(&body, miDOUBLE, raw)

	var elem bytes.Buffer
	writeTag(&elem, miMATRIX, body.Len())
	elem.Write(body.Bytes())
	return elem.Bytes()
}

func writeTag(buf *bytes.Buffer, typ uint32, n int) {
	tag := make([]byte, 8)
	binary.LittleEndian.PutUint32(tag, typ)
	binary.LittleEndian.PutUint32(tag[4:], uint32(n))
	buf.Write(tag)
}

func writeElement(buf *bytes.Buffer, typ uint32, payload []byte) {
	writeTag(buf, typ, len(payload))
	buf.Write(payload)
	if p := pad8(len(payload)) - len(payload); p > 0 {
		buf.Write(make([]byte, p))
	}
}
