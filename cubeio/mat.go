package cubeio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/hsilab/pushbroom/hsi"
)

// MAT-file level 5 data types and array classes
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

	mxDOUBLE = 6
	mxUINT64 = 15

	flagComplex = 0x0800

	matHeaderLen = 128
	matTextLen   = 116
)

var (
	// ErrNotMAT is generated for data that does not start with a level 5 MAT-file header
	ErrNotMAT = errors.New("not a level 5 MAT-file")

	// ErrKeyNotFound is generated when no matrix in a MAT-file has the requested name
	ErrKeyNotFound = errors.New("variable not found in MAT-file")

	// ErrBadKey is generated for a variable name MATLAB would not accept
	ErrBadKey = errors.New("invalid MAT-file variable name")

	errTruncated = errors.New("MAT-file truncated")
)

func pad8(n int) int {
	return (8 - n%8) % 8
}

// validKey reports if s is a legal MATLAB variable name
func validKey(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

func appendElement(buf *bytes.Buffer, typ uint32, data []byte) {
	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[:4], typ)
	binary.LittleEndian.PutUint32(tag[4:], uint32(len(data)))
	buf.Write(tag[:])
	buf.Write(data)
	buf.Write(make([]byte, pad8(len(data))))
}

// WriteMAT writes c to w as a little endian level 5 MAT-file containing one
// uncompressed double matrix of size steps x spatial x channels named key.
func WriteMAT(w io.Writer, c *hsi.Cube, key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	if c == nil || c.Steps*c.Spatial*c.Channels == 0 {
		return fmt.Errorf("%w: empty cube", ErrNotCube)
	}
	hdr := make([]byte, matHeaderLen)
	text := fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: %s, Created on: %s",
		runtime.GOOS, time.Now().Format(time.ANSIC))
	copy(hdr, text+strings.Repeat(" ", matTextLen))
	binary.LittleEndian.PutUint16(hdr[124:], 0x0100)
	hdr[126], hdr[127] = 'I', 'M'

	var body bytes.Buffer
	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, mxDOUBLE)
	appendElement(&body, miUINT32, flags)

	dims := make([]byte, 12)
	binary.LittleEndian.PutUint32(dims[0:], uint32(c.Steps))
	binary.LittleEndian.PutUint32(dims[4:], uint32(c.Spatial))
	binary.LittleEndian.PutUint32(dims[8:], uint32(c.Channels))
	appendElement(&body, miINT32, dims)

	appendElement(&body, miINT8, []byte(key))

	// MATLAB is column major, x fastest
	X, Y, Z := c.Steps, c.Spatial, c.Channels
	re := make([]byte, 8*len(c.Data))
	for x := 0; x < X; x++ {
		for y := 0; y < Y; y++ {
			for z := 0; z < Z; z++ {
				off := 8 * (x + y*X + z*X*Y)
				binary.LittleEndian.PutUint64(re[off:], math.Float64bits(c.At(x, y, z)))
			}
		}
	}
	appendElement(&body, miDOUBLE, re)

	var out bytes.Buffer
	out.Grow(matHeaderLen + 8 + body.Len())
	out.Write(hdr)
	appendElement(&out, miMATRIX, body.Bytes())
	_, err := out.WriteTo(w)
	return err
}

// readElement splits the first data element off b, handling the small
// element format
func readElement(b []byte, bo binary.ByteOrder) (typ uint32, data, rest []byte, err error) {
	if len(b) < 8 {
		return 0, nil, nil, errTruncated
	}
	first := bo.Uint32(b)
	if first>>16 != 0 {
		n := int(first >> 16)
		if n > 4 {
			return 0, nil, nil, fmt.Errorf("%w: small element of %d bytes", ErrNotMAT, n)
		}
		return first & 0xffff, b[4 : 4+n], b[8:], nil
	}
	n := int(bo.Uint32(b[4:]))
	if n < 0 || len(b)-8 < n {
		return 0, nil, nil, errTruncated
	}
	end := 8 + n
	if first != miCOMPRESSED {
		end += pad8(n)
		if end > len(b) {
			end = len(b)
		}
	}
	return first, b[8 : 8+n], b[end:], nil
}

type matrix struct {
	name    string
	class   uint32
	complex bool
	dims    []int
	body    []byte
}

func parseMatrix(b []byte, bo binary.ByteOrder) (matrix, error) {
	var m matrix
	typ, flags, b, err := readElement(b, bo)
	if err != nil {
		return m, err
	}
	if typ != miUINT32 || len(flags) < 4 {
		return m, fmt.Errorf("%w: bad array flags", ErrNotMAT)
	}
	f := bo.Uint32(flags)
	m.class = f & 0xff
	m.complex = f&flagComplex != 0

	typ, dims, b, err := readElement(b, bo)
	if err != nil {
		return m, err
	}
	if typ != miINT32 {
		return m, fmt.Errorf("%w: bad dimensions", ErrNotMAT)
	}
	for i := 0; i+4 <= len(dims); i += 4 {
		m.dims = append(m.dims, int(int32(bo.Uint32(dims[i:]))))
	}

	typ, name, b, err := readElement(b, bo)
	if err != nil {
		return m, err
	}
	if typ != miINT8 {
		return m, fmt.Errorf("%w: bad array name", ErrNotMAT)
	}
	m.name = string(name)
	m.body = b
	return m, nil
}

func decodeNumeric(typ uint32, b []byte, bo binary.ByteOrder) ([]float64, error) {
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
		return nil, fmt.Errorf("%w: unsupported data type %d", ErrNotCube, typ)
	}
	out := make([]float64, len(b)/size)
	for i := range out {
		p := b[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(bo.Uint16(p)))
		case miUINT16:
			out[i] = float64(bo.Uint16(p))
		case miINT32:
			out[i] = float64(int32(bo.Uint32(p)))
		case miUINT32:
			out[i] = float64(bo.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(bo.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(bo.Uint64(p))
		case miINT64:
			out[i] = float64(int64(bo.Uint64(p)))
		case miUINT64:
			out[i] = float64(bo.Uint64(p))
		}
	}
	return out, nil
}

func (m matrix) cube(bo binary.ByteOrder) (*hsi.Cube, error) {
	if m.class < mxDOUBLE || m.class > mxUINT64 || m.complex {
		return nil, fmt.Errorf("%w: %q is not a real numeric array", ErrNotCube, m.name)
	}
	var X, Y, Z int
	switch len(m.dims) {
	case 2:
		X, Y, Z = m.dims[0], m.dims[1], 1
	case 3:
		X, Y, Z = m.dims[0], m.dims[1], m.dims[2]
	default:
		return nil, fmt.Errorf("%w: %q has %d dimensions", ErrNotCube, m.name, len(m.dims))
	}
	typ, raw, _, err := readElement(m.body, bo)
	if err != nil {
		return nil, err
	}
	vals, err := decodeNumeric(typ, raw, bo)
	if err != nil {
		return nil, err
	}
	if len(vals) != X*Y*Z {
		return nil, fmt.Errorf("%w: %q holds %d values for a %dx%dx%d array", ErrNotCube, m.name, len(vals), X, Y, Z)
	}
	c := hsi.NewCube(X, Y, Z)
	for x := 0; x < X; x++ {
		for y := 0; y < Y; y++ {
			for z := 0; z < Z; z++ {
				c.Set(x, y, z, vals[x+y*X+z*X*Y])
			}
		}
	}
	return c, nil
}

// ReadMAT reads the numeric matrix named key from a level 5 MAT-file.  An
// empty key takes the first numeric matrix.  Compressed variables, as written
// by MATLAB's default save, and either byte order are understood.
func ReadMAT(r io.Reader, key string) (*hsi.Cube, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) < matHeaderLen {
		return nil, ErrNotMAT
	}
	var bo binary.ByteOrder
	switch string(b[126:128]) {
	case "IM":
		bo = binary.LittleEndian
	case "MI":
		bo = binary.BigEndian
	default:
		return nil, ErrNotMAT
	}
	rest := b[matHeaderLen:]
	for len(rest) > 0 {
		typ, data, next, err := readElement(rest, bo)
		if err != nil {
			return nil, err
		}
		rest = next
		if typ == miCOMPRESSED {
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			inner, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, err
			}
			typ, data, _, err = readElement(inner, bo)
			if err != nil {
				return nil, err
			}
		}
		if typ != miMATRIX {
			continue
		}
		m, err := parseMatrix(data, bo)
		if err != nil {
			return nil, err
		}
		if key != "" && m.name != key {
			continue
		}
		if key == "" && (m.class < mxDOUBLE || m.class > mxUINT64) {
			continue
		}
		return m.cube(bo)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no numeric matrix", ErrKeyNotFound)
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
}
