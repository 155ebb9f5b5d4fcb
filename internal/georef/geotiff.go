package georef

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/tendant/ortho-idmaker/internal/detection"
)

// TIFF tags needed to recover the affine bounds of an ortho.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
)

// TIFF field types.
const (
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeLong8  = 16
)

// Bounds is the world extent and raster size of an ortho.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	Cols int
	Rows int
}

// Origin returns the world position of the upper-left corner of pixel (0, 0).
// Tile pixel offsets are measured from this corner, so every row of the tile
// table carries it.
func (b Bounds) Origin() (easting, northing float64) {
	return b.MinX, b.MaxY
}

type ifdEntry struct {
	typ    uint16
	count  uint64
	offset uint64 // absolute offset of the value bytes
}

type tiffReader struct {
	r     io.ReaderAt
	order binary.ByteOrder
	big   bool
}

// ReadBounds opens a GeoTIFF and reads its raster size and world bounds from the
// first image directory. Both classic TIFF and BigTIFF are accepted.
func ReadBounds(path string) (Bounds, error) {
	f, err := os.Open(path)
	if err != nil {
		return Bounds{}, errors.Wrapf(detection.ErrResourceUnavailable, "cannot open ortho %s: %v", path, err)
	}
	defer f.Close()

	b, err := readBounds(f)
	if err != nil {
		return Bounds{}, errors.Wrapf(detection.ErrResourceUnavailable, "cannot read georeference of %s: %v", path, err)
	}
	return b, nil
}

func readBounds(r io.ReaderAt) (Bounds, error) {
	tr, first, err := readHeader(r)
	if err != nil {
		return Bounds{}, err
	}
	entries, err := tr.readIFD(first)
	if err != nil {
		return Bounds{}, err
	}

	cols, err := tr.uintValue(entries, tagImageWidth)
	if err != nil {
		return Bounds{}, err
	}
	rows, err := tr.uintValue(entries, tagImageLength)
	if err != nil {
		return Bounds{}, err
	}
	if cols == 0 || rows == 0 {
		return Bounds{}, errors.New("raster has zero size")
	}
	out := Bounds{Cols: int(cols), Rows: int(rows)}

	if _, ok := entries[tagModelTransformation]; ok {
		m, err := tr.doubles(entries, tagModelTransformation, 16)
		if err != nil {
			return Bounds{}, err
		}
		x0, x1 := m[3], m[3]+float64(cols)*m[0]
		y0, y1 := m[7], m[7]+float64(rows)*m[5]
		out.MinX, out.MaxX = math.Min(x0, x1), math.Max(x0, x1)
		out.MinY, out.MaxY = math.Min(y0, y1), math.Max(y0, y1)
		return out, nil
	}

	scale, err := tr.doubles(entries, tagModelPixelScale, 3)
	if err != nil {
		return Bounds{}, err
	}
	tie, err := tr.doubles(entries, tagModelTiepoint, 6)
	if err != nil {
		return Bounds{}, err
	}
	out.MinX = tie[3] - tie[0]*scale[0]
	out.MaxY = tie[4] + tie[1]*scale[1]
	out.MaxX = out.MinX + float64(cols)*scale[0]
	out.MinY = out.MaxY - float64(rows)*scale[1]
	return out, nil
}

func readHeader(r io.ReaderAt) (*tiffReader, uint64, error) {
	var hdr [16]byte
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return nil, 0, errors.Wrap(err, "read header")
	}
	tr := &tiffReader{r: r}
	switch string(hdr[:2]) {
	case "II":
		tr.order = binary.LittleEndian
	case "MM":
		tr.order = binary.BigEndian
	default:
		return nil, 0, errors.New("not a TIFF file")
	}

	switch tr.order.Uint16(hdr[2:4]) {
	case 42:
		return tr, uint64(tr.order.Uint32(hdr[4:8])), nil
	case 43:
		tr.big = true
		if _, err := r.ReadAt(hdr[8:16], 8); err != nil {
			return nil, 0, errors.Wrap(err, "read bigtiff header")
		}
		return tr, tr.order.Uint64(hdr[8:16]), nil
	default:
		return nil, 0, errors.New("unsupported TIFF version")
	}
}

func (tr *tiffReader) readIFD(offset uint64) (map[uint16]ifdEntry, error) {
	countSize, entrySize, inline := 2, 12, uint64(4)
	if tr.big {
		countSize, entrySize, inline = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := tr.r.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrap(err, "read directory")
	}
	var n uint64
	if tr.big {
		n = tr.order.Uint64(buf)
	} else {
		n = uint64(tr.order.Uint16(buf))
	}

	raw := make([]byte, int(n)*entrySize)
	if _, err := tr.r.ReadAt(raw, int64(offset)+int64(countSize)); err != nil {
		return nil, errors.Wrap(err, "read directory entries")
	}

	entries := make(map[uint16]ifdEntry, n)
	for i := 0; i < int(n); i++ {
		e := raw[i*entrySize : (i+1)*entrySize]
		tag := tr.order.Uint16(e[0:2])
		ent := ifdEntry{typ: tr.order.Uint16(e[2:4])}
		valuePos := offset + uint64(countSize) + uint64(i*entrySize)
		if tr.big {
			ent.count = tr.order.Uint64(e[4:12])
			valuePos += 12
		} else {
			ent.count = uint64(tr.order.Uint32(e[4:8]))
			valuePos += 8
		}
		if ent.count*typeSize(ent.typ) > inline {
			if tr.big {
				valuePos = tr.order.Uint64(e[12:20])
			} else {
				valuePos = uint64(tr.order.Uint32(e[8:12]))
			}
		}
		ent.offset = valuePos
		entries[tag] = ent
	}
	return entries, nil
}

func typeSize(typ uint16) uint64 {
	switch typ {
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeDouble, typeLong8:
		return 8
	default:
		return 1
	}
}

func (tr *tiffReader) uintValue(entries map[uint16]ifdEntry, tag uint16) (uint64, error) {
	ent, ok := entries[tag]
	if !ok || ent.count == 0 {
		return 0, errors.Errorf("missing tag %d", tag)
	}
	buf := make([]byte, typeSize(ent.typ))
	if _, err := tr.r.ReadAt(buf, int64(ent.offset)); err != nil {
		return 0, errors.Wrapf(err, "read tag %d", tag)
	}
	switch ent.typ {
	case typeShort:
		return uint64(tr.order.Uint16(buf)), nil
	case typeLong:
		return uint64(tr.order.Uint32(buf)), nil
	case typeLong8:
		return tr.order.Uint64(buf), nil
	default:
		return 0, errors.Errorf("tag %d has non-integer type %d", tag, ent.typ)
	}
}

func (tr *tiffReader) doubles(entries map[uint16]ifdEntry, tag uint16, want int) ([]float64, error) {
	ent, ok := entries[tag]
	if !ok {
		return nil, errors.Errorf("missing tag %d", tag)
	}
	if ent.typ != typeDouble || ent.count < uint64(want) {
		return nil, errors.Errorf("tag %d: expected %d doubles", tag, want)
	}
	buf := make([]byte, 8*want)
	if _, err := tr.r.ReadAt(buf, int64(ent.offset)); err != nil {
		return nil, errors.Wrapf(err, "read tag %d", tag)
	}
	out := make([]float64, want)
	for i := range out {
		out[i] = math.Float64frombits(tr.order.Uint64(buf[i*8:]))
	}
	return out, nil
}
