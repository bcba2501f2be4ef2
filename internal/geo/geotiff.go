package geo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff" // registers the BigTIFF parser with tiff.Parse
	"github.com/twpayne/go-geom"
)

var (
	// ErrNoGeoreference is returned for TIFF files without GeoTIFF placement tags.
	ErrNoGeoreference = errors.New("raster has no georeferencing")
	// ErrMalformedRaster is returned for files that cannot be decoded as TIFF.
	ErrMalformedRaster = errors.New("malformed raster")
)

const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
)

// TIFF field types used by the placement tags.
const (
	typeShort  = 3
	typeLong   = 4
	typeFloat  = 11
	typeDouble = 12
	typeLong8  = 16
)

var typeSizes = map[uint16]uint64{
	typeShort: 2, typeLong: 4, typeFloat: 4, typeDouble: 8, typeLong8: 8,
}

const (
	versionClassic = 42
	versionBig     = 43
)

// rasterInfo holds the first-IFD tags needed to place a raster.
type rasterInfo struct {
	Width      uint64
	Height     uint64
	PixelScale []float64
	Tiepoints  []float64
	Transform  []float64
}

// tagValue is one decoded field of the first IFD, independent of TIFF flavour.
type tagValue struct {
	tag   uint16
	typ   uint16
	count uint64
	raw   []byte
	order binary.ByteOrder
}

// tagLookup returns the first-IFD field for tag, if present.
type tagLookup func(tag uint16) (tagValue, bool)

// ReadBounds opens a GeoTIFF and returns its bounding box in the raster's
// coordinate reference system (X = easting/longitude, Y = northing/latitude).
func ReadBounds(path string) (*geom.Bounds, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := readRasterInfo(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return info.bounds()
}

// readRasterInfo decodes the placement tags of the first IFD. Any decoder
// panic on corrupt input is reported as ErrMalformedRaster.
func readRasterInfo(r tiff.ReadAtReadSeeker) (info rasterInfo, err error) {
	defer func() {
		if p := recover(); p != nil {
			info, err = rasterInfo{}, fmt.Errorf("%w: %v", ErrMalformedRaster, p)
		}
	}()

	lookup, err := firstIFD(r)
	if err != nil {
		return rasterInfo{}, err
	}

	for _, tag := range []uint16{tagImageWidth, tagImageLength} {
		v, ok := lookup(tag)
		if !ok {
			continue
		}
		n, err := v.uints()
		if err != nil {
			return rasterInfo{}, err
		}
		if len(n) == 0 {
			continue
		}
		if tag == tagImageWidth {
			info.Width = n[0]
		} else {
			info.Height = n[0]
		}
	}

	for tag, dst := range map[uint16]*[]float64{
		tagModelPixelScale:     &info.PixelScale,
		tagModelTiepoint:       &info.Tiepoints,
		tagModelTransformation: &info.Transform,
	} {
		v, ok := lookup(tag)
		if !ok {
			continue
		}
		if *dst, err = v.floats(); err != nil {
			return rasterInfo{}, err
		}
	}
	return info, nil
}

// firstIFD parses the file with the classic or BigTIFF decoder depending on
// the header version and returns a lookup over its first IFD.
func firstIFD(r tiff.ReadAtReadSeeker) (tagLookup, error) {
	head := make([]byte, 4)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedRaster, err)
	}
	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a tiff file", ErrMalformedRaster)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch version := order.Uint16(head[2:4]); version {
	case versionClassic:
		t, err := tiff.Parse(r, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRaster, err)
		}
		ifds := t.IFDs()
		if len(ifds) == 0 {
			return nil, fmt.Errorf("%w: no image directory", ErrMalformedRaster)
		}
		ifd := ifds[0]
		return func(tag uint16) (tagValue, bool) {
			if !ifd.HasField(tag) {
				return tagValue{}, false
			}
			f := ifd.GetField(tag)
			return tagValue{
				tag:   tag,
				typ:   f.Type().ID(),
				count: uint64(f.Count()),
				raw:   f.Value().Bytes(),
				order: f.Value().Order(),
			}, true
		}, nil

	case versionBig:
		t, err := tiff.Parse(r, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRaster, err)
		}
		ifds := t.IFDs()
		if len(ifds) == 0 {
			return nil, fmt.Errorf("%w: no image directory", ErrMalformedRaster)
		}
		ifd := ifds[0]
		return func(tag uint16) (tagValue, bool) {
			if !ifd.HasField(tag) {
				return tagValue{}, false
			}
			f := ifd.GetField(tag)
			return tagValue{
				tag:   tag,
				typ:   f.Type().ID(),
				count: f.Count(),
				raw:   f.Value().Bytes(),
				order: f.Value().Order(),
			}, true
		}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported tiff version %d", ErrMalformedRaster, version)
	}
}

// check verifies the value bytes cover count elements of the field type.
func (v tagValue) check() (uint64, error) {
	size, ok := typeSizes[v.typ]
	if !ok {
		return 0, fmt.Errorf("tag %d: unexpected type %d", v.tag, v.typ)
	}
	if v.count > uint64(len(v.raw))/size {
		return 0, fmt.Errorf("%w: tag %d declares %d values in %d bytes", ErrMalformedRaster, v.tag, v.count, len(v.raw))
	}
	return size, nil
}

func (v tagValue) uints() ([]uint64, error) {
	size, err := v.check()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, v.count)
	for i := uint64(0); i < v.count; i++ {
		b := v.raw[i*size:]
		switch v.typ {
		case typeShort:
			out = append(out, uint64(v.order.Uint16(b)))
		case typeLong:
			out = append(out, uint64(v.order.Uint32(b)))
		case typeLong8:
			out = append(out, v.order.Uint64(b))
		default:
			return nil, fmt.Errorf("tag %d: unexpected type %d", v.tag, v.typ)
		}
	}
	return out, nil
}

func (v tagValue) floats() ([]float64, error) {
	size, err := v.check()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, v.count)
	for i := uint64(0); i < v.count; i++ {
		b := v.raw[i*size:]
		switch v.typ {
		case typeDouble:
			out = append(out, math.Float64frombits(v.order.Uint64(b)))
		case typeFloat:
			out = append(out, float64(math.Float32frombits(v.order.Uint32(b))))
		default:
			return nil, fmt.Errorf("tag %d: unexpected type %d", v.tag, v.typ)
		}
	}
	return out, nil
}

// bounds computes the raster's corner extent. The model transformation takes
// precedence over tiepoint + pixel scale when both are present.
func (ri rasterInfo) bounds() (*geom.Bounds, error) {
	w, h := float64(ri.Width), float64(ri.Height)

	switch {
	case len(ri.Transform) >= 16:
		t := ri.Transform
		b := geom.NewBounds(geom.XY)
		for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
			x := t[0]*c[0] + t[1]*c[1] + t[3]
			y := t[4]*c[0] + t[5]*c[1] + t[7]
			b.Extend(geom.NewPointFlat(geom.XY, []float64{x, y}))
		}
		return b, nil

	case len(ri.Tiepoints) >= 6 && len(ri.PixelScale) >= 2:
		i, j := ri.Tiepoints[0], ri.Tiepoints[1]
		x, y := ri.Tiepoints[3], ri.Tiepoints[4]
		sx, sy := ri.PixelScale[0], ri.PixelScale[1]

		left := x - i*sx
		top := y + j*sy
		right := left + w*sx
		bottom := top - h*sy

		return geom.NewBounds(geom.XY).Set(
			math.Min(left, right), math.Min(bottom, top),
			math.Max(left, right), math.Max(bottom, top),
		), nil

	default:
		return nil, ErrNoGeoreference
	}
}
