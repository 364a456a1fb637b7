package geometry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopub/internal/domain"
)

// WKB geometry type codes (low byte of the 4-byte type field).
const (
	wkbPoint              = 1
	wkbLineString         = 2
	wkbPolygon            = 3
	wkbMultiPoint         = 4
	wkbMultiLineString    = 5
	wkbMultiPolygon       = 6
	wkbGeometryCollection = 7
)

// ewkbSRIDFlag marks an extended-WKB type code carrying a 4-byte SRID.
const ewkbSRIDFlag = 0x20000000

// WKBToGeometry decodes a WKB or extended-WKB blob. An embedded SRID is
// skipped. Truncated or unsupported input fails with a GeometryError;
// partial geometries are never returned.
func WKBToGeometry(b []byte) (orb.Geometry, error) {
	g, _, err := decodeGeometry(b, 0)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func readFloat64(b []byte, order binary.ByteOrder) float64 {
	return math.Float64frombits(order.Uint64(b))
}

func truncated(off int) error {
	return &domain.GeometryError{Offset: off, Message: "unexpected end of input"}
}

// decodeGeometry reads one full geometry (header included) starting at off.
// It returns the geometry and the exact number of bytes consumed, which
// callers must use to advance past sub-geometries.
func decodeGeometry(b []byte, off int) (orb.Geometry, int, error) {
	start := off
	if off+5 > len(b) {
		return nil, 0, truncated(off)
	}

	var order binary.ByteOrder
	switch b[off] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return nil, 0, &domain.GeometryError{
			Offset:  off,
			Message: fmt.Sprintf("bad byte order marker 0x%02x", b[off]),
		}
	}

	typeCode := order.Uint32(b[off+1 : off+5])
	off += 5
	if typeCode&ewkbSRIDFlag != 0 {
		if off+4 > len(b) {
			return nil, 0, truncated(off)
		}
		off += 4
	}

	var (
		g   orb.Geometry
		n   int
		err error
	)
	switch typeCode & 0xFF {
	case wkbPoint:
		g, n, err = decodePoint(b, off, order)
	case wkbLineString:
		var ls orb.LineString
		ls, n, err = decodeLineString(b, off, order)
		g = ls
	case wkbPolygon:
		var p orb.Polygon
		p, n, err = decodePolygon(b, off, order)
		g = p
	case wkbMultiPoint:
		g, n, err = decodeMultiPoint(b, off, order)
	case wkbMultiLineString:
		g, n, err = decodeMultiLineString(b, off, order)
	case wkbMultiPolygon:
		g, n, err = decodeMultiPolygon(b, off, order)
	case wkbGeometryCollection:
		g, n, err = decodeCollection(b, off, order)
	default:
		return nil, 0, &domain.GeometryError{
			Offset:  start,
			Message: fmt.Sprintf("unsupported geometry type code %d", typeCode&0xFF),
		}
	}
	if err != nil {
		return nil, 0, err
	}
	return g, off + n - start, nil
}

func decodePoint(b []byte, off int, order binary.ByteOrder) (orb.Point, int, error) {
	if off+16 > len(b) {
		return orb.Point{}, 0, truncated(off)
	}
	p := orb.Point{
		readFloat64(b[off:], order),
		readFloat64(b[off+8:], order),
	}
	return p, 16, nil
}

func readCount(b []byte, off int, order binary.ByteOrder) (int, error) {
	if off+4 > len(b) {
		return 0, truncated(off)
	}
	return int(order.Uint32(b[off : off+4])), nil
}

func decodeLineString(b []byte, off int, order binary.ByteOrder) (orb.LineString, int, error) {
	count, err := readCount(b, off, order)
	if err != nil {
		return nil, 0, err
	}
	n := 4
	ls := make(orb.LineString, 0, count)
	for i := 0; i < count; i++ {
		p, pn, err := decodePoint(b, off+n, order)
		if err != nil {
			return nil, 0, err
		}
		ls = append(ls, p)
		n += pn
	}
	return ls, n, nil
}

func decodePolygon(b []byte, off int, order binary.ByteOrder) (orb.Polygon, int, error) {
	rings, err := readCount(b, off, order)
	if err != nil {
		return nil, 0, err
	}
	n := 4
	poly := make(orb.Polygon, 0, rings)
	for i := 0; i < rings; i++ {
		ls, rn, err := decodeLineString(b, off+n, order)
		if err != nil {
			return nil, 0, err
		}
		poly = append(poly, orb.Ring(ls))
		n += rn
	}
	return poly, n, nil
}

// decodeMulti reads the member count and then count full sub-geometries,
// each with its own byte-order and type header, advancing by every
// member's reported consumed length.
func decodeMulti(b []byte, off int, order binary.ByteOrder, want int) ([]orb.Geometry, int, error) {
	count, err := readCount(b, off, order)
	if err != nil {
		return nil, 0, err
	}
	n := 4
	members := make([]orb.Geometry, 0, count)
	for i := 0; i < count; i++ {
		g, gn, err := decodeGeometry(b, off+n)
		if err != nil {
			return nil, 0, err
		}
		if want != 0 && geometryTypeCode(g) != want {
			return nil, 0, &domain.GeometryError{
				Offset:  off + n,
				Message: fmt.Sprintf("multi-geometry member %d has wrong type", i),
			}
		}
		members = append(members, g)
		n += gn
	}
	return members, n, nil
}

func geometryTypeCode(g orb.Geometry) int {
	switch g.(type) {
	case orb.Point:
		return wkbPoint
	case orb.LineString:
		return wkbLineString
	case orb.Polygon:
		return wkbPolygon
	case orb.MultiPoint:
		return wkbMultiPoint
	case orb.MultiLineString:
		return wkbMultiLineString
	case orb.MultiPolygon:
		return wkbMultiPolygon
	default:
		return wkbGeometryCollection
	}
}

func decodeMultiPoint(b []byte, off int, order binary.ByteOrder) (orb.MultiPoint, int, error) {
	members, n, err := decodeMulti(b, off, order, wkbPoint)
	if err != nil {
		return nil, 0, err
	}
	mp := make(orb.MultiPoint, len(members))
	for i, g := range members {
		mp[i] = g.(orb.Point)
	}
	return mp, n, nil
}

func decodeMultiLineString(b []byte, off int, order binary.ByteOrder) (orb.MultiLineString, int, error) {
	members, n, err := decodeMulti(b, off, order, wkbLineString)
	if err != nil {
		return nil, 0, err
	}
	mls := make(orb.MultiLineString, len(members))
	for i, g := range members {
		mls[i] = g.(orb.LineString)
	}
	return mls, n, nil
}

func decodeMultiPolygon(b []byte, off int, order binary.ByteOrder) (orb.MultiPolygon, int, error) {
	members, n, err := decodeMulti(b, off, order, wkbPolygon)
	if err != nil {
		return nil, 0, err
	}
	mp := make(orb.MultiPolygon, len(members))
	for i, g := range members {
		mp[i] = g.(orb.Polygon)
	}
	return mp, n, nil
}

func decodeCollection(b []byte, off int, order binary.ByteOrder) (orb.Collection, int, error) {
	members, n, err := decodeMulti(b, off, order, 0)
	if err != nil {
		return nil, 0, err
	}
	return orb.Collection(members), n, nil
}
