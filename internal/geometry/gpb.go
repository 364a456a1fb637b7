// Package geometry implements the binary geometry codec: GeoPackage Binary
// envelope stripping, WKB decoding, and WKT rendering.
package geometry

import (
	"encoding/binary"

	"github.com/jobrunner/geopub/internal/domain"
)

// GeoPackage Binary header layout: 2-byte magic "GP", 1-byte version,
// 1-byte flags, 4-byte SRID, optional envelope, then raw WKB.
const (
	gpbMagic0     = 0x47
	gpbMagic1     = 0x50
	gpbHeaderSize = 8
)

// envelopeSize returns the envelope byte length for an envelope contents
// indicator code. Codes above 4 are invalid per the container format; they
// are treated as no-envelope so the WKB parse downstream classifies the
// payload.
func envelopeSize(code byte) int {
	switch code {
	case 1:
		return 32 // XY
	case 2, 3:
		return 48 // XYZ or XYM
	case 4:
		return 64 // XYZM
	default:
		return 0
	}
}

// GPBToWKB strips the GeoPackage Binary header and envelope, returning the
// raw WKB payload. Input without the magic marker is returned unchanged,
// tolerating sources that already deliver plain WKB.
func GPBToWKB(b []byte) ([]byte, error) {
	if len(b) < 2 || b[0] != gpbMagic0 || b[1] != gpbMagic1 {
		return b, nil
	}
	if len(b) < gpbHeaderSize {
		return nil, &domain.GeometryError{Offset: len(b), Message: "geopackage header truncated"}
	}
	flags := b[3]
	header := gpbHeaderSize + envelopeSize((flags>>1)&0x07)
	if len(b) < header {
		return nil, &domain.GeometryError{Offset: len(b), Message: "geopackage envelope truncated"}
	}
	return b[header:], nil
}

// GPBEnvelope reads the precomputed bounding envelope from a GeoPackage
// Binary blob. ok is false when the blob carries no envelope or is not a
// GeoPackage Binary at all.
func GPBEnvelope(b []byte) (ext domain.Extent, ok bool) {
	if len(b) < gpbHeaderSize || b[0] != gpbMagic0 || b[1] != gpbMagic1 {
		return domain.Extent{}, false
	}
	flags := b[3]
	code := (flags >> 1) & 0x07
	size := envelopeSize(code)
	if code == 0 || code > 4 || len(b) < gpbHeaderSize+size {
		return domain.Extent{}, false
	}
	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 == 1 {
		order = binary.LittleEndian
	}
	// Envelope doubles are ordered minx, maxx, miny, maxy.
	env := b[gpbHeaderSize:]
	return domain.Extent{
		MinX: readFloat64(env[0:], order),
		MaxX: readFloat64(env[8:], order),
		MinY: readFloat64(env[16:], order),
		MaxY: readFloat64(env[24:], order),
	}, true
}
