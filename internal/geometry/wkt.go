package geometry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jobrunner/geopub/internal/domain"
)

// MarshalWKT renders a geometry as Well-Known Text. The six simple and
// multi types are supported; collections are not.
func MarshalWKT(g orb.Geometry) (string, error) {
	switch v := g.(type) {
	case orb.Point:
		return "POINT(" + wktPair(v) + ")", nil
	case orb.MultiPoint:
		return "MULTIPOINT(" + wktPairs(orb.LineString(v)) + ")", nil
	case orb.LineString:
		return "LINESTRING(" + wktPairs(v) + ")", nil
	case orb.MultiLineString:
		parts := make([]string, len(v))
		for i, ls := range v {
			parts[i] = "(" + wktPairs(ls) + ")"
		}
		return "MULTILINESTRING(" + strings.Join(parts, ",") + ")", nil
	case orb.Polygon:
		return "POLYGON(" + wktRings(v) + ")", nil
	case orb.MultiPolygon:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = "(" + wktRings(p) + ")"
		}
		return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")", nil
	default:
		return "", fmt.Errorf("wkt: %T: %w", g, domain.ErrUnsupported)
	}
}

func wktCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func wktPair(p orb.Point) string {
	return wktCoord(p[0]) + " " + wktCoord(p[1])
}

func wktPairs(ls orb.LineString) string {
	parts := make([]string, len(ls))
	for i, p := range ls {
		parts[i] = wktPair(p)
	}
	return strings.Join(parts, ",")
}

func wktRings(poly orb.Polygon) string {
	parts := make([]string, len(poly))
	for i, r := range poly {
		parts[i] = "(" + wktPairs(orb.LineString(r)) + ")"
	}
	return strings.Join(parts, ",")
}
