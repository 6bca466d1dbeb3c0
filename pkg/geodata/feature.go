package geodata

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is a polygonal geometry with its source attributes. Geometry is
// always an orb.Polygon or orb.MultiPolygon once normalized. SRID names the
// EPSG system of projected source coordinates; zero means WGS84.
type Feature struct {
	ID         string                 `json:"id,omitempty"`
	Geometry   orb.Geometry           `json:"-"`
	Properties map[string]interface{} `json:"properties"`
	SRID       int                    `json:"srid,omitempty"`
}

// sridMember carries Feature.SRID as a GeoJSON foreign member.
const sridMember = "srid"

// SourceSRID is the EPSG code of the feature's coordinates.
func (f Feature) SourceSRID() int {
	if f.SRID == 0 {
		return WGS84
	}
	return f.SRID
}

// FeatureCollection is the flattened, ordered output of Normalize.
type FeatureCollection struct {
	Features []Feature
}

func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

// MultiPolygon returns the feature geometry coerced to a multipolygon.
func (f Feature) MultiPolygon() (orb.MultiPolygon, bool) {
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, true
	case orb.MultiPolygon:
		return g, true
	default:
		return nil, false
	}
}

// GeoJSON renders the feature geometry as a MultiPolygon GeoJSON geometry
// object, the form the datastore's GeoJSON constructor expects.
func (f Feature) GeoJSON() ([]byte, bool, error) {
	mp, ok := f.MultiPolygon()
	if !ok {
		return nil, false, nil
	}
	raw, err := geojson.NewGeometry(mp).MarshalJSON()
	if err != nil {
		return nil, true, err
	}
	return raw, true, nil
}

// ToGeoJSON converts the collection back to an orb FeatureCollection.
func (fc *FeatureCollection) ToGeoJSON() *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for _, f := range fc.Features {
		gf := geojson.NewFeature(f.Geometry)
		if f.ID != "" {
			gf.ID = f.ID
		}
		gf.Properties = geojson.Properties(f.Properties)
		if f.SRID != 0 && f.SRID != WGS84 {
			gf.ExtraMembers = geojson.Properties{sridMember: f.SRID}
		}
		out.Append(gf)
	}
	return out
}

func isPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the collection as a GeoJSON FeatureCollection.
func (fc FeatureCollection) MarshalJSON() ([]byte, error) {
	return fc.ToGeoJSON().MarshalJSON()
}

// UnmarshalJSON decodes GeoJSON with the same rules as Normalize, so
// non-polygonal features are dropped.
func (fc *FeatureCollection) UnmarshalJSON(data []byte) error {
	decoded, err := decodeGeoJSON(data)
	if err != nil {
		return err
	}
	*fc = *decoded
	return nil
}
