package geodata

import (
	"bytes"
	"encoding/json"

	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/gjson"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeGeoJSON(data []byte) (*FeatureCollection, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !gjson.ValidBytes(data) {
		return nil, newFormatError(MalformedJSON, "Unable to parse GeoJSON payload.", nil)
	}

	collections := extractCollections(gjson.ParseBytes(data))
	if len(collections) == 0 {
		return nil, newFormatError(NoFeatureCollection, "No valid GeoJSON FeatureCollection was found.", nil)
	}

	out := &FeatureCollection{}
	for _, collection := range collections {
		collection.Get("features").ForEach(func(_, raw gjson.Result) bool {
			if f, ok := decodeFeature(raw); ok {
				out.Features = append(out.Features, f)
			}
			return true
		})
	}
	return out, nil
}

// extractCollections accepts a single collection, an array of collections,
// or an object whose values are collections (multi-layer exports).
func extractCollections(value gjson.Result) []gjson.Result {
	if isFeatureCollection(value) {
		return []gjson.Result{value}
	}
	if !value.IsArray() && !value.IsObject() {
		return nil
	}
	var found []gjson.Result
	value.ForEach(func(_, child gjson.Result) bool {
		if isFeatureCollection(child) {
			found = append(found, child)
		}
		return true
	})
	return found
}

func isFeatureCollection(value gjson.Result) bool {
	return value.IsObject() &&
		value.Get("type").String() == "FeatureCollection" &&
		value.Get("features").IsArray()
}

func decodeFeature(raw gjson.Result) (Feature, bool) {
	if !raw.IsObject() {
		return Feature{}, false
	}
	geometry := raw.Get("geometry")
	switch geometry.Get("type").String() {
	case "Polygon", "MultiPolygon":
	default:
		return Feature{}, false
	}

	g, err := geojson.UnmarshalGeometry([]byte(geometry.Raw))
	if err != nil || g == nil || !isPolygonal(g.Geometry()) {
		return Feature{}, false
	}

	props := map[string]interface{}{}
	if p := raw.Get("properties"); p.IsObject() {
		if err := json.Unmarshal([]byte(p.Raw), &props); err != nil {
			props = map[string]interface{}{}
		}
	}

	f := Feature{Geometry: g.Geometry(), Properties: props}
	if id := raw.Get("id"); id.Exists() && id.Type != gjson.Null {
		f.ID = id.String()
	}
	if srid := int(raw.Get(sridMember).Int()); srid != WGS84 && KnownSRID(srid) {
		f.SRID = srid
	}
	return f, true
}
