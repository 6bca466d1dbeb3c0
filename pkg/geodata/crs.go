package geodata

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// WGS84 is the reference system every stored geometry ends up in.
const WGS84 = 4326

var (
	authorityPattern = regexp.MustCompile(`(?:AUTHORITY|ID)\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	utmPattern       = regexp.MustCompile(`UTM[_ ]ZONE[_ ](\d{1,2})\s*([NS])`)
	prs92Pattern     = regexp.MustCompile(`PHILIPPINES[_ ]ZONE[_ ](V|IV|I{1,3}|[1-5])\b`)
)

var romanZones = map[string]int{"I": 1, "II": 2, "III": 3, "IV": 4, "V": 5}

// SRIDFromPRJ maps the WKT of a shapefile .prj to an EPSG code. An empty
// definition is read as plain longitude/latitude.
func SRIDFromPRJ(wkt string) (int, bool) {
	wkt = strings.ToUpper(strings.TrimSpace(wkt))
	if wkt == "" {
		return WGS84, true
	}

	// The outermost authority closes the definition, after the nested ones.
	if matches := authorityPattern.FindAllStringSubmatch(wkt, -1); len(matches) > 0 {
		code, err := strconv.Atoi(matches[len(matches)-1][1])
		if err == nil && KnownSRID(code) {
			return code, true
		}
	}

	projected := strings.HasPrefix(wkt, "PROJCS") || strings.HasPrefix(wkt, "PROJCRS")
	if !projected {
		switch {
		case strings.Contains(wkt, "CGCS2000") || strings.Contains(wkt, "CHINA_GEODETIC_COORDINATE_SYSTEM_2000"):
			return 4490, true
		case strings.Contains(wkt, "PRS92") || strings.Contains(wkt, "PHILIPPINE_REFERENCE_SYSTEM_1992") || strings.Contains(wkt, "PRS 1992"):
			return 4683, true
		case strings.HasPrefix(wkt, "GEOGCS") || strings.HasPrefix(wkt, "GEOGCRS") || strings.HasPrefix(wkt, "GEODCRS"):
			return WGS84, true
		}
		return 0, false
	}

	if m := utmPattern.FindStringSubmatch(wkt); m != nil {
		zone, _ := strconv.Atoi(m[1])
		if zone < 1 || zone > 60 {
			return 0, false
		}
		switch {
		case strings.Contains(wkt, "NAD_1983") || strings.Contains(wkt, "NAD83"):
			if m[2] == "N" && zone <= 23 {
				return 26900 + zone, true
			}
			return 0, false
		case strings.Contains(wkt, "WGS_1984") || strings.Contains(wkt, "WGS 84") || strings.Contains(wkt, "WGS84"):
			if m[2] == "N" {
				return 32600 + zone, true
			}
			return 32700 + zone, true
		}
		return 0, false
	}
	if m := prs92Pattern.FindStringSubmatch(wkt); m != nil && (strings.Contains(wkt, "PRS") || strings.Contains(wkt, "PHILIPPINE_REFERENCE")) {
		zone, ok := romanZones[m[1]]
		if !ok {
			zone, _ = strconv.Atoi(m[1])
		}
		return 3120 + zone, true
	}
	if strings.Contains(wkt, "WEB_MERCATOR") || strings.Contains(wkt, "PSEUDO-MERCATOR") || strings.Contains(wkt, "POPULAR VISUALISATION") {
		return 3857, true
	}
	return 0, false
}

// KnownSRID reports whether code is a reference system the datastore is
// expected to transform from.
func KnownSRID(code int) bool {
	switch {
	case code == WGS84, code == 4490, code == 4683, code == 3857:
		return true
	case code >= 32601 && code <= 32660, code >= 32701 && code <= 32760:
		return true
	case code >= 26901 && code <= 26923:
		return true
	case code >= 3121 && code <= 3125:
		return true
	}
	return false
}

// withinLonLat reports whether every vertex of g is a plausible
// longitude/latitude pair.
func withinLonLat(g orb.Geometry) bool {
	b := g.Bound()
	return b.Min[0] >= -180 && b.Max[0] <= 180 && b.Min[1] >= -90 && b.Max[1] <= 90
}
