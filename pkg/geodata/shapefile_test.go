package geodata

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// clockwise shells and a counter-clockwise hole inside the first
var (
	shell  = []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole   = []shp.Point{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}}
	shell2 = []shp.Point{{X: 20, Y: 0}, {X: 20, Y: 5}, {X: 25, Y: 5}, {X: 25, Y: 0}, {X: 20, Y: 0}}
)

type shpRow struct {
	rings [][]shp.Point
	dn    string
	class int
}

func writePolygonLayer(t *testing.T, dir, stem string, rows []shpRow) {
	t.Helper()
	w, err := shp.Create(filepath.Join(dir, stem+".shp"), shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("dn", 20),
		shp.NumberField("class", 4),
	}))
	for _, row := range rows {
		polygon := shp.Polygon(*shp.NewPolyLine(row.rings))
		n := w.Write(&polygon)
		require.NoError(t, w.WriteAttribute(int(n), 0, row.dn))
		require.NoError(t, w.WriteAttribute(int(n), 1, row.class))
	}
	w.Close()
	fixDBFName(t, dir, stem)
}

// fixDBFName renames the attribute table the shapefile writer saves as
// "<stem>dbf" so the layer looks like a real export.
func fixDBFName(t *testing.T, dir, stem string) {
	t.Helper()
	require.NoError(t, os.Rename(filepath.Join(dir, stem+"dbf"), filepath.Join(dir, stem+".dbf")))
}

func writePointLayer(t *testing.T, dir, stem string) {
	t.Helper()
	w, err := shp.Create(filepath.Join(dir, stem+".shp"), shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("dn", 20)}))
	n := w.Write(&shp.Point{X: 1, Y: 1})
	require.NoError(t, w.WriteAttribute(int(n), 0, "corn"))
	w.Close()
	fixDBFName(t, dir, stem)
}

func zipDir(t *testing.T, dir, prefix string, extra map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		f, err := zw.Create(prefix + entry.Name())
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	for name, content := range extra {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestNormalizeShapefileZip(t *testing.T) {
	dir := t.TempDir()
	writePolygonLayer(t, dir, "fields", []shpRow{
		{rings: [][]shp.Point{shell, hole}, dn: "Corn", class: 1},
		{rings: [][]shp.Point{shell, shell2}, dn: "Rice", class: 3},
	})
	writePointLayer(t, dir, "wells")

	archive := zipDir(t, dir, "export/", map[string]string{"export/README.txt": "not a layer"})

	fc, err := NewNormalizer(0).Normalize(archive, "Fields.ZIP")
	require.NoError(t, err)
	require.Equal(t, 2, fc.Len())

	first, ok := fc.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok, "shell with hole stays a polygon")
	require.Len(t, first, 2)
	require.Equal(t, "Corn", fc.Features[0].Properties["dn"])
	require.Equal(t, float64(1), fc.Features[0].Properties["class"])

	second, ok := fc.Features[1].Geometry.(orb.MultiPolygon)
	require.True(t, ok, "two shells become a multipolygon")
	require.Len(t, second, 2)
}

func TestNormalizeShapefileZipReadsProjection(t *testing.T) {
	utmShell := []shp.Point{{X: 499950, Y: 1649950}, {X: 499950, Y: 1650050}, {X: 500050, Y: 1650050}, {X: 500050, Y: 1649950}, {X: 499950, Y: 1649950}}

	dir := t.TempDir()
	writePolygonLayer(t, dir, "fields", []shpRow{{rings: [][]shp.Point{utmShell}, dn: "Corn", class: 1}})

	archive := zipDir(t, dir, "", map[string]string{"FIELDS.PRJ": prjUTM51NEsri})
	fc, err := NewNormalizer(0).Normalize(archive, "fields.zip")
	require.NoError(t, err)
	require.Equal(t, 1, fc.Len())
	require.Equal(t, 32651, fc.Features[0].SRID)
	require.Equal(t, 32651, fc.Features[0].SourceSRID())
	require.Equal(t, "Corn", fc.Features[0].Properties["dn"])

	raw, err := fc.MarshalJSON()
	require.NoError(t, err)
	var decoded FeatureCollection
	require.NoError(t, decoded.UnmarshalJSON(raw))
	require.Equal(t, 32651, decoded.Features[0].SRID)

	t.Run("geographic prj keeps wgs84", func(t *testing.T) {
		dir := t.TempDir()
		writePolygonLayer(t, dir, "fields", []shpRow{{rings: [][]shp.Point{shell}, dn: "Corn", class: 1}})
		fc, err := NewNormalizer(0).Normalize(zipDir(t, dir, "", map[string]string{"fields.prj": prjWGS84}), "fields.zip")
		require.NoError(t, err)
		require.Zero(t, fc.Features[0].SRID)
		require.Equal(t, WGS84, fc.Features[0].SourceSRID())
	})

	t.Run("unsupported projection", func(t *testing.T) {
		dir := t.TempDir()
		writePolygonLayer(t, dir, "fields", []shpRow{{rings: [][]shp.Point{utmShell}, dn: "Corn", class: 1}})
		_, err := NewNormalizer(0).Normalize(zipDir(t, dir, "", map[string]string{"fields.prj": prjLambert}), "fields.zip")
		require.True(t, IsFormatError(err, InvalidArchive), "got %v", err)
	})

	t.Run("projected coordinates without prj", func(t *testing.T) {
		dir := t.TempDir()
		writePolygonLayer(t, dir, "fields", []shpRow{{rings: [][]shp.Point{utmShell}, dn: "Corn", class: 1}})
		_, err := NewNormalizer(0).Normalize(zipDir(t, dir, "", nil), "fields.zip")
		require.True(t, IsFormatError(err, InvalidArchive), "got %v", err)
		require.Contains(t, err.Error(), "no .prj file")
	})
}

func TestNormalizeShapefileZipWithoutLayers(t *testing.T) {
	archive := zipDir(t, t.TempDir(), "", map[string]string{"notes.txt": "nothing here"})

	_, err := NewNormalizer(0).Normalize(archive, "empty.zip")
	require.True(t, IsFormatError(err, InvalidArchive), "got %v", err)
}

func TestNormalizeCorruptArchive(t *testing.T) {
	_, err := NewNormalizer(0).Normalize([]byte("PK-not-really-a-zip"), "broken.zip")
	require.True(t, IsFormatError(err, InvalidArchive), "got %v", err)
}

func TestAssemblePolygonsPromotesOrphanHole(t *testing.T) {
	g := assemblePolygons(hole, []int32{0})
	polygon, ok := g.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, polygon, 1)

	require.Nil(t, assemblePolygons(shell[:3], []int32{0}))
}

func TestLookupEncoding(t *testing.T) {
	require.Equal(t, "café", decodeText(lookupEncoding("ANSI 1252"), "caf\xe9"))
	require.Equal(t, "café", decodeText(lookupEncoding("UTF-8"), "café"))
	require.Equal(t, "plain", decodeText(lookupEncoding("no-such-codepage"), "plain"))
}
