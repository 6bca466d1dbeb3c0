package geodata

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cropsight/platform/pkg/common/logger"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"golang.org/x/text/encoding"
)

// maxExpansion bounds how far an archive may inflate relative to the upload
// ceiling.
const maxExpansion = 10

type shapeLayer struct {
	name string
	shp  string
	dbf  string
	cpg  string
	prj  string
}

func (n *Normalizer) decodeShapefileZip(data []byte) (*FeatureCollection, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, newFormatError(InvalidArchive, "The archive did not contain a valid shapefile layer.", err)
	}

	dir, err := os.MkdirTemp("", "cropsight-shp-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	layers, err := extractLayers(zr, dir, n.MaxBytes*maxExpansion)
	if err != nil {
		return nil, err
	}

	out := &FeatureCollection{}
	valid := 0
	for _, layer := range layers {
		srid, err := layerSRID(layer)
		if err != nil {
			return nil, err
		}
		features, err := readLayer(layer, srid)
		if IsFormatError(err) {
			return nil, err
		}
		if err != nil {
			logger.Log.WithError(err).WithField("layer", layer.name).Warn("Skipping unreadable shapefile layer")
			continue
		}
		valid++
		out.Features = append(out.Features, features...)
	}
	if valid == 0 {
		return nil, newFormatError(InvalidArchive, "The archive did not contain a valid shapefile layer.", nil)
	}
	return out, nil
}

// extractLayers writes the shapefile members of the archive into dir, one
// sub-directory per archive folder, and pairs them by stem. Entry names are
// never used as paths directly.
func extractLayers(zr *zip.Reader, dir string, budget int64) ([]shapeLayer, error) {
	folders := map[string]string{}
	byKey := map[string]*shapeLayer{}
	var order []string

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		base := path.Base(name)
		if strings.HasPrefix(base, ".") || strings.Contains(name, "__MACOSX") {
			continue
		}
		ext := strings.ToLower(path.Ext(base))
		if ext != ".shp" && ext != ".shx" && ext != ".dbf" && ext != ".cpg" && ext != ".prj" {
			continue
		}

		folder := path.Dir(name)
		sub, ok := folders[folder]
		if !ok {
			sub = strconv.Itoa(len(folders))
			folders[folder] = sub
			if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
				return nil, fmt.Errorf("create scratch dir: %w", err)
			}
		}

		stem := strings.TrimSuffix(base, path.Ext(base))
		target := filepath.Join(dir, sub, stem+ext)
		written, err := extractFile(f, target, budget)
		if err != nil {
			return nil, err
		}
		budget -= written

		key := sub + "/" + strings.ToLower(stem)
		layer, ok := byKey[key]
		if !ok {
			layer = &shapeLayer{name: path.Join(folder, stem)}
			byKey[key] = layer
			order = append(order, key)
		}
		switch ext {
		case ".shp":
			layer.shp = target
		case ".dbf":
			layer.dbf = target
		case ".cpg":
			layer.cpg = target
		case ".prj":
			layer.prj = target
		}
	}

	var layers []shapeLayer
	for _, key := range order {
		if layer := byKey[key]; layer.shp != "" {
			layers = append(layers, *layer)
		}
	}
	return layers, nil
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, newFormatError(InvalidArchive, "The archive did not contain a valid shapefile layer.", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", filepath.Base(target), err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return written, newFormatError(InvalidArchive, "The archive did not contain a valid shapefile layer.", err)
	}
	if written > budget {
		return written, newFormatError(InvalidArchive, "The archive expands beyond the allowed size.", nil)
	}
	return written, nil
}

// readLayer decodes one .shp/.dbf pair. The shapefile reader panics on some
// truncated inputs; those layers are reported as errors.
func readLayer(layer shapeLayer, srid int) (features []Feature, err error) {
	defer func() {
		if r := recover(); r != nil {
			features, err = nil, fmt.Errorf("corrupt shapefile %s: %v", layer.name, r)
		}
	}()

	reader, err := shp.Open(layer.shp)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var fields []shp.Field
	if layer.dbf != "" {
		fields = reader.Fields()
	}
	enc := readCPGEncoding(layer.cpg)

	for reader.Next() {
		row, shape := reader.Shape()
		geometry := polygonGeometry(shape)
		if geometry == nil {
			continue
		}
		if layer.prj == "" && !withinLonLat(geometry) {
			return nil, newFormatError(InvalidArchive,
				fmt.Sprintf("Layer %s has projected coordinates but no .prj file.", path.Base(layer.name)), nil)
		}
		feature := Feature{
			Geometry:   geometry,
			Properties: buildAttributes(reader, row, fields, enc),
		}
		if srid != WGS84 {
			feature.SRID = srid
		}
		features = append(features, feature)
	}
	return features, nil
}

// layerSRID reads the layer's .prj. Layers without one are taken as
// longitude/latitude.
func layerSRID(layer shapeLayer) (int, error) {
	if layer.prj == "" {
		return WGS84, nil
	}
	raw, err := os.ReadFile(layer.prj)
	if err != nil {
		return 0, fmt.Errorf("read %s.prj: %w", layer.name, err)
	}
	srid, ok := SRIDFromPRJ(string(raw))
	if !ok {
		return 0, newFormatError(InvalidArchive,
			fmt.Sprintf("Layer %s uses an unsupported coordinate reference system.", path.Base(layer.name)), nil)
	}
	return srid, nil
}

func polygonGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Polygon:
		return assemblePolygons(s.Points, s.Parts)
	case *shp.PolygonZ:
		return assemblePolygons(s.Points, s.Parts)
	case *shp.PolygonM:
		return assemblePolygons(s.Points, s.Parts)
	default:
		return nil
	}
}

// assemblePolygons groups shapefile rings into polygons: a clockwise ring
// starts a new polygon, counter-clockwise rings are holes of the current
// one. A hole with no preceding shell is promoted to a shell.
func assemblePolygons(points []shp.Point, parts []int32) orb.Geometry {
	var result orb.MultiPolygon
	for _, part := range splitPoints(points, parts) {
		if len(part) < 4 {
			continue
		}
		ring := make(orb.Ring, len(part))
		for i, p := range part {
			ring[i] = orb.Point{p.X, p.Y}
		}
		if isClockwise(ring) || len(result) == 0 {
			result = append(result, orb.Polygon{ring})
			continue
		}
		last := len(result) - 1
		result[last] = append(result[last], ring)
	}

	switch len(result) {
	case 0:
		return nil
	case 1:
		return result[0]
	default:
		return result
	}
}

func splitPoints(points []shp.Point, parts []int32) [][]shp.Point {
	var rings [][]shp.Point
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		rings = append(rings, points[start:end])
	}
	return rings
}

func isClockwise(ring orb.Ring) bool {
	sum := 0.0
	for i := 0; i < len(ring)-1; i++ {
		p1, p2 := ring[i], ring[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}

func buildAttributes(reader *shp.Reader, row int, fields []shp.Field, enc encoding.Encoding) map[string]interface{} {
	attrs := make(map[string]interface{}, len(fields))
	for k, f := range fields {
		name := decodeText(enc, strings.TrimRight(f.String(), "\x00"))
		raw := strings.TrimSpace(strings.Trim(reader.ReadAttribute(row, k), "\x00"))

		switch f.Fieldtype {
		case 'N', 'F':
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				attrs[name] = v
			} else {
				attrs[name] = nil
			}
		default:
			attrs[name] = decodeText(enc, raw)
		}
	}
	return attrs
}
