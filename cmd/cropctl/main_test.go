package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cropsight/platform/pkg/attributes"
	"github.com/cropsight/platform/pkg/gateway/auth"
	"github.com/cropsight/platform/pkg/geodata"
	"github.com/stretchr/testify/require"
)

const sample = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"dn":"Corn"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
{"type":"Feature","properties":{"dn":"corn "},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
{"type":"Feature","properties":{"class":3},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}},
{"type":"Feature","properties":{"dn":"corn"},"geometry":{"type":"Point","coordinates":[0,0]}}
]}`

func TestInspect(t *testing.T) {
	fc, err := geodata.NewNormalizer(0).Normalize([]byte(sample), "sample.geojson")
	require.NoError(t, err)

	result := inspect(fc, attributes.NewResolver(attributes.DefaultKeyTable()))
	require.Equal(t, 4, result.Total)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, []identifierCount{
		{Identifier: "corn", Crop: "Corn", Features: 2},
		{Identifier: "3", Crop: "Rice", Features: 1},
	}, result.Identifiers)
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.geojson")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"inspect", path})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "corn")
	require.Contains(t, out.String(), "4 polygon features, 3 insertable, 1 skipped")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef-session")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user-id", "ops-1", "--name", "Ops", "--role", "admin"})
	require.NoError(t, root.Execute())

	sessions, err := auth.NewSessionManager("0123456789abcdef-session", "cropsight", "cropsight-console", 0, nil)
	require.NoError(t, err)
	claims, err := sessions.ValidateToken(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "ops-1", claims.Subject)
	require.Equal(t, auth.RoleAdmin, claims.Role)

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--user-id", "ops-1", "--role", "root"})
	require.Error(t, root.Execute())
}
