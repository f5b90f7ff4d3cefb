package testutils

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var update = flag.Bool("update", false, "update golden files")

// GoldenPath returns the golden file path for the current test.
func GoldenPath(t *testing.T) string {
	t.Helper()

	return filepath.Join("testdata", "golden", t.Name())
}

// LoadWithUpdateFromGoldenYAML loads the golden YAML content for the current
// test, deserialized into want's type. When the -update flag is set, the
// golden file is first rewritten from want.
func LoadWithUpdateFromGoldenYAML[E any](t *testing.T, want E) E {
	t.Helper()

	goldenPath := GoldenPath(t)
	if *update {
		data, err := yaml.Marshal(want)
		require.NoError(t, err, "Setup: failed to marshal golden content")
		require.NoError(t, os.MkdirAll(filepath.Dir(goldenPath), 0750), "Setup: failed to create golden directory")
		require.NoError(t, os.WriteFile(goldenPath, data, 0600), "Setup: failed to write golden file")
	}

	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "Setup: failed to read golden file, re-run with -update to create it")

	var got E
	require.NoError(t, yaml.Unmarshal(data, &got), "Setup: failed to unmarshal golden file")
	return got
}
