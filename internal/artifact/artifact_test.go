package artifact

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixstack-labs/mixpipe/internal/inference"
	"github.com/mixstack-labs/mixpipe/internal/modelspec"
)

func testArtifact() *Artifact {
	return &Artifact{
		Name:            "demo",
		DataPath:        "data/merged.csv",
		DataFingerprint: "abc123",
		Spec: &modelspec.Spec{
			Name: "demo",
			Data: modelspec.Mapping{
				MediaChannels: []modelspec.MediaChannel{{Name: "tv", SpendColumn: "tv_spend"}},
			},
		},
		Posterior: &inference.DrawSet{
			Kind: "posterior",
			Params: []inference.ParamDraws{
				{Name: "roi_tv", Chains: [][]float64{{1.1, 1.2}, {1.0, 1.3}}},
			},
		},
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo"+DefaultExtension)

	a := testArtifact()
	require.NoError(t, Save(a, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, loaded.FormatVersion)
	assert.Equal(t, "demo", loaded.Name)
	assert.Equal(t, "abc123", loaded.DataFingerprint)
	assert.False(t, loaded.CreatedAt.IsZero())
	require.NotNil(t, loaded.Posterior.Param("roi_tv"))
	assert.Equal(t, a.Posterior.Param("roi_tv").Chains, loaded.Posterior.Param("roi_tv").Chains)
	assert.Equal(t, "tv", loaded.Spec.Data.MediaChannels[0].Name)
}

func TestSave_RequiresPosterior(t *testing.T) {
	a := testArtifact()
	a.Posterior = nil
	err := Save(a, filepath.Join(t.TempDir(), "x"+DefaultExtension))
	assert.ErrorContains(t, err, "posterior")
}

func TestSave_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "demo"+DefaultExtension)
	require.NoError(t, Save(testArtifact(), path))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestLoad_NotAnArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "not a mixpipe artifact")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoad_FormatVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old"+DefaultExtension)

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	a := testArtifact()
	a.FormatVersion = FormatVersion + 1
	require.NoError(t, json.NewEncoder(zw).Encode(a))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = Load(path)
	assert.ErrorContains(t, err, "format version")
}

func TestLoad_DetectsChangedDataset(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "merged.csv")
	require.NoError(t, os.WriteFile(dataPath, []byte("time,spend\n2023-01-02,1\n"), 0o600))

	fp, err := Fingerprint(dataPath)
	require.NoError(t, err)

	a := testArtifact()
	a.DataPath = dataPath
	a.DataFingerprint = fp

	path := filepath.Join(dir, "demo"+DefaultExtension)
	require.NoError(t, Save(a, path))

	// Unchanged dataset loads fine.
	_, err = Load(path)
	require.NoError(t, err)

	// Rewriting the dataset invalidates the artifact.
	require.NoError(t, os.WriteFile(dataPath, []byte("time,spend\n2023-01-02,9999\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "changed since the model was fitted")

	// A dataset that moved away is not an error: the artifact is
	// self-contained.
	require.NoError(t, os.Remove(dataPath))
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestVerifyData_SkipsWhenUnset(t *testing.T) {
	a := testArtifact()
	a.DataFingerprint = ""
	assert.NoError(t, a.VerifyData())
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte("time,spend\n"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("time,spend\n2023-01-02,1\n"), 0o600))

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpA2, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpA2)
	assert.NotEqual(t, fpA, fpB)
	assert.Len(t, fpA, 64)
}
