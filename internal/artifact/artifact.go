// Package artifact persists and restores fitted models. An artifact is a
// gzipped JSON envelope carrying the model spec, the dataset fingerprint,
// the prior and posterior draw sets, and the convergence diagnostics, so a
// fit can be reported on or re-optimized without re-sampling.
package artifact

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mixstack-labs/mixpipe/internal/diagnostics"
	"github.com/mixstack-labs/mixpipe/internal/inference"
	"github.com/mixstack-labs/mixpipe/internal/modelspec"
)

// FormatVersion identifies the envelope layout. Bump on breaking changes.
const FormatVersion = 1

// DefaultExtension is the conventional artifact file suffix.
const DefaultExtension = ".mmm.json.gz"

// Artifact is a fitted model and everything needed to report on it.
type Artifact struct {
	FormatVersion   int                 `json:"format_version"`
	Name            string              `json:"name"`
	CreatedAt       time.Time           `json:"created_at"`
	RunID           string              `json:"run_id,omitempty"`
	DataPath        string              `json:"data_path"`
	DataFingerprint string              `json:"data_fingerprint"`
	Spec            *modelspec.Spec     `json:"spec"`
	Prior           *inference.DrawSet  `json:"prior,omitempty"`
	Posterior       *inference.DrawSet  `json:"posterior"`
	Diagnostics     *diagnostics.Report `json:"diagnostics,omitempty"`
}

// Save writes the artifact to path, creating parent directories as needed.
func Save(a *Artifact, path string) error {
	if a.Posterior == nil {
		return fmt.Errorf("refusing to save artifact without posterior draws")
	}
	a.FormatVersion = FormatVersion
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer func() { _ = f.Close() }()

	zw := gzip.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(a); err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish artifact: %w", err)
	}
	return f.Close()
}

// Load reads an artifact and verifies its format version and, when the
// dataset is still reachable, its dataset fingerprint.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s is not a mixpipe artifact: %w", path, err)
	}
	defer func() { _ = zr.Close() }()

	var a Artifact
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if a.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("artifact %s has format version %d, this build reads %d",
			path, a.FormatVersion, FormatVersion)
	}
	if a.Posterior == nil {
		return nil, fmt.Errorf("artifact %s carries no posterior draws", path)
	}
	if err := a.VerifyData(); err != nil {
		return nil, err
	}
	return &a, nil
}

// VerifyData recomputes the dataset fingerprint and compares it with the one
// recorded at fit time. A dataset that has moved or been deleted is fine
// (the artifact is self-contained); one that changed in place is not, since
// any report would describe data the model was never fitted on.
func (a *Artifact) VerifyData() error {
	if a.DataPath == "" || a.DataFingerprint == "" {
		return nil
	}
	if _, err := os.Stat(a.DataPath); os.IsNotExist(err) {
		return nil
	}

	current, err := Fingerprint(a.DataPath)
	if err != nil {
		return err
	}
	if current != a.DataFingerprint {
		return fmt.Errorf("dataset %s changed since the model was fitted (sha256 %.12s, expected %.12s); re-run 'mixpipe fit'",
			a.DataPath, current, a.DataFingerprint)
	}
	return nil
}

// Fingerprint hashes a dataset file so reports can detect artifact/data
// mismatches.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash dataset: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
