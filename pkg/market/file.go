package market

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"yieldroute/pkg/types"
)

// snapshotFile is the JSON layout written by the advisory feed exporter.
// Correlations is a full row-major square matrix keyed to candidate order.
type snapshotFile struct {
	Candidates   []types.TokenCandidate `json:"candidates"`
	Prices       map[string]TokenPrice  `json:"prices,omitempty"`
	Correlations [][]float64            `json:"correlations,omitempty"`
	CollectedAt  time.Time              `json:"collected_at"`
}

// FileProvider reads a market snapshot from a JSON file. It exists for
// the CLI and for tests; production deployments point the engine at the
// live advisory feed instead.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider reading from path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Snapshot loads and validates the snapshot file.
func (p *FileProvider) Snapshot(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}

	snap := &Snapshot{
		Candidates:  f.Candidates,
		Prices:      f.Prices,
		CollectedAt: f.CollectedAt,
	}

	if len(f.Correlations) > 0 {
		n := len(f.Correlations)
		sym := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			if len(f.Correlations[i]) != n {
				return nil, fmt.Errorf("correlation row %d has %d entries, want %d", i, len(f.Correlations[i]), n)
			}
			for j := i; j < n; j++ {
				sym.SetSym(i, j, f.Correlations[i][j])
			}
		}
		snap.Correlations = sym
	}

	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot in %s: %w", p.path, err)
	}
	return snap, nil
}
