// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pdfraster/pkg/types"
)

// ExportEntry is a run with its outcomes, as written by Export.
type ExportEntry struct {
	types.RunSummary `yaml:",inline"`
	Outcomes         []types.Outcome `json:"outcomes" yaml:"outcomes"`
}

// Export writes the most recent runs (see Runs for limit semantics) with
// their outcomes to w as "yaml" or "json".
func (s *Store) Export(ctx context.Context, w io.Writer, format string, limit int, failedOnly bool) error {
	runs, err := s.Runs(ctx, limit)
	if err != nil {
		return err
	}

	entries := make([]ExportEntry, len(runs))
	for i, r := range runs {
		outcomes, err := s.Outcomes(ctx, r.ID, failedOnly)
		if err != nil {
			return err
		}
		entries[i] = ExportEntry{RunSummary: r, Outcomes: outcomes}
	}

	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format %q (want yaml or json)", format)
	}
}
