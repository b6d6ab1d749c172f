package sources

import (
	"context"
	"fmt"
	"os"

	"ingest/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads root records from a local JSON file (a saved API response).

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Absolute path to the JSON file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Required: false, Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
			{Key: "pageSize", Label: "Page Size", Type: "number", Required: false, Default: "100"},
		},
	}
}

func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig, _ *etl.Window) (<-chan etl.Page, <-chan error) {
	out := make(chan etl.Page, 4)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		records, err := readJSONFile(cfg)
		if err != nil {
			errCh <- err
			return
		}
		size := cfg.Int("pageSize", 100)
		if size <= 0 {
			size = len(records)
		}
		for start := 0; start < len(records); start += size {
			end := min(start+size, len(records))
			select {
			case out <- etl.Page{Records: records[start:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func readJSONFile(cfg etl.SourceConfig) ([]etl.Record, error) {
	filePath := cfg.String("filePath")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return decodePayload(data, cfg.String("dataPath"))
}
