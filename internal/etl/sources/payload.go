package sources

import (
	"bytes"
	"fmt"
	"strings"

	"ingest/internal/etl"
	"ingest/internal/flatten"
)

// decodePayload parses a JSON body, walks dataPath and returns the root
// records found there. Numbers are kept as json.Number.
func decodePayload(data []byte, dataPath string) ([]etl.Record, error) {
	raw, err := flatten.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if dataPath != "" {
		if raw, err = navigatePath(raw, dataPath); err != nil {
			return nil, err
		}
	}
	return toRecords(raw)
}

// navigatePath walks a dot-separated path into nested maps.
func navigatePath(obj any, path string) (any, error) {
	current := obj
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid data path: %q not found", part)
		}
		current = m[part]
	}
	return current, nil
}

// toRecords converts a raw JSON value into root Records. Nested values are
// left intact for the flattening engine.
func toRecords(raw any) ([]etl.Record, error) {
	recs, err := flatten.Records(raw)
	if err != nil {
		return nil, err
	}
	out := make([]etl.Record, len(recs))
	for i, r := range recs {
		out[i] = etl.Record{Data: r}
	}
	return out, nil
}
