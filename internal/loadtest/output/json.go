package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/brasilcep/cepbench/internal/loadtest/engine"
)

// jsonResult adds the run error, as a string, to the serialized result.
type jsonResult struct {
	*engine.TestResult
	Error string `json:"error,omitempty"`
}

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return fmt.Errorf("no result to write")
	}

	doc := jsonResult{TestResult: result}
	if result.Error != nil {
		doc.Error = result.Error.Error()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}
