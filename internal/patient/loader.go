// Package patient provides loading of parsed patient records.
//
// Clinical document parsing (C-CDA and friends) happens upstream; this
// package consumes the parser's JSON output. A nil record from Parse means
// "no match possible", not an error the pipeline should raise.
package patient

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/trialscope/trialscope/internal/models"
)

// Parser converts a raw clinical document into a patient record.
// Implementations return (nil, nil) for documents that parse to nothing usable.
type Parser interface {
	Parse(document []byte) (*models.Patient, error)
}

// JSONParser parses pre-extracted patient records in the interchange JSON format.
type JSONParser struct{}

// Parse decodes a patient record. Returns (nil, nil) for empty input and an
// error for malformed JSON.
func (JSONParser) Parse(document []byte) (*models.Patient, error) {
	if len(document) == 0 {
		return nil, nil
	}
	var p models.Patient
	if err := json.Unmarshal(document, &p); err != nil {
		return nil, fmt.Errorf("parse patient record: %w", err)
	}
	return &p, nil
}

// Load reads and parses a patient record file.
func Load(path string) (*models.Patient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patient file: %w", err)
	}
	return JSONParser{}.Parse(data)
}
