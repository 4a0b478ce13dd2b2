// Package face extracts face descriptors from student photos and matches a
// query descriptor against the enrolled set.
package face

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/constants"
)

// Dim is the descriptor length produced by the SFace recognizer.
const Dim = constants.DescriptorDim

// Descriptor is a face embedding. It must not be modified after extraction.
type Descriptor []float32

// Finite reports whether d is non-empty and holds no NaN or Inf values.
func (d Descriptor) Finite() bool {
	if len(d) == 0 {
		return false
	}
	for _, v := range d {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// String returns the JSON array form used in the face_encoding column.
func (d Descriptor) String() string {
	if d == nil {
		return "null"
	}
	data, err := json.Marshal([]float32(d))
	if err != nil {
		return "null"
	}
	return string(data)
}

// ParseDescriptor decodes the persisted JSON array form.
// Blank text and JSON null mean "no descriptor on file" and return nil, nil.
func ParseDescriptor(text string) (Descriptor, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return nil, nil
	}

	var values []float64
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformedDescriptor)
	}

	d := make(Descriptor, len(values))
	for i, v := range values {
		d[i] = float32(v)
	}
	if !d.Finite() {
		return nil, fmt.Errorf("%w: non-finite value", ErrMalformedDescriptor)
	}
	return d, nil
}

// Known pairs a student ID with its stored descriptor.
type Known struct {
	ID         int64
	Descriptor Descriptor
}

// KnownSet is the ordered collection a query is matched against. Order is
// the persisted-record order and decides ties.
type KnownSet []Known

// Record is a raw (id, face_encoding) row as read from storage.
// An empty Encoding stands for SQL NULL.
type Record struct {
	ID       int64
	Encoding string
}

// BuildKnownSet parses stored encodings, dropping rows without a descriptor
// and logging rows whose descriptor is malformed. Input order is preserved.
func BuildKnownSet(records []Record, logger logr.Logger) KnownSet {
	known := make(KnownSet, 0, len(records))
	for _, rec := range records {
		d, err := ParseDescriptor(rec.Encoding)
		if err != nil {
			logger.Info("skipping stored descriptor", "studentID", rec.ID, "error", err.Error())
			continue
		}
		if d == nil {
			continue
		}
		known = append(known, Known{ID: rec.ID, Descriptor: d})
	}
	return known
}
