package collection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Document is the stored envelope around one schema-typed payload. Wire field
// names follow the store layout consumed by clients.
type Document[T any] struct {
	ID        string `json:"_id"`
	CreatedAt int64  `json:"_createdAt"` // epoch millis
	UpdatedAt int64  `json:"_updatedAt"` // epoch millis, non-decreasing
	CreatedBy string `json:"_createdBy"`
	UpdatedBy string `json:"_updatedBy"`
	Data      T      `json:"data"`
}

// FieldPatch is a shallow set of data fields to merge over a document's
// payload. Values are raw JSON so that merges commute field by field.
type FieldPatch map[string]json.RawMessage

// Patch converts a schema value (or any JSON object) into a FieldPatch.
func Patch(value any) (FieldPatch, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return ParsePatch(raw)
}

// ParsePatch decodes a raw JSON object into a FieldPatch.
func ParsePatch(raw []byte) (FieldPatch, error) {
	patch := FieldPatch{}
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return patch, nil
}

// applyPatch merges patch over current and decodes the result strictly back
// into the schema type. Unknown fields fail validation at the store boundary.
func applyPatch[T any](current T, patch FieldPatch) (T, error) {
	var zero T
	fields, err := dataFields(current)
	if err != nil {
		return zero, err
	}
	for name, value := range patch {
		fields[name] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(merged))
	decoder.DisallowUnknownFields()
	var out T
	if err := decoder.Decode(&out); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return out, nil
}

// dataFields flattens a payload into its top-level JSON fields.
func dataFields(value any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return fields, nil
}

// encodeFieldValue renders an index/query value in its canonical JSON form.
func encodeFieldValue(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return string(raw), nil
}

// sortDocuments orders documents by creation time, then id, for stable reads.
func sortDocuments[T any](docs []Document[T]) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt != docs[j].CreatedAt {
			return docs[i].CreatedAt < docs[j].CreatedAt
		}
		return docs[i].ID < docs[j].ID
	})
}
