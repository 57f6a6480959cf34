// Package catalog loads the ordered list of metric ids requested from every
// source each cycle.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrNotFound   = errors.New("catalog not found")
	ErrMalformed  = errors.New("catalog malformed")
	ErrWrongShape = errors.New("catalog has wrong shape")
)

//go:embed schemas/catalog.json
var catalogSchema []byte

// Item is one catalog entry. ID is empty when the entry carried no usable id.
type Item struct {
	ID string
}

// File is a catalog stored as a JSON array of {"id": ...} objects. It is
// read on every Load and never written.
type File struct {
	Path string
}

func (f File) Load() ([]Item, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, f.Path)
		}
		return nil, fmt.Errorf("read catalog %s: %w", f.Path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog content. Numeric ids are kept as their
// decimal literal; order and duplicates are preserved.
func Parse(data []byte) ([]Item, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after catalog", ErrMalformed)
	}
	if err := validate(data); err != nil {
		return nil, err
	}
	raw := doc.([]any)
	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		obj := entry.(map[string]any)
		items = append(items, Item{ID: idString(obj["id"])})
	}
	return items, nil
}

func validate(data []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(catalogSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return ErrWrongShape
	}
	return fmt.Errorf("%w: %s", ErrWrongShape, result.Errors()[0].String())
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
