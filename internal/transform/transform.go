// Package transform applies field mappings and scalar converters to change
// events before they are handed to a target writer.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/uschtwill/hermod-cdc/internal/cdcerr"
	hermodcdc "github.com/uschtwill/hermod-cdc"
)

// ConverterType names one of the built-in scalar converters.
type ConverterType string

const (
	ConverterLowercase ConverterType = "lowercase"
	ConverterUppercase ConverterType = "uppercase"
	ConverterTrim      ConverterType = "trim"
	ConverterDefault   ConverterType = "default"
	ConverterTypecast  ConverterType = "typecast"
)

// FieldMapping renames a source column to a target column and optionally
// applies a converter to its value.
type FieldMapping struct {
	SourceField  string
	TargetColumn string
	Converter    ConverterType
	Params       map[string]string
}

// Mapping is the field-level mapping configuration for one source table.
type Mapping struct {
	SourceTable string
	TargetTable string
	// PrimaryKey is the target table's upsert/delete key column. Empty
	// means the engine falls back to "id".
	PrimaryKey string
	Fields     []FieldMapping
}

// converterFunc matches the shape of every entry in convertersRegistry.
type converterFunc func(value any, params map[string]string) any

var convertersRegistry = map[ConverterType]converterFunc{
	ConverterLowercase: lowercase,
	ConverterUppercase: uppercase,
	ConverterTrim:      trim,
	ConverterDefault:   defaultValue,
	ConverterTypecast:  typecast,
}

func lowercase(value any, _ map[string]string) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return strings.ToLower(s)
}

func uppercase(value any, _ map[string]string) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return strings.ToUpper(s)
}

func trim(value any, _ map[string]string) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return strings.TrimSpace(s)
}

func defaultValue(value any, params map[string]string) any {
	if value != nil {
		return value
	}
	return params["value"]
}

func typecast(value any, params map[string]string) any {
	target := params["type"]
	s := fmt.Sprintf("%v", value)
	switch target {
	case "int":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value
		}
		return n
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value
		}
		return f
	case "bool":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return value
		}
		return b
	case "string":
		return s
	default:
		return value
	}
}

// Convert dispatches to a named converter, returning the original value
// unchanged if the converter name is unknown.
func Convert(value any, converter ConverterType, params map[string]string) any {
	fn, ok := convertersRegistry[converter]
	if !ok {
		return value
	}
	return fn(value, params)
}

// Transform maps and converts a single event's After image (and Before
// image, if present) according to m. Fields not listed in m.Fields pass
// through under their original name.
func Transform(ctx context.Context, m Mapping, evt hermodcdc.ChangeEvent) (hermodcdc.ChangeEvent, error) {
	out := evt
	out.Table = m.TargetTable

	var err error
	out.After, err = applyMapping(m, evt.After)
	if err != nil {
		return hermodcdc.ChangeEvent{}, cdcerr.Transform("transform", evt.Table, err)
	}
	out.Before, err = applyMapping(m, evt.Before)
	if err != nil {
		return hermodcdc.ChangeEvent{}, cdcerr.Transform("transform", evt.Table, err)
	}
	return out, nil
}

func applyMapping(m Mapping, src map[string]any) (map[string]any, error) {
	if src == nil {
		return nil, nil
	}
	if len(m.Fields) == 0 {
		return src, nil
	}

	mapped := map[string]bool{}
	out := make(map[string]any, len(src))
	for _, f := range m.Fields {
		mapped[f.SourceField] = true
		value, ok := src[f.SourceField]
		if !ok {
			value = nil
		}
		if f.Converter != "" {
			value = Convert(value, f.Converter, f.Params)
		}
		out[f.TargetColumn] = value
	}
	for k, v := range src {
		if !mapped[k] {
			out[k] = v
		}
	}
	return out, nil
}

// TransformBatch applies Transform to every event in events, stopping at
// the first error.
func TransformBatch(ctx context.Context, m Mapping, events []hermodcdc.ChangeEvent) ([]hermodcdc.ChangeEvent, error) {
	out := make([]hermodcdc.ChangeEvent, 0, len(events))
	for _, evt := range events {
		transformed, err := Transform(ctx, m, evt)
		if err != nil {
			return nil, err
		}
		out = append(out, transformed)
	}
	return out, nil
}
