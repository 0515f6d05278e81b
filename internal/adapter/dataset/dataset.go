package dataset

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Source is an open DSG dataset.
type Source interface {
	// Attributes returns the global attributes.
	Attributes() Attributes

	// Variables lists every variable name in file order.
	Variables() []string

	// Variable returns the named variable or an error wrapping
	// domain.ErrVariableNotFound.
	Variable(name string) (Variable, error)

	// Close releases any resources held by the source.
	Close() error
}

// Variable is one array in a dataset.
type Variable interface {
	Name() string
	Attributes() Attributes

	// Dimensions names the array axes, outermost first.
	Dimensions() []string

	// Shape returns the length of each dimension.
	Shape() []int

	// Read returns the hyperslab [begin, end) along the outermost dimension with
	// every inner dimension complete. Scalars ignore begin and end.
	Read(ctx context.Context, begin, end int) (Array, error)
}

// ReadAll reads a variable completely.
func ReadAll(ctx context.Context, v Variable) (Array, error) {
	shape := v.Shape()
	if len(shape) == 0 {
		return v.Read(ctx, 0, 1)
	}
	return v.Read(ctx, 0, shape[0])
}

// Array is a row-major block of values.
type Array struct {
	Shape []int
	Data  []float64
}

// Stride returns the number of values per step of the outermost dimension.
func (a Array) Stride() int {
	n := 1
	for _, d := range a.Shape[min(1, len(a.Shape)):] {
		n *= d
	}
	return n
}

// Attributes holds variable or global attributes.
type Attributes map[string]any

// String returns a text attribute.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// Float returns the first element of a numeric attribute.
func (a Attributes) Float(key string) (float64, bool) {
	f := a.Floats(key)
	if len(f) == 0 {
		return 0, false
	}
	return f[0], true
}

// Floats returns a numeric attribute as float64 values.
func (a Attributes) Floats(key string) []float64 {
	v, ok := a[key]
	if !ok {
		return nil
	}
	out, err := toFloat64s(v)
	if err != nil {
		return nil
	}
	return out
}

// Text renders an attribute for display.
func (a Attributes) Text(key string) string {
	if s, ok := a.String(key); ok {
		return s
	}
	if f := a.Floats(key); len(f) > 0 {
		parts := make([]string, len(f))
		for i, x := range f {
			parts[i] = fmt.Sprint(x)
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(a[key])
}

// MissingValues returns the _FillValue and missing_value attributes.
func (a Attributes) MissingValues() []float64 {
	var out []float64
	for _, key := range []string{"_FillValue", "missing_value"} {
		out = append(out, a.Floats(key)...)
	}
	return out
}

// toFloat64s flattens any numeric scalar or nested slice.
func toFloat64s(v any) ([]float64, error) {
	var out []float64
	if err := appendFloats(&out, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return out, nil
}

//nolint:exhaustive // Only numeric kinds can be converted.
func appendFloats(out *[]float64, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := appendFloats(out, v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Float32, reflect.Float64:
		*out = append(*out, v.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*out = append(*out, float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*out = append(*out, float64(v.Uint()))
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			*out = append(*out, math.NaN())
			return nil
		}
		return appendFloats(out, v.Elem())
	default:
		return fmt.Errorf("non-numeric value of kind %s", v.Kind())
	}
	return nil
}

// nestedShape returns the lengths of nested slices below v.
func nestedShape(v reflect.Value) []int {
	var shape []int
	for v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		shape = append(shape, v.Len())
		if v.Len() == 0 {
			break
		}
		v = v.Index(0)
	}
	return shape
}
