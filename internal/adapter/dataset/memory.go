package dataset

import (
	"context"
	"fmt"

	"go.ngs.io/dsg-ingest/internal/domain"
)

// MemorySource is a dataset held in memory. It is used by tests and by
// callers that assemble arrays programmatically.
type MemorySource struct {
	Attrs Attributes
	Vars  []*MemoryVariable
}

// NewMemorySource returns a source with the given global attributes.
func NewMemorySource(attrs Attributes, vars ...*MemoryVariable) *MemorySource {
	if attrs == nil {
		attrs = Attributes{}
	}
	return &MemorySource{Attrs: attrs, Vars: vars}
}

// Add appends a variable.
func (m *MemorySource) Add(v *MemoryVariable) *MemorySource {
	m.Vars = append(m.Vars, v)
	return m
}

func (m *MemorySource) Attributes() Attributes { return m.Attrs }

func (m *MemorySource) Variables() []string {
	names := make([]string, len(m.Vars))
	for i, v := range m.Vars {
		names[i] = v.VarName
	}
	return names
}

func (m *MemorySource) Variable(name string) (Variable, error) {
	for _, v := range m.Vars {
		if v.VarName == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, domain.ErrVariableNotFound)
}

func (m *MemorySource) Close() error { return nil }

// MemoryVariable is a row-major array with named dimensions.
type MemoryVariable struct {
	VarName string
	Attrs   Attributes
	Dims    []string
	Lens    []int
	Data    []float64
}

// NewMemoryVariable builds a 1-D variable along dim.
func NewMemoryVariable(name, dim string, attrs Attributes, data []float64) *MemoryVariable {
	return &MemoryVariable{VarName: name, Attrs: attrs, Dims: []string{dim}, Lens: []int{len(data)}, Data: data}
}

func (v *MemoryVariable) Name() string { return v.VarName }

func (v *MemoryVariable) Attributes() Attributes {
	if v.Attrs == nil {
		return Attributes{}
	}
	return v.Attrs
}

func (v *MemoryVariable) Dimensions() []string { return v.Dims }

func (v *MemoryVariable) Shape() []int { return v.Lens }

func (v *MemoryVariable) Read(ctx context.Context, begin, end int) (Array, error) {
	if err := ctx.Err(); err != nil {
		return Array{}, err
	}
	if len(v.Lens) == 0 {
		return Array{Data: append([]float64(nil), v.Data...)}, nil
	}
	if begin < 0 || end > v.Lens[0] || begin > end {
		return Array{}, fmt.Errorf("%s: slice [%d, %d) out of bounds for length %d", v.VarName, begin, end, v.Lens[0])
	}
	a := Array{Shape: append([]int{end - begin}, v.Lens[1:]...)}
	stride := a.Stride()
	a.Data = append([]float64(nil), v.Data[begin*stride:end*stride]...)
	return a, nil
}
