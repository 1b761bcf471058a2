package shader

import (
	"fmt"
	"math"
	"sort"
)

// ScalarKind is the component kind of a DataType.
type ScalarKind int

// Scalar kinds.
const (
	ScalarFloat ScalarKind = iota
	ScalarInt
	ScalarUint
)

// Layout is a buffer memory layout.
type Layout int

// Layouts used by the runner: storage buffers and push constants default to
// std430, uniform buffers to std140.
const (
	LayoutStd430 Layout = iota
	LayoutStd140
)

// String returns the layout name used in scripts.
func (l Layout) String() string {
	if l == LayoutStd140 {
		return "std140"
	}
	return "std430"
}

// ParseLayout resolves a layout name.
func ParseLayout(name string) (Layout, bool) {
	switch name {
	case "std430":
		return LayoutStd430, true
	case "std140":
		return LayoutStd140, true
	}
	return 0, false
}

// LayoutFor returns the default layout of kind.
func LayoutFor(kind BufferKind) Layout {
	if kind == BufferUniform {
		return LayoutStd140
	}
	return LayoutStd430
}

// DataType describes a runner data type such as uint, vec3 or mat4x3.
type DataType struct {
	Name       string
	Kind       ScalarKind
	ScalarSize int

	// Rows is the vector width; 1 for scalars.
	Rows int

	// Columns is the matrix column count; 1 for scalars and vectors.
	Columns int
}

var dataTypes = buildDataTypes()

func buildDataTypes() map[string]DataType {
	types := make(map[string]DataType)
	scalars := []struct {
		name, vecPrefix string
		kind            ScalarKind
		size            int
	}{
		{"int8", "i8vec", ScalarInt, 1},
		{"uint8", "u8vec", ScalarUint, 1},
		{"int16", "i16vec", ScalarInt, 2},
		{"uint16", "u16vec", ScalarUint, 2},
		{"int", "ivec", ScalarInt, 4},
		{"uint", "uvec", ScalarUint, 4},
		{"int64", "i64vec", ScalarInt, 8},
		{"uint64", "u64vec", ScalarUint, 8},
		{"float16", "f16vec", ScalarFloat, 2},
		{"float", "vec", ScalarFloat, 4},
		{"double", "dvec", ScalarFloat, 8},
	}
	for _, s := range scalars {
		types[s.name] = DataType{Name: s.name, Kind: s.kind, ScalarSize: s.size, Rows: 1, Columns: 1}
		for n := 2; n <= 4; n++ {
			name := fmt.Sprintf("%s%d", s.vecPrefix, n)
			types[name] = DataType{Name: name, Kind: s.kind, ScalarSize: s.size, Rows: n, Columns: 1}
		}
	}
	for _, m := range []struct {
		prefix string
		size   int
	}{{"mat", 4}, {"dmat", 8}} {
		for c := 2; c <= 4; c++ {
			for r := 2; r <= 4; r++ {
				name := fmt.Sprintf("%s%dx%d", m.prefix, c, r)
				types[name] = DataType{Name: name, Kind: ScalarFloat, ScalarSize: m.size, Rows: r, Columns: c}
				if c == r {
					short := fmt.Sprintf("%s%d", m.prefix, c)
					types[short] = DataType{Name: short, Kind: ScalarFloat, ScalarSize: m.size, Rows: r, Columns: c}
				}
			}
		}
	}
	return types
}

// LookupType returns the data type named name.
func LookupType(name string) (DataType, bool) {
	t, ok := dataTypes[name]
	return t, ok
}

// TypeNames returns every known data type name, sorted.
func TypeNames() []string {
	names := make([]string, 0, len(dataTypes))
	for name := range dataTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Components returns the number of values one element of t holds.
func (t DataType) Components() int {
	return t.Rows * t.Columns
}

// IsMatrix reports whether t is a matrix type.
func (t DataType) IsMatrix() bool {
	return t.Columns > 1
}

// vectorAlign is the base alignment of a column vector of t.
func (t DataType) vectorAlign(layout Layout) int {
	n := t.Rows
	if n == 3 {
		n = 4
	}
	align := n * t.ScalarSize
	if layout == LayoutStd140 && t.IsMatrix() {
		align = roundUp(align, 16)
	}
	return align
}

// Align returns the base alignment of t under layout.
func (t DataType) Align(layout Layout) int {
	return t.vectorAlign(layout)
}

// Size returns the number of bytes one element of t occupies.
func (t DataType) Size(layout Layout) int {
	if t.IsMatrix() {
		return t.Columns * t.vectorAlign(layout)
	}
	return t.Rows * t.ScalarSize
}

// Stride returns the array stride of t under layout.
func (t DataType) Stride(layout Layout) int {
	stride := roundUp(t.Size(layout), t.Align(layout))
	if layout == LayoutStd140 {
		stride = roundUp(stride, 16)
	}
	return stride
}

// Extent returns the end offset of count consecutive elements of t starting
// at offset. ok is false for negative arguments and when the end does not
// fit in an int.
func (t DataType) Extent(layout Layout, offset, count int) (end int, ok bool) {
	if offset < 0 || count < 0 {
		return 0, false
	}
	if count == 0 {
		return offset, true
	}
	size, stride := t.Size(layout), t.Stride(layout)
	if offset > math.MaxInt-size {
		return 0, false
	}
	if count-1 > (math.MaxInt-offset-size)/stride {
		return 0, false
	}
	return offset + (count-1)*stride + size, true
}

func roundUp(n, align int) int {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}
