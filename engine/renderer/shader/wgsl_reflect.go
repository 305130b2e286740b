package shader

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

var (
	structRegex    = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)
	attributeRegex = regexp.MustCompile(`@(\w+)(?:\(\s*([^)]*?)\s*\))?`)
	entryRegex     = regexp.MustCompile(`(?s)@(vertex|fragment|compute)\b.*?\bfn\s+(\w+)`)
	workgroupRegex = regexp.MustCompile(`@workgroup_size\(([^)]*)\)`)
	bindingRegex   = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// wgslField is one member of a struct declaration.
type wgslField struct {
	name     string
	typ      string
	location int // -1 without @location
	builtin  bool
}

// wgslBinding is one @group/@binding resource declaration.
type wgslBinding struct {
	group, binding int
	space          string
	name, typ      string
}

// wgslModule is the reflection of a pre-processed WGSL source: the structs, resource bindings
// and entry points pipeline creation needs.
type wgslModule struct {
	structNames []string
	structs     map[string][]wgslField
	bindings    []wgslBinding
	entries     map[string]string
	workgroup   [3]uint32
	layouts     map[string]typeLayout
}

// typeLayout is the host-shareable size and alignment of a WGSL type.
type typeLayout struct {
	size, align uint64
}

// reflectWGSL strips comments from source and collects its declarations.
func reflectWGSL(source string) *wgslModule {
	src := stripComments(source)
	m := &wgslModule{
		structs:   make(map[string][]wgslField),
		entries:   make(map[string]string),
		workgroup: [3]uint32{1, 1, 1},
		layouts:   make(map[string]typeLayout),
	}

	for _, match := range structRegex.FindAllStringSubmatch(src, -1) {
		m.structNames = append(m.structNames, match[1])
		m.structs[match[1]] = parseFields(match[2])
	}
	for _, match := range bindingRegex.FindAllStringSubmatch(src, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		m.bindings = append(m.bindings, wgslBinding{
			group:   group,
			binding: binding,
			space:   strings.TrimSpace(match[3]),
			name:    match[4],
			typ:     strings.TrimSpace(match[5]),
		})
	}
	for _, match := range entryRegex.FindAllStringSubmatch(src, -1) {
		if _, ok := m.entries[match[1]]; !ok {
			m.entries[match[1]] = match[2]
		}
	}
	if match := workgroupRegex.FindStringSubmatch(src); match != nil {
		for i, dim := range strings.SplitN(match[1], ",", 3) {
			if v, err := strconv.ParseUint(strings.TrimSpace(dim), 10, 32); err == nil {
				m.workgroup[i] = uint32(v)
			}
		}
	}
	return m
}

func parseFields(body string) []wgslField {
	var fields []wgslField
	for _, decl := range splitTopLevel(body) {
		f := wgslField{location: -1}
		for _, attr := range attributeRegex.FindAllStringSubmatch(decl, -1) {
			switch attr[1] {
			case "builtin":
				f.builtin = true
			case "location":
				if loc, err := strconv.Atoi(attr[2]); err == nil {
					f.location = loc
				}
			}
		}
		name, typ, ok := strings.Cut(attributeRegex.ReplaceAllString(decl, ""), ":")
		if !ok {
			continue
		}
		f.name, f.typ = strings.TrimSpace(name), strings.TrimSpace(typ)
		fields = append(fields, f)
	}
	return fields
}

// entryPoint returns the first entry point of the given stage, or "".
func (m *wgslModule) entryPoint(t ShaderType) string {
	switch t {
	case ShaderTypeVertex:
		return m.entries["vertex"]
	case ShaderTypeFragment:
		return m.entries["fragment"]
	case ShaderTypeCompute:
		return m.entries["compute"]
	}
	return ""
}

// layout resolves the size and alignment of a type. Runtime-sized arrays count as one element,
// which is the smallest binding a shader can index.
func (m *wgslModule) layout(typ string) (typeLayout, bool) {
	typ = strings.ReplaceAll(typ, " ", "")
	if l, ok := m.layouts[typ]; ok {
		return l, true
	}
	l, ok := m.resolve(typ)
	if ok {
		m.layouts[typ] = l
	}
	return l, ok
}

func (m *wgslModule) resolve(typ string) (typeLayout, bool) {
	if scalar, n, ok := vectorType(typ); ok {
		size := uint64(4)
		if scalar == "f16" {
			size = 2
		}
		if n == 1 {
			return typeLayout{size, size}, true
		}
		align := size * 2
		if n > 2 {
			align = size * 4
		}
		return typeLayout{size * uint64(n), align}, true
	}
	if inner, ok := strings.CutPrefix(typ, "atomic<"); ok {
		return m.layout(strings.TrimSuffix(inner, ">"))
	}
	if len(typ) == 11 && strings.HasPrefix(typ, "mat") && strings.HasSuffix(typ, "<f32>") {
		cols, rows := int(typ[3]-'0'), int(typ[5]-'0')
		if cols < 2 || cols > 4 || rows < 2 || rows > 4 {
			return typeLayout{}, false
		}
		col, _ := m.layout(fmt.Sprintf("vec%d<f32>", rows))
		return typeLayout{uint64(cols) * alignUp(col.size, col.align), col.align}, true
	}
	if inner, ok := strings.CutPrefix(typ, "array<"); ok {
		elemType, n := strings.TrimSuffix(inner, ">"), uint64(1)
		if parts := splitTopLevel(elemType); len(parts) == 2 {
			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return typeLayout{}, false
			}
			elemType, n = parts[0], v
		}
		elem, ok := m.layout(elemType)
		if !ok {
			return typeLayout{}, false
		}
		return typeLayout{n * alignUp(elem.size, elem.align), elem.align}, true
	}
	fields, ok := m.structs[typ]
	if !ok {
		return typeLayout{}, false
	}
	var offset uint64
	align := uint64(1)
	for _, f := range fields {
		if f.builtin {
			continue
		}
		fl, ok := m.layout(f.typ)
		if !ok {
			return typeLayout{}, false
		}
		offset = alignUp(offset, fl.align) + fl.size
		align = max(align, fl.align)
	}
	return typeLayout{alignUp(offset, align), align}, true
}

// vectorType splits a scalar or vector type into its scalar and component count. Both the
// vec3<f32> and vec3f spellings are accepted.
func vectorType(typ string) (string, int, bool) {
	switch typ {
	case "f32", "i32", "u32", "f16":
		return typ, 1, true
	case "bool":
		return "u32", 1, true
	}
	if len(typ) < 5 || !strings.HasPrefix(typ, "vec") || typ[3] < '2' || typ[3] > '4' {
		return "", 0, false
	}
	n := int(typ[3] - '0')
	switch rest := typ[4:]; rest {
	case "f", "i", "u", "h":
		return map[string]string{"f": "f32", "i": "i32", "u": "u32", "h": "f16"}[rest], n, true
	case "<f32>", "<i32>", "<u32>", "<f16>":
		return rest[1:4], n, true
	}
	return "", 0, false
}

// bindGroupLayouts builds one descriptor per group with entries sorted by binding. Only
// uniform and storage buffers are accepted.
func (m *wgslModule) bindGroupLayouts(visibility wgpu.ShaderStage) (map[int]wgpu.BindGroupLayoutDescriptor, error) {
	groups := make(map[int][]wgpu.BindGroupLayoutEntry)
	for _, b := range m.bindings {
		entry := wgpu.BindGroupLayoutEntry{Binding: uint32(b.binding), Visibility: visibility}
		switch {
		case b.space == "uniform":
			entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		case strings.HasPrefix(b.space, "storage") && strings.Contains(b.space, "read_write"):
			entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		case strings.HasPrefix(b.space, "storage"):
			entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		default:
			return nil, fmt.Errorf("binding %q (group %d, binding %d) of type %q is not a buffer", b.name, b.group, b.binding, b.typ)
		}
		if l, ok := m.layout(b.typ); ok {
			entry.Buffer.MinBindingSize = l.size
		}
		groups[b.group] = append(groups[b.group], entry)
	}

	out := make(map[int]wgpu.BindGroupLayoutDescriptor, len(groups))
	for g, entries := range groups {
		slices.SortFunc(entries, func(a, b wgpu.BindGroupLayoutEntry) int {
			return int(a.Binding) - int(b.Binding)
		})
		out[g] = wgpu.BindGroupLayoutDescriptor{Entries: entries}
	}
	return out, nil
}

var vertexFormats = map[string][4]wgpu.VertexFormat{
	"f32": {wgpu.VertexFormatFloat32, wgpu.VertexFormatFloat32x2, wgpu.VertexFormatFloat32x3, wgpu.VertexFormatFloat32x4},
	"i32": {wgpu.VertexFormatSint32, wgpu.VertexFormatSint32x2, wgpu.VertexFormatSint32x3, wgpu.VertexFormatSint32x4},
	"u32": {wgpu.VertexFormatUint32, wgpu.VertexFormatUint32x2, wgpu.VertexFormatUint32x3, wgpu.VertexFormatUint32x4},
}

// vertexLayouts returns a tightly packed buffer layout for every struct whose members all
// carry @location, keyed in declaration order. Structs with @builtin members are stage outputs.
func (m *wgslModule) vertexLayouts() map[int][]wgpu.VertexBufferLayout {
	out := make(map[int][]wgpu.VertexBufferLayout)
	for _, name := range m.structNames {
		if layout, ok := m.vertexLayout(m.structs[name]); ok {
			out[len(out)] = []wgpu.VertexBufferLayout{layout}
		}
	}
	return out
}

func (m *wgslModule) vertexLayout(fields []wgslField) (wgpu.VertexBufferLayout, bool) {
	if len(fields) == 0 {
		return wgpu.VertexBufferLayout{}, false
	}
	attrs := make([]wgpu.VertexAttribute, 0, len(fields))
	var offset uint64
	for _, f := range fields {
		if f.builtin || f.location < 0 {
			return wgpu.VertexBufferLayout{}, false
		}
		scalar, n, ok := vectorType(f.typ)
		formats, known := vertexFormats[scalar]
		if !ok || !known {
			return wgpu.VertexBufferLayout{}, false
		}
		attrs = append(attrs, wgpu.VertexAttribute{
			Format:         formats[n-1],
			Offset:         offset,
			ShaderLocation: uint32(f.location),
		})
		offset += uint64(4 * n)
	}
	return wgpu.VertexBufferLayout{
		ArrayStride: offset,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes:  attrs,
	}, true
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

// splitTopLevel splits a struct body at commas outside angle brackets, so array<T, N> stays whole.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := range len(s) {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth = max(depth-1, 0)
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// stripComments removes line comments and nested block comments.
func stripComments(source string) string {
	var sb strings.Builder
	sb.Grow(len(source))
	depth := 0
	for i := 0; i < len(source); i++ {
		switch {
		case strings.HasPrefix(source[i:], "/*"):
			depth++
			i++
		case depth > 0 && strings.HasPrefix(source[i:], "*/"):
			depth--
			i++
		case depth > 0:
		case strings.HasPrefix(source[i:], "//"):
			end := strings.IndexByte(source[i:], '\n')
			if end < 0 {
				return sb.String()
			}
			i += end - 1
		default:
			sb.WriteByte(source[i])
		}
	}
	return sb.String()
}
