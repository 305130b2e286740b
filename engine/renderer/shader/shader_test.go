package shader

import (
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/heightrange"
	"github.com/Carmen-Shannon/oxy-terrain/engine/terrain/quadtree"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/naga"
)

// compileWGSL validates a processed shader with naga, skipping on features naga does not cover yet.
func compileWGSL(t *testing.T, name, source string) {
	t.Helper()
	spirv, err := naga.Compile(source)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
			t.Skipf("Skipping %s: naga feature not yet implemented: %v", name, err)
		}
		if strings.Contains(msg, "lowering error") || strings.Contains(msg, "atomic") {
			t.Skipf("Skipping %s: naga atomic/lowering limitation: %v", name, err)
		}
		t.Fatalf("failed to compile %s: %v", name, err)
	}
	if len(spirv) < 4 {
		t.Fatalf("%s: SPIR-V too short", name)
	}
	magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
	if magic != 0x07230203 {
		t.Errorf("%s: invalid SPIR-V magic: 0x%08X, want 0x07230203", name, magic)
	}
}

func TestSelectShaderLayout(t *testing.T) {
	s, err := NewShader("select", ShaderTypeCompute, quadtree.SelectShaderSource)
	if err != nil {
		t.Fatalf("NewShader failed: %v", err)
	}
	if s.EntryPoint() != "main" {
		t.Errorf("expected entry point main, got %q", s.EntryPoint())
	}
	if s.WorkgroupSize() != [3]uint32{quadtree.SelectWorkgroupSize, 1, 1} {
		t.Errorf("expected workgroup size {64 1 1}, got %v", s.WorkgroupSize())
	}

	desc := s.BindGroupLayoutDescriptor(0)
	if len(desc.Entries) != 7 {
		t.Fatalf("expected 7 bindings in group 0, got %d", len(desc.Entries))
	}
	wantTypes := []wgpu.BufferBindingType{
		wgpu.BufferBindingTypeUniform,
		wgpu.BufferBindingTypeUniform,
		wgpu.BufferBindingTypeReadOnlyStorage,
		wgpu.BufferBindingTypeReadOnlyStorage,
		wgpu.BufferBindingTypeStorage,
		wgpu.BufferBindingTypeStorage,
		wgpu.BufferBindingTypeStorage,
	}
	for i, e := range desc.Entries {
		if e.Binding != uint32(i) {
			t.Errorf("entry %d: expected binding %d, got %d", i, i, e.Binding)
		}
		if e.Buffer.Type != wantTypes[i] {
			t.Errorf("binding %d: expected buffer type %v, got %v", i, wantTypes[i], e.Buffer.Type)
		}
		if e.Visibility != wgpu.ShaderStageCompute {
			t.Errorf("binding %d: expected compute visibility", i)
		}
	}

	var frame quadtree.GPUFrameUniforms
	var level quadtree.GPULevelUniforms
	var args quadtree.GPUIndirectArgs
	if got := desc.Entries[0].Buffer.MinBindingSize; got != uint64(frame.Size()) {
		t.Errorf("expected frame uniforms size %d, got %d", frame.Size(), got)
	}
	if got := desc.Entries[1].Buffer.MinBindingSize; got != uint64(level.Size()) {
		t.Errorf("expected level uniforms size %d, got %d", level.Size(), got)
	}
	if got := desc.Entries[5].Buffer.MinBindingSize; got != uint64(args.Size()) {
		t.Errorf("expected indirect args size %d, got %d", args.Size(), got)
	}
	if got := desc.Entries[2].Buffer.MinBindingSize; got != quadtree.NodeAABBWords*4 {
		t.Errorf("expected one AABB record (24 bytes), got %d", got)
	}
	if got := desc.Entries[4].Buffer.MinBindingSize; got != 8 {
		t.Errorf("expected candidate list header plus one id (8 bytes), got %d", got)
	}
}

func TestProcessIncludesStructOnce(t *testing.T) {
	src := `//@oxy:include node_aabb
//@oxy:include node_aabb
//@oxy:group 0 0 storage_read aabbs array<node_aabb>

@compute @workgroup_size(1)
fn main() {
    _ = aabbs[0].extent_x;
}
`
	pp := NewPreProcessor()
	out, err := pp.Process(src)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if n := strings.Count(out, "struct NodeAABB"); n != 1 {
		t.Errorf("expected one NodeAABB definition, got %d", n)
	}
	if !strings.Contains(out, "@group(0) @binding(0) var<storage, read> aabbs: array<NodeAABB>;") {
		t.Errorf("expected generated declaration, got:\n%s", out)
	}
	if len(pp.Declarations()) != 1 {
		t.Errorf("expected 1 declaration, got %d", len(pp.Declarations()))
	}
}

func TestParseAnnotationErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", "//@oxy:"},
		{"unknown type", "//@oxy:bogus 1"},
		{"include arity", "//@oxy:include"},
		{"unknown struct", "//@oxy:include camera"},
		{"group arity", "//@oxy:group 0 0 storage_read aabbs"},
		{"group number", "//@oxy:group x 0 storage_read aabbs node_aabb"},
		{"address space", "//@oxy:group 0 0 private aabbs node_aabb"},
		{"array element", "//@oxy:group 0 0 storage_read aabbs array<light>"},
		{"provider identity", "//@oxy:provider 0 0 material"},
		{"binding role", "//@oxy:provider 0 0 node_store diffuse_texture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseAnnotation(tt.line, 1); err == nil {
				t.Errorf("expected an error for %q", tt.line)
			}
		})
	}

	a, err := parseAnnotation("let x = 1; // not an annotation", 3)
	if err != nil || a != nil {
		t.Errorf("expected plain lines to be ignored, got %v, %v", a, err)
	}
}

func TestProviderBinding(t *testing.T) {
	src := `struct Info { side: u32, texel: f32 };

//@oxy:provider 1 0 clipmap_height clipmap_info
@group(1) @binding(0) var<uniform> height_info: Info;
//@oxy:provider 1 1 clipmap_height clipmap_texels
@group(1) @binding(1) var<storage, read> height_texels: array<f32>;
//@oxy:provider 2 1 clipmap_splat clipmap_texels
@group(2) @binding(1) var<storage, read> splat_texels: array<u32>;

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(height_texels[0], f32(splat_texels[0]), f32(height_info.side), 1.0);
}
`
	s, err := NewShader("size-check", ShaderTypeFragment, src)
	if err != nil {
		t.Fatalf("NewShader failed: %v", err)
	}
	g, b, ok := s.ProviderBinding(AnnotationArgClipmapHeight, AnnotationArgClipmapTexels)
	if !ok || g != 1 || b != 1 {
		t.Errorf("expected clipmap_height texels at (1,1), got (%d,%d,%v)", g, b, ok)
	}
	g, b, ok = s.ProviderBinding(AnnotationArgClipmapSplat, "")
	if !ok || g != 2 || b != 1 {
		t.Errorf("expected clipmap_splat at (2,1), got (%d,%d,%v)", g, b, ok)
	}
	if _, _, ok := s.ProviderBinding(AnnotationArgNodeStore, ""); ok {
		t.Error("expected node_store to be undeclared")
	}
	if got := s.ProviderGroups(AnnotationArgClipmapHeight); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected clipmap_height groups [1], got %v", got)
	}
	if got := s.BindGroupLayoutDescriptor(1).Entries[0].Buffer.MinBindingSize; got != 8 {
		t.Errorf("expected Info size 8, got %d", got)
	}
	if s.BindGroupLayoutDescriptor(1).Entries[0].Visibility != wgpu.ShaderStageFragment {
		t.Error("expected fragment visibility")
	}
}

func TestNewShaderErrors(t *testing.T) {
	if _, err := NewShader("empty", ShaderTypeCompute, ""); err == nil {
		t.Error("expected an error for empty source")
	}
	if _, err := NewShader("no_entry", ShaderTypeCompute, "fn helper() {}"); err == nil {
		t.Error("expected an error when no compute entry point exists")
	}
	tex := `@group(0) @binding(0) var tex: texture_2d<f32>;
@compute @workgroup_size(1)
fn main() {}
`
	if _, err := NewShader("texture", ShaderTypeCompute, tex); err == nil {
		t.Error("expected an error for a non-buffer binding")
	}
}

func TestTypeLayout(t *testing.T) {
	m := reflectWGSL(`struct Inner { a: vec3<f32>, b: f32 };
struct Outer {
    m: mat3x3<f32>,
    inner: Inner,
    h: vec3h,
    tail: array<vec2<u32>, 3>,
};
struct Counted { count: atomic<u32>, items: array<Inner> };
`)
	tests := []struct {
		typ         string
		size, align uint64
	}{
		{"f32", 4, 4},
		{"vec2f", 8, 8},
		{"vec3<f32>", 12, 16},
		{"vec3h", 6, 8},
		{"mat4x4<f32>", 64, 16},
		{"mat3x3<f32>", 48, 16},
		{"mat4x2<f32>", 32, 8},
		{"atomic<u32>", 4, 4},
		{"array<vec4<f32>, 16>", 256, 16},
		{"array<u32>", 4, 4},
		{"Inner", 16, 16},
		{"Outer", 96, 16},
		{"Counted", 32, 16},
	}
	for _, tt := range tests {
		l, ok := m.layout(tt.typ)
		if !ok {
			t.Errorf("%s: expected a layout", tt.typ)
			continue
		}
		if l.size != tt.size || l.align != tt.align {
			t.Errorf("%s: expected size %d align %d, got %d %d", tt.typ, tt.size, tt.align, l.size, l.align)
		}
	}
	for _, typ := range []string{"texture_2d<f32>", "array<f32, N>", "Missing"} {
		if _, ok := m.layout(typ); ok {
			t.Errorf("%s: expected no layout", typ)
		}
	}
}

func TestReflectIgnoresComments(t *testing.T) {
	m := reflectWGSL(`/* @vertex fn hidden() {} /* nested */ still hidden */
// @compute @workgroup_size(1) fn commented() {}
struct In { @location(0) pos: vec3<f32>, @location(1) edge: vec4<f32> };
struct Out { @builtin(position) clip: vec4<f32>, @location(0) uv: vec2<f32> };
@compute @workgroup_size(8, 4)
fn real() {}
@vertex
fn vs(in: In) -> Out { var o: Out; return o; }
`)
	if got := m.entryPoint(ShaderTypeCompute); got != "real" {
		t.Errorf("expected compute entry real, got %q", got)
	}
	if got := m.entryPoint(ShaderTypeVertex); got != "vs" {
		t.Errorf("expected vertex entry vs, got %q", got)
	}
	if m.workgroup != [3]uint32{8, 4, 1} {
		t.Errorf("expected workgroup {8 4 1}, got %v", m.workgroup)
	}

	layouts := m.vertexLayouts()
	if len(layouts) != 1 {
		t.Fatalf("expected only the input struct as a vertex layout, got %d", len(layouts))
	}
	l := layouts[0][0]
	if l.ArrayStride != 28 || len(l.Attributes) != 2 {
		t.Fatalf("expected 2 attributes over 28 bytes, got %+v", l)
	}
	if l.Attributes[1].Offset != 12 || l.Attributes[1].Format != wgpu.VertexFormatFloat32x4 || l.Attributes[1].ShaderLocation != 1 {
		t.Errorf("unexpected edge attribute %+v", l.Attributes[1])
	}
}

func TestTerrainComputeShadersCompile(t *testing.T) {
	sources := map[string]string{
		"select":            quadtree.SelectShaderSource,
		"reset_candidates":  quadtree.ResetCandidatesShaderSource,
		"reset_draw_args":   quadtree.ResetDrawArgsShaderSource,
		"height_range_mip0": heightrange.Mip0ShaderSource,
		"height_range_down": heightrange.ReduceShaderSource,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			s, err := NewShader(name, ShaderTypeCompute, src)
			if err != nil {
				t.Fatalf("NewShader failed: %v", err)
			}
			compileWGSL(t, name, s.Source())
		})
	}
}
