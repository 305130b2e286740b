// annotations.go defines the annotation types, argument constants, and parser for the
// Oxy WGSL shader pre-processor. Annotations are single-line WGSL comments prefixed
// with @oxy: that drive automatic struct injection, bind group declaration, and resource
// provider registration. The parsed results are stored as Annotation values and consumed
// by the PreProcessor and the terrain passes to wire buffers without manual plumbing.
package shader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
// Each type corresponds to a distinct pre-processor action and produces different
// fields on the resulting Annotation struct.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered struct definition
	// into the shader at the annotation site. The struct source is embedded from the
	// corresponding Go GPU type's .wgsl asset file. This annotation does not produce
	// a declaration and is consumed entirely during pre-processing.
	//
	// Syntax: //@oxy:include <struct_type>
	//
	// Example: //@oxy:include frame_uniforms
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration
	// and appends an Annotation to the PreProcessor's declarations list.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@oxy:group 0 2 storage_read aabbs array<node_aabb>
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeProvider registers a resource provider identity for a group and binding
	// without generating any WGSL output. The WGSL binding declaration remains hand-written
	// in the shader source directly below the annotation. This is used for bindings of raw
	// WGSL types (flat arrays of primitives, structs declared inline in the shader).
	//
	// An optional binding role can be appended after the provider identity to declare the
	// semantic purpose of an individual binding within a multi-binding provider group.
	//
	// Syntax:
	//   //@oxy:provider <group> <binding> <provider_identity>
	//   //@oxy:provider <group> <binding> <provider_identity> <binding_role>
	//
	// Examples:
	//   //@oxy:provider 1 1 clipmap_height clipmap_texels
	//   //@oxy:provider 0 0 heightmap
	AnnotationTypeProvider AnnotationType = "provider"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed (include, group, or provider).
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include:  [0] = struct type key (e.g. "level_uniforms")
	//   - group:    [0] = address space, [1] = var name, [2] = WGSL type key
	//   - provider: [0] = provider identity (e.g. "node_store"), [1] = binding role (optional)
	Args []AnnotationArg

	// Line is the 1-based line number in the original WGSL source where this annotation
	// was found. Used for error reporting.
	Line int

	// Group is the @group index for group and provider annotations. Nil for include annotations.
	Group *int

	// Binding is the @binding index for group and provider annotations. Nil for include annotations.
	Binding *int
}

// AnnotationArg is a typed string constant used as an argument in annotations.
type AnnotationArg string

// ── Struct type arguments ──────────────────────────────────────────────────────
// These identify registered WGSL struct types. They can appear in @oxy:include annotations
// and in @oxy:group annotations (as the type field, optionally wrapped in array<>).

const (
	// AnnotationArgFrameUniforms identifies the per-frame selection uniforms (planes + snapped camera).
	// Source: engine/terrain/quadtree/assets/frame_uniforms.wgsl
	AnnotationArgFrameUniforms AnnotationArg = "frame_uniforms"

	// AnnotationArgLevelUniforms identifies the static per-level selection uniforms.
	// Source: engine/terrain/quadtree/assets/level_uniforms.wgsl
	AnnotationArgLevelUniforms AnnotationArg = "level_uniforms"

	// AnnotationArgIndirectArgs identifies the IndirectArgs struct matching WebGPU's DrawIndexedIndirect layout.
	// Source: engine/terrain/quadtree/assets/indirect_args.wgsl
	AnnotationArgIndirectArgs AnnotationArg = "indirect_args"

	// AnnotationArgCullResult identifies one accepted instance record.
	// Source: engine/terrain/quadtree/assets/cull_result.wgsl
	AnnotationArgCullResult AnnotationArg = "cull_result"

	// AnnotationArgNodeAABB identifies the per-node bounding box record.
	// Source: engine/terrain/quadtree/assets/node_aabb.wgsl
	AnnotationArgNodeAABB AnnotationArg = "node_aabb"

	// AnnotationArgNodeData identifies the per-node placement record.
	// Source: engine/terrain/quadtree/assets/node_data.wgsl
	AnnotationArgNodeData AnnotationArg = "node_data"

	// AnnotationArgCandidateList identifies a writable candidate list (atomic count + ids).
	// Source: engine/terrain/quadtree/assets/candidate_list.wgsl
	AnnotationArgCandidateList AnnotationArg = "candidate_list"

	// AnnotationArgCandidateListRead identifies a read-only view of a candidate list.
	// Source: engine/terrain/quadtree/assets/candidate_list_read.wgsl
	AnnotationArgCandidateListRead AnnotationArg = "candidate_list_read"

	// AnnotationArgHeightRangeParams identifies the offsets and sizes of one height-range pass.
	// Source: engine/terrain/heightrange/assets/height_range_params.wgsl
	AnnotationArgHeightRangeParams AnnotationArg = "height_range_params"
)

// ── Address space arguments ────────────────────────────────────────────────────
// These specify the WGSL variable address space in @oxy:group annotations.

const (
	// annotationArgStorageTypeUniform maps to var<uniform> in WGSL.
	annotationArgStorageTypeUniform AnnotationArg = "storage_uniform"

	// annotationArgStorageTypeRead maps to var<storage, read> in WGSL.
	annotationArgStorageTypeRead AnnotationArg = "storage_read"

	// annotationArgStorageTypeReadWrite maps to var<storage, read_write> in WGSL.
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

// ── Provider identity arguments ────────────────────────────────────────────────
// These identify which terrain resource provider owns a bind group. The terrain render
// path matches them to wire the correct BindGroupProvider for each group.

const (
	// AnnotationArgSelection identifies the selection outputs consumed by the terrain draw.
	AnnotationArgSelection AnnotationArg = "selection"

	// AnnotationArgNodeStore identifies the baked per-node records.
	AnnotationArgNodeStore AnnotationArg = "node_store"

	// AnnotationArgClipmapHeight identifies the height clipmap provider.
	AnnotationArgClipmapHeight AnnotationArg = "clipmap_height"

	// AnnotationArgClipmapSplat identifies the splat clipmap provider.
	AnnotationArgClipmapSplat AnnotationArg = "clipmap_splat"

	// AnnotationArgHeightmap identifies the source heightmap of the offline bake.
	AnnotationArgHeightmap AnnotationArg = "heightmap"

	// AnnotationArgHeightRange identifies the packed height-range mip chain.
	AnnotationArgHeightRange AnnotationArg = "height_range"
)

// ── Binding role arguments ─────────────────────────────────────────────────────
// These qualify individual bindings within a multi-binding provider group so the terrain
// resolves binding indices from declarations instead of variable names.

const (
	// AnnotationArgRenderUniforms identifies the terrain draw uniforms.
	AnnotationArgRenderUniforms AnnotationArg = "render_uniforms"

	// AnnotationArgCullResults identifies the accepted instance array.
	AnnotationArgCullResults AnnotationArg = "cull_results"

	// AnnotationArgNodeDataRole identifies the node placement array.
	AnnotationArgNodeDataRole AnnotationArg = "node_data"

	// AnnotationArgClipmapInfo identifies a clipmap's resolution and placement uniform.
	AnnotationArgClipmapInfo AnnotationArg = "clipmap_info"

	// AnnotationArgClipmapTexels identifies a clipmap's texel array.
	AnnotationArgClipmapTexels AnnotationArg = "clipmap_texels"
)

// validStructTypes lists all AnnotationArg values that are accepted as struct type
// arguments in @oxy:include and @oxy:group annotations. Each entry must have a
// corresponding registryEntry in the PreProcessor's structRegistry.
var validStructTypes = []AnnotationArg{
	AnnotationArgFrameUniforms,
	AnnotationArgLevelUniforms,
	AnnotationArgIndirectArgs,
	AnnotationArgCullResult,
	AnnotationArgNodeAABB,
	AnnotationArgNodeData,
	AnnotationArgCandidateList,
	AnnotationArgCandidateListRead,
	AnnotationArgHeightRangeParams,
}

// validAddressSpaces lists all AnnotationArg values that are accepted as address
// space arguments in @oxy:group annotations. Each maps to a WGSL var<> declaration.
var validAddressSpaces = []AnnotationArg{
	annotationArgStorageTypeUniform,
	annotationArgStorageTypeRead,
	annotationArgStorageTypeReadWrite,
}

// validProviderIdentities lists all AnnotationArg values that are accepted as
// provider identity arguments in @oxy:provider annotations.
var validProviderIdentities = []AnnotationArg{
	AnnotationArgSelection,
	AnnotationArgNodeStore,
	AnnotationArgClipmapHeight,
	AnnotationArgClipmapSplat,
	AnnotationArgHeightmap,
	AnnotationArgHeightRange,
}

// validBindingRoles lists all AnnotationArg values that are accepted as binding
// role qualifiers in @oxy:provider annotations.
var validBindingRoles = []AnnotationArg{
	AnnotationArgRenderUniforms,
	AnnotationArgCullResults,
	AnnotationArgNodeDataRole,
	AnnotationArgClipmapInfo,
	AnnotationArgClipmapTexels,
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix. Returns
// a populated Annotation for valid annotations, or an error describing the problem for
// malformed annotations with correct prefix but invalid syntax or unknown arguments.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch args[0] {
	case string(annotationTypeInclude):
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		if !slices.Contains(validStructTypes, AnnotationArg(args[1])) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy include annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: annotationTypeInclude,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	case string(AnnotationTypeBindingGroup):
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy group annotation requires exactly five arguments (group, binding, address space, var name, type)", lineNum)
		}
		group, binding, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validAddressSpaces, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown address space %q in @oxy group annotation", lineNum, args[3])
		}
		typeArg := args[5]
		if inner, ok := strings.CutPrefix(typeArg, "array<"); ok {
			typeArg = strings.TrimSuffix(inner, ">")
		}
		if !slices.Contains(validStructTypes, AnnotationArg(typeArg)) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy group annotation", lineNum, typeArg)
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	case string(AnnotationTypeProvider):
		if len(args) < 4 || len(args) > 5 {
			return nil, fmt.Errorf("line %d: @oxy provider annotation requires three or four arguments (group, binding, provider identity[, binding role])", lineNum)
		}
		group, binding, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validProviderIdentities, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown provider identity %q in @oxy provider annotation", lineNum, args[3])
		}
		providerArgs := []AnnotationArg{AnnotationArg(args[3])}
		if len(args) == 5 {
			if !slices.Contains(validBindingRoles, AnnotationArg(args[4])) {
				return nil, fmt.Errorf("line %d: unknown binding role %q in @oxy provider annotation", lineNum, args[4])
			}
			providerArgs = append(providerArgs, AnnotationArg(args[4]))
		}
		return &Annotation{
			Type:    AnnotationTypeProvider,
			Args:    providerArgs,
			Line:    lineNum,
			Group:   &group,
			Binding: &binding,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}

func parseGroupBinding(groupArg, bindingArg string, lineNum int) (int, int, error) {
	group, err := strconv.Atoi(groupArg)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid group number %q: %v", lineNum, groupArg, err)
	}
	binding, err := strconv.Atoi(bindingArg)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid binding number %q: %v", lineNum, bindingArg, err)
	}
	return group, binding, nil
}
