package pipeline

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-terrain/engine/renderer/bind_group_provider"
	"github.com/cogentcore/webgpu/wgpu"
)

func TestGlobalID(t *testing.T) {
	grid := [3]uint32{8, 4, 2}
	tests := []struct {
		i    uint32
		want [3]uint32
	}{
		{0, [3]uint32{0, 0, 0}},
		{7, [3]uint32{7, 0, 0}},
		{8, [3]uint32{0, 1, 0}},
		{31, [3]uint32{7, 3, 0}},
		{32, [3]uint32{0, 0, 1}},
		{63, [3]uint32{7, 3, 1}},
	}
	for _, tt := range tests {
		if got := GlobalID(grid, tt.i); got != tt.want {
			t.Errorf("GlobalID(%d): expected %v, got %v", tt.i, tt.want, got)
		}
	}
}

func TestNewPipelineDefaults(t *testing.T) {
	called := false
	p := NewPipeline("select", PipelineTypeCompute, WithKernel(func(_ bind_group_provider.BindGroupProvider, _ [3]uint32, _, _ uint32) {
		called = true
	}))
	if p.PipelineKey() != "select" || p.Type() != PipelineTypeCompute {
		t.Errorf("expected compute pipeline select, got %v %q", p.Type(), p.PipelineKey())
	}
	if !p.DepthTestEnabled() || !p.DepthWriteEnabled() {
		t.Error("expected depth test and write enabled by default")
	}
	if p.Kernel() == nil {
		t.Fatal("expected kernel to be attached")
	}
	p.Kernel()(nil, [3]uint32{1, 1, 1}, 0, 1)
	if !called {
		t.Error("expected kernel to run")
	}
	if p.Pipeline().(*wgpu.ComputePipeline) != nil {
		t.Error("expected no GPU pipeline before registration")
	}
}
