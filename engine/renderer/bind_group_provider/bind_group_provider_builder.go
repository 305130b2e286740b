package bind_group_provider

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithHostBuffer sets a host buffer for a specific binding index. Host buffers set before
// InitBindGroup are kept; only missing bindings are allocated by the host backend.
//
// Parameters:
//   - binding: the binding index for this buffer
//   - buf: the host buffer to associate with this binding
//
// Returns:
//   - BindGroupProviderOption: a function that sets the host buffer for the specified binding
func WithHostBuffer(binding int, buf *HostBuffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.hostBuffers[binding] = buf
	}
}

// WithSharedBuffer binds a buffer owned by another, already initialized provider.
//
// Parameters:
//   - binding: the binding index in the new provider
//   - src: the provider that owns the buffer
//   - srcBinding: the binding index in src
//
// Returns:
//   - BindGroupProviderOption: a function that shares the buffer into the provider
func WithSharedBuffer(binding int, src BindGroupProvider, srcBinding int) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.ShareBuffer(binding, src, srcBinding)
	}
}
