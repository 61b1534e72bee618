package app

import "fmt"

// defaultAdapterName is the vendor name every unknown vendor falls back to.
const defaultAdapterName = "generic"

// AdapterRegistry resolves vendor names to adapters. Immutable after
// construction, so lookups need no locking.
type AdapterRegistry struct {
	adapters       map[string]VendorAdapter
	defaultAdapter VendorAdapter
}

// NewAdapterRegistry builds a registry from the given adapters, keyed by
// VendorName. A non-empty registry without a "generic" adapter is a wiring
// mistake and fails construction.
func NewAdapterRegistry(adapters ...VendorAdapter) (*AdapterRegistry, error) {
	byName := make(map[string]VendorAdapter, len(adapters))
	for _, adapter := range adapters {
		byName[adapter.VendorName()] = adapter
	}

	defaultAdapter := byName[defaultAdapterName]
	if defaultAdapter == nil && len(byName) > 0 {
		return nil, fmt.Errorf("no default adapter registered under %q", defaultAdapterName)
	}

	return &AdapterRegistry{
		adapters:       byName,
		defaultAdapter: defaultAdapter,
	}, nil
}

// GetAdapter returns the adapter for vendorName, or the generic fallback
// when the vendor has no dedicated adapter.
func (r *AdapterRegistry) GetAdapter(vendorName string) VendorAdapter {
	if adapter, ok := r.adapters[vendorName]; ok {
		return adapter
	}
	return r.defaultAdapter
}
