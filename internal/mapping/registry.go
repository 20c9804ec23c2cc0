// Package mapping holds the Mapping Registry: the immutable, validated set
// of bindings between OPC UA nodes and AAS submodel elements that the
// Monitor and Controller consult on every value transfer.
package mapping

import (
	"fmt"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// Registry is built once at startup from a validated mapping set and never
// mutated afterward; safe for concurrent read access from any number of
// goroutines without further synchronization.
type Registry struct {
	byNode    map[string]model.Mapping
	byElement map[string]model.Mapping
	all       []model.Mapping
}

// Build validates mappings and returns an immutable Registry, or the first
// validation error encountered.
func Build(mappings []model.Mapping) (*Registry, error) {
	r := &Registry{
		byNode:    make(map[string]model.Mapping, len(mappings)),
		byElement: make(map[string]model.Mapping, len(mappings)),
		all:       make([]model.Mapping, 0, len(mappings)),
	}

	for i, m := range mappings {
		if err := validate(m); err != nil {
			return nil, fmt.Errorf("mapping[%d] (%s <-> %s): %w", i, m.NodeRef, m.ElementRef, err)
		}

		nodeKey := m.NodeRef.String()
		if _, dup := r.byNode[nodeKey]; dup {
			return nil, model.NewBridgeError(model.KindConfigError, "mapping.Build",
				fmt.Errorf("duplicate mapping for node %s", nodeKey))
		}

		elemKey := m.ElementRef.String()
		if _, dup := r.byElement[elemKey]; dup {
			return nil, model.NewBridgeError(model.KindConfigError, "mapping.Build",
				fmt.Errorf("duplicate mapping for element %s", elemKey))
		}

		r.byNode[nodeKey] = m
		r.byElement[elemKey] = m
		r.all = append(r.all, m)
	}

	return r, nil
}

func validate(m model.Mapping) error {
	if m.NodeRef.EndpointName == "" || m.NodeRef.NodeID == "" {
		return model.NewBridgeError(model.KindConfigError, "mapping.validate",
			fmt.Errorf("node reference must have an endpoint and node id"))
	}
	if m.ElementRef.SubmodelID == "" || m.ElementRef.IDShortPath == "" {
		return model.NewBridgeError(model.KindConfigError, "mapping.validate",
			fmt.Errorf("element reference must have a submodel id and idShortPath"))
	}
	if !m.ValueType.Supported() {
		return model.NewBridgeError(model.KindConfigError, "mapping.validate",
			fmt.Errorf("unsupported value type %q", m.ValueType))
	}
	switch m.Direction {
	case model.OPCToAAS, model.AASToOPC, model.Both:
	default:
		return model.NewBridgeError(model.KindConfigError, "mapping.validate",
			fmt.Errorf("unknown direction %q", m.Direction))
	}
	if m.Range != nil && m.Range.Min > m.Range.Max {
		return model.NewBridgeError(model.KindConfigError, "mapping.validate",
			fmt.Errorf("range min %v exceeds max %v", m.Range.Min, m.Range.Max))
	}
	return nil
}

// ByNode looks up the Mapping bound to an OPC UA node.
func (r *Registry) ByNode(node model.NodeRef) (model.Mapping, bool) {
	m, ok := r.byNode[node.String()]
	return m, ok
}

// ByElement looks up the Mapping bound to an AAS element.
func (r *Registry) ByElement(elem model.ElementRef) (model.Mapping, bool) {
	m, ok := r.byElement[elem.String()]
	return m, ok
}

// All returns every mapping in the registry. The returned slice is owned by
// the registry and must not be modified by the caller.
func (r *Registry) All() []model.Mapping {
	return r.all
}

// Len returns the number of mappings held by the registry.
func (r *Registry) Len() int {
	return len(r.all)
}
