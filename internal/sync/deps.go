package sync

import (
	"context"

	"github.com/gopcua/opcua/ua"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
)

// connectionPool is the subset of *opcuapool.Pool the Monitor and
// Controller depend on, narrowed to a local interface so both can be
// exercised against fakes in tests.
type connectionPool interface {
	Changes() <-chan opcuapool.DataChange
	Monitor(endpoint string, specs []model.MonitorSpec) error
	Write(ctx context.Context, ref model.NodeRef, value *ua.Variant) error
}

// valueWriter is the subset of *aasclient.RESTClient the Monitor needs.
type valueWriter interface {
	WriteValue(ctx context.Context, ref model.ElementRef, value interface{}, vt model.ValueType) error
}
