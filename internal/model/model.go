// Package model holds the data types shared across the synchronization
// core: node/element identity, the mapping binding, session state, and
// the error/audit records produced while moving values between the two
// sides of the bridge.
package model

import "time"

// NodeRef identifies an OPC UA node by endpoint and canonical NodeId text,
// e.g. "ns=2;s=Temperature". Immutable once constructed.
type NodeRef struct {
	EndpointName string
	NodeID       string
}

func (n NodeRef) String() string {
	return n.EndpointName + "|" + n.NodeID
}

// ElementRef identifies an AAS submodel element by submodel id and
// slash-separated idShortPath. Immutable once constructed.
type ElementRef struct {
	SubmodelID   string
	IDShortPath  string
}

func (e ElementRef) String() string {
	return e.SubmodelID + "#" + e.IDShortPath
}

// ValueType is the closed XSD type enumeration of OPC 30270 (I4AAS).
type ValueType string

const (
	Boolean        ValueType = "xs:boolean"
	Byte           ValueType = "xs:byte"
	UnsignedByte   ValueType = "xs:unsignedByte"
	Short          ValueType = "xs:short"
	UnsignedShort  ValueType = "xs:unsignedShort"
	Int            ValueType = "xs:int"
	UnsignedInt    ValueType = "xs:unsignedInt"
	Long           ValueType = "xs:long"
	UnsignedLong   ValueType = "xs:unsignedLong"
	Float          ValueType = "xs:float"
	Double         ValueType = "xs:double"
	String         ValueType = "xs:string"
	DateTime       ValueType = "xs:dateTime"
	Duration       ValueType = "xs:duration"
	Base64Binary   ValueType = "xs:base64Binary"
)

// Supported reports whether vt is one of the closed enumeration values.
func (vt ValueType) Supported() bool {
	switch vt {
	case Boolean, Byte, UnsignedByte, Short, UnsignedShort, Int, UnsignedInt,
		Long, UnsignedLong, Float, Double, String, DateTime, Duration, Base64Binary:
		return true
	default:
		return false
	}
}

// Direction constrains which way a Mapping is allowed to flow.
type Direction string

const (
	OPCToAAS Direction = "opc->aas"
	AASToOPC Direction = "aas->opc"
	Both     Direction = "both"
)

// AllowsOPCToAAS reports whether values may flow from OPC UA to AAS.
func (d Direction) AllowsOPCToAAS() bool { return d == OPCToAAS || d == Both }

// AllowsAASToOPC reports whether values may flow from AAS to OPC UA.
func (d Direction) AllowsAASToOPC() bool { return d == AASToOPC || d == Both }

// Range is an optional inclusive bound enforced after coercion.
type Range struct {
	Min float64
	Max float64
}

// Mapping binds one OPC UA node to one AAS element under a declared type.
// Created at bridge start and immutable afterward; consulted by both the
// Monitor and the Controller, never mutated by either.
type Mapping struct {
	NodeRef            NodeRef
	ElementRef         ElementRef
	ValueType          ValueType
	Array              bool
	Range              *Range
	Nullable           bool
	Direction          Direction
	SamplingIntervalMs int
	QueueSize          int
}

// MonitorSpec is one node's monitored-item request: the interval and
// queue size are per-mapping (§4.5), so a subscription batch carries one
// spec per node rather than a single uniform pair for the whole batch.
type MonitorSpec struct {
	NodeRef          NodeRef
	SamplingInterval time.Duration
	QueueSize        int
}

// DefaultSamplingIntervalMs is applied when a Mapping omits it.
const DefaultSamplingIntervalMs = 100

// DefaultQueueSize is applied when a Mapping omits it.
const DefaultQueueSize = 10

// EffectiveSamplingInterval returns the configured interval or the default.
func (m Mapping) EffectiveSamplingInterval() time.Duration {
	ms := m.SamplingIntervalMs
	if ms <= 0 {
		ms = DefaultSamplingIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// EffectiveQueueSize returns the configured queue size or the default.
func (m Mapping) EffectiveQueueSize() int {
	if m.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return m.QueueSize
}

// SessionState is the lifecycle state of one OPC UA Session.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	Faulted
	Stopping
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// AuditOutcome classifies what happened to an attempted OPC UA write.
type AuditOutcome string

const (
	Accepted AuditOutcome = "accepted"
	Rejected AuditOutcome = "rejected"
	Deferred AuditOutcome = "deferred"
)

// AuditRecord is produced by the Controller on every attempted OPC UA
// write and consumed by the audit sink.
type AuditRecord struct {
	Timestamp  time.Time
	Direction  Direction
	NodeRef    NodeRef
	ElementRef ElementRef
	PriorValue interface{}
	NewValue   interface{}
	UserID     string
	Outcome    AuditOutcome
	Reason     string
}

// ComponentHealth is one entry in the Sync Manager's health aggregation.
type ComponentHealth struct {
	Name      string
	Healthy   bool
	LastError string
	LastCheck time.Time
}
