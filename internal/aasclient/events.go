package aasclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// ElementChanged is emitted by either the MQTT ingress or the polling
// fallback when an AAS-side value changes; rawValue is the JSON-decoded
// payload value, not yet coerced to a ValueType.
type ElementChanged struct {
	Element  model.ElementRef
	RawValue interface{}
	UserID   string
}

// parseEventPayload extracts an ElementChanged from a raw MQTT payload,
// trying the unwrap keys "data", "payload", "event" in order before
// falling back to the payload itself, per the configured envelope
// convention.
func parseEventPayload(topic string, payload []byte, topicPattern string) (ElementChanged, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ElementChanged{}, model.NewBridgeError(model.KindMqttError, "aasclient.parseEventPayload", err)
	}

	body := raw
	for _, key := range []string{"data", "payload", "event"} {
		if inner, ok := raw[key].(map[string]interface{}); ok {
			body = inner
			break
		}
	}

	var ec ElementChanged
	ec.RawValue = body["value"]

	if sid, ok := body["submodelId"].(string); ok {
		ec.Element.SubmodelID = sid
	}
	if path, ok := body["idShortPath"].(string); ok {
		ec.Element.IDShortPath = path
	} else if idShort, ok := body["idShort"].(string); ok {
		ec.Element.IDShortPath = idShort
	}

	if user, ok := body["user"].(string); ok {
		ec.UserID = user
	}

	if ec.Element.SubmodelID == "" || ec.Element.IDShortPath == "" {
		derived, err := deriveElementRefFromTopic(topic, topicPattern)
		if err != nil {
			return ElementChanged{}, err
		}
		if ec.Element.SubmodelID == "" {
			ec.Element.SubmodelID = derived.SubmodelID
		}
		if ec.Element.IDShortPath == "" {
			ec.Element.IDShortPath = derived.IDShortPath
		}
	}

	if ec.Element.SubmodelID == "" || ec.Element.IDShortPath == "" {
		return ElementChanged{}, model.NewBridgeError(model.KindMqttError, "aasclient.parseEventPayload",
			fmt.Errorf("could not determine submodelId/idShortPath for topic %q", topic))
	}

	return ec, nil
}

// deriveElementRefFromTopic matches topic against a pattern of the form
// "sm-repository/+/submodels/+/submodelElements/#": the first "+" is the
// repository instance (ignored), the second "+" is the base64-encoded
// submodel id, and the "#" tail, slash-joined, is the idShortPath.
func deriveElementRefFromTopic(topic, pattern string) (model.ElementRef, error) {
	patternSegs := strings.Split(pattern, "/")
	topicSegs := strings.Split(topic, "/")

	var submodelIdx = -1
	for i, seg := range patternSegs {
		if seg == "+" && submodelIdx == -1 && i > 0 && patternSegs[i-1] == "submodels" {
			submodelIdx = i
		}
	}
	if submodelIdx == -1 || submodelIdx >= len(topicSegs) {
		return model.ElementRef{}, model.NewBridgeError(model.KindMqttError, "aasclient.deriveElementRefFromTopic",
			fmt.Errorf("topic %q does not match pattern %q", topic, pattern))
	}

	encodedSubmodel := topicSegs[submodelIdx]
	submodelID, err := codec.DecodeBase64URLNoPad(encodedSubmodel)
	if err != nil {
		submodelID = encodedSubmodel
	}

	tailStart := len(patternSegs) - 1
	if tailStart < 0 || tailStart >= len(topicSegs) {
		return model.ElementRef{}, model.NewBridgeError(model.KindMqttError, "aasclient.deriveElementRefFromTopic",
			fmt.Errorf("topic %q shorter than pattern %q", topic, pattern))
	}
	idShortPath := strings.Join(topicSegs[tailStart:], "/")

	return model.ElementRef{SubmodelID: submodelID, IDShortPath: idShortPath}, nil
}
