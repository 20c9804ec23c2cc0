// Package aasclient talks to an AAS v3 REST repository: reading and
// writing submodel element values over HTTP, and receiving AAS-side
// change events either through MQTT or through polling.
package aasclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

// Config configures the REST side of the AAS Client.
type Config struct {
	BaseURL             string        `yaml:"base_url"`
	EncodeIdentifiers   bool          `yaml:"encode_identifiers"`
	AutoCreateSubmodels bool          `yaml:"auto_create_submodels"`
	AutoCreateElements  bool          `yaml:"auto_create_elements"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return 5 * time.Second
}

// RESTClient is the HTTP half of the AAS Client: $value GET/PATCH and
// first-use element creation.
type RESTClient struct {
	cfg      Config
	http     *http.Client
	logger   *zap.Logger
	backoff  *resilience.Backoff
	breakers *resilience.BreakerRegistry
}

// NewRESTClient builds a RESTClient wrapping net/http with the shared
// backoff and circuit-breaker machinery, keyed by a single "aas" endpoint
// name since there is exactly one repository base URL.
func NewRESTClient(cfg Config, logger *zap.Logger, backoff *resilience.Backoff, breakers *resilience.BreakerRegistry) *RESTClient {
	return &RESTClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.requestTimeout()},
		logger: logger,
		backoff: backoff,
		breakers: breakers,
	}
}

func (c *RESTClient) elementURL(ref model.ElementRef) string {
	sid := ref.SubmodelID
	if c.cfg.EncodeIdentifiers {
		sid = codec.EncodeBase64URLNoPad(sid)
	}
	path := pathEncode(ref.IDShortPath)
	return fmt.Sprintf("%s/submodels/%s/submodel-elements/%s/$value", strings.TrimRight(c.cfg.BaseURL, "/"), sid, path)
}

func pathEncode(idShortPath string) string {
	segments := strings.Split(idShortPath, "/")
	for i, s := range segments {
		segments[i] = strings.ReplaceAll(s, " ", "%20")
	}
	return strings.Join(segments, ".")
}

// ReadValue fetches the current JSON-encoded $value for an element and
// decodes it into the element's native Go representation.
func (c *RESTClient) ReadValue(ctx context.Context, ref model.ElementRef, vt model.ValueType) (interface{}, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.elementURL(ref), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, model.NewBridgeErrorSubtype(model.KindHttpError, model.SubtypeNotFound, "aasclient.ReadValue",
			fmt.Errorf("element %s not found", ref))
	}
	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, "aasclient.ReadValue")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewBridgeError(model.KindHttpError, "aasclient.ReadValue", err)
	}

	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, model.NewBridgeError(model.KindHttpError, "aasclient.ReadValue", err)
	}

	return raw, nil
}

// WriteValue PATCHes an element's $value with the JSON encoding of value
// per ValueType, creating the element first when 404 and auto-creation is
// enabled.
func (c *RESTClient) WriteValue(ctx context.Context, ref model.ElementRef, value interface{}, vt model.ValueType) error {
	jsonValue, err := ToJSONValue(value, vt)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]interface{}{"value": jsonValue})
	if err != nil {
		return model.NewBridgeError(model.KindHttpError, "aasclient.WriteValue", err)
	}

	err = c.patch(ctx, ref, body)
	if err == nil {
		return nil
	}

	if model.Is(err, model.KindHttpError) && isNotFound(err) && c.cfg.AutoCreateElements {
		if createErr := c.createElement(ctx, ref, vt); createErr != nil {
			return createErr
		}
		return c.patch(ctx, ref, body)
	}

	return err
}

func isNotFound(err error) bool {
	be, ok := err.(*model.BridgeError)
	return ok && be.Subtype == model.SubtypeNotFound
}

func (c *RESTClient) patch(ctx context.Context, ref model.ElementRef, body []byte) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.elementURL(ref), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.NewBridgeErrorSubtype(model.KindHttpError, model.SubtypeNotFound, "aasclient.patch",
			fmt.Errorf("element %s not found", ref))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return classifyStatus(resp.StatusCode, "aasclient.patch")
	}
	return nil
}

func (c *RESTClient) createElement(ctx context.Context, ref model.ElementRef, vt model.ValueType) error {
	segments := strings.Split(ref.IDShortPath, "/")
	idShort := segments[len(segments)-1]

	descriptor := map[string]interface{}{
		"idShort":   idShort,
		"valueType": string(vt),
		"modelType": "Property",
	}
	body, err := json.Marshal(descriptor)
	if err != nil {
		return model.NewBridgeError(model.KindHttpError, "aasclient.createElement", err)
	}

	sid := ref.SubmodelID
	if c.cfg.EncodeIdentifiers {
		sid = codec.EncodeBase64URLNoPad(sid)
	}
	url := fmt.Sprintf("%s/submodels/%s/submodel-elements", strings.TrimRight(c.cfg.BaseURL, "/"), sid)

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, "aasclient.createElement")
	}
	return nil
}

// doWithRetry builds and executes a fresh request on every attempt via
// newReq, through the shared circuit breaker, retrying transient failures
// (connection errors, 5xx, 429) with backoff, for at most maxAttempts
// attempts. Rebuilding per attempt (rather than reusing one *http.Request)
// matters for PATCH/POST: an *http.Request's body is a bytes.Reader
// consumed by the first Do, so retrying the same request would send an
// empty body on attempt two and silently clobber the element value.
func (c *RESTClient) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	const endpoint = "aas"
	const maxAttempts = 4

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, model.NewBridgeError(model.KindHttpError, "aasclient.doWithRetry", err)
		}

		result, err := c.breakers.Execute(endpoint, func() (interface{}, error) {
			resp, err := c.http.Do(req)
			if err != nil {
				return nil, model.NewBridgeErrorSubtype(model.KindHttpError, model.SubtypeTransport, "aasclient.doWithRetry", err)
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				resp.Body.Close()
				return nil, model.NewBridgeErrorSubtype(model.KindHttpError, model.SubtypeServerError, "aasclient.doWithRetry",
					fmt.Errorf("server returned %d", resp.StatusCode))
			}
			return resp, nil
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if sleepErr := c.backoff.Sleep(ctx, attempt); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	be, ok := err.(*model.BridgeError)
	if !ok {
		return false
	}
	return be.Subtype == model.SubtypeTransport || be.Subtype == model.SubtypeServerError
}

func classifyStatus(status int, op string) error {
	if status >= 500 || status == http.StatusTooManyRequests {
		return model.NewBridgeErrorSubtype(model.KindHttpError, model.SubtypeServerError, op, fmt.Errorf("server returned %d", status))
	}
	return model.NewBridgeErrorSubtype(model.KindHttpError, model.SubtypePermanentClientError, op, fmt.Errorf("client error %d", status))
}
