package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

const tracerName = "github.com/3s-rg-codes/faasctl/pkg/registry"

// HTTPClient can perform any http request
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ Client   = &RESTClient{}
	_ Uploader = &RESTClient{}
)

// RESTClient wraps the registry's HTTP API.
type RESTClient struct {
	client  HTTPClient
	address string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewRESTClient creates a RESTClient whose requests time out after timeout.
func NewRESTClient(address string, timeout time.Duration, logger *slog.Logger) *RESTClient {
	return NewRESTClientWithHTTPClient(address, logger, &http.Client{Timeout: timeout})
}

// NewRESTClientWithHTTPClient creates a RESTClient. The httpClient must implement the HTTPClient interface
func NewRESTClientWithHTTPClient(address string, logger *slog.Logger, httpClient HTTPClient) *RESTClient {
	return &RESTClient{
		client:  httpClient,
		address: strings.TrimSuffix(address, "/"),
		logger:  discardLogger(logger),
		tracer:  otel.Tracer(tracerName),
	}
}

// StatusError is returned for any non 2xx response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("registry responded with status %d", e.Code)
	}
	return fmt.Sprintf("registry responded with status %d: %s", e.Code, e.Detail)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func (c *RESTClient) ListFunctions(ctx context.Context) ([]function.Definition, error) {
	var defs []function.Definition
	if err := c.do(ctx, "list", http.MethodGet, "/functions/", nil, "", &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (c *RESTClient) GetFunction(ctx context.Context, id string) (function.Definition, error) {
	if id == "" {
		return function.Definition{}, ErrFunctionIDIsEmpty
	}
	var def function.Definition
	err := c.do(ctx, "get", http.MethodGet, "/functions/"+url.PathEscape(id), nil, "", &def)
	if isNotFound(err) {
		return function.Definition{}, function.ErrFunctionNotFound
	}
	if err != nil {
		return function.Definition{}, err
	}
	return def, nil
}

// CreateFunction posts the definition as a multipart form. The artifact, when
// present, travels in the file part.
func (c *RESTClient) CreateFunction(ctx context.Context, def function.Definition, artifact *function.Artifact) (function.Definition, error) {
	fields := map[string]string{
		"name":         def.Name,
		"type":         string(def.Type),
		"source":       string(def.Source),
		"location_url": def.LocationURL,
		"event_type":   string(def.EventType),
	}
	if def.Status != "" {
		fields["status"] = string(def.Status)
	}
	if def.RedisHost != nil {
		fields["redis_host"] = *def.RedisHost
	}
	if def.RedisQueueName != nil {
		fields["redis_queue_name"] = *def.RedisQueueName
	}

	body, contentType, err := encodeMultipart(fields, artifact)
	if err != nil {
		c.logger.Error("error encoding multipart form", "error", err)
		return function.Definition{}, err
	}

	created := def
	if err := c.do(ctx, "create", http.MethodPost, "/upload_function/", body, contentType, &created); err != nil {
		return function.Definition{}, err
	}
	if created.ID == "" {
		return function.Definition{}, errors.New("registry: create response carries no function id")
	}
	return created, nil
}

// UpdateFunction sends the metadata patch. Location and code are never part of it.
func (c *RESTClient) UpdateFunction(ctx context.Context, id string, patch function.MetadataPatch) (function.Definition, error) {
	if id == "" {
		return function.Definition{}, ErrFunctionIDIsEmpty
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		c.logger.Error("error marshaling JSON", "error", err)
		return function.Definition{}, err
	}

	var updated function.Definition
	err = c.do(ctx, "update", http.MethodPatch, "/functions/"+url.PathEscape(id), bytes.NewReader(payload), "application/json", &updated)
	if isNotFound(err) {
		return function.Definition{}, function.ErrFunctionNotFound
	}
	if err != nil {
		return function.Definition{}, err
	}
	if updated.ID == "" {
		updated = patch.Apply(function.Definition{ID: id})
	}
	return updated, nil
}

func (c *RESTClient) DeployFunction(ctx context.Context, id string) error {
	return c.action(ctx, "deploy", "/deploy_function/", id, nil, "")
}

func (c *RESTClient) UndeployFunction(ctx context.Context, id string) error {
	return c.action(ctx, "undeploy", "/undeploy_function/", id, nil, "")
}

// DeleteFunction uses the undeploy endpoint, which also removes the definition
// when the function id is posted with it.
func (c *RESTClient) DeleteFunction(ctx context.Context, id string) error {
	body, contentType, err := encodeMultipart(map[string]string{"function_id": id}, nil)
	if err != nil {
		return err
	}
	return c.action(ctx, "delete", "/undeploy_function/", id, body, contentType)
}

type liveStatusResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Replicas          int    `json:"replicas"`
	AvailableReplicas int    `json:"availableReplicas"`
	Error             string `json:"error"`
}

func (c *RESTClient) GetLiveStatus(ctx context.Context, id string) (function.LiveStatus, error) {
	if id == "" {
		return function.LiveStatus{}, ErrFunctionIDIsEmpty
	}
	var r liveStatusResponse
	err := c.do(ctx, "live-status", http.MethodGet, "/logs/"+url.PathEscape(id), nil, "", &r)
	if isNotFound(err) {
		return function.LiveStatus{}, function.ErrDeploymentNotFound
	}
	if err != nil {
		return function.LiveStatus{}, err
	}
	if r.Error != "" {
		c.logger.Debug("registry reported no deployment", "id", id, "detail", r.Error)
		return function.LiveStatus{}, function.ErrDeploymentNotFound
	}
	return function.LiveStatus{
		State:             r.Status,
		ReplicasDesired:   r.Replicas,
		ReplicasAvailable: r.AvailableReplicas,
	}, nil
}

// UploadArtifact stores a package through the registry and returns its location.
func (c *RESTClient) UploadArtifact(ctx context.Context, artifact function.Artifact) (string, error) {
	body, contentType, err := encodeMultipart(nil, &artifact)
	if err != nil {
		return "", err
	}
	var r struct {
		ArtifactURL string `json:"artifact_url"`
	}
	if err := c.do(ctx, "upload", http.MethodPost, "/artifacts/", body, contentType, &r); err != nil {
		return "", err
	}
	if r.ArtifactURL == "" {
		return "", errors.New("registry: upload response carries no artifact url")
	}
	return r.ArtifactURL, nil
}

func (c *RESTClient) Close() error {
	return nil
}

func (c *RESTClient) action(ctx context.Context, op, path, id string, body io.Reader, contentType string) error {
	if id == "" {
		return ErrFunctionIDIsEmpty
	}
	err := c.do(ctx, op, http.MethodPost, path+url.PathEscape(id), body, contentType, nil)
	if isNotFound(err) {
		return function.ErrFunctionNotFound
	}
	return err
}

func (c *RESTClient) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "registry."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.address+path, body)
	if err != nil {
		c.logger.Error("error creating request", "op", op, "error", err)
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("error sending request", "op", op, "error", err)
		return err
	}

	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("error closing the response body", "error", err)
		}
	}(resp.Body)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("error reading response", "op", op, "error", err)
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("request failed with status code", "op", op, "status", resp.StatusCode)
		return &StatusError{Code: resp.StatusCode, Detail: errorDetail(b)}
	}

	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		c.logger.Error("error unmarshaling json response", "op", op, "error", err)
		return err
	}
	return nil
}

// errorDetail extracts the message of a FastAPI style error body.
func errorDetail(b []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return strings.TrimSpace(string(b))
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		return string(body.Detail)
	}
	return body.Error
}

func encodeMultipart(fields map[string]string, artifact *function.Artifact) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if artifact != nil {
		part, err := w.CreateFormFile("file", artifact.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(artifact.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
