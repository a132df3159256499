package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	return nil, nil
}

// Helper function to create mock responses
func NewMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func readForm(t *testing.T, req *http.Request) *multipart.Form {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)
	form, err := multipart.NewReader(req.Body, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	return form
}

func TestRESTClient_CreateFunction_Multipart(t *testing.T) {
	id := uuid.NewString()
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Equal(t, "http://registry/upload_function/", req.URL.String())

			form := readForm(t, req)
			assert.Equal(t, []string{"hello"}, form.Value["name"])
			assert.Equal(t, []string{"STORAGE"}, form.Value["source"])
			assert.Equal(t, []string{"jobs"}, form.Value["redis_queue_name"])
			_, hasHost := form.Value["redis_host"]
			assert.False(t, hasHost)

			require.Len(t, form.File["file"], 1)
			assert.Equal(t, "hello.zip", form.File["file"][0].Filename)

			return NewMockResponse(http.StatusOK, `{"id":"`+id+`","status":"PENDING"}`), nil
		},
	}

	client := NewRESTClientWithHTTPClient("http://registry/", nil, mockClient)
	created, err := client.CreateFunction(context.Background(), function.Definition{
		Name:           "hello",
		Type:           function.TypeFunction,
		Source:         function.SourceStorage,
		EventType:      function.EventQueue,
		RedisQueueName: function.StringPtr("jobs"),
	}, &function.Artifact{Filename: "hello.zip", Content: []byte("PK")})

	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, "hello", created.Name)
	assert.Equal(t, function.StatusPending, created.Status)
}

func TestRESTClient_CreateFunction_Detail(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return NewMockResponse(http.StatusConflict, `{"detail":"Function name already exists"}`), nil
		},
	}

	client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)
	_, err := client.CreateFunction(context.Background(), function.Definition{Name: "dup"}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "Function name already exists", se.Detail)
}

func TestRESTClient_UpdateFunction_SendsPatchOnly(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodPatch, req.Method)
			assert.Equal(t, "/functions/abc", req.URL.Path)
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.NotContains(t, body, "location_url")
			assert.Equal(t, "renamed", body["name"])

			return NewMockResponse(http.StatusOK, `{"id":"abc","name":"renamed","location_url":"https://github.com/a/b.git"}`), nil
		},
	}

	client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)
	def, err := client.UpdateFunction(context.Background(), "abc", function.MetadataPatch{Name: "renamed"})

	require.NoError(t, err)
	assert.Equal(t, "renamed", def.Name)
	assert.Equal(t, "https://github.com/a/b.git", def.LocationURL)
}

func TestRESTClient_GetFunction_NotFound(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return NewMockResponse(http.StatusNotFound, `{"detail":"Function not found"}`), nil
		},
	}

	client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)
	_, err := client.GetFunction(context.Background(), "missing")

	assert.ErrorIs(t, err, function.ErrFunctionNotFound)
}

func TestRESTClient_GetLiveStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    function.LiveStatus
		wantErr error
	}{
		{
			name:   "running deployment",
			status: http.StatusOK,
			body:   `{"id":"abc","status":"READY","replicas":2,"availableReplicas":1}`,
			want:   function.LiveStatus{State: "READY", ReplicasDesired: 2, ReplicasAvailable: 1},
		},
		{
			name:    "error body",
			status:  http.StatusOK,
			body:    `{"error":"deployment not found"}`,
			wantErr: function.ErrDeploymentNotFound,
		},
		{
			name:    "404",
			status:  http.StatusNotFound,
			body:    `{"detail":"Not Found"}`,
			wantErr: function.ErrDeploymentNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &MockHTTPClient{
				DoFunc: func(req *http.Request) (*http.Response, error) {
					assert.Equal(t, "/logs/abc", req.URL.Path)
					return NewMockResponse(tt.status, tt.body), nil
				},
			}
			client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)

			got, err := client.GetLiveStatus(context.Background(), "abc")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRESTClient_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, boom
		},
	}

	client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)
	err := client.DeployFunction(context.Background(), "abc")

	assert.ErrorIs(t, err, boom)
}

func TestRESTClient_Actions(t *testing.T) {
	var paths []string
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, http.MethodPost, req.Method)
			paths = append(paths, req.URL.Path)
			return NewMockResponse(http.StatusOK, `{"message":"ok"}`), nil
		},
	}
	client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)
	ctx := context.Background()

	require.NoError(t, client.DeployFunction(ctx, "abc"))
	require.NoError(t, client.UndeployFunction(ctx, "abc"))
	require.NoError(t, client.DeleteFunction(ctx, "abc"))
	assert.ErrorIs(t, client.DeployFunction(ctx, ""), ErrFunctionIDIsEmpty)

	assert.Equal(t, []string{"/deploy_function/abc", "/undeploy_function/abc", "/undeploy_function/abc"}, paths)
}

func TestRESTClient_UploadArtifact(t *testing.T) {
	mockClient := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "/artifacts/", req.URL.Path)
			form := readForm(t, req)
			require.Len(t, form.File["file"], 1)
			return NewMockResponse(http.StatusCreated, `{"artifact_url":"s3://functions/hello.zip"}`), nil
		},
	}
	client := NewRESTClientWithHTTPClient("http://registry", nil, mockClient)

	loc, err := client.UploadArtifact(context.Background(), function.Artifact{Filename: "hello.zip", Content: []byte("PK")})

	require.NoError(t, err)
	assert.Equal(t, "s3://functions/hello.zip", loc)
}
