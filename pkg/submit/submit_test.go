package submit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/faasctl/pkg/function"
	"github.com/3s-rg-codes/faasctl/pkg/registry"
)

type fakeChecker struct {
	err   error
	calls int
}

func (f *fakeChecker) CheckImage(context.Context, string) error {
	f.calls++
	return f.err
}

func storageCandidate() function.Candidate {
	return function.Candidate{
		Definition: function.Definition{
			Name:      "resize",
			Type:      function.TypeFunction,
			Source:    function.SourceStorage,
			EventType: function.EventHTTP,
		},
		Artifact: &function.Artifact{Filename: "resize.zip", Content: []byte("PK")},
	}
}

func TestSubmit_InvalidNeverCallsRegistry(t *testing.T) {
	m := registry.NewMockClient()
	s := New(m, WithUploader(m))

	c := storageCandidate()
	c.Name = ""
	_, err := s.Submit(context.Background(), c)

	var verr *function.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, function.FieldName)
	assert.Zero(t, m.TotalCalls())
}

func TestSubmit_StorageRequiresArtifactOnCreate(t *testing.T) {
	m := registry.NewMockClient()
	s := New(m, WithUploader(m))

	c := storageCandidate()
	c.Artifact = nil
	_, err := s.Submit(context.Background(), c)

	var verr *function.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[function.Field]string{function.FieldArtifact: "Function package is required"}, verr.Fields)
	assert.Zero(t, m.TotalCalls())
}

func TestSubmit_StorageUploadsOnceThenCreates(t *testing.T) {
	m := registry.NewMockClient()
	s := New(m, WithUploader(m))

	created, err := s.Submit(context.Background(), storageCandidate())

	require.NoError(t, err)
	assert.Equal(t, 1, m.Calls("upload"))
	assert.Equal(t, 1, m.Calls("create"))
	assert.Contains(t, created.LocationURL, "resize.zip")
	assert.Equal(t, function.StatusPending, created.Status)
}

func TestSubmit_UploadFailureSkipsRegistration(t *testing.T) {
	m := registry.NewMockClient()
	boom := errors.New("bucket unreachable")
	m.FailWith("upload", boom)
	s := New(m, WithUploader(m))

	_, err := s.Submit(context.Background(), storageCandidate())

	var uerr *function.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Calls("create"))
}

func TestSubmit_InlineArtifactWithoutUploader(t *testing.T) {
	m := registry.NewMockClient()
	s := New(m)

	created, err := s.Submit(context.Background(), storageCandidate())

	require.NoError(t, err)
	assert.Zero(t, m.Calls("upload"))
	assert.Equal(t, "artifacts/"+created.ID+"/resize.zip", created.LocationURL)
}

func TestSubmit_UpdateSendsMetadataOnly(t *testing.T) {
	m := registry.NewMockClient()
	existing := m.Seed(function.Definition{
		Name:        "resize",
		Type:        function.TypeFunction,
		Source:      function.SourceStorage,
		LocationURL: "s3://functions/resize.zip",
		EventType:   function.EventHTTP,
		Status:      function.StatusDeployed,
	})[0]
	s := New(m, WithUploader(m))

	c := storageCandidate()
	c.ID = existing.ID
	c.Name = "resize-v2"
	c.LocationURL = "s3://elsewhere/other.zip"
	c.Status = function.StatusDeployed

	updated, err := s.Submit(context.Background(), c)

	require.NoError(t, err)
	assert.Zero(t, m.Calls("upload"))
	assert.Equal(t, "resize-v2", updated.Name)
	assert.Equal(t, "s3://functions/resize.zip", updated.LocationURL)
}

func TestSubmit_NormalizesBeforeSending(t *testing.T) {
	m := registry.NewMockClient()
	s := New(m)

	created, err := s.Submit(context.Background(), function.Candidate{Definition: function.Definition{
		Name:           "web",
		Type:           function.TypeImage,
		Source:         function.SourceGithub,
		LocationURL:    "user/repo:latest",
		EventType:      function.EventHTTP,
		RedisHost:      function.StringPtr("redis:6379"),
		RedisQueueName: function.StringPtr("jobs"),
	}})

	require.NoError(t, err)
	assert.Equal(t, function.SourceDocker, created.Source)
	assert.Nil(t, created.RedisHost)
	assert.Nil(t, created.RedisQueueName)
}

func TestSubmit_ImageCheck(t *testing.T) {
	image := function.Candidate{Definition: function.Definition{
		Name:        "web",
		Type:        function.TypeImage,
		LocationURL: "user/missing:latest",
		EventType:   function.EventHTTP,
	}}

	t.Run("unknown image is a field error", func(t *testing.T) {
		m := registry.NewMockClient()
		checker := &fakeChecker{err: function.ErrImageNotFound}
		s := New(m, WithImageChecker(checker))

		_, err := s.Submit(context.Background(), image)

		var verr *function.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, function.FieldLocationURL)
		assert.Zero(t, m.Calls("create"))
	})

	t.Run("unreachable daemon does not block", func(t *testing.T) {
		m := registry.NewMockClient()
		checker := &fakeChecker{err: errors.New("daemon down")}
		s := New(m, WithImageChecker(checker))

		_, err := s.Submit(context.Background(), image)

		require.NoError(t, err)
		assert.Equal(t, 1, checker.calls)
		assert.Equal(t, 1, m.Calls("create"))
	})
}

func TestSubmit_RegistryError(t *testing.T) {
	m := registry.NewMockClient()
	m.Seed(function.Definition{Name: "resize"})
	s := New(m, WithUploader(m))

	_, err := s.Submit(context.Background(), storageCandidate())

	var rerr *function.RegistryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "create", rerr.Op)
	assert.ErrorIs(t, err, registry.ErrNameTaken)
}
