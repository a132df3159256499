package artifact

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_UploadArtifact(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, "functions", "/uploads/", nil)

	loc, err := store.UploadArtifact(context.Background(), function.Artifact{
		Filename: `C:\build\resize.zip`,
		Content:  []byte("PK\x03\x04"),
	})

	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "functions", aws.ToString(in.Bucket))
	assert.True(t, strings.HasPrefix(aws.ToString(in.Key), "uploads/"))
	assert.True(t, strings.HasSuffix(aws.ToString(in.Key), "/resize.zip"))
	assert.Equal(t, "application/zip", aws.ToString(in.ContentType))
	assert.Equal(t, int64(4), aws.ToInt64(in.ContentLength))
	assert.Equal(t, "PK\x03\x04", fake.bodies[0])
	assert.Equal(t, "s3://functions/"+aws.ToString(in.Key), loc)
}

func TestS3Store_UploadArtifact_Errors(t *testing.T) {
	store := NewS3StoreWithClient(&fakeS3{}, "functions", "", nil)
	_, err := store.UploadArtifact(context.Background(), function.Artifact{Filename: "empty.zip"})
	assert.Error(t, err)

	boom := errors.New("access denied")
	store = NewS3StoreWithClient(&fakeS3{err: boom}, "functions", "", nil)
	_, err = store.UploadArtifact(context.Background(), function.Artifact{Filename: "a.zip", Content: []byte("x")})
	assert.ErrorIs(t, err, boom)
}

func TestS3Store_KeysAreUnique(t *testing.T) {
	store := NewS3StoreWithClient(&fakeS3{}, "functions", "", nil)
	assert.NotEqual(t, store.key("a.zip"), store.key("a.zip"))
}
