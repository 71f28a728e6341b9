package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 9, 14, 30, 5, 0, time.UTC)

func TestObjectKey(t *testing.T) {
	key := objectKey("/exports/", "repo-1", fixedNow)
	assert.True(t, strings.HasPrefix(key, "exports/repo-1/2026/03/09/143005-"), key)
	assert.True(t, strings.HasSuffix(key, ".csv"))

	assert.True(t, strings.HasPrefix(objectKey("", "repo-1", fixedNow), "repo-1/2026/03/09/"))
	assert.NotEqual(t, objectKey("", "repo-1", fixedNow), objectKey("", "repo-1", fixedNow))
}

func TestLocalArchiver(t *testing.T) {
	a, err := NewLocalArchiver(t.TempDir(), "exports")
	require.NoError(t, err)
	a.now = func() time.Time { return fixedNow }

	path, err := a.Archive(context.Background(), "repo-1", []byte("email\nada@example.com\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "email\nada@example.com\n", string(data))
	assert.Contains(t, path, "repo-1")
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver(t *testing.T) {
	client := &fakeS3{}
	a := NewS3Archiver(client, "bucket", "exports")
	a.now = func() time.Time { return fixedNow }

	uri, err := a.Archive(context.Background(), "repo-1", []byte("email\n"))
	require.NoError(t, err)

	require.NotNil(t, client.in)
	assert.Equal(t, "bucket", aws.ToString(client.in.Bucket))
	assert.Equal(t, "s3://bucket/"+aws.ToString(client.in.Key), uri)
	assert.True(t, strings.HasPrefix(aws.ToString(client.in.Key), "exports/repo-1/2026/03/09/"))
	assert.Equal(t, "text/csv; charset=utf-8", aws.ToString(client.in.ContentType))
	assert.Equal(t, "email\n", string(client.body))
}

func TestS3Archiver_Error(t *testing.T) {
	a := NewS3Archiver(&fakeS3{err: errors.New("access denied")}, "bucket", "")
	_, err := a.Archive(context.Background(), "repo-1", []byte("x"))
	assert.ErrorContains(t, err, "access denied")
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = New(context.Background(), Config{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalArchiver{}, a)

	_, err = New(context.Background(), Config{Type: "s3"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Type: "ftp"})
	assert.Error(t, err)
}
