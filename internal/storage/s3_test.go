package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memS3 keeps objects in a map keyed by bucket/key.
type memS3 struct {
	objects map[string][]byte
	ctype   map[string]string
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, ctype: map[string]string{}}
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := *in.Bucket + "/" + *in.Key
	m.objects[k] = b
	m.ctype[k] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestPutJSONRoundTrip(t *testing.T) {
	api := newMemS3()
	c := NewWithAPI(api, "results", "/eda_results/")

	key := c.Key("abc123")
	ref, err := c.PutJSON(context.Background(), key, map[string]any{"overall": 87.5})
	require.NoError(t, err)
	assert.Equal(t, "s3://results/eda_results/abc123.json", ref)
	assert.Equal(t, ref, c.Ref(key))
	assert.Equal(t, "application/json", api.ctype["results/eda_results/abc123.json"])

	got, err := c.GetJSON(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 87.5, got["overall"])
}

func TestKeyRejectsPathLikeIDs(t *testing.T) {
	c := NewWithAPI(newMemS3(), "b", "p")
	assert.Equal(t, "p/ok-id.json", c.Key("ok-id"))
	for _, id := range []string{"", "../x", "a/b", ".."} {
		k := c.Key(id)
		assert.Regexp(t, `^p/[0-9a-f-]{36}\.json$`, k, "id %q", id)
	}
}

func TestParseS3Ref(t *testing.T) {
	b, k, err := parseS3Ref("s3://bucket/a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "a/b.json", k)

	for _, bad := range []string{"bucket/key", "s3://bucket", "s3://bucket/", "s3:///key"} {
		_, _, err := parseS3Ref(bad)
		assert.Error(t, err, bad)
	}
}

func TestGetJSONMissing(t *testing.T) {
	c := NewWithAPI(newMemS3(), "b", "")
	_, err := c.GetJSON(context.Background(), "s3://b/none.json")
	assert.Error(t, err)
}
