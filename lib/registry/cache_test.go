package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	repoCalls     int
	tagCalls      int
	manifestCalls int
	fail          bool
}

func (c *countingClient) Repositories(ctx context.Context) ([]string, error) {
	c.repoCalls++
	if c.fail {
		return nil, errors.New("boom")
	}
	return []string{"myorg/app"}, nil
}

func (c *countingClient) Tags(ctx context.Context, repo string) ([]string, error) {
	c.tagCalls++
	return []string{repo + "-v1"}, nil
}

func (c *countingClient) Manifest(ctx context.Context, repo, tag string) (*ManifestInfo, error) {
	c.manifestCalls++
	return &ManifestInfo{Repository: repo, Tag: tag}, nil
}

func TestCachedClient(t *testing.T) {
	ctx := context.Background()
	next := &countingClient{}
	c := NewCachedClient(next, time.Minute)

	for i := 0; i < 3; i++ {
		repos, err := c.Repositories(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"myorg/app"}, repos)
	}
	assert.Equal(t, 1, next.repoCalls)

	_, err := c.Tags(ctx, "a")
	require.NoError(t, err)
	tags, err := c.Tags(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b-v1"}, tags)
	_, err = c.Tags(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, next.tagCalls)

	_, err = c.Manifest(ctx, "a", "v1")
	require.NoError(t, err)
	_, err = c.Manifest(ctx, "a", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, next.manifestCalls)

	c.Invalidate()
	_, err = c.Repositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, next.repoCalls)
}

func TestCachedClient_Disabled(t *testing.T) {
	next := &countingClient{}
	c := NewCachedClient(next, 0)

	_, _ = c.Repositories(context.Background())
	_, _ = c.Repositories(context.Background())
	assert.Equal(t, 2, next.repoCalls)
}

func TestCachedClient_ErrorsNotCached(t *testing.T) {
	next := &countingClient{fail: true}
	c := NewCachedClient(next, time.Minute)

	_, err := c.Repositories(context.Background())
	require.Error(t, err)

	next.fail = false
	repos, err := c.Repositories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"myorg/app"}, repos)
	assert.Equal(t, 2, next.repoCalls)
}
