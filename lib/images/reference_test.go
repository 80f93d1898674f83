package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalizedRef(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		familiar string
		wantErr  bool
	}{
		{"docker.io/library/alpine:latest", "docker.io/library/alpine:latest", "alpine:latest", false},
		{"kedeai/agent_app:v1", "docker.io/kedeai/agent_app:v1", "kedeai/agent_app:v1", false},
		{"127.0.0.1:5000/kedeai/agent_app:v1", "127.0.0.1:5000/kedeai/agent_app:v1", "127.0.0.1:5000/kedeai/agent_app:v1", false},

		// Without tag (gets :latest added)
		{"alpine", "docker.io/library/alpine:latest", "alpine:latest", false},

		{"alpine@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			"docker.io/library/alpine@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			"alpine@sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", false},

		// Invalid
		{"", "", "", true},
		{"invalid::", "", "", true},
		{"has spaces", "", "", true},
		{"UPPERCASE", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseNormalizedRef(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.String())
			assert.Equal(t, tt.familiar, result.Familiar())
		})
	}
}

func TestNormalizedRefMethods(t *testing.T) {
	ref, err := ParseNormalizedRef("127.0.0.1:5000/kedeai/app:v2")
	require.NoError(t, err)
	assert.False(t, ref.IsDigest())
	assert.Equal(t, "127.0.0.1:5000", ref.Domain())
	assert.Equal(t, "127.0.0.1:5000/kedeai/app", ref.Repository())
	assert.Equal(t, "v2", ref.Tag())
	assert.Empty(t, ref.Digest())

	ref, err = ParseNormalizedRef("alpine@sha256:fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	assert.True(t, ref.IsDigest())
	assert.Empty(t, ref.Tag())
	assert.Equal(t, "sha256:fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210", ref.Digest())
}

func TestImageTag(t *testing.T) {
	tests := []struct {
		namespace, user, app, variant string
		want                          string
		wantErr                       bool
	}{
		{"", "u1", "MyApp", "V1", "agentaai/u1_myapp_v1:latest", false},
		{"kedeai", "alice", "chat", "default", "kedeai/alice_chat_default:latest", false},
		{"", "", "chat", "v1", "agentaai/chat_v1:latest", false},
		{"", "auth0|Bob@Example.com", "chat", "v1", "agentaai/auth0-bob-example-com_chat_v1:latest", false},
		{"", "--", "chat", "v1", "agentaai/chat_v1:latest", false},
		{"", "u1", "", "v1", "", true},
		{"", "u1", "my app", "v1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.user+"/"+tt.app+"/"+tt.variant, func(t *testing.T) {
			got, err := ImageTag(tt.namespace, tt.user, tt.app, tt.variant)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImageTag_DistinctPerUser(t *testing.T) {
	alice, err := ImageTag("", "alice", "chat", "v1")
	require.NoError(t, err)
	bob, err := ImageTag("", "bob", "chat", "v1")
	require.NoError(t, err)
	assert.NotEqual(t, alice, bob)
}

func TestPullRef(t *testing.T) {
	tests := []struct {
		name string
		req  PullRequest
		want string
	}{
		{"hub", PullRequest{Repository: "kedeai/agent_app", Tag: "v1"}, "kedeai/agent_app:v1"},
		{"private registry", PullRequest{Repository: "kedeai/agent_app", Tag: "v1", Registry: "127.0.0.1:5000"}, "127.0.0.1:5000/kedeai/agent_app:v1"},
		{"repo already has host", PullRequest{Repository: "ghcr.io/kedeai/app", Tag: "v1", Registry: "127.0.0.1:5000"}, "ghcr.io/kedeai/app:v1"},
		{"no tag", PullRequest{Repository: "kedeai/app"}, "kedeai/app:latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := PullRef(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref.Familiar())
		})
	}

	_, err := PullRef(PullRequest{})
	require.ErrorIs(t, err, ErrInvalidName)
}
