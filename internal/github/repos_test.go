package github

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		in          string
		owner, name string
		wantErr     bool
	}{
		{in: "https://github.com/acme/widget", owner: "acme", name: "widget"},
		{in: "https://github.com/acme/widget.git", owner: "acme", name: "widget"},
		{in: "https://github.com/acme/widget/tree/main", owner: "acme", name: "widget"},
		{in: "git@github.com:acme/widget.git", owner: "acme", name: "widget"},
		{in: "https://gitlab.com/acme/widget", wantErr: true},
		{in: "widget", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, name, err := ParseRepoURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestHeadCommit(t *testing.T) {
	const sha = "0123456789abcdef0123456789abcdef01234567"
	c, _ := fakeGraphQL(t, func(req gqlRequest) (int, any) {
		assert.Equal(t, "acme", req.Variables["owner"])
		assert.Equal(t, "widget", req.Variables["name"])
		return http.StatusOK, map[string]any{"data": map[string]any{
			"repository": map[string]any{"defaultBranchRef": map[string]any{"target": map[string]any{"oid": sha}}},
		}}
	})

	got, err := c.HeadCommit(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, sha, got)
}

func TestHeadCommit_NotFound(t *testing.T) {
	t.Run("graphql NOT_FOUND", func(t *testing.T) {
		c, calls := fakeGraphQL(t, func(gqlRequest) (int, any) {
			return http.StatusOK, map[string]any{
				"data":   nil,
				"errors": []map[string]any{{"type": "NOT_FOUND", "message": "Could not resolve to a Repository", "path": []string{"repository"}}},
			}
		})
		_, err := c.HeadCommit(context.Background(), "https://github.com/acme/gone")
		assert.True(t, apperrors.IsNotFound(err), "got %v", err)
		assert.EqualValues(t, 1, *calls)
	})

	t.Run("empty repository", func(t *testing.T) {
		c, _ := fakeGraphQL(t, func(gqlRequest) (int, any) {
			return http.StatusOK, map[string]any{"data": map[string]any{
				"repository": map[string]any{"defaultBranchRef": nil},
			}}
		})
		_, err := c.HeadCommit(context.Background(), "https://github.com/acme/empty")
		assert.True(t, apperrors.IsNotFound(err), "got %v", err)
	})

	t.Run("bad url never calls out", func(t *testing.T) {
		c, calls := fakeGraphQL(t, func(gqlRequest) (int, any) { return http.StatusOK, nil })
		_, err := c.HeadCommit(context.Background(), "not a url")
		assert.Error(t, err)
		assert.Zero(t, *calls)
	})
}
