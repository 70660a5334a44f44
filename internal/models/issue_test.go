package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueIDRoundTrip(t *testing.T) {
	id := IssueID("acme/widget", 42)
	assert.Equal(t, "acme/widget#42", id)
	assert.Equal(t, id, IssueID("acme/widget", 42))

	owner, repo, n, err := ParseIssueID(id)
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widget", repo)
	assert.Equal(t, 42, n)
}

func TestParseIssueIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "acme/widget", "acme/widget#", "#12", "widget#12", "acme/widget#abc", "a/b/c#1", "acme/widget#0", StatsID} {
		_, _, _, err := ParseIssueID(id)
		assert.Error(t, err, id)
	}
}

func TestIssueStateRemovable(t *testing.T) {
	assert.True(t, StateClosed.Removable())
	assert.True(t, StateNotFound.Removable())
	assert.False(t, StateOpen.Removable())
	assert.False(t, StateError.Removable())
	assert.Equal(t, "NOT_FOUND", StateNotFound.String())
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "héll", Excerpt("héllo", 4))
	assert.Equal(t, "hi", Excerpt("hi", 10))
	assert.Equal(t, "", Excerpt("hi", 0))
}
