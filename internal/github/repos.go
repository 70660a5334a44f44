package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
)

var repoURLPattern = regexp.MustCompile(`github\.com[/:]([^/\s]+)/([^/\s#?]+)`)

// ParseRepoURL extracts owner and name from a GitHub repository URL.
func ParseRepoURL(repoURL string) (owner, name string, err error) {
	m := repoURLPattern.FindStringSubmatch(repoURL)
	if m == nil {
		return "", "", fmt.Errorf("not a github repository url: %q", repoURL)
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), nil
}

const headCommitQuery = `
query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    defaultBranchRef { target { oid } }
  }
}`

// HeadCommit returns the commit SHA at the tip of the repository's default
// branch. A missing repository or empty default branch is a NotFoundError.
func (c *Client) HeadCommit(ctx context.Context, repoURL string) (string, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	resp, err := c.query(ctx, headCommitQuery, map[string]any{"owner": owner, "name": name})
	if err != nil {
		var errs errorsError
		if errors.As(err, &errs) && len(errs) > 0 && errs[0].Type == "NOT_FOUND" {
			return "", &apperrors.NotFoundError{What: "repository " + owner + "/" + name}
		}
		return "", err
	}

	var data struct {
		Repository *struct {
			DefaultBranchRef *struct {
				Target struct {
					OID string `json:"oid"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", err
	}
	if data.Repository == nil || data.Repository.DefaultBranchRef == nil || data.Repository.DefaultBranchRef.Target.OID == "" {
		return "", &apperrors.NotFoundError{What: "default branch of " + owner + "/" + name}
	}
	return data.Repository.DefaultBranchRef.Target.OID, nil
}
