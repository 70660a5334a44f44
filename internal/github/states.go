package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// stateBatchSize is how many issues one aliased query looks up.
const stateBatchSize = 25

type stateTarget struct {
	id     string
	owner  string
	repo   string
	number int
}

// BatchCheckIssueStates resolves the live state of each id. Lookups are
// grouped into aliased queries; a failed lookup marks only its ids as
// StateError. On RateLimitError the states resolved so far are returned
// with every unresolved id marked StateError.
func (c *Client) BatchCheckIssueStates(ctx context.Context, ids []string) (map[string]models.IssueState, error) {
	out := make(map[string]models.IssueState, len(ids))

	var targets []stateTarget
	for _, id := range ids {
		owner, repo, number, err := models.ParseIssueID(id)
		if err != nil {
			c.logger.Warn("skipping malformed issue id", "id", id, "err", err)
			out[id] = models.StateError
			continue
		}
		targets = append(targets, stateTarget{id: id, owner: owner, repo: repo, number: number})
	}

	for start := 0; start < len(targets); start += stateBatchSize {
		batch := targets[start:min(start+stateBatchSize, len(targets))]
		states, err := c.checkStates(ctx, batch)
		if apperrors.IsRateLimit(err) {
			for _, t := range targets[start:] {
				out[t.id] = models.StateError
			}
			return out, err
		}
		if err != nil {
			c.logger.Error("state lookup failed", "ids", len(batch), "err", err)
			for _, t := range batch {
				out[t.id] = models.StateError
			}
			continue
		}
		for id, s := range states {
			out[id] = s
		}
	}
	return out, nil
}

func (c *Client) checkStates(ctx context.Context, batch []stateTarget) (map[string]models.IssueState, error) {
	var (
		decls  []string
		fields []string
		vars   = make(map[string]any, len(batch)*3)
	)
	for i, t := range batch {
		decls = append(decls, fmt.Sprintf("$o%d: String!, $r%d: String!, $n%d: Int!", i, i, i))
		fields = append(fields, fmt.Sprintf("i%d: repository(owner: $o%d, name: $r%d) { issue(number: $n%d) { state } }", i, i, i, i))
		vars[fmt.Sprintf("o%d", i)] = t.owner
		vars[fmt.Sprintf("r%d", i)] = t.repo
		vars[fmt.Sprintf("n%d", i)] = t.number
	}
	q := fmt.Sprintf("query(%s) {\n  %s\n}", strings.Join(decls, ", "), strings.Join(fields, "\n  "))

	resp, err := c.query(ctx, q, vars)
	if err != nil {
		// A single missing repository fails the whole request on some
		// endpoints; those come back as NOT_FOUND errors without data.
		var ge errorsError
		if !errors.As(err, &ge) {
			return nil, err
		}
		resp = &gqlResponse{Errors: ge}
	}

	var data map[string]*struct {
		Issue *struct {
			State string `json:"state"`
		} `json:"issue"`
	}
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("github: decode states: %w", err)
		}
	}

	failed := make(map[string]string)
	for _, e := range resp.Errors {
		failed[e.alias()] = e.Type
	}

	out := make(map[string]models.IssueState, len(batch))
	for i, t := range batch {
		alias := fmt.Sprintf("i%d", i)
		if errType, ok := failed[alias]; ok {
			if errType == "NOT_FOUND" {
				out[t.id] = models.StateNotFound
			} else {
				out[t.id] = models.StateError
			}
			continue
		}
		repo, ok := data[alias]
		switch {
		case !ok:
			out[t.id] = models.StateError
		case repo == nil || repo.Issue == nil:
			out[t.id] = models.StateNotFound
		case repo.Issue.State == "OPEN":
			out[t.id] = models.StateOpen
		case repo.Issue.State == "CLOSED":
			out[t.id] = models.StateClosed
		default:
			out[t.id] = models.StateError
		}
	}
	return out, nil
}
