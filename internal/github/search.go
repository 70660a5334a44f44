package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// GitHub search never returns more than 1000 results per query.
const (
	pageSize        = 100
	maxSearchResult = 1000
)

// DefaultLabel is searched when no label set is given.
const DefaultLabel = "good first issue"

// SearchParams selects open issues. At most one time window applies, by
// precedence CreatedWithinHours > UpdatedWithinHours > UpdatedWithinDays;
// zero values mean unset.
type SearchParams struct {
	Language           string
	Label              string // empty: any label
	MinStars           int
	CreatedWithinHours float64
	UpdatedWithinHours float64
	UpdatedWithinDays  int
	MaxIssues          int
}

// searchQuery renders the search qualifier string. Star counts are a
// repository qualifier the issue search ignores, so they are applied to
// the results instead.
func (p SearchParams) searchQuery(now time.Time) string {
	parts := []string{"is:issue", "is:open", "archived:false"}
	if p.Language != "" {
		parts = append(parts, "language:"+quoteQualifier(p.Language))
	}
	if p.Label != "" {
		parts = append(parts, "label:"+quoteQualifier(p.Label))
	}

	switch {
	case p.CreatedWithinHours > 0:
		parts = append(parts, "created:>="+since(now, hours(p.CreatedWithinHours)))
	case p.UpdatedWithinHours > 0:
		parts = append(parts, "updated:>="+since(now, hours(p.UpdatedWithinHours)))
	case p.UpdatedWithinDays > 0:
		parts = append(parts, "updated:>="+since(now, time.Duration(p.UpdatedWithinDays)*24*time.Hour))
	}
	parts = append(parts, "sort:updated-desc")
	return strings.Join(parts, " ")
}

func hours(h float64) time.Duration { return time.Duration(h * float64(time.Hour)) }

func since(now time.Time, d time.Duration) string {
	return now.Add(-d).UTC().Format(time.RFC3339)
}

func quoteQualifier(v string) string {
	if strings.ContainsAny(v, " \t\"") {
		return `"` + strings.ReplaceAll(v, `"`, "") + `"`
	}
	return v
}

const searchIssuesQuery = `
query($q: String!, $first: Int!, $after: String) {
  rateLimit { limit remaining used resetAt }
  search(query: $q, type: ISSUE, first: $first, after: $after) {
    issueCount
    pageInfo { hasNextPage endCursor }
    nodes {
      ... on Issue {
        number
        title
        body
        url
        createdAt
        updatedAt
        closedAt
        comments { totalCount }
        labels(first: 20) { nodes { name } }
        repository {
          nameWithOwner
          name
          owner { login }
          stargazerCount
          primaryLanguage { name }
          languages(first: 5, orderBy: {field: SIZE, direction: DESC}) { nodes { name } }
        }
      }
    }
  }
}`

type nameNode struct {
	Name string `json:"name"`
}

type issueNode struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ClosedAt  time.Time `json:"closedAt"`
	Comments  struct {
		TotalCount int `json:"totalCount"`
	} `json:"comments"`
	Labels struct {
		Nodes []nameNode `json:"nodes"`
	} `json:"labels"`
	Repository struct {
		NameWithOwner string `json:"nameWithOwner"`
		Name          string `json:"name"`
		Owner         struct {
			Login string `json:"login"`
		} `json:"owner"`
		StargazerCount  int       `json:"stargazerCount"`
		PrimaryLanguage *nameNode `json:"primaryLanguage"`
		Languages       struct {
			Nodes []nameNode `json:"nodes"`
		} `json:"languages"`
	} `json:"repository"`
}

type searchPage struct {
	RateLimit rateLimitNode `json:"rateLimit"`
	Search    struct {
		IssueCount int `json:"issueCount"`
		PageInfo   struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []issueNode `json:"nodes"`
	} `json:"search"`
}

// metadata flattens a search node; fallbackLang fills repos GitHub has not
// classified.
func (n issueNode) metadata(fallbackLang string) models.IssueMetadata {
	md := models.IssueMetadata{
		RepoFullName: n.Repository.NameWithOwner,
		RepoOwner:    n.Repository.Owner.Login,
		RepoName:     n.Repository.Name,
		IssueNumber:  n.Number,
		Title:        n.Title,
		Body:         models.Excerpt(n.Body, models.BodyExcerptLen),
		URL:          n.URL,
		Language:     fallbackLang,
		Stars:        n.Repository.StargazerCount,
		Comments:     n.Comments.TotalCount,
		CreatedAt:    n.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    n.UpdatedAt.UTC().Format(time.RFC3339),
		CreatedAtTS:  n.CreatedAt.Unix(),
		UpdatedAtTS:  n.UpdatedAt.Unix(),
	}
	if n.Repository.PrimaryLanguage != nil && n.Repository.PrimaryLanguage.Name != "" {
		md.Language = n.Repository.PrimaryLanguage.Name
	}
	for _, l := range n.Repository.Languages.Nodes {
		md.Languages = append(md.Languages, l.Name)
	}
	for _, l := range n.Labels.Nodes {
		md.Labels = append(md.Labels, l.Name)
	}
	return md
}

// SearchIssues pages through open issues matching p until MaxIssues pass
// the star filter or the results run out. On RateLimitError the issues
// already collected are returned alongside the error.
func (c *Client) SearchIssues(ctx context.Context, p SearchParams) ([]models.IssueMetadata, error) {
	q := p.searchQuery(time.Now())
	c.logger.Debug("searching issues", "query", q, "max", p.MaxIssues)

	var (
		out     []models.IssueMetadata
		cursor  *string
		scanned int
	)
	for p.MaxIssues <= 0 || len(out) < p.MaxIssues {
		page, err := c.searchPage(ctx, q, cursor)
		if err != nil {
			return out, err
		}
		for _, n := range page.Search.Nodes {
			scanned++
			if n.Number == 0 || n.Repository.StargazerCount < p.MinStars {
				continue
			}
			out = append(out, n.metadata(p.Language))
			if p.MaxIssues > 0 && len(out) == p.MaxIssues {
				break
			}
		}
		if !page.Search.PageInfo.HasNextPage || scanned >= maxSearchResult {
			break
		}
		next := page.Search.PageInfo.EndCursor
		cursor = &next
	}
	c.logger.Info("search complete", "language", p.Language, "label", p.Label, "found", len(out), "scanned", scanned)
	return out, nil
}

// ClosedParams selects recently closed issues. Language and Label narrow
// the search the same way SearchParams does; empty means no qualifier.
type ClosedParams struct {
	Language string
	Label    string
	Hours    float64
}

func (p ClosedParams) searchQuery(now time.Time) string {
	parts := []string{"is:issue", "is:closed"}
	if p.Language != "" {
		parts = append(parts, "language:"+quoteQualifier(p.Language))
	}
	if p.Label != "" {
		parts = append(parts, "label:"+quoteQualifier(p.Label))
	}
	parts = append(parts, "closed:>="+since(now, hours(p.Hours)), "sort:updated-desc")
	return strings.Join(parts, " ")
}

// SearchClosedIssues lists issues closed within the trailing window. A
// window holding more than the search cap is logged as truncated.
func (c *Client) SearchClosedIssues(ctx context.Context, p ClosedParams) ([]models.ClosedIssue, error) {
	q := p.searchQuery(time.Now())
	c.logger.Debug("searching closed issues", "query", q)

	var (
		out    []models.ClosedIssue
		cursor *string
		total  int
	)
	for len(out) < maxSearchResult {
		page, err := c.searchPage(ctx, q, cursor)
		if err != nil {
			return out, err
		}
		total = page.Search.IssueCount
		for _, n := range page.Search.Nodes {
			if n.Number == 0 {
				continue
			}
			out = append(out, models.ClosedIssue{
				ID:           models.IssueID(n.Repository.NameWithOwner, n.Number),
				RepoFullName: n.Repository.NameWithOwner,
				IssueNumber:  n.Number,
				ClosedAt:     n.ClosedAt.UTC().Format(time.RFC3339),
			})
		}
		if !page.Search.PageInfo.HasNextPage {
			break
		}
		next := page.Search.PageInfo.EndCursor
		cursor = &next
	}
	if total > len(out) {
		c.logger.Warn("closed issue search truncated; narrow the window or run reconcile",
			"language", p.Language, "label", p.Label, "hours", p.Hours,
			"matched", total, "fetched", len(out))
	}
	c.logger.Info("closed issue search complete",
		"language", p.Language, "label", p.Label, "hours", p.Hours, "found", len(out))
	return out, nil
}

func (c *Client) searchPage(ctx context.Context, q string, cursor *string) (*searchPage, error) {
	vars := map[string]any{"q": q, "first": pageSize}
	if cursor != nil {
		vars["after"] = *cursor
	}
	resp, err := c.query(ctx, searchIssuesQuery, vars)
	if err != nil {
		return nil, err
	}
	var page searchPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return nil, fmt.Errorf("github: decode search page: %w", err)
	}
	c.logger.Debug("search page", "nodes", len(page.Search.Nodes), "remaining", page.RateLimit.Remaining)
	return &page, nil
}
