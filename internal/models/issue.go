package models

import (
	"fmt"
	"strconv"
	"strings"
)

// StatsID is the reserved id of the ingestion stats sentinel record.
const StatsID = "__ingestion_stats__"

// IssueMetadata is the denormalized, filterable payload stored next to each
// issue vector. Timestamps are duplicated as epoch seconds (the *_ts fields)
// so the index can range-filter on them.
type IssueMetadata struct {
	RepoFullName string   `bson:"repo_full_name" json:"repo_full_name"` // e.g. "facebook/react"
	RepoOwner    string   `bson:"repo_owner"     json:"repo_owner"`
	RepoName     string   `bson:"repo_name"      json:"repo_name"`
	IssueNumber  int      `bson:"issue_number"   json:"issue_number"`
	Title        string   `bson:"title"          json:"title"`
	Body         string   `bson:"body"           json:"body"` // excerpt, see BodyExcerptLen
	URL          string   `bson:"url"            json:"url"`
	Language     string   `bson:"language"       json:"language"` // primary repo language
	Languages    []string `bson:"languages"      json:"languages"`
	Labels       []string `bson:"labels"         json:"labels"`
	Stars        int      `bson:"stars"          json:"stars"`
	Comments     int      `bson:"comments"       json:"comments"`
	CreatedAt    string   `bson:"created_at"     json:"created_at"` // RFC3339
	UpdatedAt    string   `bson:"updated_at"     json:"updated_at"`
	CreatedAtTS  int64    `bson:"created_at_ts"  json:"created_at_ts"`
	UpdatedAtTS  int64    `bson:"updated_at_ts"  json:"updated_at_ts"`
	IngestedAt   int64    `bson:"ingested_at"    json:"ingested_at"`
}

// BodyExcerptLen caps how much of an issue body is stored and embedded.
const BodyExcerptLen = 1000

// Excerpt truncates s to at most n runes.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Issue is the indexed unit: a deterministic id, its embedding and metadata.
type Issue struct {
	ID        string        `bson:"_id"       json:"id"` // "owner/repo#123"
	Embedding []float32     `bson:"embedding" json:"-"`
	Metadata  IssueMetadata `bson:"metadata"  json:"metadata"`
}

// IssueID builds the stable index key for an issue: "owner/repo#number".
// Re-ingesting the same issue always yields the same key.
func IssueID(repoFullName string, number int) string {
	return repoFullName + "#" + strconv.Itoa(number)
}

// ParseIssueID converts "owner/repo#123" -> ("owner", "repo", 123).
func ParseIssueID(id string) (owner, repo string, number int, err error) {
	hash := strings.LastIndexByte(id, '#')
	if hash <= 0 || hash == len(id)-1 {
		return "", "", 0, fmt.Errorf("malformed issue id %q", id)
	}
	number, err = strconv.Atoi(id[hash+1:])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("malformed issue number in %q", id)
	}
	owner, repo, ok := strings.Cut(id[:hash], "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", 0, fmt.Errorf("malformed repository in %q", id)
	}
	return owner, repo, number, nil
}

// IssueState is the live state of an indexed issue at the source.
type IssueState int

const (
	StateError IssueState = iota // lookup failed; keep the record
	StateOpen
	StateClosed
	StateNotFound
)

func (s IssueState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateNotFound:
		return "NOT_FOUND"
	default:
		return "ERROR"
	}
}

// Removable reports whether a record in this state should leave the index.
func (s IssueState) Removable() bool {
	return s == StateClosed || s == StateNotFound
}

// ClosedIssue is a recently closed issue reported by the source.
type ClosedIssue struct {
	ID           string `json:"id"`
	RepoFullName string `json:"repo_full_name"`
	IssueNumber  int    `json:"issue_number"`
	ClosedAt     string `json:"closed_at"`
}

// IngestionStats is stored in the sentinel record.
type IngestionStats struct {
	LastRunAt           int64 `json:"last_run_at"`
	TotalIssuesIngested int   `json:"total_issues_ingested"`
}

// RateLimitStatus mirrors the source's quota report.
type RateLimitStatus struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Used      int    `json:"used"`
	ResetAt   string `json:"reset_at"`
}

func (r RateLimitStatus) String() string {
	return fmt.Sprintf("%d/%d remaining (resets %s)", r.Remaining, r.Limit, r.ResetAt)
}
