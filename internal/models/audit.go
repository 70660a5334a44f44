package models

import "time"

// AuditStatus is the verdict of a repository audit.
type AuditStatus string

const (
	AuditVerified AuditStatus = "VERIFIED"
	AuditRejected AuditStatus = "REJECTED"
)

// StackInfo describes the detected technology stack of a repository.
type StackInfo struct {
	Languages  []string `bson:"languages"  json:"languages"`
	Frameworks []string `bson:"frameworks" json:"frameworks"`
}

// Claim is a statement extracted from a repository that an audit verifies.
type Claim struct {
	Text     string `bson:"text"     json:"text"`
	Category string `bson:"category" json:"category"`
}

// AuditResult is what the audit service returns and the cache stores.
type AuditResult struct {
	Status     AuditStatus    `bson:"status"     json:"status"`
	Score      float64        `bson:"score"      json:"score"`
	Tier       string         `bson:"tier"       json:"tier"`
	Report     map[string]any `bson:"report"     json:"report"`
	Stack      StackInfo      `bson:"stack"      json:"stack"`
	Authorship float64        `bson:"authorship" json:"authorship"`
	Cached     bool           `bson:"-"          json:"cached"`
}

// AuditCacheEntry is the persisted shape, keyed by repository and commit.
type AuditCacheEntry struct {
	ID        string      `bson:"_id"        json:"id"` // repo_url + "@" + commit_sha
	RepoURL   string      `bson:"repo_url"   json:"repo_url"`
	CommitSHA string      `bson:"commit_sha" json:"commit_sha"`
	Result    AuditResult `bson:"result"     json:"result"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
}
