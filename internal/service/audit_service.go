package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
)

// ---- Collaborator contracts -----------------------------------------------

// Auditor is the external repository audit service.
type Auditor interface {
	Scan(ctx context.Context, repoURL string) (models.StackInfo, error)
	ExtractClaims(ctx context.Context, repoURL string) ([]models.Claim, error)
	RunAudit(ctx context.Context, repoURL, projectType string, claims []models.Claim, applicant string) (models.AuditResult, error)
}

// AuditCache stores audit results by (repo_url, commit_sha).
type AuditCache interface {
	Get(ctx context.Context, repoURL, commitSHA string) (*models.AuditResult, error)
	Put(ctx context.Context, repoURL, commitSHA string, result models.AuditResult) error
}

// HeadResolver finds the current default-branch commit of a repository.
type HeadResolver interface {
	HeadCommit(ctx context.Context, repoURL string) (string, error)
}

// ---- Cached auditor --------------------------------------------------------

// CachedAuditor runs audits through the external service, skipping it when
// the same repository commit has already been verified.
type CachedAuditor struct {
	svc    Auditor
	cache  AuditCache
	heads  HeadResolver
	logger *slog.Logger
}

// NewCachedAuditor wires the audit service, its cache and the commit lookup.
func NewCachedAuditor(svc Auditor, cache AuditCache, heads HeadResolver) *CachedAuditor {
	return &CachedAuditor{
		svc:    svc,
		cache:  cache,
		heads:  heads,
		logger: slog.Default().With("component", "audit"),
	}
}

// Audit returns the audit for the repository's current HEAD. When the HEAD
// cannot be resolved the audit still runs, uncached. Cache failures are
// logged and never fail the audit.
func (a *CachedAuditor) Audit(ctx context.Context, repoURL, projectType, applicant string) (models.AuditResult, error) {
	// 1. Resolve HEAD and consult the cache.
	sha, err := a.heads.HeadCommit(ctx, repoURL)
	if err != nil {
		a.logger.Warn("cannot resolve HEAD; auditing without cache", "repo_url", repoURL, "err", err)
		sha = ""
	}
	if sha != "" {
		cached, err := a.cache.Get(ctx, repoURL, sha)
		switch {
		case err != nil:
			a.logger.Warn("audit cache lookup failed", "repo_url", repoURL, "err", err)
		case cached != nil:
			a.logger.Info("audit served from cache", "repo_url", repoURL, "commit", sha)
			return *cached, nil
		}
	}

	// 2. Scan, extract claims and audit.
	stack, err := a.svc.Scan(ctx, repoURL)
	if err != nil {
		return models.AuditResult{}, fmt.Errorf("scan %s: %w", repoURL, err)
	}
	claims, err := a.svc.ExtractClaims(ctx, repoURL)
	if err != nil {
		return models.AuditResult{}, fmt.Errorf("extract claims %s: %w", repoURL, err)
	}
	result, err := a.svc.RunAudit(ctx, repoURL, projectType, claims, applicant)
	if err != nil {
		return models.AuditResult{}, fmt.Errorf("audit %s: %w", repoURL, err)
	}
	if len(result.Stack.Languages) == 0 && len(result.Stack.Frameworks) == 0 {
		result.Stack = stack
	}

	// 3. Store verified results only.
	if sha != "" && result.Status == models.AuditVerified {
		if err := a.cache.Put(ctx, repoURL, sha, result); err != nil {
			a.logger.Warn("audit cache store failed", "repo_url", repoURL, "err", err)
		}
	}
	return result, nil
}
