package handler

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/models"
	"github.com/ahmednasr/firstcommit/indexer/internal/service"
)

// SearchHandler wires HTTP -> SearchService.
type SearchHandler struct {
	svc service.SearchService
}

// NewSearchHandler returns a handler instance.
func NewSearchHandler(svc service.SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// Register mounts the search routes on the /api/search group.
func (h *SearchHandler) Register(r fiber.Router) {
	r.Post("/", h.search)
	r.Get("/recent", h.recent)
	r.Get("/last-updated", h.lastUpdated)
}

// search handles POST /api/search with {"query": "...", "page": 1, "limit": 10}.
func (h *SearchHandler) search(c *fiber.Ctx) error {
	var req models.SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "query is required")
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit < 0 || req.Limit > service.MaxPageSize {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 100")
	}

	results, parsed, err := h.svc.Search(c.UserContext(), req.Query)
	if err != nil {
		return internalError("search", err)
	}
	return c.JSON(service.Paginate(results, parsed, req.Page, req.Limit))
}

// recent handles GET /api/search/recent?limit=20&sort_by=newest&languages=Go,Rust&labels=help+wanted&days_ago=7
func (h *SearchHandler) recent(c *fiber.Ctx) error {
	req := models.RecentRequest{
		Limit:     c.QueryInt("limit", service.DefaultRecentLimit),
		SortBy:    models.SortMode(c.Query("sort_by", string(models.SortNewest))),
		Languages: splitList(c.Query("languages")),
		Labels:    splitList(c.Query("labels")),
		DaysAgo:   c.QueryInt("days_ago", 0),
	}
	if !req.SortBy.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "sort_by must be newest, recently_discussed, relevance or stars")
	}
	if req.Limit <= 0 || req.DaysAgo < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit and days_ago must be positive integers")
	}

	results, err := h.svc.GetRecentIssues(c.UserContext(), req)
	if err != nil {
		return internalError("recent issues", err)
	}
	return c.JSON(fiber.Map{
		"results": results,
		"total":   len(results),
	})
}

// lastUpdated handles GET /api/search/last-updated.
func (h *SearchHandler) lastUpdated(c *fiber.Ctx) error {
	lu, err := h.svc.GetLastUpdated(c.UserContext())
	if err != nil {
		return internalError("last updated", err)
	}
	return c.JSON(lu)
}

// splitList parses a comma-separated query value; blanks are dropped.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// internalError logs err and returns a response that does not expose it.
func internalError(op string, err error) error {
	slog.Error("request failed", "op", op, "err", err)
	return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
}
