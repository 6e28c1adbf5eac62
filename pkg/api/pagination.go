package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// PageRequest represents pagination request parameters
type PageRequest struct {
	Page  int64 `form:"page" json:"page"`
	Limit int64 `form:"limit" json:"limit"`
}

// Normalize clamps page and limit to sane bounds
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Offset returns the number of items before the page
func (p PageRequest) Offset() int64 {
	return (p.Page - 1) * p.Limit
}

// PageResponse represents a paginated response
type PageResponse[T any] struct {
	Data  []T   `json:"data"`
	Total int64 `json:"total"`
	Page  int64 `json:"page"`
	Pages int64 `json:"pages"`
}

// TotalPages returns the number of pages needed for total items
func TotalPages(total, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// NewPageResponse creates a new paginated response
func NewPageResponse[T any](data []T, page, limit, total int64) PageResponse[T] {
	if data == nil {
		data = []T{}
	}
	return PageResponse[T]{
		Data:  data,
		Total: total,
		Page:  page,
		Pages: TotalPages(total, limit),
	}
}

// ParsePagination parses page and limit query parameters, clamping them to sane bounds
func ParsePagination(c *gin.Context) PageRequest {
	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)), 10, 64)
	return PageRequest{Page: page, Limit: limit}.Normalize()
}
