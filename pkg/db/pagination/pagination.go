package pagination

import "gorm.io/gorm"

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

// Page is an offset-style page request. Reporting views paginate by page
// number with a total count rather than by cursor, so stable ordering is the
// caller's responsibility.
type Page struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=50"`
}

// Normalize clamps the request to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the row offset for the normalized page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

// Apply adds LIMIT/OFFSET for the page to a gorm statement.
func (p Page) Apply(stmt *gorm.DB) *gorm.DB {
	p = p.Normalize()
	return stmt.Offset(p.Offset()).Limit(p.PageSize)
}

// PageInfo describes the page actually returned.
type PageInfo struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Info builds the PageInfo for a normalized request and total row count.
func (p Page) Info(total int64) PageInfo {
	p = p.Normalize()
	return PageInfo{Page: p.Page, PageSize: p.PageSize, Total: total}
}
