package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	reportingdomain "github.com/lumachat/ledger/internal/reporting/domain"
	usagedomain "github.com/lumachat/ledger/internal/usage/domain"
	"github.com/lumachat/ledger/pkg/db/pagination"
	"go.uber.org/zap"
)

func (s *Server) UsageStats(c *gin.Context) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page", "invalid_page", "invalid pagination"))
		return
	}

	filter := reportingdomain.StatsFilter{
		Search:   c.Query("search"),
		Action:   usagedomain.Action(c.Query("action")),
		Status:   usagedomain.Status(c.Query("status")),
		FromDate: c.Query("from_date"),
		ToDate:   c.Query("to_date"),
	}

	stats, err := s.reportingsvc.UsageStats(c.Request.Context(), filter, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	var page pagination.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("page", "invalid_page", "invalid pagination"))
		return
	}

	filter, err := s.eventFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.reportingsvc.ListEvents(c.Request.Context(), filter, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}

// ExportUsageEvents streams the filtered ledger as CSV for offline analysis.
func (s *Server) ExportUsageEvents(c *gin.Context) {
	filter, err := s.eventFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.reportingsvc.ExportEvents(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("usage_events_%s.csv", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	header := []string{
		"id", "user_id", "username", "email", "action", "status",
		"request_id", "amount", "error_code", "source", "occurred_at",
	}
	if err := w.Write(header); err != nil {
		s.log.Warn("csv export aborted", zap.Error(err))
		return
	}
	for _, row := range rows {
		record := []string{
			row.ID.String(),
			strconv.FormatInt(row.UserID, 10),
			row.Username,
			row.Email,
			string(row.Action),
			string(row.Status),
			row.RequestID,
			strconv.FormatInt(row.Amount, 10),
			row.ErrorCode,
			row.Source,
			row.OccurredAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			s.log.Warn("csv export aborted", zap.Error(err))
			return
		}
	}
	w.Flush()
}

func (s *Server) RunReconcile(c *gin.Context) {
	userID, err := parseOptionalInt64(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.reconcilesvc.Reconcile(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) eventFilterFromQuery(c *gin.Context) (reportingdomain.EventFilter, error) {
	var filter reportingdomain.EventFilter

	userID, err := parseOptionalInt64(c, "user_id")
	if err != nil {
		return filter, err
	}
	from, err := parseOptionalTime(c, "from", false)
	if err != nil {
		return filter, err
	}
	to, err := parseOptionalTime(c, "to", true)
	if err != nil {
		return filter, err
	}

	filter.UserID = userID
	filter.Action = usagedomain.Action(c.Query("action"))
	filter.Status = usagedomain.Status(c.Query("status"))
	filter.From = from
	filter.To = to
	return filter, nil
}
