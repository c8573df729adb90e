package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callmerge/internal/audit"
	"callmerge/internal/auth"
	"callmerge/internal/calls"
	"callmerge/internal/merge"
	"callmerge/internal/reporting"
	"callmerge/internal/telephony"
	"callmerge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Merger is the subset of *merge.Orchestrator the admin API drives.
type Merger interface {
	RunOnce(ctx context.Context) (merge.Summary, error)
	RunForCallID(ctx context.Context, callID string) (merge.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Merger  Merger
	Records calls.Store
	Reports *reporting.Service
	Audit   *audit.Service

	// PassTimeout bounds every admin-triggered pass (default 2m).
	PassTimeout time.Duration

	// DefaultReportWindow applies when a summary request omits from.
	DefaultReportWindow time.Duration
}

const defaultPassTimeout = 2 * time.Minute

// passContext derives the deadline-bound context a triggered pass runs under.
func (h Handlers) passContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.PassTimeout
	if timeout <= 0 {
		timeout = defaultPassTimeout
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

// --- Merge ---

// RunMerge triggers one merge pass. RBAC: operator.
func (h Handlers) RunMerge(c *gin.Context) {
	if h.Merger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "merger not configured"})
		return
	}
	log := logger.FromGin(c)

	ctx, cancel := h.passContext(c)
	defer cancel()
	sum, err := h.Merger.RunOnce(ctx)
	if errors.Is(err, merge.ErrPassInProgress) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "merge pass already in progress"})
		return
	}
	if err != nil {
		log.Error("merge pass failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "merge pass failed", "summary": sum})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogMergeRun(c.Request.Context(), actor(c), sum); err != nil {
			log.Warn("audit merge run failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, sum)
}

// ReprocessCall recomputes one call's record. RBAC: operator.
func (h Handlers) ReprocessCall(c *gin.Context) {
	if h.Merger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "merger not configured"})
		return
	}
	log := logger.FromGin(c)

	callID := strings.TrimSpace(c.Param("call_id"))
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}

	ctx, cancel := h.passContext(c)
	defer cancel()
	res, err := h.Merger.RunForCallID(ctx, callID)
	switch {
	case errors.Is(err, merge.ErrNoEvents):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no events for call"})
		return
	case errors.Is(err, merge.ErrPassInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "merge pass already in progress"})
		return
	case err != nil:
		log.Error("reprocess call failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reprocess failed"})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogCallReprocess(c.Request.Context(), actor(c), callID, res); err != nil {
			log.Warn("audit reprocess failed", "call_id", callID, "err", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// --- Call records ---

func (h Handlers) GetCall(c *gin.Context) {
	if h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "records not configured"})
		return
	}
	callID := strings.TrimSpace(c.Param("call_id"))
	rec, err := h.Records.FindByCallID(c.Request.Context(), callID)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("find call failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListCalls returns records newest first. Query: status, from, to, limit.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "records not configured"})
		return
	}

	var f calls.ListFilter
	if s := c.Query("status"); s != "" {
		st, ok := calls.ParseFinalStatus(s)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		f.FinalStatus = st
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		f.Limit = n
	}

	recs, err := h.Records.List(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs, "limit": f.EffectiveLimit()})
}

// --- Reports ---

// CallsSummary aggregates records in [from, to). to defaults to now and from
// to to minus DefaultReportWindow (24h).
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	from, err := queryTime(c, "from")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		window := h.DefaultReportWindow
		if window <= 0 {
			window = 24 * time.Hour
		}
		from = to.Add(-window)
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.TimeRange{From: from, To: to})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// queryTime accepts the same timestamp forms as the webhook receiver.
func queryTime(c *gin.Context, key string) (time.Time, error) {
	return telephony.ParseTimestamp(c.Query(key))
}

func actor(c *gin.Context) audit.Actor {
	sub, _ := auth.Subject(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{Subject: sub, Role: role, IP: c.ClientIP()}
}
