package telephony

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"callmerge/internal/events"
	"callmerge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes caps a single webhook delivery.
const DefaultMaxBodyBytes = 64 << 10

// WebhookHandler turns platform webhooks into appended CallEvents.
//
// No merging happens here: events are stored as received and the merge
// pass folds them later.
type WebhookHandler struct {
	Events events.Store

	// Observe, when set, is told the result of every delivery
	// ("accepted", "rejected" or "failed").
	Observe func(result string)

	MaxBodyBytes int64
}

func (h WebhookHandler) HandleCallEvent(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event store not configured"})
		return
	}
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		h.observe("rejected")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if int64(len(body)) > limit {
		h.observe("rejected")
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	var p WebhookPayload
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		p, err = ParseWebhookForm(body)
	} else {
		p, err = ParseWebhookJSON(body)
	}
	switch {
	case errors.Is(err, ErrMalformedBody):
		h.observe("rejected")
		log.Warn("call webhook decode failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	case errors.Is(err, ErrInvalidPayload):
		h.observe("rejected")
		log.Warn("call webhook rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.observe("rejected")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	id, err := h.Events.Append(c.Request.Context(), p.ToCallEvent(body))
	if err != nil {
		h.observe("failed")
		log.Error("append call event failed", "call_id", p.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store failed"})
		return
	}
	h.observe("accepted")
	log.Debug("call event stored", "event_id", id, "call_id", p.CallID, "status", p.Status)
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h WebhookHandler) observe(result string) {
	if h.Observe != nil {
		h.Observe(result)
	}
}
