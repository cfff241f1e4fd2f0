package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/paymail/internal/ledger/domain"
	"go.uber.org/zap"
)

func (s *Server) GetStats(c *gin.Context) {
	summary, err := s.stats.Summarize(c.Request.Context())
	if err != nil {
		s.log.Warn("summarize failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type recordView struct {
	ID                  string  `json:"id"`
	Reference           string  `json:"reference"`
	Amount              string  `json:"amount"`
	DeliveryStatus      string  `json:"delivery_status"`
	Attempts            int     `json:"attempts"`
	ObservedAt          string  `json:"observed_at"`
	DeliveryCompletedAt *string `json:"delivery_completed_at,omitempty"`
}

// ListRecords returns ledger records without payer identities or excerpts.
func (s *Server) ListRecords(c *gin.Context) {
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	switch ledgerdomain.DeliveryStatus(status) {
	case "", ledgerdomain.DeliveryStatusPending, ledgerdomain.DeliveryStatusDelivered, ledgerdomain.DeliveryStatusFailed:
	default:
		AbortWithError(c, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status))
		return
	}

	records, err := s.store.All(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]recordView, 0, len(records))
	for _, r := range records {
		if status != "" && string(r.DeliveryStatus) != status {
			continue
		}
		view := recordView{
			ID:             r.ID.String(),
			Reference:      r.Reference,
			Amount:         r.Amount,
			DeliveryStatus: string(r.DeliveryStatus),
			Attempts:       r.Attempts,
			ObservedAt:     r.ObservedAt.UTC().Format(time.RFC3339),
		}
		if r.DeliveryCompletedAt != nil {
			done := r.DeliveryCompletedAt.UTC().Format(time.RFC3339)
			view.DeliveryCompletedAt = &done
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}
