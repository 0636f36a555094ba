package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trading-engine/pkg/db"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "NO_METRICS", "metrics not enabled")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) postShutdown(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "api request"
	}
	if s.shutdown != nil {
		s.shutdown(req.Reason)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "draining"})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Engine.Positions()})
}

func (s *Server) getOpenOrders(c *gin.Context) {
	orders := s.Engine.OpenOrders()
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, gin.H{
			"correlation_id":    o.CorrelationID,
			"exchange_order_id": o.ExchangeOrderID,
			"strategy_id":       o.StrategyID,
			"symbol":            o.Symbol,
			"side":              o.Side,
			"qty":               o.Qty,
			"filled":            o.Filled,
			"remaining":         o.Remaining,
			"avg_fill_price":    o.AvgFillPrice,
			"fees":              o.Fees,
			"price":             o.Price,
			"state":             o.State.String(),
			"created_at":        o.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getArchivedOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit > 500 {
		limit = 500
	}
	orders, err := s.Queries.ListArchivedOrders(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getArchivedOrder(c *gin.Context) {
	o, err := s.Queries.GetArchivedOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "order not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) getAnomalies(c *gin.Context) {
	anomalies, total := s.Engine.Anomalies()
	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"anomalies": anomalies,
	})
}

func (s *Server) getSnapshot(c *gin.Context) {
	snap := s.Engine.LedgerSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"taken_at":     snap.TakenAt,
		"exposure":     snap.Exposure,
		"reservations": snap.Reservations,
		"positions":    snap.Positions,
	})
}
