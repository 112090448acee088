package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sales-insights-api/pkg/models"
	"sales-insights-api/pkg/services"
)

// AIHandler exposes the analytics engines over HTTP.
type AIHandler struct {
	scores          *services.ScoreService
	forecasts       *services.ForecastService
	anomalies       *services.AnomalyService
	recommendations *services.RecommendationService
	dashboards      *services.DashboardService
	reports         *services.ReportService
}

// NewAIHandler creates an AIHandler over the given services.
func NewAIHandler(scores *services.ScoreService, forecasts *services.ForecastService, anomalies *services.AnomalyService, recommendations *services.RecommendationService, dashboards *services.DashboardService, reports *services.ReportService) *AIHandler {
	return &AIHandler{
		scores:          scores,
		forecasts:       forecasts,
		anomalies:       anomalies,
		recommendations: recommendations,
		dashboards:      dashboards,
		reports:         reports,
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// APIKeyAuth rejects requests whose X-API-KEY header does not match apiKey.
// An empty apiKey disables the check.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// RegisterRoutes mounts the health endpoint and the /api/v1/ai group.
func RegisterRoutes(r *gin.Engine, apiKey string, h *AIHandler) {
	r.GET("/health", HealthCheck)

	v1 := r.Group("/api/v1")
	v1.Use(APIKeyAuth(apiKey))
	{
		ai := v1.Group("/ai")
		{
			ai.GET("/dashboard", h.GetDashboard)
			ai.POST("/dashboard/invalidate", h.InvalidateDashboard)
			ai.GET("/dashboard/export", h.ExportDashboard)
			ai.POST("/score", h.ScoreProposal)
			ai.GET("/forecast", h.GetForecast)
			ai.GET("/anomalies", h.GetAnomalies)
			ai.POST("/recommendations", h.RecommendProducts)
			ai.GET("/recommendations/popular", h.PopularRecommendations)
		}
	}
}

func callerScope(c *gin.Context) (userID, role string) {
	return c.Query("user_id"), c.DefaultQuery("role", "user")
}

// GetDashboard serves the cached analytics dashboard.
func (h *AIHandler) GetDashboard(c *gin.Context) {
	userID, role := callerScope(c)
	dash, err := h.dashboards.GetDashboard(c.Request.Context(), userID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to build dashboard: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    dash,
	})
}

// InvalidateDashboard drops the cached dashboard so the next read recomputes.
func (h *AIHandler) InvalidateDashboard(c *gin.Context) {
	h.dashboards.Invalidate()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "dashboard cache invalidated",
	})
}

// ExportDashboard streams the dashboard as an XLSX workbook.
func (h *AIHandler) ExportDashboard(c *gin.Context) {
	userID, role := callerScope(c)
	dash, err := h.dashboards.GetDashboard(c.Request.Context(), userID, role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to build dashboard: " + err.Error(),
		})
		return
	}

	var buf bytes.Buffer
	if err := h.reports.WriteDashboardXLSX(dash, &buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to render report: " + err.Error(),
		})
		return
	}

	filename := fmt.Sprintf("sales-insights-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ScoreProposal computes the closing-probability score of the posted proposal.
func (h *AIHandler) ScoreProposal(c *gin.Context) {
	var proposal models.Proposal
	if err := c.ShouldBindJSON(&proposal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid proposal payload: " + err.Error(),
		})
		return
	}
	if proposal.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "proposal id is required",
		})
		return
	}

	result := h.scores.ComputeScore(c.Request.Context(), proposal)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetForecast serves the revenue projection. days selects the horizon used
// for the goal comparison (7, 30 or 90; default 30).
func (h *AIHandler) GetForecast(c *gin.Context) {
	days := 30
	if daysStr := c.Query("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil || (parsed != 7 && parsed != 30 && parsed != 90) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "days must be 7, 30 or 90",
			})
			return
		}
		days = parsed
	}

	userID, role := callerScope(c)
	result := h.forecasts.ComputeForecast(c.Request.Context(), userID, role, days)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetAnomalies runs the anomaly detection pass for the caller's scope.
func (h *AIHandler) GetAnomalies(c *gin.Context) {
	userID, role := callerScope(c)
	report := h.anomalies.DetectAnomalies(c.Request.Context(), userID, role)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}

// recommendRequest is the POST /recommendations payload.
type recommendRequest struct {
	Proposal           models.Proposal `json:"proposal"`
	SelectedProductIDs []string        `json:"selected_product_ids"`
	Limit              int             `json:"limit"`
}

// RecommendProducts suggests products for the posted partial proposal.
func (h *AIHandler) RecommendProducts(c *gin.Context) {
	var req recommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request payload: " + err.Error(),
		})
		return
	}

	result := h.recommendations.Recommend(c.Request.Context(), req.Proposal, req.SelectedProductIDs, req.Limit)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// PopularRecommendations serves context-free popular products.
func (h *AIHandler) PopularRecommendations(c *gin.Context) {
	limit := 10
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 50 {
			limit = parsed
		}
	}
	result := h.recommendations.GeneralRecommendations(c.Request.Context(), limit)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
