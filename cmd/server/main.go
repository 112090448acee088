package main

import (
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	config "sales-insights-api/configs"
	"sales-insights-api/pkg/cache"
	"sales-insights-api/pkg/handlers"
	"sales-insights-api/pkg/services"
	"sales-insights-api/pkg/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warnf(".env file not found or could not be loaded: %v", err)
	}

	cfg := config.LoadConfig()
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var st store.Store
	if cfg.MySQLDSN != "" {
		mysqlStore, err := store.NewMySQLStore(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("failed to connect to MySQL: %v", err)
		}
		st = mysqlStore
		log.Info("using MySQL proposal store")
	} else {
		st = store.NewMemoryStore()
		log.Warn("MYSQL_DSN not set; using the in-memory store")
	}

	resultCache := cache.NewMemoryCache()
	resultCache.StartSweeper(time.Duration(cfg.CacheSweepIntervalSeconds) * time.Second)
	defer resultCache.StopSweeper()

	history := services.NewHistoryService(st)
	scores := services.NewScoreService(history)
	forecasts := services.NewForecastService(st)
	anomalies := services.NewAnomalyService(st)
	recommendations := services.NewRecommendationService(st)
	dashboards := services.NewDashboardService(
		st, history, scores, forecasts, anomalies,
		resultCache, time.Duration(cfg.DashboardCacheTTLSeconds)*time.Second,
	)
	reports := services.NewReportService()

	handler := handlers.NewAIHandler(scores, forecasts, anomalies, recommendations, dashboards, reports)

	r := gin.Default()
	r.Use(cors.Default())
	handlers.RegisterRoutes(r, cfg.APIKey, handler)

	log.Infof("sales-insights-api listening on :%s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
