package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/app"
)

// NewRouter assembles the gin engine: CORS, request ids, access logging,
// the API route groups, the websocket feed and the operational endpoints.
func NewRouter(quiz *app.QuizService, tournament *app.TournamentService, settings app.Settings, registry *prometheus.Registry, log *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(log))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-Addr", "X-Request-Id")
	router.Use(cors.New(corsCfg))

	h := NewHandler(quiz, tournament, settings, log)
	ws := NewWSHandler(quiz, log)

	api := router.Group("/api")
	api.Use(AuthMiddleware())
	{
		session := api.Group("/session")
		{
			session.POST("/start", h.StartSession)
			session.POST("/answer", h.SubmitAnswers)
			session.POST("/finish", h.FinishSession)
			session.GET("/:id/status", h.SessionStatus)
		}
		api.GET("/settlement/status", h.SettlementStatus)

		tour := api.Group("/tournament")
		{
			tour.POST("/session/start", h.StartTournamentSession)
			tour.POST("/session/finish", h.FinishTournamentSession)
			tour.GET("/:id/plays", h.DailyPlays)
		}

		quizGroup := api.Group("/quiz")
		{
			quizGroup.GET("/settings", h.QuizSettings)
			quizGroup.GET("/stats", h.QuizStats)
		}
	}

	router.GET("/ws/session", gin.WrapF(ws.ServeWS))

	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
