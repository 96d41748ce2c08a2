package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

// Handler exposes the quiz and tournament use cases over HTTP. The caller
// identity arrives as a lowercase address set by the auth middleware; all
// payloads are JSON.
type Handler struct {
	quiz       *app.QuizService
	tournament *app.TournamentService
	settings   app.Settings
	log        *logrus.Logger
}

func NewHandler(quiz *app.QuizService, tournament *app.TournamentService, settings app.Settings, log *logrus.Logger) *Handler {
	return &Handler{quiz: quiz, tournament: tournament, settings: settings, log: log}
}

type startRequest struct {
	Count int `json:"count"`
}

type answerRequest struct {
	SessionID int64                     `json:"sessionId"`
	Answers   []domain.AnswerSubmission `json:"answers"`
}

type finishRequest struct {
	SessionID int64 `json:"sessionId"`
}

type tournamentStartRequest struct {
	TournamentID int64 `json:"tournamentId"`
	Count        int   `json:"count"`
}

type tournamentFinishRequest struct {
	SessionID    int64 `json:"sessionId"`
	TournamentID int64 `json:"tournamentId"`
}

func (h *Handler) StartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := h.quiz.Start(c.Request.Context(), callerAddr(c), req.Count)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) SubmitAnswers(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == 0 || len(req.Answers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and answers are required"})
		return
	}
	if err := h.quiz.Answer(c.Request.Context(), callerAddr(c), req.SessionID, req.Answers); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": len(req.Answers)})
}

func (h *Handler) FinishSession(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	result, err := h.quiz.Finish(c.Request.Context(), callerAddr(c), req.SessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) SessionStatus(c *gin.Context) {
	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	status, err := h.quiz.Status(c.Request.Context(), callerAddr(c), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) SettlementStatus(c *gin.Context) {
	sessionID, err := strconv.ParseInt(c.Query("session"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session query parameter is required"})
		return
	}
	status, err := h.quiz.SettlementStatus(c.Request.Context(), callerAddr(c), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) StartTournamentSession(c *gin.Context) {
	var req tournamentStartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TournamentID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tournamentId is required"})
		return
	}
	result, err := h.tournament.Start(c.Request.Context(), callerAddr(c), req.TournamentID, req.Count)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) FinishTournamentSession(c *gin.Context) {
	var req tournamentFinishRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == 0 || req.TournamentID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and tournamentId are required"})
		return
	}
	result, err := h.tournament.Finish(c.Request.Context(), callerAddr(c), req.SessionID, req.TournamentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) DailyPlays(c *gin.Context) {
	tournamentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tournament id"})
		return
	}
	plays, err := h.tournament.PlayCount(c.Request.Context(), callerAddr(c), tournamentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plays)
}

// QuizSettings is public: no caller identity required.
func (h *Handler) QuizSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entryFeeMicro":  h.settings.EntryFeeMicro,
		"timeLimitSecs":  h.settings.TimeLimitSecs,
		"questionCount":  h.settings.DefaultCount,
		"maxCount":       h.settings.MaxCount,
		"winMultiplier":  "1.8",
		"tokenDecimals":  domain.TokenDecimals,
		"autoSettlement": h.settings.SettleAutomatically,
	})
}

func (h *Handler) QuizStats(c *gin.Context) {
	stats, err := h.quiz.Stats(c.Request.Context(), c.Query("address"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeError maps domain errors onto HTTP status codes. Unknown errors are
// logged and reported as 500 without leaking internals.
func (h *Handler) writeError(c *gin.Context, err error) {
	var quota *domain.QuotaExceededError
	var badOption *domain.UnprocessableOptionError

	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientCredit),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrTournamentNotStarted),
		errors.Is(err, domain.ErrTournamentEnded),
		errors.Is(err, domain.ErrTournamentSettled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNoQuestions):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrTournamentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotRegistered),
		errors.Is(err, domain.ErrNoPassesRemaining):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &quota):
		c.JSON(http.StatusForbidden, gin.H{
			"error":         quota.Error(),
			"playsToday":    quota.PlaysToday,
			"maxDailyPlays": quota.MaxDailyPlays,
		})
	case errors.As(err, &badOption):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      badOption.Error(),
			"questionId": badOption.QuestionID,
			"optionId":   badOption.OptionID,
		})
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
