package service

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"rule_trader/internal/models"
	"rule_trader/internal/orders"
	"rule_trader/internal/ruleeval"
	"rule_trader/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const maxPostbackBody = 64 << 10

type Postbacks interface {
	Ingest(ctx context.Context, cfg *models.APIConfiguration, body []byte) error
}

type Configurations interface {
	Get(ctx context.Context, userID, id int64) (*models.APIConfiguration, error)
}

type Validator interface {
	Validate(ctx context.Context, field, text string) error
}

type Strategies interface {
	Save(ctx context.Context, st *models.Strategy) error
}

type Notifications interface {
	Serve(w http.ResponseWriter, r *http.Request, userID int64)
}

type Deps struct {
	Postbacks      Postbacks
	Configurations Configurations
	Validator      Validator
	Strategies     Strategies
	Notifications  Notifications
}

// Server обслуживает публичный HTTP: postback брокера, проверка правил, создание стратегий, поток уведомлений.
type Server struct {
	Router *gin.Engine
	d      Deps
}

func NewServer(d Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	s := &Server{Router: r, d: d}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.POST("/postback/:user_id/:api_config_id", s.postback)
	s.Router.GET("/ws/notifications", s.notifications)

	api := s.Router.Group("/api")
	{
		api.POST("/rules/validate", s.validateRule)
		api.POST("/strategies", s.createStrategy)
	}
}

func (s *Server) postback(c *gin.Context) {
	userID, err1 := strconv.ParseInt(c.Param("user_id"), 10, 64)
	configID, err2 := strconv.ParseInt(c.Param("api_config_id"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path parameters"})
		return
	}

	cfg, err := s.d.Configurations.Get(c.Request.Context(), userID, configID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "api configuration not found"})
		return
	}
	if err != nil {
		logger.Error("postback user=%d config=%d: %v", userID, configID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPostbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}

	err = s.d.Postbacks.Ingest(c.Request.Context(), cfg, body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, orders.ErrEmptyPayload), errors.Is(err, orders.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrChecksumMismatch):
		logger.Warn("postback user=%d config=%d: checksum mismatch", userID, configID)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		logger.Error("postback user=%d config=%d: %v", userID, configID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type validateRequest struct {
	Rule string `json:"rule"`
}

func (s *Server) validateRule(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.d.Validator.Validate(c.Request.Context(), "", req.Rule)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"valid": true})
		return
	}
	var verr *ruleeval.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "kind": verr.Kind, "error": verr.Error()})
		return
	}
	logger.Error("validate rule: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

type strategyRequest struct {
	UserID                int64          `json:"user_id" binding:"required"`
	Name                  string         `json:"name"`
	Kind                  string         `json:"kind" binding:"required"`
	EntryRule             string         `json:"entry_rule"`
	ExitRule              string         `json:"exit_rule"`
	InstrumentIDs         []int64        `json:"instrument_ids"`
	ScreenerID            int64          `json:"screener_id"`
	ScreenerExecutionTime string         `json:"screener_execution_time"`
	DailyMaxEntries       int            `json:"daily_max_entries"`
	ReEnter               *int           `json:"re_enter"`
	Deployed              bool           `json:"deployed"`
	OnlySimulate          bool           `json:"only_simulate"`
	Parameters            map[string]any `json:"parameters"`
}

func (r strategyRequest) model() *models.Strategy {
	st := &models.Strategy{
		UserID:                r.UserID,
		Name:                  r.Name,
		Kind:                  models.SourceKind(r.Kind),
		EntryRule:             r.EntryRule,
		ExitRule:              r.ExitRule,
		InstrumentIDs:         r.InstrumentIDs,
		ScreenerID:            r.ScreenerID,
		ScreenerExecutionTime: r.ScreenerExecutionTime,
		DailyMaxEntries:       r.DailyMaxEntries,
		ReEnter:               models.DefaultReEnter,
		Deployed:              r.Deployed,
		OnlySimulate:          r.OnlySimulate,
		Parameters:            r.Parameters,
	}
	if r.ReEnter != nil {
		st.ReEnter = *r.ReEnter
	}
	return st
}

func (s *Server) createStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := req.model()
	err := s.d.Strategies.Save(c.Request.Context(), st)
	var verr *ruleeval.ValidationError
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"id": st.ID, "deployed": st.Deployed, "daily_max_entries": st.DailyMaxEntries})
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"kind": verr.Kind, "error": verr.Error()})
	default:
		logger.Error("create strategy user=%d: %v", req.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// notifications открывает WebSocket с уведомлениями пользователя по ?user_id=.
// TODO: авторизовать подписку, когда появится сессия пользователя.
func (s *Server) notifications(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	s.d.Notifications.Serve(c.Writer, c.Request, userID)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
			return
		}
		logger.Info("%s %s -> %d (%s)", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
