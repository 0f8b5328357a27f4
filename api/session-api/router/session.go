package session_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	sessionLiveApi "github.com/coachlyai/api/session-api/api/live"
	"github.com/coachlyai/api/session-api/config"
	internal_recorder "github.com/coachlyai/api/session-api/internal/audio/recorder"
	internal_sessioncontext "github.com/coachlyai/api/session-api/internal/sessioncontext"
	"github.com/coachlyai/pkg/commons"
	"github.com/coachlyai/pkg/connectors"
)

// SessionApiRoute wires the session lifecycle endpoints: context creation,
// context lookup, and the live websocket.
func SessionApiRoute(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	postgres connectors.PostgresConnector,
	gateway internal_recorder.DeviceGateway,
) {
	store := internal_sessioncontext.NewStore(postgres, logger)
	liveApi := sessionLiveApi.New(cfg, logger, store, gateway)

	apiv1 := engine.Group("v1/session")
	{
		apiv1.POST("", createSessionHandler(logger, store))
		apiv1.GET("/:sessionId", getSessionHandler(store))
		apiv1.GET("/live/:sessionId", liveApi.Connect)
	}
}

type createSessionRequest struct {
	TraineeID  uint64 `json:"traineeId" binding:"required"`
	ScenarioID uint64 `json:"scenarioId" binding:"required"`
	CoachMode  string `json:"coachMode"`
}

func createSessionHandler(logger commons.Logger, store internal_sessioncontext.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sc := &internal_sessioncontext.SessionContext{
			TraineeID:  req.TraineeID,
			ScenarioID: req.ScenarioID,
			CoachMode:  req.CoachMode,
		}
		sessionID, err := store.Save(c.Request.Context(), sc)
		if err != nil {
			logger.Errorw("session: failed to create context", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"sessionId": sessionID, "status": sc.Status})
	}
}

func getSessionHandler(store internal_sessioncontext.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc, err := store.Get(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, sc)
	}
}
