package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"erpmigrate/internal/constants"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/progress"
)

type Handler struct {
	Service Service
	Events  *progress.Bus
	Logger  logger.Logger
}

func NewHandler(service Service, events *progress.Bus, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Handler{Service: service, Events: events, Logger: log}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	_ = c.Error(err)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/connections", h.GetConnections)

		extractions := v1.Group("/extractions")
		{
			extractions.GET("", h.ListExtractions)
			extractions.POST("", h.StartExtraction)
			extractions.GET("/:runId", h.GetExtraction)
			extractions.POST("/:runId/plan", h.PlanExtraction)
		}

		migrations := v1.Group("/migrations")
		{
			migrations.GET("", h.ListRuns)
			migrations.POST("", h.StartMigration)
			migrations.GET("/:runId", h.GetRun)
		}

		v1.GET("/jobs/:runId", h.GetJob)

		if h.Events != nil {
			v1.GET("/events", h.StreamEvents)
			v1.GET("/events/history", h.EventHistory)
		}
	}
}

func (h *Handler) GetConnections(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Connections(c.Request.Context()))
}

func (h *Handler) ListExtractions(c *gin.Context) {
	ids, err := h.Service.ListExtractions(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runIds": ids})
}

// StartExtraction runs in the background unless wait=true is given.
func (h *Handler) StartExtraction(c *gin.Context) {
	var req ExtractRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	if c.Query("wait") == "true" {
		result, err := h.Service.Extract(c.Request.Context(), req)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	job, err := h.Service.StartExtraction(req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) GetExtraction(c *gin.Context) {
	result, err := h.Service.GetExtraction(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) PlanExtraction(c *gin.Context) {
	var req PlanRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}
	plan, err := h.Service.Plan(c.Request.Context(), c.Param("runId"), req.Options)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// StartMigration runs in the background unless wait=true is given.
func (h *Handler) StartMigration(c *gin.Context) {
	var req MigrateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}

	if c.Query("wait") == "true" {
		report, err := h.Service.Migrate(c.Request.Context(), req)
		if err != nil && report == nil {
			h.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}

	job, err := h.Service.StartMigration(req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	if err != nil || limit <= 0 {
		h.HandleError(c, errors.ErrConfiguration.Newf("invalid limit %q", c.Query("limit")))
		return
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	runs, err := h.Service.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetRun(c *gin.Context) {
	report, err := h.Service.GetRun(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) GetJob(c *gin.Context) {
	runID := c.Param("runId")
	job, ok := h.Service.GetJob(runID)
	if !ok {
		h.HandleError(c, errors.ErrNotFound.Newf("job %s not found", runID).WithDetail("runId", runID))
		return
	}
	c.JSON(http.StatusOK, job)
}

// StreamEvents attaches the client to the progress bus as a server-sent event stream.
// replay sends recent history first; type filters by event type prefix.
func (h *Handler) StreamEvents(c *gin.Context) {
	replay, err := strconv.Atoi(c.DefaultQuery("replay", "0"))
	if err != nil || replay < 0 {
		h.HandleError(c, errors.ErrConfiguration.Newf("invalid replay count %q", c.Query("replay")))
		return
	}

	// the stream outlives the server's write timeout
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sub := h.Events.ConnectSSE(c.Request.Context(), c.Writer, progress.SSEOptions{
		ReplayCount: replay,
		TypePrefix:  c.Query("type"),
	})
	<-sub.Done()
}

func (h *Handler) EventHistory(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(constants.DefaultLimit)))
	if err != nil || count <= 0 {
		h.HandleError(c, errors.ErrConfiguration.Newf("invalid count %q", c.Query("count")))
		return
	}
	c.JSON(http.StatusOK, h.Events.History(count, c.Query("type")))
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.ErrConfiguration.New("invalid request body").WithCause(err)
	}
	return nil
}
