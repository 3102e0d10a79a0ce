package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/dto"
	"github.com/BarkinBalci/log-aggregator/internal/repository"
	"github.com/BarkinBalci/log-aggregator/internal/service"
)

const (
	serviceName    = "log-aggregator"
	serviceVersion = "1.0.0"

	// maxPublishBody bounds a single publish request
	maxPublishBody = 8 << 20
)

type Handler struct {
	eventService service.EventServicer
	gatherer     prometheus.Gatherer
	router       *gin.Engine
	log          *zap.Logger
}

// NewHandler builds the router. gatherer backs /metrics and may be nil.
func NewHandler(eventService service.EventServicer, gatherer prometheus.Gatherer, log *zap.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	h := &Handler{
		eventService: eventService,
		gatherer:     gatherer,
		router:       router,
		log:          log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/", h.serviceInfo)
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/publish", h.publish)
	h.router.GET("/events", h.getEvents)
	h.router.GET("/events/:topic/:event_id", h.getEvent)
	h.router.GET("/stats", h.getStats)

	if h.gatherer != nil {
		h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// serviceInfo handles GET /
// @Summary Service info
// @Description List the service endpoints
// @Tags health
// @Produce json
// @Success 200 {object} dto.ServiceInfoResponse
// @Router / [get]
func (h *Handler) serviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ServiceInfoResponse{
		Service: serviceName,
		Version: serviceVersion,
		Status:  "running",
		Endpoints: map[string]string{
			"publish": "POST /publish",
			"events":  "GET /events",
			"event":   "GET /events/:topic/:event_id",
			"stats":   "GET /stats",
			"health":  "GET /health",
			"metrics": "GET /metrics",
		},
	})
}

// healthCheck reports liveness only; it never touches the store
// @Summary Health check
// @Description Check if the service is running
// @Tags health
// @Produce json
// @Success 200 {object} dto.HealthResponse
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	health := h.eventService.HealthCheck()
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:    health.Status,
		Timestamp: health.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// publish handles POST /publish with a single event object or an array of events.
// Each array element is decoded on its own so one malformed element does not
// reject its neighbours.
// @Summary Publish events
// @Description Queue a single event or an array of events for deduplicated processing
// @Tags events
// @Accept json
// @Produce json
// @Param events body []domain.RawEvent true "Event object or array of events"
// @Success 202 {object} dto.PublishResponse
// @Failure 400 {object} dto.PublishResponse
// @Failure 503 {object} dto.PublishResponse
// @Router /publish [post]
func (h *Handler) publish(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		h.badRequest(c, "invalid_body", err.Error())
		return
	}

	elements, err := splitEvents(body)
	if err != nil {
		h.log.Warn("Invalid publish request", zap.Error(err))
		h.badRequest(c, "invalid_json", err.Error())
		return
	}

	results := make([]domain.SubmitResult, len(elements))
	raws := make([]domain.RawEvent, 0, len(elements))
	positions := make([]int, 0, len(elements))

	for i, element := range elements {
		var raw domain.RawEvent
		if err := json.Unmarshal(element, &raw); err != nil {
			results[i] = domain.SubmitResult{Status: domain.SubmitInvalid, Error: "event must be a JSON object with string fields"}
			continue
		}
		raws = append(raws, raw)
		positions = append(positions, i)
	}

	if len(raws) > 0 {
		batch := h.eventService.SubmitBatch(c.Request.Context(), raws)
		for j, result := range batch.Results {
			results[positions[j]] = result
		}
	}

	response := dto.PublishResponse{Results: make([]dto.EventResult, 0, len(results))}
	for _, result := range results {
		switch result.Status {
		case domain.SubmitAccepted:
			response.Accepted++
		case domain.SubmitInvalid:
			response.Invalid++
		default:
			response.Rejected++
		}
		response.Results = append(response.Results, dto.NewEventResult(result))
	}

	h.log.Info("Publish request processed",
		zap.Int("accepted", response.Accepted),
		zap.Int("rejected", response.Rejected),
		zap.Int("invalid", response.Invalid))

	switch {
	case response.Accepted == len(elements):
		response.Status = "queued"
		c.JSON(http.StatusAccepted, response)
	case response.Accepted > 0:
		response.Status = "partial"
		c.JSON(http.StatusAccepted, response)
	case response.Rejected > 0:
		response.Status = "rejected"
		c.JSON(http.StatusServiceUnavailable, response)
	default:
		response.Status = "invalid"
		c.JSON(http.StatusBadRequest, response)
	}
}

// getEvents handles GET /events
// @Summary List processed events
// @Description List unique processed events ordered by processing time
// @Tags events
// @Produce json
// @Param topic query string false "Topic filter"
// @Param limit query int false "Maximum number of events" default(100)
// @Success 200 {object} dto.EventsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /events [get]
func (h *Handler) getEvents(c *gin.Context) {
	var req dto.GetEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid events query", zap.Error(err))
		h.badRequest(c, "validation_error", err.Error())
		return
	}

	page, err := h.eventService.QueryEvents(c.Request.Context(), req.Topic, req.Limit)
	if err != nil {
		h.log.Error("Failed to query events",
			zap.Error(err),
			zap.String("topic", req.Topic),
			zap.Int("limit", req.Limit))
		h.internalError(c, err)
		return
	}

	response := dto.EventsResponse{
		Events: make([]dto.EventRecord, 0, len(page.Events)),
		Total:  page.Total,
	}
	if page.FilteredByTopic != "" {
		topic := page.FilteredByTopic
		response.FilteredByTopic = &topic
	}
	for _, record := range page.Events {
		response.Events = append(response.Events, dto.NewEventRecord(record))
	}

	c.JSON(http.StatusOK, response)
}

// getEvent handles GET /events/:topic/:event_id
// @Summary Get a processed event
// @Tags events
// @Produce json
// @Param topic path string true "Event topic"
// @Param event_id path string true "Event ID"
// @Success 200 {object} dto.EventRecord
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /events/{topic}/{event_id} [get]
func (h *Handler) getEvent(c *gin.Context) {
	var req dto.GetEventRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.badRequest(c, "validation_error", err.Error())
		return
	}

	record, err := h.eventService.GetEvent(c.Request.Context(), req.Topic, req.EventID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: "no processed event for " + domain.DedupKey{Topic: req.Topic, EventID: req.EventID}.String(),
		})
		return
	}
	if err != nil {
		h.log.Error("Failed to get event",
			zap.Error(err),
			zap.String("topic", req.Topic),
			zap.String("event_id", req.EventID))
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewEventRecord(*record))
}

// getStats handles GET /stats
// @Summary Aggregator statistics
// @Description Report received, unique, duplicate and failed counters with queue depth
// @Tags stats
// @Produce json
// @Success 200 {object} dto.StatsResponse
// @Router /stats [get]
func (h *Handler) getStats(c *gin.Context) {
	st := h.eventService.GetStats()

	topics := st.Topics
	if topics == nil {
		topics = []string{}
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Received:         st.Received,
		UniqueProcessed:  st.UniqueProcessed,
		DuplicateDropped: st.DuplicateDropped,
		Failed:           st.Failed,
		Topics:           topics,
		UptimeSeconds:    st.Uptime.Seconds(),
		StartedAt:        st.StartedAt.UTC().Format(time.RFC3339Nano),
		QueueDepth:       st.QueueDepth,
		QueueCapacity:    st.QueueCapacity,
	})
}

func (h *Handler) badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   code,
		Message: message,
	})
}

func (h *Handler) internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}

func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPublishBody)
	return c.GetRawData()
}

var (
	errEmptyBody  = errors.New("request body is empty")
	errEmptyBatch = errors.New("event array is empty")
	errBodyShape  = errors.New("body must be a JSON object or an array of objects")
)

// splitEvents returns the raw JSON of each submitted event
func splitEvents(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errEmptyBody
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("request body is not valid JSON")
	}

	switch trimmed[0] {
	case '{':
		return []json.RawMessage{trimmed}, nil
	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, err
		}
		if len(elements) == 0 {
			return nil, errEmptyBatch
		}
		return elements, nil
	default:
		return nil, errBodyShape
	}
}
