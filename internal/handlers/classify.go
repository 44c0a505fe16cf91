package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/vision-pipeline/internal/logging"
	"github.com/example/vision-pipeline/internal/notify"
	"github.com/example/vision-pipeline/internal/repository"
	"github.com/example/vision-pipeline/internal/usecase"
)

// ClassifyRequest is the body of POST /classify.
type ClassifyRequest struct {
	GCSPath string `json:"gcs_path"`
}

// PredictionResponse is returned by POST /classify.
type PredictionResponse struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// PubSubResponse is returned by POST /pubsub.
type PubSubResponse struct {
	Status     string  `json:"status"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	MessageID  string  `json:"message_id,omitempty"`
}

// PredictionLogResponse is returned by GET /predictions/:request_id.
type PredictionLogResponse struct {
	RequestID  string    `json:"request_id"`
	GCSPath    string    `json:"gcs_path"`
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Source     string    `json:"source"`
	Cached     bool      `json:"cached"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RegisterClassifyRoutes wires the classify service.
func RegisterClassifyRoutes(router *gin.Engine, uc *usecase.ClassifyUseCase, authMiddleware gin.HandlerFunc) {
	RegisterHealth(router)

	router.POST("/classify", authMiddleware, func(c *gin.Context) {
		var req ClassifyRequest
		body, err := readLimited(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
			return
		}
		if err := decodeJSON(body, &req); err != nil || strings.TrimSpace(req.GCSPath) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "gcs_path is required"})
			return
		}

		pred, err := uc.Classify(c.Request.Context(), logging.RequestID(c), req.GCSPath)
		if err != nil {
			abortWithError(c, err, "")
			return
		}
		c.JSON(http.StatusOK, PredictionResponse{Label: pred.Label, Confidence: pred.Confidence})
	})

	router.POST("/pubsub", func(c *gin.Context) {
		body, err := readLimited(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
			return
		}

		var msg notify.PreprocessedMessage
		if _, err := notify.DecodePush(body, &msg); err != nil {
			abortWithError(c, err, "")
			return
		}
		if strings.TrimSpace(msg.GCSPath) == "" {
			abortWithError(c, errors.Join(notify.ErrInvalidEnvelope, errors.New("gcs_path missing")), "")
			return
		}

		pred, id, err := uc.ClassifyAndPublish(c.Request.Context(), logging.RequestID(c), msg.GCSPath)
		if err != nil {
			abortWithError(c, err, "")
			return
		}
		c.JSON(http.StatusOK, PubSubResponse{Status: "ok", Label: pred.Label, Confidence: pred.Confidence, MessageID: id})
	})

	router.GET("/predictions/:request_id", authMiddleware, func(c *gin.Context) {
		requestID := strings.TrimSpace(c.Param("request_id"))
		if requestID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "request_id is required"})
			return
		}

		log, err := uc.GetPrediction(c.Request.Context(), requestID)
		switch {
		case errors.Is(err, usecase.ErrPersistenceDisabled):
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		case errors.Is(err, repository.ErrLogNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "prediction not found"})
			return
		case err != nil:
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load prediction"})
			return
		}

		c.JSON(http.StatusOK, PredictionLogResponse{
			RequestID:  log.RequestID,
			GCSPath:    log.GCSPath,
			Label:      log.Label,
			Confidence: log.Confidence,
			Source:     log.Source,
			Cached:     log.Cached,
			LatencyMs:  log.LatencyMs,
			CreatedAt:  log.CreatedAt,
		})
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if errors.Is(err, usecase.ErrPersistenceDisabled) {
			c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func readLimited(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPushSize))
}
