package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/example/kyc-verif/internal/auth"
	"github.com/example/kyc-verif/internal/ingest"
	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/repository"
	"github.com/example/kyc-verif/internal/usecase"
)

// MaxUploadSize bounds the image part of a verification upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form boundaries and other fields.
const multipartOverhead = 1 << 20

var supportedTypes = ingest.MIMETypes()

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything but
// /health requires authMiddleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/verify", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
		file, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		if mtype := mimetype.Detect(data); !mimetype.EqualsAny(mtype.String(), supportedTypes...) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type", "detected": mtype.String()})
			return
		}

		requestID, result, err := uc.VerifyImage(c.Request.Context(), userID, data)
		if err != nil {
			c.JSON(engineStatus(err), gin.H{"error": err.Error()})
			return
		}

		body := gin.H{"request_id": requestID}
		for k, v := range result.Document() {
			if k == "request_id" {
				k = "engine_request_id"
			}
			body[k] = v
		}
		c.JSON(http.StatusOK, body)
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		log, err := uc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, logView(log))
	})

	protected.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())
		report, err := uc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, gin.H{
				"request_id": d.RequestID,
				"status":     d.Status,
				"created_at": d.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    logView(report.Request),
			"duplicates": duplicates,
		})
	})

	protected.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func logView(log *repository.VerificationLog) gin.H {
	view := gin.H{
		"request_id":        log.RequestID,
		"engine_request_id": log.EngineRequestID,
		"user_id":           log.UserID,
		"status":            log.Status,
		"code":              log.Code,
		"score":             log.Score,
		"verified":          log.Verified,
		"details":           log.Details,
		"latency_ms":        log.LatencyMs,
		"created_at":        log.CreatedAt,
	}
	if log.Fields != "" && json.Valid([]byte(log.Fields)) {
		view["fields"] = json.RawMessage(log.Fields)
	}
	return view
}

// engineStatus maps a failed verification to an HTTP status.
func engineStatus(err error) int {
	switch kyc.KindOf(err) {
	case kyc.KindNotInitialized:
		return http.StatusServiceUnavailable
	case kyc.KindCorruptData, kyc.KindUnsupportedFormat:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
