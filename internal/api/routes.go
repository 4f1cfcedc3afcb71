package api

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fedlearn/coordinator-engine/internal/coordinator"
	"github.com/fedlearn/coordinator-engine/pkg/models"
)

type APIHandler struct {
	coord *coordinator.Coordinator
	wsHub *Hub
}

func SetupRouter(coord *coordinator.Coordinator, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://fleet.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.Use(recoveryMiddleware())

	handler := &APIHandler{coord: coord, wsHub: wsHub}

	api := r.Group("/api/v1")
	{
		api.POST("/client/register", handler.handleRegister)
		api.GET("/task/:client_id", handler.handleGetTask)
		api.POST("/update", handler.handleSubmitUpdate)
		api.POST("/aggregate/:round_id", handler.handleAggregate)
		api.GET("/status/:round_id", handler.handleRoundStatus)
		api.GET("/model/:version", handler.handleGetModel)

		api.GET("/metrics", handler.handleAllMetrics)
		api.GET("/metrics/:round_id", handler.handleRoundMetrics)
		api.GET("/reputation", handler.handleAllReputations)
		api.GET("/reputation/:client_id", handler.handleReputation)
		api.GET("/incentives", handler.handleAllIncentives)
		api.GET("/incentives/:client_id", handler.handleIncentives)
		api.GET("/async/:round_id", handler.handleAsyncStats)

		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
	}

	return r
}

// recoveryMiddleware converts handler panics into internal_error responses
// with a correlation id. Request bodies are never echoed back, so tokens
// stay out of logs and error payloads.
func recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				id := uuid.New().String()
				log.Printf("[API] Panic recovered (correlation=%s) on %s %s: %v",
					id, c.Request.Method, c.Request.URL.Path, rec)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":          string(models.CodeInternalError),
					"correlation_id": id,
				})
			}
		}()
		c.Next()
	}
}

// httpStatus maps the error taxonomy onto HTTP status codes. Anything not
// listed is a client-side validation failure.
func httpStatus(code models.Code) int {
	switch code {
	case models.CodeUnauthorized:
		return http.StatusUnauthorized
	case models.CodeUnknownClient, models.CodeUnknownRound, models.CodeUnknownVersion:
		return http.StatusNotFound
	case models.CodeDuplicateClient:
		return http.StatusConflict
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	case models.CodeNotReady, models.CodeNoTaskAvailable:
		return http.StatusConflict
	case models.CodeAggregationFailed, models.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// fail writes a taxonomy error response.
func fail(c *gin.Context, err error) {
	code := models.CodeOf(err)
	c.JSON(httpStatus(code), gin.H{"error": string(code)})
}
