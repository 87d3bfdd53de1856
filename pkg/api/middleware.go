package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter tracks request rates per IP over a fixed one-minute window
type RateLimiter struct {
	requests map[string]*requestCounter
	limit    int
	window   time.Duration
	mu       sync.Mutex
	stop     chan struct{}
	once     sync.Once
}

type requestCounter struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a limiter; zero or less disables limiting
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string]*requestCounter),
		limit:    requestsPerMinute,
		window:   time.Minute,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	counter, exists := rl.requests[ip]
	if !exists || now.After(counter.resetTime) {
		rl.requests[ip] = &requestCounter{count: 1, resetTime: now.Add(rl.window)}
		return true
	}
	if counter.count >= rl.limit {
		return false
	}
	counter.count++
	return true
}

// cleanup removes expired entries periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		now := time.Now()
		for ip, counter := range rl.requests {
			if now.After(counter.resetTime) {
				delete(rl.requests, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Middleware applies rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "Rate limit exceeded",
				Message: fmt.Sprintf("Maximum %d requests per minute", rl.limit),
			})
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client", c.ClientIP(),
			"latency", time.Since(start),
		}
		switch {
		case status >= 500:
			log.Errorw("HTTP request", fields...)
		case status >= 400:
			log.Warnw("HTTP request", fields...)
		default:
			log.Debugw("HTTP request", fields...)
		}
	}
}

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse is a standard success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func fail(c *gin.Context, code int, err string, cause error) {
	resp := ErrorResponse{Error: err}
	if cause != nil {
		resp.Message = cause.Error()
	}
	c.JSON(code, resp)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}
