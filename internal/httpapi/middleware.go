package httpapi

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID    = "X-Request-ID"
	headerResponseTime = "X-Response-Time"
)

// requestLog tags every request with an id and reports how long it took to produce
// the response headers.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set("requestID", requestID)
		c.Header(headerRequestID, requestID)

		log.Printf("[request %s] %s %s ua=%q referer=%q", requestID, c.Request.Method, c.Request.URL.Path, c.Request.UserAgent(), c.Request.Referer())

		c.Writer = &timedWriter{ResponseWriter: c.Writer, start: start}
		c.Next()

		log.Printf("[response %s] %d %s in %s", requestID, c.Writer.Status(), c.Request.URL.Path, time.Since(start).Round(time.Millisecond))
	}
}

// timedWriter stamps X-Response-Time just before the headers go out.
type timedWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timedWriter) stamp() {
	if w.stamped || w.ResponseWriter.Written() {
		return
	}
	w.stamped = true
	w.Header().Set(headerResponseTime, fmt.Sprintf("%dms", time.Since(w.start).Milliseconds()))
}

func (w *timedWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timedWriter) Write(data []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(data)
}

func (w *timedWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}
