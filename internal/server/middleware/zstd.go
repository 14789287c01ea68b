package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
)

type zstdResponseWriter struct {
	gin.ResponseWriter
	encoder *zstd.Encoder
}

func (w *zstdResponseWriter) Write(b []byte) (int, error) {
	return w.encoder.Write(b)
}

func (w *zstdResponseWriter) WriteString(s string) (int, error) {
	return w.encoder.Write([]byte(s))
}

// Zstd compresses response bodies for clients that accept zstd.
func Zstd() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only compress if client explicitly accepts zstd
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "zstd") {
			c.Next()
			return
		}

		encoder, err := zstd.NewWriter(c.Writer, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "internal", "message": err.Error()})
			return
		}

		c.Header("Content-Encoding", "zstd")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &zstdResponseWriter{
			ResponseWriter: c.Writer,
			encoder:        encoder,
		}
		defer encoder.Close()

		c.Next()
	}
}
