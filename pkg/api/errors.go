package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stacktach/oahu/pkg/store"
)

// writeStoreError maps store-layer errors to HTTP error responses.
func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	if errors.Is(err, store.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "stream state changed concurrently"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
