package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rencelibrando/infoma-sub004/internal/middleware"
	"github.com/rencelibrando/infoma-sub004/internal/watch"
)

func (a *API) sweepHandler(c *gin.Context) {
	report, err := a.auditor.Sweep(c)
	if err != nil {
		writeError(c, "sweep", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// streamHandler relays store changes as server-sent events until the client
// goes away. The session is scoped to the request.
func (a *API) streamHandler(c *gin.Context) {
	if len(a.feeds) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "No feeds configured"})
		return
	}

	sess, err := watch.Open(c.Request.Context(), a.feeds...)
	if err != nil {
		middleware.GetLogger(c).ErrorContext(c, "failed to open watch session", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "TRANSIENT_FAILURE", "message": "Please retry"})
		return
	}
	defer sess.Close()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sess.C:
			if !ok {
				return false
			}
			c.SSEvent(ev.Feed, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
