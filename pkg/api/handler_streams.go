package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stacktach/oahu/pkg/stream"
)

// getStreamHandler handles GET /api/v1/streams/:id.
func (s *Server) getStreamHandler(c *gin.Context) {
	id := c.Param("id")

	st, err := s.store.GetStream(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	events, err := s.store.LoadEvents(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, &StreamResponse{
		ID:                st.ID,
		TriggerName:       st.TriggerName,
		State:             st.State.String(),
		StateVersion:      st.StateVersion,
		IdentifyingTraits: st.IdentifyingTraits,
		EventCount:        len(events),
		CreatedAt:         st.CreatedAt,
		LastUpdate:        st.LastUpdate,
		LastError:         st.LastError,
		CommitErrors:      st.CommitErrors,
	})
}

// listErrorsHandler handles GET /api/v1/triggers/:name/errors. Defaults to
// listing both Error and CommitError streams; ?state=error or
// ?state=commit_error narrows to one.
func (s *Server) listErrorsHandler(c *gin.Context) {
	name := c.Param("name")

	var q ListErrorsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	states := []stream.State{stream.Error, stream.CommitError}
	switch q.State {
	case "error":
		states = []stream.State{stream.Error}
	case "commit_error":
		states = []stream.State{stream.CommitError}
	case "":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be \"error\" or \"commit_error\""})
		return
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*StreamResponse
	for _, st := range states {
		streams, err := s.store.FindStreams(c.Request.Context(), name, st, limit)
		if err != nil {
			writeStoreError(c, err)
			return
		}
		for _, st := range streams {
			out = append(out, &StreamResponse{
				ID:                st.ID,
				TriggerName:       st.TriggerName,
				State:             st.State.String(),
				StateVersion:      st.StateVersion,
				IdentifyingTraits: st.IdentifyingTraits,
				CreatedAt:         st.CreatedAt,
				LastUpdate:        st.LastUpdate,
				LastError:         st.LastError,
				CommitErrors:      st.CommitErrors,
			})
			if len(out) >= limit {
				break
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"streams": out})
}

// triggerDebugHandler handles GET /api/v1/triggers/:name/debug, returning
// the trigger's live counting debugger snapshot.
func (s *Server) triggerDebugHandler(c *gin.Context) {
	name := c.Param("name")

	if _, err := s.cfg.GetTrigger(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown trigger: " + name})
		return
	}

	snap := s.debuggerFor(name).Snapshot()
	c.JSON(http.StatusOK, &TriggerDebugResponse{
		TriggerName:      name,
		TraitMatch:       snap.TraitMatch,
		TraitMismatch:    snap.TraitMismatch,
		NewStreams:       snap.NewStreams,
		CriteriaMatch:    snap.CriteriaMatch,
		CriteriaMismatch: snap.CriteriaMismatch,
		Reasons:          snap.Reasons,
		TriggerErrors:    snap.TriggerErrors,
		CommitErrors:     snap.CommitErrors,
	})
}
