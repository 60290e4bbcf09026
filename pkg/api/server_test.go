package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/event"
	"github.com/stacktach/oahu/pkg/store/memory"
	"github.com/stacktach/oahu/pkg/stream"
	"github.com/stacktach/oahu/pkg/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(triggerNames ...string) *config.Config {
	defs := make([]*trigger.Definition, 0, len(triggerNames))
	for _, name := range triggerNames {
		defs = append(defs, &trigger.Definition{Name: name})
	}
	return &config.Config{
		Server:   &config.ServerConfig{Addr: ":8080"},
		Triggers: defs,
	}
}

func newTestContext(method, target string, params gin.Params) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, nil)
	c.Params = params
	return c, rec
}

func TestHealthHandler_HealthyWithNoOptionalComponents(t *testing.T) {
	s := &Server{cfg: testConfig()}
	c, rec := newTestContext(http.MethodGet, "/health", nil)

	s.healthHandler(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestGetStreamHandler(t *testing.T) {
	s := memory.New()
	_, _, err := s.AppendEvent(t.Context(), "alert-fired", stream.IdentifyingTraits{"host": "a"},
		event.New(map[string]any{event.UniqueIDField: "evt-1"}), time.Now())
	require.NoError(t, err)

	streams, err := s.FindStreams(t.Context(), "alert-fired", stream.Collecting, 10)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	id := streams[0].ID

	srv := &Server{store: s, cfg: testConfig("alert-fired")}

	t.Run("found", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/streams/"+id, gin.Params{{Key: "id", Value: id}})
		srv.getStreamHandler(c)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp StreamResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, id, resp.ID)
		assert.Equal(t, "alert-fired", resp.TriggerName)
		assert.Equal(t, "collecting", resp.State)
		assert.Equal(t, 1, resp.EventCount)
	})

	t.Run("not found", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/streams/missing", gin.Params{{Key: "id", Value: "missing"}})
		srv.getStreamHandler(c)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListErrorsHandler(t *testing.T) {
	s := memory.New()
	mkStream := func(traits string) *stream.Stream {
		st, _, err := s.AppendEvent(t.Context(), "alert-fired", stream.IdentifyingTraits{"host": traits},
			event.New(map[string]any{event.UniqueIDField: "evt-" + traits}), time.Now())
		require.NoError(t, err)
		require.NoError(t, s.MarkReady(t.Context(), st.ID, st.StateVersion))
		require.NoError(t, s.ClaimReady(t.Context(), st.ID, st.StateVersion+1))
		return st
	}

	errored := mkStream("a")
	require.NoError(t, s.MarkError(t.Context(), errored.ID, errored.StateVersion+2, "boom"))

	committed := mkStream("b")
	require.NoError(t, s.MarkCommitError(t.Context(), committed.ID, committed.StateVersion+2, "commit boom"))

	srv := &Server{store: s, cfg: testConfig("alert-fired")}

	t.Run("defaults to both error states", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/triggers/alert-fired/errors", gin.Params{{Key: "name", Value: "alert-fired"}})
		srv.listErrorsHandler(c)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Streams []*StreamResponse `json:"streams"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.Streams, 2)
	})

	t.Run("narrows to one state", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/triggers/alert-fired/errors?state=error", gin.Params{{Key: "name", Value: "alert-fired"}})
		srv.listErrorsHandler(c)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Streams []*StreamResponse `json:"streams"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Streams, 1)
		assert.Equal(t, "error", body.Streams[0].State)
	})

	t.Run("rejects unknown state", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/triggers/alert-fired/errors?state=bogus", gin.Params{{Key: "name", Value: "alert-fired"}})
		srv.listErrorsHandler(c)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTriggerDebugHandler(t *testing.T) {
	dbg := debugger.NewCounting("alert-fired")
	dbg.TraitMatch()
	dbg.CriteriaMatch()

	srv := &Server{
		cfg:       testConfig("alert-fired"),
		debuggers: map[string]debugger.Debugger{"alert-fired": dbg},
	}

	t.Run("known trigger", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/triggers/alert-fired/debug", gin.Params{{Key: "name", Value: "alert-fired"}})
		srv.triggerDebugHandler(c)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp TriggerDebugResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "alert-fired", resp.TriggerName)
		assert.Equal(t, 1, resp.TraitMatch)
		assert.Equal(t, 1, resp.CriteriaMatch)
	})

	t.Run("unknown trigger 404s on config lookup", func(t *testing.T) {
		c, rec := newTestContext(http.MethodGet, "/api/v1/triggers/missing/debug", gin.Params{{Key: "name", Value: "missing"}})
		srv.triggerDebugHandler(c)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDebuggerForFallsBackToNoOp(t *testing.T) {
	s := &Server{debuggers: map[string]debugger.Debugger{}}
	assert.Equal(t, debugger.Counters{}, s.debuggerFor("unknown").Snapshot())
}

func TestWSHandler_UnavailableWithoutConnManager(t *testing.T) {
	srv := &Server{cfg: testConfig()}
	c, rec := newTestContext(http.MethodGet, "/ws", nil)

	srv.wsHandler(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResolveWSOriginPatterns(t *testing.T) {
	srv := &Server{cfg: &config.Config{Server: &config.ServerConfig{AllowedWSOrigins: []string{"*.internal.corp:*"}}}}
	patterns := srv.resolveWSOriginPatterns()
	assert.Contains(t, patterns, "localhost:*")
	assert.Contains(t, patterns, "127.0.0.1:*")
	assert.Contains(t, patterns, "*.internal.corp:*")
}

func TestSecurityHeaders(t *testing.T) {
	e := gin.New()
	e.Use(securityHeaders())
	e.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Permissions-Policy"))
}
