package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookswap/internal/exchange"
	"bookswap/internal/matcher"
	"bookswap/internal/models"
	"bookswap/internal/notify"
	"bookswap/internal/obs"
	"bookswap/internal/storage/stubs"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	db     *stubs.MockDB
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db := stubs.NewMockDB()
	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(logger), db, logger, metrics)
	lc := exchange.New(db, dispatcher, logger, exchange.WithJournal(db), exchange.WithMetrics(metrics))
	m := matcher.New(db, lc, dispatcher, logger, matcher.WithMetrics(metrics))

	router := NewRouter(HandlerConfig{
		Storage:   db,
		Matcher:   m,
		Lifecycle: lc,
		Logger:    logger,
		Gatherer:  reg,
	})
	return &testServer{t: t, router: router, db: db}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) expect(method, path, body string, code int) *httptest.ResponseRecorder {
	s.t.Helper()
	w := s.do(method, path, body)
	require.Equal(s.t, code, w.Code, "%s %s: %s", method, path, w.Body.String())
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// seed registers alice and bob, each offering one book
func (s *testServer) seed() {
	s.expect(http.MethodPost, "/members", `{"id":"alice","name":"Alice","email":"alice@example.com","address":{"city":"Riga"}}`, http.StatusCreated)
	s.expect(http.MethodPost, "/members", `{"id":"bob","name":"Bob","email":"bob@example.com","address":{"city":"Tartu"}}`, http.StatusCreated)
	s.expect(http.MethodPost, "/books", `{"id":"dune","title":"Dune","author":"Frank Herbert"}`, http.StatusCreated)
	s.expect(http.MethodPost, "/books", `{"id":"solaris","title":"Solaris","author":"Stanislaw Lem"}`, http.StatusCreated)

	for _, o := range [][2]string{{"bob", "dune"}, {"alice", "solaris"}} {
		s.expect(http.MethodPut, "/members/"+o[0]+"/library/"+o[1], "", http.StatusNoContent)
		s.expect(http.MethodPut, "/members/"+o[0]+"/offered/"+o[1], "", http.StatusNoContent)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.expect(http.MethodGet, "/health", "", http.StatusOK)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMembersAndLibrary(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	member := decode[models.Member](t, s.expect(http.MethodGet, "/members/bob", "", http.StatusOK))
	assert.Equal(t, "Tartu", member.Address.City)

	offered := decode[[]models.Book](t, s.expect(http.MethodGet, "/members/bob/offered", "", http.StatusOK))
	require.Len(t, offered, 1)
	assert.Equal(t, "Dune", offered[0].Title)

	// idempotent
	s.expect(http.MethodPut, "/members/bob/offered/dune", "", http.StatusNoContent)

	s.expect(http.MethodPut, "/members/alice/offered/dune", "", http.StatusBadRequest)
	s.expect(http.MethodGet, "/members/ghost/library", "", http.StatusNotFound)
	s.expect(http.MethodPost, "/members", `{"id":"bob","name":"Bob"}`, http.StatusConflict)
	s.expect(http.MethodPost, "/members", `{"name":"  "}`, http.StatusBadRequest)

	s.expect(http.MethodDelete, "/members/bob/offered/dune", "", http.StatusNoContent)
	offered = decode[[]models.Book](t, s.expect(http.MethodGet, "/members/bob/offered", "", http.StatusOK))
	assert.Empty(t, offered)
	library := decode[[]models.Book](t, s.expect(http.MethodGet, "/members/bob/library", "", http.StatusOK))
	assert.Len(t, library, 1)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	w := s.expect(http.MethodPost, "/requests", `{"sender_id":"alice","receiver_id":"alice","book_id":"dune"}`, http.StatusBadRequest)
	assert.Contains(t, w.Body.String(), "validation_failed")

	s.expect(http.MethodPost, "/requests", `{"sender_id":"alice"`, http.StatusBadRequest)
	s.expect(http.MethodPost, "/requests", `{"sender_id":"alice","receiver_id":"ghost","book_id":"dune"}`, http.StatusNotFound)
	// solaris is not offered by bob
	s.expect(http.MethodPost, "/requests", `{"sender_id":"alice","receiver_id":"bob","book_id":"solaris"}`, http.StatusBadRequest)
	s.expect(http.MethodGet, "/requests?status=PENDING", "", http.StatusBadRequest)
	s.expect(http.MethodGet, "/requests/missing", "", http.StatusNotFound)
}

func TestExchangeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	created := decode[models.Request](t, s.expect(http.MethodPost, "/requests",
		`{"sender_id":"alice","receiver_id":"bob","book_id":"dune","comment":"hardcover"}`, http.StatusCreated))
	assert.Equal(t, models.RequestActual, created.Status)

	listed := decode[[]models.Request](t, s.expect(http.MethodGet, "/requests?status=ACTUAL&member_id=bob", "", http.StatusOK))
	require.Len(t, listed, 1)

	// only the receiver may accept
	s.expect(http.MethodPost, "/requests/"+created.ID+"/accept", `{"actor_id":"alice","chosen_book_id":"solaris"}`, http.StatusBadRequest)

	ex := decode[models.Exchange](t, s.expect(http.MethodPost, "/requests/"+created.ID+"/accept",
		`{"actor_id":"bob","chosen_book_id":"solaris"}`, http.StatusCreated))
	assert.Equal(t, models.ExchangeConfirmed, ex.Status)
	assert.Equal(t, "Riga", ex.Address1.City)

	s.expect(http.MethodPost, "/requests/"+created.ID+"/accept", `{"actor_id":"bob","chosen_book_id":"solaris"}`, http.StatusConflict)
	s.expect(http.MethodPost, "/requests/"+created.ID+"/reject", `{"actor_id":"bob"}`, http.StatusConflict)

	path := "/exchanges/" + ex.ID
	s.expect(http.MethodPost, path+"/track", `{"member_id":"alice","track":" "}`, http.StatusBadRequest)
	s.expect(http.MethodPost, path+"/track", `{"member_id":"carol","track":"RR1"}`, http.StatusBadRequest)
	s.expect(http.MethodPost, path+"/track", `{"member_id":"alice","track":"RR123456785LV"}`, http.StatusOK)
	ex = decode[models.Exchange](t, s.expect(http.MethodPost, path+"/no-track", `{"member_id":"bob"}`, http.StatusOK))
	assert.Equal(t, models.ExchangeInProgress, ex.Status)

	s.expect(http.MethodPost, path+"/receive", `{"member_id":"alice"}`, http.StatusOK)
	ex = decode[models.Exchange](t, s.expect(http.MethodPost, path+"/receive", `{"member_id":"bob"}`, http.StatusOK))
	assert.Equal(t, models.ExchangeCompleted, ex.Status)

	s.expect(http.MethodPost, path+"/track", `{"member_id":"alice","track":"RR2"}`, http.StatusConflict)
	s.expect(http.MethodPost, path+"/problems", "", http.StatusConflict)
	s.expect(http.MethodPost, path+"/cancel", "", http.StatusConflict)

	library := decode[[]models.Book](t, s.expect(http.MethodGet, "/members/alice/library", "", http.StatusOK))
	require.Len(t, library, 1)
	assert.Equal(t, "dune", library[0].ID)

	history := decode[[]models.Event](t, s.expect(http.MethodGet, path+"/history", "", http.StatusOK))
	assert.NotEmpty(t, history)

	completed := decode[[]models.Exchange](t, s.expect(http.MethodGet, "/exchanges?status=COMPLETED&member_id=alice", "", http.StatusOK))
	assert.Len(t, completed, 1)
	s.expect(http.MethodGet, "/exchanges?status=DONE", "", http.StatusBadRequest)
	s.expect(http.MethodGet, "/exchanges/missing", "", http.StatusNotFound)
	s.expect(http.MethodGet, "/exchanges/missing/history", "", http.StatusNotFound)
}

func TestRejectAndCancel(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	declined := decode[models.Request](t, s.expect(http.MethodPost, "/requests",
		`{"sender_id":"alice","receiver_id":"bob","book_id":"dune"}`, http.StatusCreated))
	s.expect(http.MethodPost, "/requests/"+declined.ID+"/reject", `{"actor_id":"bob"}`, http.StatusNoContent)

	// accepting a rejected request opens nothing
	w := s.expect(http.MethodPost, "/requests/"+declined.ID+"/accept", `{"actor_id":"bob","chosen_book_id":"solaris"}`, http.StatusOK)
	assert.Contains(t, w.Body.String(), string(models.RequestRejected))

	again := decode[models.Request](t, s.expect(http.MethodPost, "/requests",
		`{"sender_id":"alice","receiver_id":"bob","book_id":"dune"}`, http.StatusCreated))
	ex := decode[models.Exchange](t, s.expect(http.MethodPost, "/requests/"+again.ID+"/accept",
		`{"actor_id":"bob","chosen_book_id":"solaris"}`, http.StatusCreated))

	// a fresh exchange is not stale yet
	s.expect(http.MethodPost, "/exchanges/"+ex.ID+"/problems", "", http.StatusConflict)

	ex = decode[models.Exchange](t, s.expect(http.MethodPost, "/exchanges/"+ex.ID+"/cancel", "", http.StatusOK))
	assert.Equal(t, models.ExchangeCancelledByAdmin, ex.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	s.expect(http.MethodPost, "/requests", `{"sender_id":"alice","receiver_id":"bob","book_id":"dune"}`, http.StatusCreated)

	w := s.expect(http.MethodGet, "/metrics", "", http.StatusOK)
	assert.Contains(t, w.Body.String(), "bookswap_requests_created_total 1")
}
