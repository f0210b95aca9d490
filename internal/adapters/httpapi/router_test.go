package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeSession struct {
	snap     session.Snapshot
	leaveErr error
	retryErr error
	leaves   int
	retries  int
}

func (f *fakeSession) Snapshot() session.Snapshot { return f.snap }

func (f *fakeSession) LeaveRoom(context.Context) error {
	f.leaves++
	return f.leaveErr
}

func (f *fakeSession) ManualRetry(context.Context) error {
	f.retries++
	return f.retryErr
}

func serve(t *testing.T, sess Session, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := SetupRouter("release", sess, prometheus.NewRegistry())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := serve(t, &fakeSession{}, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestStatusServesSnapshot(t *testing.T) {
	fake := &fakeSession{snap: session.Snapshot{
		State:  session.StateInRoom,
		RoomID: "standup",
		Self:   domain.Peer{ID: "p1", DisplayName: "alice"},
		Peers: []domain.Peer{
			{ID: "p2", DisplayName: "bob"},
		},
		PeerCount:     2,
		SendTransport: domain.TransportConnected,
		RecvTransport: domain.TransportConnected,
	}}

	w := serve(t, fake, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, session.StateInRoom, got.State)
	assert.Equal(t, domain.RoomID("standup"), got.RoomID)
	assert.Equal(t, 2, got.PeerCount)
	assert.Equal(t, domain.TransportConnected, got.SendTransport)
}

func TestPeersEndpoint(t *testing.T) {
	fake := &fakeSession{snap: session.Snapshot{
		Self:   domain.Peer{ID: "p1", DisplayName: "alice"},
		HostID: "p2",
		Peers: []domain.Peer{
			{ID: "p2", DisplayName: "bob", Host: true},
			{ID: "p3", DisplayName: "carol"},
		},
		PeerCount: 3,
	}}

	w := serve(t, fake, http.MethodGet, "/api/peers")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Self   domain.Peer   `json:"self"`
		HostID domain.PeerID `json:"hostId"`
		Peers  []domain.Peer `json:"peers"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.PeerID("p1"), got.Self.ID)
	assert.Equal(t, domain.PeerID("p2"), got.HostID)
	assert.Len(t, got.Peers, 2)
	assert.Equal(t, 3, got.Count)
}

func TestLeaveCallsSession(t *testing.T) {
	fake := &fakeSession{}
	w := serve(t, fake, http.MethodPost, "/api/leave")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fake.leaves)
}

func TestRetryConflictWhenUnavailable(t *testing.T) {
	fake := &fakeSession{retryErr: session.ErrRetryUnavailable}
	w := serve(t, fake, http.MethodPost, "/api/retry")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, fake.retries)
}

func TestRetryReportsServerFailure(t *testing.T) {
	fake := &fakeSession{retryErr: errors.New("dial tcp: connection refused")}
	w := serve(t, fake, http.MethodPost, "/api/retry")
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestMetricsServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordReconnect()
	m.SetRosterSize(3)

	r := SetupRouter("release", &fakeSession{}, reg)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "meet_signal_reconnects_total 1")
	assert.Contains(t, body, "meet_room_roster_peers 3")
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	r := SetupRouter("release", &fakeSession{}, prometheus.NewRegistry())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
