package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fifthbell/caupolican/internal/config"
	"github.com/fifthbell/caupolican/internal/relay"
)

type fakeManager struct {
	setSourceErr error
	statuses     map[string]relay.Status
	setSourceArg struct{ channelID, url string }
}

func newFakeManager() *fakeManager {
	return &fakeManager{statuses: map[string]relay.Status{}}
}

func (m *fakeManager) SetSource(ctx context.Context, channelID, url string) error {
	m.setSourceArg.channelID, m.setSourceArg.url = channelID, url
	return m.setSourceErr
}
func (m *fakeManager) StopSource(channelID string) error     { return nil }
func (m *fakeManager) ResetSegments(channelID string) error  { return nil }
func (m *fakeManager) DeleteChannel(channelID string) error  { return nil }
func (m *fakeManager) Status(channelID string) (relay.Status, error) {
	st, ok := m.statuses[channelID]
	if !ok {
		return relay.Status{}, relay.ErrChannelNotFound
	}
	return st, nil
}
func (m *fakeManager) ListChannels() []relay.Status {
	out := make([]relay.Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	return out
}

func testServer(mgr Manager) *httptest.Server {
	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, mgr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return httptest.NewServer(s.httpServer.Handler)
}

func TestHandleHealth(t *testing.T) {
	ts := testServer(newFakeManager())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleSetSource(t *testing.T) {
	mgr := newFakeManager()
	ts := testServer(mgr)
	defer ts.Close()

	body, _ := json.Marshal(setSourceRequest{URL: "rtmp://example/live"})
	resp, err := http.Post(ts.URL+"/api/channels/ch1/set-source", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "ch1", mgr.setSourceArg.channelID)
	assert.Equal(t, "rtmp://example/live", mgr.setSourceArg.url)
}

func TestHandleSetSource_MissingURL(t *testing.T) {
	ts := testServer(newFakeManager())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/channels/ch1/set-source", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatus_NotFound(t *testing.T) {
	ts := testServer(newFakeManager())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/channels/missing/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStatus_Found(t *testing.T) {
	mgr := newFakeManager()
	mgr.statuses["ch1"] = relay.Status{ChannelID: "ch1", Active: true}
	ts := testServer(mgr)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/channels/ch1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st relay.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Active)
}
