package nrdp

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/corvidwatch/sentryd/internal/logging"
	"github.com/corvidwatch/sentryd/internal/objects"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.NewLogger(filepath.Join(t.TempDir(), "test.log"), "", objects.LogRotationNone, false, &objects.GlobalState{})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func newTestServer(t *testing.T, cfg Config) (*Server, chan *objects.CheckResult, *objects.ObjectStore) {
	t.Helper()
	store := objects.NewObjectStore()
	resultCh := make(chan *objects.CheckResult, 16)
	return New(cfg, store, resultCh, testLogger(t)), resultCh, store
}

// postForm fires an XMLDATA form submission at the handler directly.
func postForm(s *Server, remoteAddr, token, xmlData string) *httptest.ResponseRecorder {
	form := url.Values{"XMLDATA": {xmlData}}
	if token != "" {
		form.Set("token", token)
	}
	req := httptest.NewRequest(http.MethodPost, "/nrdp/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	s.handleSubmit(w, req)
	return w
}

func TestServerAcceptsLoopbackWithoutToken(t *testing.T) {
	s, resultCh, _ := newTestServer(t, Config{})
	w := postForm(s, "127.0.0.1:39000", "", sampleXML)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Processing 2 Results")
	require.Len(t, resultCh, 2)

	cr := <-resultCh
	require.Equal(t, "web-01", cr.HostName)
	require.Equal(t, "HTTP", cr.ServiceDescription)
	require.Equal(t, objects.CheckTypePassive, cr.CheckType)
	require.Equal(t, 2, cr.ReturnCode)
	require.True(t, cr.ExitedOK)
}

func TestServerRejectsRemoteWithoutToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	s, resultCh, _ := newTestServer(t, Config{TokenHash: string(hash)})

	w := postForm(s, "203.0.113.50:39000", "", sampleXML)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, resultCh)

	w = postForm(s, "203.0.113.50:39000", "wrong", sampleXML)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postForm(s, "203.0.113.50:39000", "hunter2", sampleXML)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resultCh, 2)
}

func TestServerRejectsRemoteWhenNoTokenConfigured(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})
	w := postForm(s, "203.0.113.50:39000", "anything", sampleXML)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServerMethodAndContentTypeChecks(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/nrdp/", nil)
	req.RemoteAddr = "127.0.0.1:39000"
	w := httptest.NewRecorder()
	s.handleSubmit(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/nrdp/", strings.NewReader("raw"))
	req.Header.Set("Content-Type", "text/plain")
	req.RemoteAddr = "127.0.0.1:39000"
	w = httptest.NewRecorder()
	s.handleSubmit(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "unsupported content type")
}

func TestServerRawJSONBody(t *testing.T) {
	s, resultCh, _ := newTestServer(t, Config{})
	body := `{"checkresults":[{"hostname":"db-01","servicename":"PGSQL","status":1,"output":"WARNING"}]}`
	req := httptest.NewRequest(http.MethodPost, "/nrdp/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "::1"
	w := httptest.NewRecorder()
	s.handleSubmit(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Len(t, resultCh, 1)
}

func TestServerDecodeFailure(t *testing.T) {
	s, resultCh, _ := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/nrdp/", strings.NewReader("<broken"))
	req.Header.Set("Content-Type", "application/xml")
	req.RemoteAddr = "127.0.0.1:1"
	w := httptest.NewRecorder()
	s.handleSubmit(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "payload decode failure")
	require.Empty(t, resultCh)
}

func TestServerSkipsHostlessResults(t *testing.T) {
	s, resultCh, _ := newTestServer(t, Config{})
	body := `{"checkresults":[
		{"hostname":"","status":0,"output":"no host"},
		{"hostname":"real","status":0,"output":"ok"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/nrdp/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:1"
	w := httptest.NewRecorder()
	s.handleSubmit(w, req)

	require.Contains(t, w.Body.String(), "Processing 1 Results")
	require.Len(t, resultCh, 1)
}

func TestServerDynamicRegistration(t *testing.T) {
	s, resultCh, store := newTestServer(t, Config{
		DynamicEnabled: true,
		DynamicTTL:     time.Hour,
		DynamicPrune:   time.Hour,
	})

	w := postForm(s, "127.0.0.1:39000", "", sampleXML)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resultCh, 2)

	h := store.GetHost("web-01")
	require.NotNil(t, h, "unknown host auto-registered")
	require.True(t, h.Dynamic)
	require.NotNil(t, store.GetService("web-01", "HTTP"))
}

func TestServerBackpressureDropsWhenChannelFull(t *testing.T) {
	store := objects.NewObjectStore()
	resultCh := make(chan *objects.CheckResult) // unbuffered, nothing draining
	s := New(Config{}, store, resultCh, testLogger(t))

	w := postForm(s, "127.0.0.1:39000", "", sampleXML)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Processing 0 Results")
}
