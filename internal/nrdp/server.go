package nrdp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/corvidwatch/sentryd/internal/logging"
	"github.com/corvidwatch/sentryd/internal/objects"
)

// Config holds the NRDP relay's listener and policy settings.
type Config struct {
	Listen         string // e.g. ":5668"
	Path           string // URL path, e.g. "/nrdp/"
	TokenHash      string // bcrypt hash of the accepted token
	DynamicEnabled bool   // auto-register unknown hosts/services
	DynamicTTL     time.Duration
	DynamicPrune   time.Duration
	SSLCert        string
	SSLKey         string
}

// Server accepts NRDP passive check submissions over HTTP and feeds them
// into the same result channel active checks use; it is a producer onto the
// scheduler's pipeline, not a second processing path.
type Server struct {
	cfg      Config
	store    *objects.ObjectStore
	resultCh chan<- *objects.CheckResult
	logger   *logging.Logger
	tracker  *DynamicTracker
	httpSrv  *http.Server
}

func New(cfg Config, store *objects.ObjectStore, resultCh chan<- *objects.CheckResult, logger *logging.Logger) *Server {
	s := &Server{cfg: cfg, store: store, resultCh: resultCh, logger: logger}
	if cfg.DynamicEnabled {
		s.tracker = NewDynamicTracker(store, cfg.DynamicTTL, cfg.DynamicPrune)
		s.tracker.SetLogger(func(format string, args ...interface{}) {
			logger.Log(format, args...)
		})
	}
	return s
}

// Start binds the listener and serves in the background. TLS is used when
// both cert and key paths are configured.
func (s *Server) Start() error {
	path := s.cfg.Path
	if path == "" {
		path = "/nrdp/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleSubmit)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.tracker != nil {
		s.tracker.StartPruner()
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("nrdp: listen %s: %w", s.cfg.Listen, err)
	}
	go func() {
		var serveErr error
		if s.cfg.SSLCert != "" && s.cfg.SSLKey != "" {
			serveErr = s.httpSrv.ServeTLS(ln, s.cfg.SSLCert, s.cfg.SSLKey)
		} else {
			serveErr = s.httpSrv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Log("NRDP server error: %v", serveErr)
		}
	}()
	return nil
}

// Stop shuts the relay down, bounding the drain at a few seconds.
func (s *Server) Stop() {
	if s.tracker != nil {
		s.tracker.Stop()
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(ctx)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	reqID := NewRequestID()

	if r.Method != http.MethodPost {
		s.respond(w, FormatRawJSON, reqID, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	if !s.authorized(r) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("authorization failed\n"))
		return
	}

	// The body is needed twice: once raw (for xml/json content types) and
	// once through ParseForm (for form posts), so it is buffered up front.
	raw, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		s.respond(w, FormatRawJSON, reqID, http.StatusInternalServerError, "failed to read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ParseForm()

	format := DetectFormat(r.Header.Get("Content-Type"), r.Form)
	if format == FormatUnknown {
		s.respond(w, FormatRawJSON, reqID, http.StatusInternalServerError, "unsupported content type")
		return
	}

	subs, err := DecodeSubmissions(format, raw, r.Form)
	if err != nil {
		s.respond(w, format, reqID, http.StatusInternalServerError, fmt.Sprintf("payload decode failure: %v", err))
		return
	}

	accepted := s.ingest(subs, SourceTag(format, r.RemoteAddr), reqID)
	msg := fmt.Sprintf("Processing %d Results", accepted)
	s.logger.Log("NRDP [%s] %s from %s (%s)", reqID, msg, r.RemoteAddr, format)
	s.respond(w, format, reqID, http.StatusOK, msg)
}

// ingest converts decoded submissions into CheckResults on the pipeline,
// registering dynamic hosts/services first when that is enabled.
func (s *Server) ingest(subs []Submission, source, reqID string) int {
	accepted := 0
	for _, sub := range subs {
		if sub.Host == "" {
			continue
		}
		sub.Via = source

		if s.tracker != nil {
			s.store.Mu.Lock()
			if sub.Service != "" {
				s.tracker.EnsureService(sub.Host, sub.Service)
			} else {
				s.tracker.EnsureHost(sub.Host)
			}
			s.store.Mu.Unlock()
			s.tracker.Touch(sub.Host, sub.Service)
		}

		cr := &objects.CheckResult{
			HostName:           sub.Host,
			ServiceDescription: sub.Service,
			CheckType:          objects.CheckTypePassive,
			ReturnCode:         sub.State,
			Output:             sub.Output,
			StartTime:          sub.At,
			FinishTime:         time.Now(),
			ExitedOK:           true,
		}
		select {
		case s.resultCh <- cr:
			accepted++
		default:
			s.logger.Log("NRDP [%s] result channel full, dropping result for %s/%s",
				reqID, sub.Host, sub.Service)
		}
	}
	return accepted
}

// authorized verifies the submission token against the configured bcrypt
// hash. Loopback clients are trusted without a token.
func (s *Server) authorized(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}

	if s.cfg.TokenHash == "" {
		return false
	}
	token := r.FormValue("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.cfg.TokenHash), []byte(token)) == nil
}

func (s *Server) respond(w http.ResponseWriter, format Format, reqID string, status int, message string) {
	body, ct := Reply(format, reqID, status, message)
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	w.Write(body)
}
