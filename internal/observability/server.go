// Package observability serves Prometheus metrics, a JSON status snapshot
// and, optionally, pprof on a small HTTP server.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "tweetfeeder/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9464"

type Config struct {
	Addr string
	// Pprof mounts /debug/pprof/. Only honoured on loopback addresses.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StatusFunc returns a JSON-serializable snapshot for /status.
type StatusFunc func() any

type Server struct {
	cfg    Config
	log    logx.Logger
	status StatusFunc
}

func New(cfg Config, status StatusFunc, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// pprof profile requests stream for up to 30s by default.
		cfg.WriteTimeout = 40 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log, status: status}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var v any
		if s.status != nil {
			v = s.status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})

	if s.cfg.Pprof {
		if isLoopbackAddr(s.cfg.Addr) {
			mux.HandleFunc("/debug/pprof/", hpprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		} else {
			s.log.Error("pprof not mounted: non-loopback addr", logx.String("addr", s.cfg.Addr))
		}
	}
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("observability server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("observability server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		// ":9464" binds every interface.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
