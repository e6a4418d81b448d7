// Package health serves the operational endpoints: a liveness check, a
// plain-text view of the current schedule, and optionally net/http/pprof.
// It is meant for loopback use; binding elsewhere requires an explicit
// opt-in since none of the endpoints carry auth.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"hueplan/internal/config"
	"hueplan/internal/runtime/supervisor"
	"hueplan/internal/schedule"
	"hueplan/pkg/logx"
)

// Service is the health HTTP server.
type Service struct {
	cfg       config.HealthConfig
	scheduler *schedule.Scheduler
	sup       *supervisor.Supervisor
	log       logx.Logger
	started   time.Time
}

func New(cfg config.HealthConfig, sched *schedule.Scheduler, sup *supervisor.Supervisor, log logx.Logger) *Service {
	return &Service{
		cfg:       cfg,
		scheduler: sched,
		sup:       sup,
		log:       log,
		started:   time.Now(),
	}
}

type status struct {
	Status   string              `json:"status"`
	Uptime   string              `json:"uptime"`
	Tasks    int                 `json:"tasks"`
	Routines supervisor.Snapshot `json:"routines"`
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := status{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.scheduler != nil {
		st.Tasks = len(s.scheduler.GetSchedule())
	}
	if s.sup != nil {
		st.Routines = s.sup.Snapshot()
		if st.Routines.FirstError != "" {
			st.Status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (s *Service) handleSchedule(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.scheduler == nil {
		_, _ = w.Write([]byte("no scheduler\n"))
		return
	}
	now := time.Now().In(s.scheduler.Location())
	_, _ = w.Write([]byte(schedule.RenderSchedule(s.scheduler.GetSchedule(), now)))
}

func (s *Service) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/schedule", s.handleSchedule)
	if s.cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Run serves until ctx is cancelled. It returns nil on a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	if s.cfg.EnablePprof && !isLoopbackAddr(addr) {
		return errors.New("health: pprof on a non-loopback address is not supported")
	}
	if !isLoopbackAddr(addr) {
		s.log.Warn("health endpoints exposed beyond loopback", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.mux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("health server started", logx.String("addr", ln.Addr().String()))
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}
