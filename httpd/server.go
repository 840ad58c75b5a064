package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/wind"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
)

// Server is the local status server. It only listens while the device has
// an address.
type Server struct {
	Addr    string
	Version string
	History *wind.History
	Fabric  *bus.Fabric

	srv *http.Server
}

type webdata struct {
	TimeNow string `json:"time"`
	wind.Snapshot
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.index)
	mux.HandleFunc("/wind", s.windData)
	mux.HandleFunc("/ota", s.ota)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) index(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(rw, "%v\n", s.Version)
}

func (s *Server) windData(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	wd := webdata{
		TimeNow:  time.Now().Format(time.RFC822),
		Snapshot: s.History.Snapshot(),
	}

	js, err := json.Marshal(wd)
	if err != nil {
		logger.Errorf("JSON error [%v]", err)
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Debugf("Web read: \n[%v]", string(js))
	_, _ = rw.Write(js)
}

// ota accepts the firmware url or key as the request body or the "url" form
// value.
func (s *Server) ota(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := ""
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		target = r.FormValue("url")
	} else {
		b, err := io.ReadAll(io.LimitReader(r.Body, 2048))
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		target = string(b)
	}
	target = strings.TrimSpace(target)
	if target == "" {
		http.Error(rw, "missing firmware url", http.StatusBadRequest)
		return
	}
	logger.Infof("OTA update requested over http [%v]", target)
	s.Fabric.RequestOTA(target)
	rw.WriteHeader(http.StatusAccepted)
}

func (s *Server) start() error {
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: time.Second * 10}
	s.srv = srv
	logger.Infof("Starting webservice on [%v]", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Webservice failed [%v]", err)
		}
	}()
	return nil
}

func (s *Server) stop() {
	if s.srv == nil {
		return
	}
	logger.Info("Stopping webservice")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warnf("Webservice shutdown [%v]", err)
	}
	s.srv = nil
}

// Running reports whether the server is listening. Only safe from the Run
// goroutine or once Run has returned.
func (s *Server) Running() bool {
	return s.srv != nil
}

// Run starts the server on IP assignment and stops it on disconnect. It
// returns when an OTA update starts.
func (s *Server) Run(ctx context.Context, network *bus.Subscription[bus.NetworkStateChange], events *bus.Subscription[bus.ApplicationStateChange]) error {
	defer s.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-network.C():
			switch ev.Event {
			case bus.IPAddressAssigned:
				if err := s.start(); err != nil {
					logger.Errorf("Failed to start webservice [%v]", err)
				}
			case bus.WifiDisconnected:
				s.stop()
			}
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				logger.Info("OTA Update started, shutting down webservice")
				return nil
			}
		}
	}
}
