// Package web provides the HTTP and WebSocket front end: REST
// endpoints for status, commands and configuration, plus a periodic
// status push for browser clients.
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.
package web

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TimRosener/SkullStepperV4/pkg/config"
	"github.com/TimRosener/SkullStepperV4/pkg/log"
	"github.com/TimRosener/SkullStepperV4/pkg/motion"
)

// statusPushInterval is the WebSocket broadcast cadence.
const statusPushInterval = 250 * time.Millisecond

// Controller is the slice of the motion controller the web front end
// uses.
type Controller interface {
	Enqueue(source string, cmd motion.Command) bool
	Admit(cmd motion.Command) error
	Status() (motion.Snapshot, bool)
	EmergencyStop()
	Profile() motion.Profile
	OperatingLimits() (min, max int32, ok bool)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	ctrl  Controller
	store *config.Store
	addr  string
	log   *log.Logger

	httpServer *http.Server

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	running atomic.Bool
	done    chan struct{}
}

// New creates an API server on addr.
func New(ctrl Controller, store *config.Store, addr string) *Server {
	s := &Server{
		ctrl:      ctrl,
		store:     store,
		addr:      addr,
		log:       log.GetLogger("web"),
		wsClients: make(map[int64]*wsClient),
		done:      make(chan struct{}),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// The controller lives on a trusted prop network.
			return true
		},
	}
	return s
}

// Handler returns the routed handler. Split out so tests can drive the
// API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return s.corsMiddleware(mux)
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.running.Store(true)
	s.log.Info("api server starting on %s", s.addr)

	go s.statusPushLoop()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.done)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// commandRequest is the POST /api/command body.
type commandRequest struct {
	Command string   `json:"command"`
	Value   *float64 `json:"value,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	snap, ok := s.ctrl.Status()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "status busy, retry")
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	cmd, err := s.buildCommand(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Emergency stop bypasses the queue entirely.
	if _, isEstop := cmd.(motion.EmergencyStopCmd); isEstop {
		s.ctrl.EmergencyStop()
		s.writeJSON(w, map[string]any{"ok": true})
		return
	}

	if err := s.ctrl.Admit(cmd); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if !s.ctrl.Enqueue(motion.SourceWeb, cmd) {
		s.writeError(w, http.StatusServiceUnavailable, "command queue full")
		return
	}
	s.writeJSON(w, map[string]any{"ok": true})
}

// buildCommand maps a request to a motion command.
func (s *Server) buildCommand(req commandRequest) (motion.Command, error) {
	needValue := func() (float64, error) {
		if req.Value == nil {
			return 0, fmt.Errorf("command %q needs a value", req.Command)
		}
		return *req.Value, nil
	}

	switch strings.ToLower(req.Command) {
	case "move":
		v, err := needValue()
		if err != nil {
			return nil, err
		}
		return motion.MoveAbsolute{Target: int32(v), Profile: s.ctrl.Profile()}, nil
	case "moverel":
		v, err := needValue()
		if err != nil {
			return nil, err
		}
		return motion.MoveRelative{Delta: int32(v), Profile: s.ctrl.Profile()}, nil
	case "movehome":
		min, max, ok := s.ctrl.OperatingLimits()
		if !ok {
			return nil, fmt.Errorf("not homed")
		}
		pct := s.store.Get().Homing.ReferencePercent
		target := min + int32(math.Round(float64(max-min)*pct/100))
		return motion.MoveAbsolute{Target: target, Profile: s.ctrl.Profile()}, nil
	case "speed":
		v, err := needValue()
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("bad speed %v", v)
		}
		return motion.SetSpeed{Speed: v}, nil
	case "accel":
		v, err := needValue()
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("bad acceleration %v", v)
		}
		return motion.SetAcceleration{Accel: v}, nil
	case "home":
		return motion.HomeCmd{}, nil
	case "stop":
		return motion.StopCmd{}, nil
	case "estop", "emergency":
		return motion.EmergencyStopCmd{}, nil
	case "enable":
		return motion.EnableCmd{}, nil
	case "disable":
		return motion.DisableCmd{}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
}

// configRequest is the POST /api/config body. Exactly one of the field
// groups may be used per request.
type configRequest struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	Reset string `json:"reset,omitempty"` // parameter key, or "all"
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.store.Get())
	case http.MethodPost:
		var req configRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad request body")
			return
		}
		var err error
		switch {
		case req.Reset == "all":
			s.store.ResetAll()
		case req.Reset != "":
			err = s.store.ResetField(req.Reset)
		case req.Key != "":
			err = s.store.SetField(req.Key, req.Value)
		default:
			s.writeError(w, http.StatusBadRequest, "need key/value or reset")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.store.Commit(); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, map[string]any{"ok": true})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
