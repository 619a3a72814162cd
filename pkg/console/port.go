// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package console

import (
	"fmt"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/TimRosener/SkullStepperV4/pkg/config"
	"github.com/TimRosener/SkullStepperV4/pkg/log"
)

// Server runs a Session over a serial port.
type Server struct {
	port serial.Port
	sess *Session
	log  *log.Logger

	closed atomic.Bool
	done   chan struct{}
}

// Serve opens the serial port and starts interpreting commands on it.
func Serve(ctrl Controller, store *config.Store, portName string, baud int) (*Server, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("console: open %s: %w", portName, err)
	}

	srv := &Server{
		port: port,
		sess: NewSession(ctrl, store, port),
		log:  log.GetLogger("console"),
		done: make(chan struct{}),
	}
	srv.log.Info("serving on %s at %d baud", portName, baud)
	go srv.run()
	return srv, nil
}

func (s *Server) run() {
	defer close(s.done)
	s.sess.Run(s.port)
	if !s.closed.Load() {
		s.log.Warn("serial session ended")
	}
}

// Close shuts the port down and waits for the reader to exit.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.port.Close()
	<-s.done
	return err
}
