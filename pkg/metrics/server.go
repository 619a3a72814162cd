// HTTP handler for the Prometheus metrics endpoint
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package metrics

import (
	"net/http"
)

// Handler returns an http.Handler serving the registry in Prometheus
// text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
