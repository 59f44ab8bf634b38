/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

// registerProfileHandlers exposes net/http/pprof. Session locks show up
// under the mutex and block profiles.
func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	base := cfg.prefix + "/pprof"

	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handler("GET", base+"/"+name, pprof.Handler(name))
	}

	mux.HandlerFunc("GET", base+"/", pprof.Index)
	mux.HandlerFunc("GET", base+"/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", base+"/profile", pprof.Profile)
	mux.HandlerFunc("GET", base+"/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", base+"/trace", pprof.Trace)

	log.Info().Str("path", base).Msg("profiling handlers registered")
}
