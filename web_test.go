/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticRoutes(t *testing.T) {
	cfg := validConfig()
	gm, _ := newTestManager(t, testRules())
	mux := newRouter(cfg, gm, make(chan error, 16))

	tests := []struct {
		path        string
		status      int
		contentType string
		contains    string
	}{
		{"/healthz", http.StatusOK, "text/plain; charset=utf-8", "Ok"},
		{"/version", http.StatusOK, "text/plain; charset=utf-8", "mimicbox v" + releaseVersion},
		{"/robots.txt", http.StatusOK, "text/plain; charset=utf-8", "Disallow: /audio/"},
		{"/mimic/ABCD", http.StatusOK, "text/html; charset=utf-8", "app.js"},
		{"/assets/mimic/app.js", http.StatusOK, "text/javascript; charset=utf-8", "MediaRecorder"},
		{"/assets/mimic/app.css", http.StatusOK, "text/css; charset=utf-8", "#vote-clips"},
		{"/assets/mimic/missing.js", http.StatusNotFound, "", ""},
		{"/favicons/favicon.svg", http.StatusOK, "image/svg+xml", "<svg"},
		{"/favicons/site.webmanifest", http.StatusOK, "application/manifest+json", "mimicbox"},
		{"/", http.StatusTemporaryRedirect, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.contentType != "" && rec.Header().Get("Content-Type") != tt.contentType {
				t.Fatalf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tt.contentType)
			}

			body, _ := io.ReadAll(rec.Body)
			if !strings.Contains(string(body), tt.contains) {
				t.Fatalf("body does not contain %q", tt.contains)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	cfg := validConfig()

	rec := httptest.NewRecorder()
	securityHeaders(cfg, rec)

	if got := rec.Header().Get("Permissions-Policy"); !strings.Contains(got, "microphone=(self)") {
		t.Fatalf("Permissions-Policy = %q", got)
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS sent over plain http")
	}

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	rec = httptest.NewRecorder()
	securityHeaders(cfg, rec)

	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("HSTS missing with tls enabled")
	}
}

func TestPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.prefix = "/games"

	gm := newGameManager(nil, nil, testRules(), cfg.prefix)
	mux := newRouter(cfg, gm, make(chan error, 16))

	for _, path := range []string{"/games/healthz", "/games/assets/mimic/app.js", "/games/mimic/ABCD"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	if got := gm.clipURL("ABCD", "round_1/lead_x.webm"); got != "/games/audio/ABCD/round_1/lead_x.webm" {
		t.Fatalf("clipURL = %q", got)
	}
}

func TestCORS(t *testing.T) {
	cfg := validConfig()
	gm, _ := newTestManager(t, testRules())
	h := withCORS(cfg, newRouter(cfg, gm, make(chan error, 16)))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://elsewhere.example")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}

	cfg.corsOrigins = nil
	rec = httptest.NewRecorder()
	withCORS(cfg, newRouter(cfg, gm, make(chan error, 16))).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q without configured origins", got)
	}
}
