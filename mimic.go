/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Mimic Game
//
// One player records a short clip, everyone else tries to mimic it, then
// all players vote for the best mimic. 3 points for a first choice, 1 for a
// second. Rounds advance on deadlines; the scoreboard waits for anyone to
// start the next round, with the lead passed along in join order.
//
// Routes, relative to the game path:
//   - $path                 → redirects to a new random session
//   - $path/:code           → HTML client
//   - $path/:code/join      → join by display name
//   - $path/:code/lead      → lead clip upload
//   - $path/:code/replicate → mimic upload
//   - $path/:code/vote      → first and second choice
//   - $path/:code/advance   → start the next round
//   - $path/:code/state     → personalized snapshot
//   - $path/:code/ws        → live snapshots
//   - $path/:code/qr        → PNG QR code for the session URL
//   - /audio/:code/*clip    → recorded clips

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const playerCookiePrefix = "mimicbox_"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type joinResponse struct {
	Code     string   `json:"code"`
	PlayerID string   `json:"playerId"`
	State    Snapshot `json:"state"`
}

type uploadResponse struct {
	OK          bool   `json:"ok"`
	LeadClipURL string `json:"leadClipUrl,omitempty"`
	ClipURL     string `json:"clipUrl,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(cfg *Config, w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("client", realIP(r)).Msg("request failed")
		msg = "an internal error has occurred"
	}

	writeJSON(cfg, w, status, errorResponse{Error: msg})
}

func sessionCode(ps httprouter.Params) (string, error) {
	code := normalizeCode(ps.ByName("code"))
	if code == "" {
		return "", ErrInvalidCode
	}
	return code, nil
}

// existingSession resolves :code to a session that a player has already
// joined.
func existingSession(gm *GameManager, ps httprouter.Params) (*Session, string, error) {
	code, err := sessionCode(ps)
	if err != nil {
		return nil, "", err
	}

	s, ok := gm.lookup(code)
	if !ok {
		return nil, "", ErrNoSession
	}

	return s, code, nil
}

func setPlayerCookie(cfg *Config, w http.ResponseWriter, path, code, playerID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     playerCookiePrefix + code,
		Value:    playerID,
		Path:     cfg.prefix + path + "/" + code,
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// playerIDFrom prefers an explicit playerId and falls back to the cookie set
// on join.
func playerIDFrom(r *http.Request, code string) string {
	if id := r.FormValue("playerId"); id != "" {
		return id
	}
	if c, err := r.Cookie(playerCookiePrefix + code); err == nil {
		return c.Value
	}
	return ""
}

// readClip accepts either a raw request body or a multipart "file" field.
func readClip(cfg *Config, w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	const multipartOverhead = 1 << 16

	r.Body = http.MaxBytesReader(w, r.Body, cfg.maxClipSize+multipartOverhead)

	contentType := r.Header.Get("Content-Type")

	var (
		data []byte
		err  error
	)

	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			var maxErr *http.MaxBytesError
			if errors.As(ferr, &maxErr) {
				return nil, "", ErrClipTooLarge
			}
			return nil, "", ferr
		}
		defer file.Close()

		contentType = header.Header.Get("Content-Type")
		data, err = io.ReadAll(io.LimitReader(file, cfg.maxClipSize+1))
	} else {
		data, err = io.ReadAll(r.Body)
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return nil, "", ErrClipTooLarge
	}
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > cfg.maxClipSize {
		return nil, "", ErrClipTooLarge
	}

	return data, contentType, nil
}

func serveJoin(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code, err := sessionCode(ps)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		_, playerID, snap, err := gm.join(code, r.FormValue("name"))
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		setPlayerCookie(cfg, w, path, code, playerID)

		writeJSON(cfg, w, http.StatusOK, joinResponse{
			Code:     code,
			PlayerID: playerID,
			State:    snap,
		})
	}
}

func serveUpload(cfg *Config, gm *GameManager, role ClipRole) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		s, code, err := existingSession(gm, ps)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		data, contentType, err := readClip(cfg, w, r)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		playerID := playerIDFrom(r, code)

		var resp uploadResponse

		switch role {
		case RoleLead:
			resp.LeadClipURL, err = s.SubmitLead(playerID, data, contentType)
		default:
			resp.ClipURL, err = s.SubmitReplicate(playerID, data, contentType)
		}
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		resp.OK = true
		writeJSON(cfg, w, http.StatusOK, resp)

		log.Info().
			Str("session", code).
			Str("role", string(role)).
			Str("size", humanReadableSize(int64(len(data)))).
			Str("client", realIP(r)).
			Dur("elapsed", time.Since(startTime).Round(time.Microsecond)).
			Msg("clip uploaded")
	}
}

func serveVote(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, code, err := existingSession(gm, ps)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		err = s.SubmitVote(playerIDFrom(r, code), r.FormValue("first"), r.FormValue("second"))
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, okResponse{OK: true})
	}
}

func serveAdvance(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, _, err := existingSession(gm, ps)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		if err := s.Advance(); err != nil {
			writeError(cfg, w, r, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, okResponse{OK: true})
	}
}

func serveState(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, code, err := existingSession(gm, ps)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, s.Snapshot(playerIDFrom(r, code)))
	}
}

func rejectConn(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeUnknownPlayer, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

// serveWS upgrades the connection and waits for an init frame naming a
// player before attaching it to the session.
func serveWS(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code, err := sessionCode(ps)
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("client", realIP(r)).Msg("websocket upgrade failed")
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))

		var init ClientMessage
		if err := conn.ReadJSON(&init); err != nil {
			_ = conn.Close()
			return
		}

		if init.Type != "init" {
			rejectConn(conn, "expected init")
			return
		}

		s, ok := gm.lookup(code)
		if !ok || init.PlayerID == "" {
			rejectConn(conn, "unknown player")
			return
		}

		client := newClient(conn, init.PlayerID)
		if err := s.attach(client); err != nil {
			rejectConn(conn, "unknown player")
			return
		}

		go client.writePump()
		client.readPump(s)
	}
}

func serveClip(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		f, info, err := gm.clips.Open(normalizeCode(ps.ByName("code")), ps.ByName("clip"))
		if err != nil {
			writeError(cfg, w, r, err)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", contentTypeFor(info.Name()))
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		securityHeaders(cfg, w)

		http.ServeContent(w, r, info.Name(), info.ModTime(), f)

		log.Info().
			Str("clip", r.URL.Path).
			Str("size", humanReadableSize(info.Size())).
			Str("client", realIP(r)).
			Dur("elapsed", time.Since(startTime).Round(time.Microsecond)).
			Msg("clip served")
	}
}

// qrHandler generates a PNG QR code for the current session URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if normalizeCode(ps.ByName("code")) == "" {
		http.Error(w, "missing session code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:code/qr; strip trailing "/qr" to get the session URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewGame handles GET /path by generating a new random session code
// and redirecting to /path/:code.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := gm.newCode()
		log.Info().Str("session", code).Msg("new session code issued")
		http.Redirect(w, r, cfg.prefix+path+"/"+code, http.StatusTemporaryRedirect)
	}
}

func registerMimicGame(cfg *Config, path string, mux *httprouter.Router, gm *GameManager) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:code", serveGamePage(cfg))

	mux.POST(cfg.prefix+path+"/:code/join", serveJoin(cfg, path, gm))
	mux.POST(cfg.prefix+path+"/:code/lead", serveUpload(cfg, gm, RoleLead))
	mux.POST(cfg.prefix+path+"/:code/replicate", serveUpload(cfg, gm, RoleReplicate))
	mux.POST(cfg.prefix+path+"/:code/vote", serveVote(cfg, gm))
	mux.POST(cfg.prefix+path+"/:code/advance", serveAdvance(cfg, gm))
	mux.GET(cfg.prefix+path+"/:code/state", serveState(cfg, gm))
	mux.GET(cfg.prefix+path+"/:code/ws", serveWS(cfg, gm))
	mux.GET(cfg.prefix+path+"/:code/qr", qrHandler)

	mux.GET(cfg.prefix+"/audio/:code/*clip", serveClip(cfg, gm))
}
