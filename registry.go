/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	codeLength    = 4
	maxCodeLength = 16
)

// GameManager holds a set of sessions keyed by code, so each $path/$code
// is its own isolated game.
type GameManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	clock       clockwork.Clock
	clips       *ClipStore
	rules       Rules
	prefix      string
	idleTimeout time.Duration
}

func newGameManager(clock clockwork.Clock, clips *ClipStore, rules Rules, prefix string) *GameManager {
	return &GameManager{
		sessions: make(map[string]*Session),
		clock:    clock,
		clips:    clips,
		rules:    rules,
		prefix:   prefix,
	}
}

// normalizeCode keeps letters and digits and upper-cases them. An empty
// result means the code is unusable.
func normalizeCode(code string) string {
	code = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, code)

	code = cases.Upper(language.Und).String(code)

	if r := []rune(code); len(r) > maxCodeLength {
		code = string(r[:maxCodeLength])
	}

	return code
}

// getOrCreate returns the session for code, registering a new one if this
// is the first reference. code must already be normalized and non-empty.
func (gm *GameManager) getOrCreate(code string) *Session {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if s, ok := gm.sessions[code]; ok {
		return s
	}

	s := newSession(gm, code)
	gm.sessions[code] = s

	log.Info().Str("session", code).Msg("session created")

	return s
}

// join adds name to the session for code. A session reaped between the
// registry lookup and the join is replaced by a fresh one.
func (gm *GameManager) join(code, name string) (*Session, string, Snapshot, error) {
	for {
		s := gm.getOrCreate(code)

		id, snap, err := s.Join(name)
		if errors.Is(err, errSessionReaped) {
			continue
		}

		return s, id, snap, err
	}
}

func (gm *GameManager) lookup(code string) (*Session, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	s, ok := gm.sessions[code]
	return s, ok
}

// all returns a copy of the registered sessions, so callers can walk them
// without holding the registry lock.
func (gm *GameManager) all() []*Session {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	out := make([]*Session, 0, len(gm.sessions))
	for _, s := range gm.sessions {
		out = append(out, s)
	}
	return out
}

// newCode generates a crypto-random session code and ensures it doesn't
// collide with existing sessions.
func (gm *GameManager) newCode() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	const max = byte(255 - (256 % len(letters)))

	for {
		out := make([]byte, 0, codeLength)
		buf := make([]byte, codeLength*2)

		for len(out) < codeLength {
			if _, err := rand.Read(buf); err != nil {
				panic("crypto/rand failure: " + err.Error())
			}
			for _, b := range buf {
				if b <= max && len(out) < codeLength {
					out = append(out, letters[int(b)%len(letters)])
				}
			}
		}

		if _, exists := gm.lookup(string(out)); !exists {
			return string(out)
		}
	}
}

func (gm *GameManager) clipURL(code, ref string) string {
	return gm.prefix + "/audio/" + code + "/" + ref
}

// reap removes sessions that have had no connections and no activity for
// idleTimeout, along with their stored clips.
func (gm *GameManager) reap(now time.Time) []string {
	cutoff := now.Add(-gm.idleTimeout)

	var reaped []*Session

	gm.mu.Lock()
	for code, s := range gm.sessions {
		if s.reapIfIdle(cutoff) {
			delete(gm.sessions, code)
			reaped = append(reaped, s)
		}
	}
	gm.mu.Unlock()

	codes := make([]string, 0, len(reaped))
	for _, s := range reaped {
		s.closeAll()
		if err := gm.clips.Purge(s.code); err != nil {
			log.Warn().Err(err).Str("session", s.code).Msg("failed to remove clips of reaped session")
		}
		codes = append(codes, s.code)

		log.Info().Str("session", s.code).Msg("idle session reaped")
	}

	return codes
}
