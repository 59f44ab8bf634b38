/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// runTicker drives deadline transitions for every session until ctx ends.
// A transition may land up to one interval after its deadline.
func (gm *GameManager) runTicker(ctx context.Context, interval time.Duration) {
	ticker := gm.clock.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("round ticker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round ticker stopped")
			return
		case <-ticker.Chan():
			gm.tick()
		}
	}
}

// tick makes one pass over all sessions and returns how many advanced. A
// failing session is logged and skipped.
func (gm *GameManager) tick() int {
	now := gm.clock.Now()
	advanced := 0

	for _, s := range gm.all() {
		ok, err := s.tick(now)
		if err != nil {
			log.Error().Err(err).Str("session", s.code).Msg("failed to advance round")
			continue
		}
		if ok {
			advanced++
		}
	}

	return advanced
}

func (s *Session) tick(now time.Time) (advanced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during tick: %v", r)
		}
	}()

	advanced, err = s.expire(now)
	if advanced {
		s.broadcast()
	}

	return advanced, err
}

func (s *Session) expire(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.expireLocked(now)
}

// reaperLoop periodically removes sessions that have been idle longer than
// idleTimeout.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	if gm.idleTimeout <= 0 {
		return
	}

	ticker := gm.clock.NewTicker(max(gm.idleTimeout/2, minSessionTimeout/2))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			gm.reap(gm.clock.Now())
		}
	}
}
