/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "github.com/rs/zerolog/log"

const (
	firstChoicePoints  = 3
	secondChoicePoints = 1
)

// tally returns the points each player earns from votes. Every player gets
// an entry; choices naming anyone outside players are ignored.
func tally(players []string, votes map[string]Vote) map[string]int {
	deltas := make(map[string]int, len(players))
	for _, id := range players {
		deltas[id] = 0
	}

	for _, v := range votes {
		if id, ok := v.First(); ok {
			if _, known := deltas[id]; known {
				deltas[id] += firstChoicePoints
			}
		}
		if id, ok := v.Second(); ok {
			if _, known := deltas[id]; known {
				deltas[id] += secondChoicePoints
			}
		}
	}

	return deltas
}

// tallyLocked scores the current round at most once.
func (s *Session) tallyLocked() {
	r := s.current
	if r == nil || r.tallied {
		return
	}

	r.Deltas = tally(s.order, r.Votes)
	for id, points := range r.Deltas {
		s.scores[id] += points
	}
	r.tallied = true

	log.Info().
		Str("session", s.code).
		Int("round", r.Index).
		Int("votes", len(r.Votes)).
		Msg("votes tallied")
}
