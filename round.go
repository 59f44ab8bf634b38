/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

type Phase string

const (
	PhaseLeadRecord Phase = "lead_record"
	PhaseReplicate  Phase = "replicate"
	PhaseVoting     Phase = "voting"
	PhaseScoreboard Phase = "scoreboard"
)

// scoreboardHold keeps a finished round on the scoreboard until someone
// advances it by hand.
const scoreboardHold = 1_000_000_000 * time.Second

// LeadPolicy picks the lead player of the first round in a session.
type LeadPolicy string

const (
	LeadByClock LeadPolicy = "clock"
	LeadBySeed  LeadPolicy = "seeded"
	LeadFirst   LeadPolicy = "first"
)

func parseLeadPolicy(s string) (LeadPolicy, error) {
	switch p := LeadPolicy(s); p {
	case LeadByClock, LeadBySeed, LeadFirst:
		return p, nil
	}
	return "", fmt.Errorf("invalid first lead policy (must be clock, seeded or first): %q", s)
}

// pick returns one of order, which must not be empty.
//
// The clock policy uses whole seconds of the join time, so it is only as
// random as the moment the second player arrives.
func (p LeadPolicy) pick(code string, index int, order []string, now time.Time) string {
	switch p {
	case LeadFirst:
		return order[0]
	case LeadBySeed:
		return order[seededRand(fmt.Sprintf("%s:%d", code, index)).IntN(len(order))]
	default:
		n := now.Unix() % int64(len(order))
		if n < 0 {
			n += int64(len(order))
		}
		return order[n]
	}
}

// StallPolicy decides what happens when the lead never records a clip.
type StallPolicy string

const (
	StallProceed StallPolicy = "proceed"
	StallRetry   StallPolicy = "retry"
)

func parseStallPolicy(s string) (StallPolicy, error) {
	switch p := StallPolicy(s); p {
	case StallProceed, StallRetry:
		return p, nil
	}
	return "", fmt.Errorf("invalid lead timeout policy (must be proceed or retry): %q", s)
}

type Rules struct {
	LeadTime      time.Duration
	ReplicateTime time.Duration
	VotingTime    time.Duration
	FirstLead     LeadPolicy
	LeadTimeout   StallPolicy
	ExposeOwners  bool
}

func defaultRules() Rules {
	return Rules{
		LeadTime:      30 * time.Second,
		ReplicateTime: 30 * time.Second,
		VotingTime:    30 * time.Minute,
		FirstLead:     LeadByClock,
		LeadTimeout:   StallProceed,
	}
}

// Round is one lead/replicate/vote/score cycle. Clip fields hold references
// returned by the ClipStore.
type Round struct {
	Index      int
	LeadID     string
	Phase      Phase
	Deadline   time.Time
	LeadClip   string
	Replicates map[string]string
	Votes      map[string]Vote
	Deltas     map[string]int

	tallied bool
}

func newRound(index int, leadID string, deadline time.Time) *Round {
	return &Round{
		Index:      index,
		LeadID:     leadID,
		Phase:      PhaseLeadRecord,
		Deadline:   deadline,
		Replicates: make(map[string]string),
		Votes:      make(map[string]Vote),
	}
}

// seededRand derives a generator from key, so equal keys always produce the
// same sequence.
func seededRand(key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	seed := h.Sum64()

	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// nextLeadLocked rotates through players in join order, falling back to the
// first player when prev is no longer in the session.
func (s *Session) nextLeadLocked(prev string) string {
	idx := slices.Index(s.order, prev)
	if idx < 0 {
		return s.order[0]
	}
	return s.order[(idx+1)%len(s.order)]
}

func (s *Session) startFirstRoundLocked(now time.Time) {
	rules := s.gm.rules
	lead := rules.FirstLead.pick(s.code, 1, s.order, now)
	s.current = newRound(1, lead, now.Add(rules.LeadTime))

	log.Info().
		Str("session", s.code).
		Str("lead", s.players[lead].Name).
		Msg("round 1 started")
}

// discardClip removes a clip that no round references. Failures leave an
// orphan on disk, so they are logged.
func (s *Session) discardClip(ref string) {
	if err := s.gm.clips.Remove(s.code, ref); err != nil {
		log.Warn().Err(err).Str("session", s.code).Str("clip", ref).Msg("failed to remove unused clip")
	}
}

// SubmitLead stores the lead's clip and moves the round on to replicate.
// The clip is written without holding the session lock, so the round is
// validated again afterwards.
func (s *Session) SubmitLead(playerID string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	r := s.current
	if r == nil || r.Phase != PhaseLeadRecord {
		s.mu.Unlock()
		return "", fmt.Errorf("lead upload: %w", ErrInvalidPhase)
	}
	if r.LeadID != playerID {
		s.mu.Unlock()
		return "", fmt.Errorf("lead upload: %w", ErrNotLead)
	}
	index := r.Index
	s.mu.Unlock()

	ref, err := s.gm.clips.Store(s.code, index, RoleLead, playerID, data, contentType)
	if err != nil {
		return "", fmt.Errorf("lead upload: %w", err)
	}

	s.mu.Lock()
	if s.current != r || r.Phase != PhaseLeadRecord || r.LeadID != playerID {
		s.mu.Unlock()
		s.discardClip(ref)
		return "", fmt.Errorf("lead upload: %w", ErrInvalidPhase)
	}

	now := s.gm.clock.Now()
	r.LeadClip = ref
	r.Phase = PhaseReplicate
	r.Deadline = now.Add(s.gm.rules.ReplicateTime)
	s.lastActive = now
	s.mu.Unlock()

	log.Info().
		Str("session", s.code).
		Int("round", index).
		Str("phase", string(PhaseReplicate)).
		Int("bytes", len(data)).
		Msg("lead clip recorded")

	s.broadcast()

	return s.gm.clipURL(s.code, ref), nil
}

// SubmitReplicate records a mimic from any player. A second upload replaces
// the first.
func (s *Session) SubmitReplicate(playerID string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	r := s.current
	if r == nil || r.Phase != PhaseReplicate {
		s.mu.Unlock()
		return "", fmt.Errorf("replicate upload: %w", ErrInvalidPhase)
	}
	if _, ok := s.players[playerID]; !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("replicate upload: %w", ErrUnknownPlayer)
	}
	index := r.Index
	s.mu.Unlock()

	ref, err := s.gm.clips.Store(s.code, index, RoleReplicate, playerID, data, contentType)
	if err != nil {
		return "", fmt.Errorf("replicate upload: %w", err)
	}

	s.mu.Lock()
	if s.current != r || r.Phase != PhaseReplicate {
		s.mu.Unlock()
		s.discardClip(ref)
		return "", fmt.Errorf("replicate upload: %w", ErrInvalidPhase)
	}

	previous := r.Replicates[playerID]
	r.Replicates[playerID] = ref
	s.lastActive = s.gm.clock.Now()
	s.mu.Unlock()

	if previous != "" {
		s.discardClip(previous)
	}

	log.Info().
		Str("session", s.code).
		Int("round", index).
		Str("player", playerID).
		Int("bytes", len(data)).
		Msg("replicate clip recorded")

	s.broadcast()

	return s.gm.clipURL(s.code, ref), nil
}

// SubmitVote records voter's choices, replacing any earlier vote. Choices
// are slot ids from the voter's own voting view, or player ids when owners
// are exposed. Empty means no choice.
func (s *Session) SubmitVote(voter, first, second string) error {
	if first != "" && first == second {
		return fmt.Errorf("vote: %w", ErrInvalidVote)
	}

	s.mu.Lock()
	r := s.current
	if r == nil || r.Phase != PhaseVoting {
		s.mu.Unlock()
		return fmt.Errorf("vote: %w", ErrInvalidPhase)
	}
	if _, ok := s.players[voter]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("vote: %w", ErrUnknownPlayer)
	}

	view := votingView(s.code, r.Index, voter, r.Replicates)

	firstID, err := s.resolveChoiceLocked(view, first)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("vote: first choice: %w", err)
	}
	secondID, err := s.resolveChoiceLocked(view, second)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("vote: second choice: %w", err)
	}

	vote, err := NewVote(firstID, secondID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("vote: %w", err)
	}

	r.Votes[voter] = vote
	s.lastActive = s.gm.clock.Now()
	s.mu.Unlock()

	s.broadcast()

	return nil
}

// Advance starts the next round once the current one is on the scoreboard.
// Anyone in the session may call it.
func (s *Session) Advance() error {
	s.mu.Lock()
	r := s.current
	if r == nil || r.Phase != PhaseScoreboard {
		s.mu.Unlock()
		return fmt.Errorf("advance: %w", ErrNotAtRoundEnd)
	}
	if len(s.order) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("advance: %w", ErrNoPlayers)
	}

	now := s.gm.clock.Now()
	lead := s.nextLeadLocked(r.LeadID)
	s.history = append(s.history, r)
	s.current = newRound(r.Index+1, lead, now.Add(s.gm.rules.LeadTime))
	s.lastActive = now
	index := s.current.Index
	leadName := s.players[lead].Name
	s.mu.Unlock()

	log.Info().
		Str("session", s.code).
		Int("round", index).
		Str("lead", leadName).
		Msg("round started")

	s.broadcast()

	return nil
}

// expireLocked applies at most one deadline transition. Every transition
// moves the deadline forward, so repeated polls cannot advance twice.
func (s *Session) expireLocked(now time.Time) (bool, error) {
	r := s.current
	if r == nil || now.Before(r.Deadline) {
		return false, nil
	}

	rules := s.gm.rules

	switch r.Phase {
	case PhaseLeadRecord:
		if r.LeadClip == "" && rules.LeadTimeout == StallRetry && len(s.order) > 0 {
			r.LeadID = s.nextLeadLocked(r.LeadID)
			r.Deadline = now.Add(rules.LeadTime)
			break
		}
		r.Phase = PhaseReplicate
		r.Deadline = now.Add(rules.ReplicateTime)
	case PhaseReplicate:
		r.Phase = PhaseVoting
		r.Deadline = now.Add(rules.VotingTime)
	case PhaseVoting:
		s.tallyLocked()
		r.Phase = PhaseScoreboard
		r.Deadline = now.Add(scoreboardHold)
	case PhaseScoreboard:
		return false, nil
	default:
		return false, fmt.Errorf("round %d: unknown phase %q", r.Index, r.Phase)
	}

	log.Info().
		Str("session", s.code).
		Int("round", r.Index).
		Str("phase", string(r.Phase)).
		Msg("deadline passed")

	return true, nil
}
