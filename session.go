/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxNameLength = 32

// Player holds the data we store server-side
type Player struct {
	ID    string
	Name  string
	conns int
}

func (p *Player) Connected() bool {
	return p.conns > 0
}

// Session is one independent game. mu guards every field below it.
type Session struct {
	code string
	gm   *GameManager

	mu         sync.Mutex
	players    map[string]*Player
	order      []string
	scores     map[string]int
	history    []*Round
	current    *Round
	clients    map[*Client]bool
	createdAt  time.Time
	lastActive time.Time

	// reaped is set once the registry has dropped the session. A handler
	// still holding it must go back to the registry.
	reaped bool
}

func newSession(gm *GameManager, code string) *Session {
	now := gm.clock.Now()

	return &Session{
		code:       code,
		gm:         gm,
		players:    make(map[string]*Player),
		scores:     make(map[string]int),
		clients:    make(map[*Client]bool),
		createdAt:  now,
		lastActive: now,
	}
}

func (s *Session) Code() string {
	return s.code
}

func normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	for utf8.RuneCountInString(name) > maxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

// Join returns the id of the player called name, creating the player on
// first use. The first round starts as soon as two players are present.
func (s *Session) Join(name string) (string, Snapshot, error) {
	name = normalizeName(name)
	if name == "" {
		return "", Snapshot{}, ErrMissingName
	}

	s.mu.Lock()
	if s.reaped {
		s.mu.Unlock()
		return "", Snapshot{}, errSessionReaped
	}

	now := s.gm.clock.Now()
	s.lastActive = now

	id := s.playerByNameLocked(name)
	if id == "" {
		id = uuid.NewString()
		s.players[id] = &Player{ID: id, Name: name}
		s.order = append(s.order, id)
		if _, ok := s.scores[id]; !ok {
			s.scores[id] = 0
		}

		log.Info().
			Str("session", s.code).
			Str("player", name).
			Msg("player joined")
	}

	if s.current == nil && len(s.order) >= 2 {
		s.startFirstRoundLocked(now)
	}

	snap := s.snapshotLocked(id)
	s.mu.Unlock()

	s.broadcast()

	return id, snap, nil
}

func (s *Session) playerByNameLocked(name string) string {
	for _, id := range s.order {
		if strings.EqualFold(s.players[id].Name, name) {
			return id
		}
	}
	return ""
}

type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type VoteClip struct {
	ID      string `json:"id"`
	ClipURL string `json:"clipUrl"`
	Owner   string `json:"ownerHiddenId,omitempty"`
}

type RoundView struct {
	Index           int             `json:"index"`
	State           Phase           `json:"state"`
	Deadline        float64         `json:"deadline"`
	LeadPlayerID    string          `json:"leadPlayerId"`
	LeadClipURL     string          `json:"leadClipUrl,omitempty"`
	ReplicateStatus map[string]bool `json:"replicateStatus"`
	VotesStatus     map[string]bool `json:"votesStatus"`
	VoteClips       []VoteClip      `json:"voteClips,omitempty"`
	LastDeltas      map[string]int  `json:"lastDeltas,omitempty"`
}

// Snapshot is the full state sent to one participant.
type Snapshot struct {
	Code            string         `json:"code"`
	Players         []PlayerView   `json:"players"`
	CurrentRound    *RoundView     `json:"currentRound"`
	Scores          map[string]int `json:"scores"`
	CompletedRounds int            `json:"completedRounds"`
}

func (s *Session) Snapshot(requester string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked(requester)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// snapshotLocked copies everything it returns, so the result may be used
// after the lock is released.
func (s *Session) snapshotLocked(requester string) Snapshot {
	snap := Snapshot{
		Code:            s.code,
		Players:         make([]PlayerView, 0, len(s.order)),
		Scores:          make(map[string]int, len(s.scores)),
		CompletedRounds: len(s.history),
	}

	for _, id := range s.order {
		p := s.players[id]
		snap.Players = append(snap.Players, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Connected: p.Connected(),
		})
	}

	for id, score := range s.scores {
		snap.Scores[id] = score
	}

	r := s.current
	if r == nil {
		return snap
	}

	rv := &RoundView{
		Index:           r.Index,
		State:           r.Phase,
		Deadline:        unixSeconds(r.Deadline),
		LeadPlayerID:    r.LeadID,
		ReplicateStatus: make(map[string]bool, len(s.order)),
		VotesStatus:     make(map[string]bool, len(s.order)),
	}
	if r.LeadClip != "" {
		rv.LeadClipURL = s.gm.clipURL(s.code, r.LeadClip)
	}
	for _, id := range s.order {
		_, replicated := r.Replicates[id]
		_, voted := r.Votes[id]
		rv.ReplicateStatus[id] = replicated
		rv.VotesStatus[id] = voted
	}

	if requester != "" && (r.Phase == PhaseVoting || r.Phase == PhaseScoreboard) {
		for _, e := range votingView(s.code, r.Index, requester, r.Replicates) {
			clip := VoteClip{
				ID:      e.slot,
				ClipURL: s.gm.clipURL(s.code, e.clip),
			}
			if s.gm.rules.ExposeOwners {
				clip.Owner = e.owner
			}
			rv.VoteClips = append(rv.VoteClips, clip)
		}
	}

	if r.Phase == PhaseScoreboard && r.Deltas != nil {
		rv.LastDeltas = make(map[string]int, len(r.Deltas))
		for id, d := range r.Deltas {
			rv.LastDeltas[id] = d
		}
	}

	snap.CurrentRound = rv

	return snap
}

// reapIfIdle marks the session reaped when nobody is connected and nothing
// has happened since cutoff.
func (s *Session) reapIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) > 0 || !s.lastActive.Before(cutoff) {
		return false
	}

	s.reaped = true
	return true
}
