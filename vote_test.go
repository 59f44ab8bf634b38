/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestNewVote(t *testing.T) {
	tests := []struct {
		first, second string
		wantErr       bool
	}{
		{"a", "b", false},
		{"a", "", false},
		{"", "b", false},
		{"", "", false},
		{"a", "a", true},
	}

	for _, tt := range tests {
		v, err := NewVote(tt.first, tt.second)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidVote) {
				t.Fatalf("NewVote(%q, %q) error = %v, want %v", tt.first, tt.second, err, ErrInvalidVote)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewVote(%q, %q) error = %v", tt.first, tt.second, err)
		}
		if got, ok := v.First(); got != tt.first || ok != (tt.first != "") {
			t.Fatalf("First() = %q, %v", got, ok)
		}
		if got, ok := v.Second(); got != tt.second || ok != (tt.second != "") {
			t.Fatalf("Second() = %q, %v", got, ok)
		}
	}
}

// votingSession returns a session in the voting phase where every player
// has recorded a replicate.
func votingSession(t *testing.T, rules Rules, names ...string) (*Session, []string) {
	t.Helper()

	gm, clock := newTestManager(t, rules)
	s := gm.getOrCreate("ROOM")
	ids := mustJoin(t, s, names...)

	if _, err := s.SubmitLead(ids[0], webmClip, "audio/webm"); err != nil {
		t.Fatalf("SubmitLead error = %v", err)
	}
	for _, id := range ids {
		if _, err := s.SubmitReplicate(id, webmClip, "audio/webm"); err != nil {
			t.Fatalf("SubmitReplicate error = %v", err)
		}
	}

	clock.Advance(rules.ReplicateTime)
	if _, err := s.expire(clock.Now()); err != nil {
		t.Fatalf("expire error = %v", err)
	}

	return s, ids
}

func TestEqualChoicesRejectedInEveryPhase(t *testing.T) {
	gm, clock := newTestManager(t, testRules())
	s := gm.getOrCreate("ROOM")
	ids := mustJoin(t, s, "Ann", "Ben")

	check := func(phase string) {
		t.Helper()
		if err := s.SubmitVote(ids[0], "clip_0", "clip_0"); !errors.Is(err, ErrInvalidVote) {
			t.Fatalf("%s: equal choices error = %v, want %v", phase, err, ErrInvalidVote)
		}
	}

	for _, wait := range []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Minute} {
		check(string(currentRound(t, s).Phase))
		clock.Advance(wait)
		if _, err := s.expire(clock.Now()); err != nil {
			t.Fatalf("expire error = %v", err)
		}
	}
	check(string(currentRound(t, s).Phase))
}

func TestSubmitVoteValidation(t *testing.T) {
	s, ids := votingSession(t, testRules(), "Ann", "Ben", "Cat")

	if err := s.SubmitVote("nobody", "", ""); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("unknown voter error = %v, want %v", err, ErrUnknownPlayer)
	}
	if err := s.SubmitVote(ids[0], "clip_9", ""); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("unknown slot error = %v, want %v", err, ErrUnknownPlayer)
	}
	// Raw player ids are only accepted when owners are exposed.
	if err := s.SubmitVote(ids[0], ids[1], ""); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("raw id error = %v, want %v", err, ErrUnknownPlayer)
	}

	if err := s.SubmitVote(ids[0], slotFor(t, s, ids[0], ids[1]), ""); err != nil {
		t.Fatalf("SubmitVote error = %v", err)
	}
	if err := s.SubmitVote(ids[0], slotFor(t, s, ids[0], ids[2]), slotFor(t, s, ids[0], ids[1])); err != nil {
		t.Fatalf("resubmit error = %v", err)
	}

	v := currentRound(t, s).Votes[ids[0]]
	if first, _ := v.First(); first != ids[2] {
		t.Fatalf("first choice = %s, want %s", first, ids[2])
	}
	if second, _ := v.Second(); second != ids[1] {
		t.Fatalf("second choice = %s, want %s", second, ids[1])
	}
}

func TestVotingView(t *testing.T) {
	replicates := map[string]string{
		"p1": "round_1/rep_p1.webm",
		"p2": "round_1/rep_p2.webm",
		"p3": "round_1/rep_p3.webm",
		"p4": "round_1/rep_p4.webm",
		"p5": "round_1/rep_p5.webm",
	}

	view := votingView("ROOM", 1, "p3", replicates)
	if len(view) != 4 {
		t.Fatalf("view has %d entries, want 4", len(view))
	}

	var owners []string
	for i, e := range view {
		if e.owner == "p3" {
			t.Fatal("view includes the requester's own clip")
		}
		if want := "clip_" + string(rune('0'+i)); e.slot != want {
			t.Fatalf("slot %d = %s, want %s", i, e.slot, want)
		}
		if e.clip != replicates[e.owner] {
			t.Fatalf("slot %s clip = %s, want %s", e.slot, e.clip, replicates[e.owner])
		}
		owners = append(owners, e.owner)
	}

	slices.Sort(owners)
	if !slices.Equal(owners, []string{"p1", "p2", "p4", "p5"}) {
		t.Fatalf("owners = %v", owners)
	}

	for range 5 {
		if again := votingView("ROOM", 1, "p3", replicates); !slices.Equal(again, view) {
			t.Fatalf("view changed between calls: %v then %v", view, again)
		}
	}

	if spectator := votingView("ROOM", 1, "watcher", replicates); len(spectator) != len(replicates) {
		t.Fatalf("spectator view has %d entries, want %d", len(spectator), len(replicates))
	}
}

func TestSnapshotVoteClips(t *testing.T) {
	s, ids := votingSession(t, testRules(), "Ann", "Ben", "Cat")

	snap := s.Snapshot(ids[1])
	clips := snap.CurrentRound.VoteClips
	if len(clips) != 2 {
		t.Fatalf("VoteClips = %d, want 2", len(clips))
	}
	for _, c := range clips {
		if c.Owner != "" {
			t.Fatalf("owner leaked: %+v", c)
		}
	}

	if anon := s.Snapshot(""); anon.CurrentRound.VoteClips != nil {
		t.Fatalf("snapshot without requester has vote clips: %v", anon.CurrentRound.VoteClips)
	}
}

func TestExposeOwners(t *testing.T) {
	rules := testRules()
	rules.ExposeOwners = true

	s, ids := votingSession(t, rules, "Ann", "Ben", "Cat")

	for _, c := range s.Snapshot(ids[0]).CurrentRound.VoteClips {
		if c.Owner == "" || c.Owner == ids[0] {
			t.Fatalf("unexpected owner on %+v", c)
		}
	}

	if err := s.SubmitVote(ids[0], ids[1], ids[2]); err != nil {
		t.Fatalf("raw id vote error = %v", err)
	}
	if first, _ := currentRound(t, s).Votes[ids[0]].First(); first != ids[1] {
		t.Fatalf("first choice = %s, want %s", first, ids[1])
	}
}
