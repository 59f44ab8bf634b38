/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"testing"
)

func TestAttachUnknownPlayer(t *testing.T) {
	gm, _ := newTestManager(t, testRules())
	s := gm.getOrCreate("ROOM")

	if err := s.attach(newClient(nil, "nobody")); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("attach error = %v, want %v", err, ErrUnknownPlayer)
	}
}

func TestBroadcastIsPersonalized(t *testing.T) {
	s, ids := votingSession(t, testRules(), "Ann", "Ben", "Cat")

	clients := make(map[string]*Client)
	for _, id := range ids {
		c := newClient(nil, id)
		if err := s.attach(c); err != nil {
			t.Fatalf("attach error = %v", err)
		}
		clients[id] = c
	}

	for id, c := range clients {
		snap, _ := drainState(t, c)

		if snap.CurrentRound == nil || snap.CurrentRound.State != PhaseVoting {
			t.Fatalf("%s got round %+v", id, snap.CurrentRound)
		}
		if len(snap.CurrentRound.VoteClips) != len(ids)-1 {
			t.Fatalf("%s sees %d clips, want %d", id, len(snap.CurrentRound.VoteClips), len(ids)-1)
		}

		own := currentRound(t, s).Replicates[id]
		for _, clip := range snap.CurrentRound.VoteClips {
			if clip.ClipURL == gmClipURL(s, own) {
				t.Fatalf("%s was offered their own clip", id)
			}
		}

		for _, p := range snap.Players {
			if !p.Connected {
				t.Fatalf("%s sees %s as disconnected", id, p.Name)
			}
		}
	}
}

func gmClipURL(s *Session, ref string) string {
	return s.gm.clipURL(s.code, ref)
}

func TestSlowClientIsDetached(t *testing.T) {
	gm, _ := newTestManager(t, testRules())
	s := gm.getOrCreate("ROOM")
	ids := mustJoin(t, s, "Ann", "Ben")

	slow := newClient(nil, ids[0])
	if err := s.attach(slow); err != nil {
		t.Fatalf("attach error = %v", err)
	}

	fast := newClient(nil, ids[1])
	if err := s.attach(fast); err != nil {
		t.Fatalf("attach error = %v", err)
	}

	for range sendBuffer * 2 {
		drainState(t, fast)
		s.broadcast()
	}

	s.mu.Lock()
	_, stillAttached := s.clients[slow]
	s.mu.Unlock()
	if stillAttached {
		t.Fatal("client with a full buffer is still attached")
	}

	if slow.deliver([]byte("x")) {
		t.Fatal("deliver succeeded on a detached client")
	}

	snap, _ := drainState(t, fast)
	for _, p := range snap.Players {
		if want := p.ID == ids[1]; p.Connected != want {
			t.Fatalf("%s connected = %v, want %v", p.Name, p.Connected, want)
		}
	}
}

func TestReconnect(t *testing.T) {
	gm, _ := newTestManager(t, testRules())
	s := gm.getOrCreate("ROOM")
	ids := mustJoin(t, s, "Ann")

	first := newClient(nil, ids[0])
	if err := s.attach(first); err != nil {
		t.Fatalf("attach error = %v", err)
	}
	s.detach(first)

	if s.Snapshot("").Players[0].Connected {
		t.Fatal("player connected after detach")
	}

	// Detaching twice must not drive the count negative.
	s.detach(first)

	second := newClient(nil, ids[0])
	if err := s.attach(second); err != nil {
		t.Fatalf("reattach error = %v", err)
	}

	snap, _ := drainState(t, second)
	if len(snap.Players) != 1 || !snap.Players[0].Connected {
		t.Fatalf("players after reconnect = %+v", snap.Players)
	}
}

func TestClientClose(t *testing.T) {
	c := newClient(nil, "p")

	if !c.deliver([]byte("one")) {
		t.Fatal("deliver failed on an open client")
	}

	c.close()
	c.close()

	if c.deliver([]byte("two")) {
		t.Fatal("deliver succeeded after close")
	}
}
