/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

func TestTickSkipsFailingSessions(t *testing.T) {
	gm, clock := newTestManager(t, testRules())

	broken := gm.getOrCreate("BROKEN")
	mustJoin(t, broken, "Ann", "Ben")
	broken.mu.Lock()
	broken.current.Phase = Phase("bogus")
	broken.mu.Unlock()

	panicky := gm.getOrCreate("PANIC")
	mustJoin(t, panicky, "Cat", "Dan")
	panicky.mu.Lock()
	panicky.current.Phase = PhaseVoting
	panicky.scores = nil
	panicky.mu.Unlock()

	healthy := gm.getOrCreate("HEALTHY")
	mustJoin(t, healthy, "Eve", "Fay")

	clock.Advance(30 * time.Second)

	if n := gm.tick(); n != 1 {
		t.Fatalf("tick advanced %d sessions, want 1", n)
	}
	if got := currentRound(t, healthy).Phase; got != PhaseReplicate {
		t.Fatalf("healthy phase = %s, want %s", got, PhaseReplicate)
	}

	// The panicking session must not be left locked.
	done := make(chan struct{})
	go func() {
		panicky.Snapshot("")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session lock held after a recovered panic")
	}
}

func TestRunTicker(t *testing.T) {
	gm, clock := newTestManager(t, testRules())
	s := gm.getOrCreate("ROOM")
	mustJoin(t, s, "Ann", "Ben")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		gm.runTicker(ctx, 500*time.Millisecond)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("ticker never started: %v", err)
	}

	clock.Advance(30 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for currentRound(t, s).Phase != PhaseReplicate {
		if time.Now().After(deadline) {
			t.Fatal("ticker did not advance the round")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not stop after cancel")
	}
}

func TestReaperLoopShortTimeout(t *testing.T) {
	gm := newGameManager(clockwork.NewRealClock(), newClipStore(afero.NewMemMapFs()), testRules(), "")
	gm.idleTimeout = time.Nanosecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Returns once it sees the cancelled context instead of panicking on a
	// zero ticker interval.
	gm.reaperLoop(ctx)
}
