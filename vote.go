/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"slices"
)

// Vote holds up to two ranked choices. The zero value is a vote with no
// choices.
type Vote struct {
	first  string
	second string
}

func NewVote(first, second string) (Vote, error) {
	if first != "" && first == second {
		return Vote{}, ErrInvalidVote
	}
	return Vote{first: first, second: second}, nil
}

func (v Vote) First() (string, bool) {
	return v.first, v.first != ""
}

func (v Vote) Second() (string, bool) {
	return v.second, v.second != ""
}

// voteEntry is one anonymized replicate as seen by a single voter. The owner
// only leaves the server when owners are exposed.
type voteEntry struct {
	slot  string
	owner string
	clip  string
}

// votingView lists every replicate except the requester's own, in an order
// that depends only on the session code, round index and requester.
func votingView(code string, index int, requester string, replicates map[string]string) []voteEntry {
	owners := make([]string, 0, len(replicates))
	for id := range replicates {
		if id != requester {
			owners = append(owners, id)
		}
	}
	slices.Sort(owners)

	rng := seededRand(fmt.Sprintf("%s:%d:%s", code, index, requester))
	rng.Shuffle(len(owners), func(i, j int) {
		owners[i], owners[j] = owners[j], owners[i]
	})

	entries := make([]voteEntry, len(owners))
	for i, id := range owners {
		entries[i] = voteEntry{
			slot:  fmt.Sprintf("clip_%d", i),
			owner: id,
			clip:  replicates[id],
		}
	}

	return entries
}

func (s *Session) resolveChoiceLocked(view []voteEntry, choice string) (string, error) {
	if choice == "" {
		return "", nil
	}

	for _, e := range view {
		if e.slot == choice {
			return e.owner, nil
		}
	}

	if s.gm.rules.ExposeOwners {
		if _, ok := s.players[choice]; ok {
			return choice, nil
		}
	}

	return "", ErrUnknownPlayer
}
