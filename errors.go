/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidPhase  = errors.New("action not accepted in the current phase")
	ErrNotLead       = errors.New("only the lead player may upload the lead clip")
	ErrUnknownPlayer = errors.New("unknown player")
	ErrInvalidVote   = errors.New("first and second choices must be different")
	ErrNotAtRoundEnd = errors.New("round has not reached the scoreboard")
	ErrNoPlayers     = errors.New("no players in session")
	ErrClipNotFound  = errors.New("clip not found")
	ErrMissingName   = errors.New("display name is required")
	ErrClipTooLarge  = errors.New("clip exceeds maximum size")
	ErrInvalidCode   = errors.New("invalid session code")
	ErrNoSession     = errors.New("no such session")

	errSessionReaped = errors.New("session was reaped")
)

// statusFor maps game errors onto HTTP status codes. Anything unrecognized
// is treated as a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotLead):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownPlayer),
		errors.Is(err, ErrClipNotFound),
		errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, ErrClipTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidPhase),
		errors.Is(err, ErrInvalidVote),
		errors.Is(err, ErrNotAtRoundEnd),
		errors.Is(err, ErrNoPlayers),
		errors.Is(err, ErrMissingName),
		errors.Is(err, ErrInvalidCode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func configureLogging(cfg *Config) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: logDate})

	if cfg.verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
