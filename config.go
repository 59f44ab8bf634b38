/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const minSessionTimeout = time.Second

type Config struct {
	bind           string
	corsOrigins    []string
	dataDir        string
	exposeOwners   bool
	firstLead      string
	leadTime       time.Duration
	leadTimeout    string
	maxClipSize    int64
	port           int
	prefix         string
	profile        bool
	replicateTime  time.Duration
	sessionTimeout time.Duration
	tickInterval   time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
	votingTime     time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.leadTime <= 0 || c.replicateTime <= 0 || c.votingTime <= 0 {
		return errors.New("--lead-time, --replicate-time and --voting-time must be positive")
	}
	if c.tickInterval <= 0 {
		return fmt.Errorf("invalid tick interval (must be positive): %s", c.tickInterval)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}
	if c.sessionTimeout > 0 && c.sessionTimeout < minSessionTimeout {
		return fmt.Errorf("invalid session timeout (must be 0 or at least %s): %s", minSessionTimeout, c.sessionTimeout)
	}
	if c.maxClipSize < 1 {
		return fmt.Errorf("invalid max clip size (must be positive): %d", c.maxClipSize)
	}
	if _, err := parseLeadPolicy(c.firstLead); err != nil {
		return err
	}
	if _, err := parseStallPolicy(c.leadTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// rules converts the validated flags into the per-round timing and policies.
func (c *Config) rules() Rules {
	lead, _ := parseLeadPolicy(c.firstLead)
	stall, _ := parseStallPolicy(c.leadTimeout)

	return Rules{
		LeadTime:      c.leadTime,
		ReplicateTime: c.replicateTime,
		VotingTime:    c.votingTime,
		FirstLead:     lead,
		LeadTimeout:   stall,
		ExposeOwners:  c.exposeOwners,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MIMICBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "mimicbox",
		Short:         "A party game where players mimic each other's recordings and vote on the best one.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MIMICBOX_BIND)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origin", []string{"*"}, "origins allowed to call the game API, empty to disable CORS (env: MIMICBOX_CORS_ORIGIN)")
	fs.StringVarP(&cfg.dataDir, "data-dir", "d", "data", "directory to store recorded clips in (env: MIMICBOX_DATA_DIR)")
	fs.BoolVar(&cfg.exposeOwners, "expose-owners", false, "include clip owner ids in the voting view (env: MIMICBOX_EXPOSE_OWNERS)")
	fs.StringVar(&cfg.firstLead, "first-lead", string(LeadByClock), "first round lead selection: clock, seeded, first (env: MIMICBOX_FIRST_LEAD)")
	fs.DurationVar(&cfg.leadTime, "lead-time", 30*time.Second, "time the lead player has to record (env: MIMICBOX_LEAD_TIME)")
	fs.StringVar(&cfg.leadTimeout, "lead-timeout", string(StallProceed), "what to do when the lead never records: proceed, retry (env: MIMICBOX_LEAD_TIMEOUT)")
	fs.Int64Var(&cfg.maxClipSize, "max-clip-size", 10<<20, "maximum size of an uploaded clip, in bytes (env: MIMICBOX_MAX_CLIP_SIZE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MIMICBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MIMICBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MIMICBOX_PROFILE)")
	fs.DurationVar(&cfg.replicateTime, "replicate-time", 30*time.Second, "time players have to record their mimic (env: MIMICBOX_REPLICATE_TIME)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 0, "time before idle, disconnected game sessions are ended, 0 to keep forever (env: MIMICBOX_SESSION_TIMEOUT)")
	fs.DurationVar(&cfg.tickInterval, "tick-interval", 500*time.Millisecond, "how often round deadlines are checked (env: MIMICBOX_TICK_INTERVAL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MIMICBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MIMICBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MIMICBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MIMICBOX_VERSION)")
	fs.DurationVar(&cfg.votingTime, "voting-time", 30*time.Minute, "time players have to vote (env: MIMICBOX_VOTING_TIME)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if list, ok := val.([]string); ok {
				val = strings.Join(list, ",")
			}
			_ = fs.Set(f.Name, fmt.Sprintf("%v", val))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mimicbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
