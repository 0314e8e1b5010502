/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	adminPassword string
	autoSettle    bool
	bind          string
	maxNumber     int
	minNumber     int
	port          int
	prefix        string
	profile       bool
	reconnect     bool
	tlsCert       string
	tlsKey        string
	verbose       bool
	version       bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.adminPassword == "" {
		return errors.New("--admin-password must be set")
	}
	if c.minNumber < 1 {
		return fmt.Errorf("invalid minimum number (must be positive): %d", c.minNumber)
	}
	if c.maxNumber <= c.minNumber {
		return fmt.Errorf("invalid number range: %d-%d", c.minNumber, c.maxNumber)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("LUPIBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "lupibox",
		Short:         "A lowest-unique-number elimination party game, run from a single binary.",
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

	fs.StringVar(&cfg.adminPassword, "admin-password", "", "shared secret for the admin console (env: LUPIBOX_ADMIN_PASSWORD)")
	fs.BoolVar(&cfg.autoSettle, "auto-settle", false, "settle a round automatically once every active player has chosen (env: LUPIBOX_AUTO_SETTLE)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: LUPIBOX_BIND)")
	fs.IntVar(&cfg.maxNumber, "max-number", 30, "largest number players may choose (env: LUPIBOX_MAX_NUMBER)")
	fs.IntVar(&cfg.minNumber, "min-number", 1, "smallest number players may choose (env: LUPIBOX_MIN_NUMBER)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: LUPIBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: LUPIBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: LUPIBOX_PROFILE)")
	fs.BoolVar(&cfg.reconnect, "reconnect", true, "let players resume their seat after a dropped connection (env: LUPIBOX_RECONNECT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: LUPIBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: LUPIBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: LUPIBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: LUPIBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("lupibox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
