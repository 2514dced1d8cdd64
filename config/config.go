package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "PYQUEST"

type Config struct {
	Bind          string
	Port          int
	DBPath        string
	SessionSecret string
	TokenTTL      time.Duration
	QuestionsFile string
	LogLevel      string
	LogFormat     string
	PublicDir     string

	// AllowedOrigins are cross-origin frontends that may call the API with
	// the session cookie.
	AllowedOrigins []string
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Validate checks the values and generates a session secret when none was given.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("--db must not be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid --token-ttl: %s", c.TokenTTL)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level %q (debug, info, warn, error)", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid --log-format %q (console, json)", c.LogFormat)
	}

	for i, origin := range c.AllowedOrigins {
		normalized, err := normalizeOrigin(origin)
		if err != nil {
			return err
		}
		c.AllowedOrigins[i] = normalized
	}

	if c.SessionSecret == "" {
		secret, err := generateSessionSecret()
		if err != nil {
			return err
		}
		c.SessionSecret = secret
	} else if len(c.SessionSecret) < 16 {
		return errors.New("--session-secret must be at least 16 characters")
	}
	return nil
}

// NewCommand builds the root command. Every flag can also be set through a
// PYQUEST_ environment variable; explicit flags win.
func NewCommand(cfg *Config, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "pythonquest",
		Short: "Multiplayer Python trivia board race.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: PYQUEST_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 3000, "port to listen on (env: PYQUEST_PORT)")
	fs.StringVar(&cfg.DBPath, "db", "./pythonquest.db", "path to the SQLite database (env: PYQUEST_DB)")
	fs.StringVar(&cfg.SessionSecret, "session-secret", "", "secret used to sign session tokens, generated when empty (env: PYQUEST_SESSION_SECRET)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", 24*time.Hour, "lifetime of session tokens (env: PYQUEST_TOKEN_TTL)")
	fs.StringVar(&cfg.QuestionsFile, "questions", "", "YAML question bank to load instead of the built-in one (env: PYQUEST_QUESTIONS)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: PYQUEST_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "console", "console or json (env: PYQUEST_LOG_FORMAT)")
	fs.StringVar(&cfg.PublicDir, "public-dir", "", "directory of static files to serve at / (env: PYQUEST_PUBLIC_DIR)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "comma-separated cross-origin frontends allowed to send credentials (env: PYQUEST_ALLOWED_ORIGINS)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// normalizeOrigin accepts scheme://host[:port] and strips a trailing slash.
func normalizeOrigin(origin string) (string, error) {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Path != "" || u.RawQuery != "" {
		return "", fmt.Errorf("invalid --allowed-origins entry %q (expected scheme://host[:port])", origin)
	}
	return u.Scheme + "://" + u.Host, nil
}

func generateSessionSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}
