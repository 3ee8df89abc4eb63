package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	DBPath     string        `mapstructure:"db_path"`

	Log    LogConfig    `mapstructure:"log"`
	CORS   CORSConfig   `mapstructure:"cors"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Call   CallConfig   `mapstructure:"call"`
	ICE    ICEConfig    `mapstructure:"ice"`
	Signal SignalConfig `mapstructure:"signal"`
	Media  MediaConfig  `mapstructure:"media"`
	Client ClientConfig `mapstructure:"client"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	AllowAnonymous bool          `mapstructure:"allow_anonymous"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

// CallConfig holds the local, fixed state machine durations.
type CallConfig struct {
	RingTimeout       time.Duration `mapstructure:"ring_timeout"`
	IncomingTimeout   time.Duration `mapstructure:"incoming_timeout"`
	ConnectingTimeout time.Duration `mapstructure:"connecting_timeout"`
	DisconnectGrace   time.Duration `mapstructure:"disconnect_grace"`
	EndedGrace        time.Duration `mapstructure:"ended_grace"`
	AutoAcceptGlare   bool          `mapstructure:"auto_accept_glare"`
}

type ICEConfig struct {
	STUN         []string `mapstructure:"stun"`
	TURN         []string `mapstructure:"turn"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
	ForceRelay   bool     `mapstructure:"force_relay"`
}

type SignalConfig struct {
	URL         string        `mapstructure:"url"`
	Codec       string        `mapstructure:"codec"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	RetryBase   time.Duration `mapstructure:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max"`
}

type MediaConfig struct {
	Deny         bool          `mapstructure:"deny"`
	AcquireDelay time.Duration `mapstructure:"acquire_delay"`
}

type ClientConfig struct {
	UID   string `mapstructure:"uid"`
	Token string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "dev-secret-change-me")
	v.SetDefault("db_path", "./data/calls.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("auth.allow_anonymous", false)
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("call.ring_timeout", "30s")
	v.SetDefault("call.incoming_timeout", "30s")
	v.SetDefault("call.connecting_timeout", "30s")
	v.SetDefault("call.disconnect_grace", "10s")
	v.SetDefault("call.ended_grace", "3s")
	v.SetDefault("call.auto_accept_glare", true)

	v.SetDefault("ice.stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.turn", []string{})
	v.SetDefault("ice.force_relay", false)

	v.SetDefault("signal.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.codec", "json")
	v.SetDefault("signal.send_timeout", "10s")
	v.SetDefault("signal.retry_base", "250ms")
	v.SetDefault("signal.retry_max", "4s")

	v.SetDefault("media.deny", false)
	v.SetDefault("media.acquire_delay", "0s")
}

func newViper(path string) *viper.Viper {
	// .env is optional; real env wins over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VOICECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) { return LoadFile("") }

// LoadFile reads the given yaml file, falling back to defaults when it is missing.
func LoadFile(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return cfg, nil
}

// Watch re-reads path on change and hands the new config to onChange.
func Watch(path string, onChange func(*Config)) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload failed")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
