package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Lobby holds all configuration for the lobby server.
type Lobby struct {
	// Network
	BindAddress string `yaml:"bind_address" env:"LOBBY_BIND_ADDRESS"`
	Port        int    `yaml:"port" env:"LOBBY_PORT"`
	NATPort     int    `yaml:"nat_port" env:"LOBBY_NAT_PORT"`
	OpsPort     int    `yaml:"ops_port" env:"LOBBY_OPS_PORT"`

	// Identity advertised in the TASServer banner.
	ServerVersion string `yaml:"server_version" env:"LOBBY_SERVER_VERSION"`
	SpringVersion string `yaml:"spring_version" env:"LOBBY_SPRING_VERSION"`

	// Data files
	MOTDFile      string `yaml:"motd_file" env:"LOBBY_MOTD_FILE"`
	AgreementFile string `yaml:"agreement_file" env:"LOBBY_AGREEMENT_FILE"`
	ProxiesFile   string `yaml:"proxies_file" env:"LOBBY_PROXIES_FILE"`
	WordlistFile  string `yaml:"wordlist_file" env:"LOBBY_WORDLIST_FILE"`
	GeoIPFile     string `yaml:"geoip_file" env:"LOBBY_GEOIP_FILE"`

	// Behavior toggles
	SIGHUPReload bool `yaml:"sighup_reload" env:"LOBBY_SIGHUP_RELOAD"`
	Censor       bool `yaml:"censor" env:"LOBBY_CENSOR"`

	Limits       Limits         `yaml:"limits"`
	Database     DatabaseConfig `yaml:"database"`
	Mail         MailConfig     `yaml:"mail"`
	Verification Verification   `yaml:"verification"`

	LogLevel string `yaml:"log_level" env:"LOBBY_LOG_LEVEL"`
}

// Limits groups throttling and flood-protection knobs.
type Limits struct {
	MaxClients int `yaml:"max_clients" env:"LOBBY_MAX_CLIENTS"`

	// Failed LOGINs tolerated per IP before the limiter kicks in, and the
	// refill interval in seconds for one more attempt.
	LoginBurst         int `yaml:"login_burst" env:"LOBBY_LOGIN_BURST"`
	LoginRefillSeconds int `yaml:"login_refill_seconds" env:"LOBBY_LOGIN_REFILL_SECONDS"`

	// Registrations allowed per IP within the decay window.
	RegistrationsPerIP int `yaml:"registrations_per_ip" env:"LOBBY_REGISTRATIONS_PER_IP"`
	// Renames allowed per user within the decay window.
	RenamesPerUser int `yaml:"renames_per_user" env:"LOBBY_RENAMES_PER_USER"`

	// Send queues above FloodBytes for FloodGraceSeconds get culled.
	FloodBytes        int `yaml:"flood_bytes" env:"LOBBY_FLOOD_BYTES"`
	FloodGraceSeconds int `yaml:"flood_grace_seconds" env:"LOBBY_FLOOD_GRACE_SECONDS"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"LOBBY_DB_HOST"`
	Port     int    `yaml:"port" env:"LOBBY_DB_PORT"`
	User     string `yaml:"user" env:"LOBBY_DB_USER"`
	Password string `yaml:"password" env:"LOBBY_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"LOBBY_DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"LOBBY_DB_SSLMODE"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// MailConfig holds outgoing-mail parameters. With Enabled false the server
// logs mails instead of sending them.
type MailConfig struct {
	Enabled  bool   `yaml:"enabled" env:"LOBBY_MAIL_ENABLED"`
	SMTPHost string `yaml:"smtp_host" env:"LOBBY_SMTP_HOST"`
	SMTPPort int    `yaml:"smtp_port" env:"LOBBY_SMTP_PORT"`
	Username string `yaml:"username" env:"LOBBY_SMTP_USERNAME"`
	Password string `yaml:"password" env:"LOBBY_SMTP_PASSWORD"`
	From     string `yaml:"from" env:"LOBBY_MAIL_FROM"`
}

// Verification controls the e-mail verification flow for new accounts.
type Verification struct {
	Enabled bool `yaml:"enabled" env:"LOBBY_VERIFICATION_ENABLED"`
}

// Default returns Lobby config with sensible defaults.
func Default() Lobby {
	return Lobby{
		BindAddress:   "0.0.0.0",
		Port:          8200,
		NATPort:       8201,
		OpsPort:       8300,
		ServerVersion: "0.1.0",
		SpringVersion: "*",
		MOTDFile:      "motd.txt",
		AgreementFile: "agreement.rtf",
		ProxiesFile:   "proxies.txt",
		WordlistFile:  "",
		GeoIPFile:     "",
		SIGHUPReload:  false,
		Censor:        true,
		Limits: Limits{
			MaxClients:         3000,
			LoginBurst:         3,
			LoginRefillSeconds: 20,
			RegistrationsPerIP: 5,
			RenamesPerUser:     3,
			FloodBytes:         256 * 1024,
			FloodGraceSeconds:  30,
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "uberlobby",
			Password: "uberlobby",
			DBName:   "uberlobby",
			SSLMode:  "disable",
		},
		Mail: MailConfig{
			Enabled:  false,
			SMTPHost: "127.0.0.1",
			SMTPPort: 25,
			From:     "noreply@localhost",
		},
		Verification: Verification{Enabled: false},
		LogLevel:     "info",
	}
}

// Load loads lobby config from a YAML file, then applies environment
// overrides. If the file doesn't exist, returns defaults (plus overrides).
func Load(path string) (Lobby, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment overrides: %w", err)
	}

	return cfg, nil
}
