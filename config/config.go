package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Mode selects which role this process plays.
const (
	ModeServer = "server"
	ModeHost   = "host"
)

type Config struct {
	Mode string

	// Dedicated server launch parameters.
	ServerIP   string
	ServerPort int
	QueryPort  int
	ServerName string
	BuildID    string
	Map        string
	GameMode   string
	MaxPlayers int

	// Backend service endpoints.
	MatchmakerURL string
	MultiplayURL  string
	LobbyURL      string
	RelayURL      string
	ServiceToken  string

	// Allocation lifecycle event feed.
	GoogleProjectID   string
	EventSubscription string
	CredentialsFile   string

	MetricsPort int
	LogLevel    string
}

func Load() *Config {
	cfg := &Config{
		Mode:              strings.TrimSpace(getEnv("GAMESERVER_MODE", ModeServer)),
		ServerIP:          strings.TrimSpace(getEnv("SERVER_IP", "127.0.0.1")),
		ServerPort:        getEnvInt("SERVER_PORT", 7777),
		QueryPort:         getEnvInt("QUERY_PORT", 7787),
		ServerName:        strings.TrimSpace(getEnv("SERVER_NAME", "matchplay-server")),
		BuildID:           strings.TrimSpace(getEnv("BUILD_ID", "dev")),
		Map:               strings.TrimSpace(getEnv("GAME_MAP", "default")),
		GameMode:          strings.TrimSpace(getEnv("GAME_MODE", "default")),
		MaxPlayers:        getEnvInt("MAX_PLAYERS", 20),
		MatchmakerURL:     strings.TrimSpace(getEnv("MATCHMAKER_URL", "")),
		MultiplayURL:      strings.TrimSpace(getEnv("MULTIPLAY_URL", "")),
		LobbyURL:          strings.TrimSpace(getEnv("LOBBY_URL", "")),
		RelayURL:          strings.TrimSpace(getEnv("RELAY_URL", "")),
		ServiceToken:      strings.TrimSpace(os.Getenv("SERVICE_TOKEN")),
		EventSubscription: strings.TrimSpace(getEnv("ALLOCATION_EVENT_SUBSCRIPTION", "")),
		MetricsPort:       getEnvInt("GAMESERVER_METRICS_PORT", 8080),
		LogLevel:          strings.TrimSpace(getEnv("GAMESERVER_LOG_LEVEL", "info")),
		CredentialsFile:   strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("GAMESERVER_GSA_CREDENTIALS"))),
	}

	if cfg.Mode != ModeServer && cfg.Mode != ModeHost {
		log.Warn().Str("mode", cfg.Mode).Msg("unknown mode; falling back to server")
		cfg.Mode = ModeServer
	}

	cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("GAMESERVER_PUBSUB_PROJECT_ID", "")))
	if cfg.Mode == ModeServer {
		if cfg.MultiplayURL == "" {
			log.Warn().Msg("Multiplay endpoint not set; set MULTIPLAY_URL")
		}
		if cfg.MatchmakerURL == "" {
			log.Warn().Msg("Matchmaker endpoint not set; set MATCHMAKER_URL")
		}
		if cfg.EventSubscription != "" && cfg.GoogleProjectID == "" {
			log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or GAMESERVER_PUBSUB_PROJECT_ID")
		}
	}
	if cfg.Mode == ModeHost {
		if cfg.LobbyURL == "" {
			log.Warn().Msg("Lobby endpoint not set; set LOBBY_URL")
		}
		if cfg.RelayURL == "" {
			log.Warn().Msg("Relay endpoint not set; set RELAY_URL")
		}
	}
	return cfg
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"mode":                c.Mode,
		"serverIP":            c.ServerIP,
		"serverPort":          c.ServerPort,
		"queryPort":           c.QueryPort,
		"serverName":          c.ServerName,
		"buildID":             c.BuildID,
		"map":                 c.Map,
		"gameMode":            c.GameMode,
		"maxPlayers":          c.MaxPlayers,
		"matchmakerURL":       c.MatchmakerURL,
		"multiplayURL":        c.MultiplayURL,
		"lobbyURL":            c.LobbyURL,
		"relayURL":            c.RelayURL,
		"projectID":           c.GoogleProjectID,
		"eventSubscription":   c.EventSubscription,
		"metricsPort":         c.MetricsPort,
		"logLevel":            c.LogLevel,
		"tokenProvided":       c.ServiceToken != "",
		"credentialsProvided": c.CredentialsFile != "",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		fmt.Printf("invalid int for %s: %s\n", key, v)
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		return "", err
	}
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Prefer GOOGLE_APPLICATION_CREDENTIALS if set
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		log.Info().Str("credsFile", p).Msg("GOOGLE_APPLICATION_CREDENTIALS is set; extracting project_id from credentials file")
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit override
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using GAMESERVER_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	// 3) External override
	if v := strings.TrimSpace(os.Getenv("GOOGLE_PROJECT_ID")); v != "" {
		log.Info().Str("projectID", v).Msg("using GOOGLE_PROJECT_ID from environment")
		return v
	}

	// 4) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("using Google project from common environment variables")
		return v
	}

	// 5) Fallback to provided credentials file path (GAMESERVER_GSA_CREDENTIALS)
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from provided credentials file")
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
