package client

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	defaultServerPort = 24454
	envFile           = ".env"
)

type ClientConfig struct {
	Server       string      `json:"server"`
	Port         int         `json:"port"`
	Username     string      `json:"username"`
	SpeakerLabel string      `json:"speakerLabel"`
	Volume       float64     `json:"volume"`
	Occlusion    bool        `json:"occlusion"`
	EnableUPnP   bool        `json:"enableUpnp"`
	EnableSTUN   bool        `json:"enableStun"`
	MutedSources []uuid.UUID `json:"mutedSources,omitempty"`
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Server:       "localhost",
		Port:         defaultServerPort,
		SpeakerLabel: DefaultDeviceLabel,
		Volume:       1.0,
		Occlusion:    true,
		EnableUPnP:   true,
		EnableSTUN:   true,
	}
}

// LoadClientConfig reads client.json from the user config dir and applies
// VOICE_* overrides from the environment and a local .env file.
func LoadClientConfig() (ClientConfig, error) {
	path, err := getConfigPath()
	if err != nil {
		return defaultClientConfig(), err
	}
	cfg, err := readClientConfig(path)
	if err != nil {
		return cfg, err
	}

	env, err := readEnv(envFile)
	if err != nil {
		log.Printf("[CONFIG] Ignoring %s: %v", envFile, err)
	}
	return applyEnvOverrides(cfg, env), nil
}

func readClientConfig(path string) (ClientConfig, error) {
	cfg := defaultClientConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return defaultClientConfig(), fmt.Errorf("parse config: %w", err)
	}
	cfg.Volume = clampVolume(cfg.Volume)
	return cfg, nil
}

func SaveClientConfig(cfg ClientConfig) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	return writeClientConfig(path, cfg)
}

func writeClientConfig(path string, cfg ClientConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// readEnv merges a dotenv file with the process environment. Process
// variables win. A missing file is not an error.
func readEnv(path string) (map[string]string, error) {
	values := make(map[string]string)
	var fileErr error
	if _, err := os.Stat(path); err == nil {
		fileValues, err := godotenv.Read(path)
		if err != nil {
			fileErr = fmt.Errorf("parse %s: %w", path, err)
		} else {
			values = fileValues
		}
	}

	for _, key := range []string{"VOICE_SERVER", "VOICE_PORT", "VOICE_USERNAME", "VOICE_SPEAKER", "VOICE_VOLUME", "VOICE_OCCLUSION"} {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}
	return values, fileErr
}

func applyEnvOverrides(cfg ClientConfig, env map[string]string) ClientConfig {
	if v := strings.TrimSpace(env["VOICE_SERVER"]); v != "" {
		cfg.Server = v
	}
	if v := strings.TrimSpace(env["VOICE_PORT"]); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		} else {
			log.Printf("[CONFIG] Invalid VOICE_PORT %q", v)
		}
	}
	if v := strings.TrimSpace(env["VOICE_USERNAME"]); v != "" {
		cfg.Username = v
	}
	if v := strings.TrimSpace(env["VOICE_SPEAKER"]); v != "" {
		cfg.SpeakerLabel = v
	}
	if v := strings.TrimSpace(env["VOICE_VOLUME"]); v != "" {
		if volume, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Volume = clampVolume(volume)
		} else {
			log.Printf("[CONFIG] Invalid VOICE_VOLUME %q", v)
		}
	}
	if v := strings.TrimSpace(env["VOICE_OCCLUSION"]); v != "" {
		if occlusion, err := strconv.ParseBool(v); err == nil {
			cfg.Occlusion = occlusion
		} else {
			log.Printf("[CONFIG] Invalid VOICE_OCCLUSION %q", v)
		}
	}
	return cfg
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

func getConfigPath() (string, error) {
	baseDir, err := getAppConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "client.json"), nil
}

func getAppConfigDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(baseDir, "proximity-voice"), nil
}
