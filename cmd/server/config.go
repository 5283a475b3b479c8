package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nelwhix/ragchat-web-ui/internal/chat"
	"github.com/nelwhix/ragchat-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type transportConfig interface {
	streamer(logger *slog.Logger) (chat.Streamer, error)
}

type config struct {
	Port     string
	Greeting string
	Backend  transportConfig
}

// BaseBackendConfig contains the fields common to all transport strategies.
type BaseBackendConfig struct {
	Strategy string `yaml:"strategy"`
	URL      string `yaml:"url"`
}

type streamBackendConfig struct {
	BaseBackendConfig `yaml:",inline"`
}

type socketBackendConfig struct {
	BaseBackendConfig `yaml:",inline"`
}

type plainBackendConfig struct {
	BaseBackendConfig `yaml:",inline"`
	AuthToken         string `yaml:"authToken"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port     string         `yaml:"port"`
		Greeting string         `yaml:"greeting"`
		Backend  map[string]any `yaml:"backend"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.Greeting = rawConfig.Greeting

	strategy, ok := rawConfig.Backend["strategy"].(string)
	if !ok {
		return fmt.Errorf("backend strategy is required")
	}

	backendRawYAML, err := yaml.Marshal(rawConfig.Backend)
	if err != nil {
		return err
	}

	var backend transportConfig
	switch strategy {
	case "stream":
		backend = &streamBackendConfig{}
	case "socket":
		backend = &socketBackendConfig{}
	case "plain":
		backend = &plainBackendConfig{}
	default:
		return fmt.Errorf("unknown backend strategy: %s", strategy)
	}

	if err := yaml.Unmarshal(backendRawYAML, backend); err != nil {
		return err
	}

	c.Backend = backend

	return nil
}

func (b BaseBackendConfig) baseURL() (string, error) {
	if b.URL == "" {
		return "", fmt.Errorf("backend url is required")
	}
	return b.URL, nil
}

func (s streamBackendConfig) streamer(logger *slog.Logger) (chat.Streamer, error) {
	url, err := s.baseURL()
	if err != nil {
		return nil, err
	}
	return services.NewSSE(url, logger), nil
}

func (s socketBackendConfig) streamer(logger *slog.Logger) (chat.Streamer, error) {
	url, err := s.baseURL()
	if err != nil {
		return nil, err
	}
	return services.NewSocket(url, logger), nil
}

func (p plainBackendConfig) streamer(logger *slog.Logger) (chat.Streamer, error) {
	url, err := p.baseURL()
	if err != nil {
		return nil, err
	}

	token := p.AuthToken
	if token == "" {
		token = os.Getenv("RAGCHAT_AUTH_TOKEN")
	}
	creds := services.NewCredentials(token)

	return services.Oneshot{Client: services.NewClient(url, creds, logger)}, nil
}
