// Package config загружает конфигурацию mesh-orchestrator.
//
// Порядок применения: Default() → TOML файл → переменные окружения.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shaiso/meshflow/internal/domain"
)

// ServerConfig — HTTP API.
type ServerConfig struct {
	Port            string        `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// OrchestratorConfig — значения по умолчанию для run'ов и политика хоста.
type OrchestratorConfig struct {
	MaxParallel        int           `toml:"max_parallel"`
	DefaultStepTimeout time.Duration `toml:"default_step_timeout"`

	// AbandonOnCancel — при отмене run прерывать выполняющиеся шаги,
	// а не ждать их завершения.
	AbandonOnCancel bool `toml:"abandon_on_cancel"`

	// LaneLimit — максимум одновременных шагов на lane по всем run'ам. 0 — без ограничения.
	LaneLimit int `toml:"lane_limit"`
}

// AgentConfig — внешние исполнители и планировщик.
type AgentConfig struct {
	GatewayURL string `toml:"gateway_url"`
	PlannerURL string `toml:"planner_url"`
	Token      string `toml:"token"`

	// Routes — gateway для отдельных agent_id ([agent.routes]: agent_id = "url").
	// Шаги остальных агентов уходят в GatewayURL.
	Routes map[string]string `toml:"routes"`
}

// DatabaseConfig — история run'ов в PostgreSQL. Пустой URL — без истории.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// QueueConfig — RabbitMQ. Пустой URL — без очереди.
type QueueConfig struct {
	URL string `toml:"url"`
}

// RetentionConfig — вытеснение завершённых run'ов из памяти.
type RetentionConfig struct {
	TTL      time.Duration `toml:"ttl"`
	Schedule string        `toml:"schedule"`
}

// LoggingConfig — уровень и формат логов.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config — конфигурация процесса.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Agent        AgentConfig        `toml:"agent"`
	Database     DatabaseConfig     `toml:"database"`
	Queue        QueueConfig        `toml:"queue"`
	Retention    RetentionConfig    `toml:"retention"`
	Logging      LoggingConfig      `toml:"logging"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxParallel:        domain.DefaultMaxParallel,
			DefaultStepTimeout: domain.DefaultStepTimeoutMs * time.Millisecond,
		},
		Retention: RetentionConfig{
			TTL:      24 * time.Hour,
			Schedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load читает конфигурацию из path (если задан и существует)
// и применяет переменные окружения.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// файла нет — остаются значения по умолчанию
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv переопределяет значения из переменных окружения.
func (c *Config) applyEnv() error {
	var err error

	c.Server.Port = envString("API_PORT", c.Server.Port)
	c.Database.URL = envString("DB_URL", c.Database.URL)
	c.Queue.URL = envString("RABBITMQ_URL", c.Queue.URL)
	c.Agent.GatewayURL = envString("AGENT_GATEWAY_URL", c.Agent.GatewayURL)
	c.Agent.PlannerURL = envString("PLANNER_URL", c.Agent.PlannerURL)
	c.Agent.Token = envString("AGENT_TOKEN", c.Agent.Token)
	c.Logging.Level = envString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envString("LOG_FORMAT", c.Logging.Format)

	if c.Orchestrator.MaxParallel, err = envInt("MESH_MAX_PARALLEL", c.Orchestrator.MaxParallel); err != nil {
		return err
	}
	if c.Orchestrator.DefaultStepTimeout, err = envDuration("MESH_DEFAULT_STEP_TIMEOUT", c.Orchestrator.DefaultStepTimeout); err != nil {
		return err
	}
	if c.Orchestrator.AbandonOnCancel, err = envBool("MESH_ABANDON_ON_CANCEL", c.Orchestrator.AbandonOnCancel); err != nil {
		return err
	}
	if c.Orchestrator.LaneLimit, err = envInt("MESH_LANE_LIMIT", c.Orchestrator.LaneLimit); err != nil {
		return err
	}
	if c.Retention.TTL, err = envDuration("MESH_RETENTION_TTL", c.Retention.TTL); err != nil {
		return err
	}
	return nil
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Orchestrator.MaxParallel < domain.MinMaxParallel || c.Orchestrator.MaxParallel > domain.MaxMaxParallel {
		return fmt.Errorf("max_parallel %d out of range [%d, %d]",
			c.Orchestrator.MaxParallel, domain.MinMaxParallel, domain.MaxMaxParallel)
	}
	ms := c.Orchestrator.DefaultStepTimeout.Milliseconds()
	if ms < domain.MinStepTimeoutMs || ms > domain.MaxStepTimeoutMs {
		return fmt.Errorf("default_step_timeout %s out of range [1s, 1h]", c.Orchestrator.DefaultStepTimeout)
	}
	if c.Orchestrator.LaneLimit < 0 {
		return fmt.Errorf("lane_limit must not be negative")
	}
	if c.Retention.TTL < 0 {
		return fmt.Errorf("retention ttl must not be negative")
	}
	for agentID, raw := range c.Agent.Routes {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("agent route %q: invalid url %q", agentID, raw)
		}
	}
	return nil
}

// DefaultStepTimeoutMs возвращает таймаут шага по умолчанию в миллисекундах.
func (c *Config) DefaultStepTimeoutMs() int {
	return int(c.Orchestrator.DefaultStepTimeout.Milliseconds())
}
