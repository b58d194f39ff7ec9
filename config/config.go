/*
Copyright 2025 Replyloop Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"AUTOPILOT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"AUTOPILOT_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"AUTOPILOT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"AUTOPILOT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"AUTOPILOT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"AUTOPILOT_REDIS_SKIP_TLS_VERIFY"`
}

// PlatformConfig points at the external social platform API.
type PlatformConfig struct {
	BaseUrl      string `json:"base_url" envconfig:"AUTOPILOT_PLATFORM_BASE_URL"`
	ClientId     string `json:"client_id" envconfig:"AUTOPILOT_PLATFORM_CLIENT_ID"`
	ClientSecret string `json:"client_secret" envconfig:"AUTOPILOT_PLATFORM_CLIENT_SECRET"`
}

// VaultConfig holds the secret under which stored credentials are encrypted.
type VaultConfig struct {
	EncryptionKey string `json:"encryption_key" envconfig:"AUTOPILOT_VAULT_ENCRYPTION_KEY"`
}

// QueueConfig tunes the delivery engine's batch and retry behavior.
type QueueConfig struct {
	BatchSize            int    `json:"batch_size" envconfig:"AUTOPILOT_QUEUE_BATCH_SIZE"`
	MaxRetries           int    `json:"max_retries" envconfig:"AUTOPILOT_QUEUE_MAX_RETRIES"`
	RetryDelaySec        int    `json:"retry_delay_sec" envconfig:"AUTOPILOT_QUEUE_RETRY_DELAY_SEC"`
	CircuitRetryDelaySec int    `json:"circuit_retry_delay_sec" envconfig:"AUTOPILOT_QUEUE_CIRCUIT_RETRY_DELAY_SEC"`
	ThreadPacingSec      int    `json:"thread_pacing_sec" envconfig:"AUTOPILOT_QUEUE_THREAD_PACING_SEC"`
	StuckThresholdSec    int    `json:"stuck_threshold_sec" envconfig:"AUTOPILOT_QUEUE_STUCK_THRESHOLD_SEC"`
	EventQueue           string `json:"event_queue" envconfig:"AUTOPILOT_QUEUE_EVENT_QUEUE"`
	MonitoringPort       string `json:"monitoring_port" envconfig:"AUTOPILOT_QUEUE_MONITORING_PORT"`
}

// BreakerConfig tunes the per-operation circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" envconfig:"AUTOPILOT_BREAKER_FAILURE_THRESHOLD"`
	CooldownSec      int `json:"cooldown_sec" envconfig:"AUTOPILOT_BREAKER_COOLDOWN_SEC"`
}

// SchedulerConfig drives the periodic processing loop.
type SchedulerConfig struct {
	IntervalSec        int `json:"interval_sec" envconfig:"AUTOPILOT_SCHEDULER_INTERVAL_SEC"`
	TokenSweepEvery    int `json:"token_sweep_every" envconfig:"AUTOPILOT_SCHEDULER_TOKEN_SWEEP_EVERY"`
	StalenessThreshold int `json:"staleness_threshold_hours" envconfig:"AUTOPILOT_SCHEDULER_STALENESS_HOURS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"AUTOPILOT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"AUTOPILOT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"AUTOPILOT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
	// Events is where send-event analytics records are delivered by the
	// worker process. Empty disables the sink.
	Events struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"events"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"AUTOPILOT_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Platform     PlatformConfig   `json:"platform"`
	Vault        VaultConfig      `json:"vault"`
	Queue        QueueConfig      `json:"queue"`
	Breaker      BreakerConfig    `json:"breaker"`
	Scheduler    SchedulerConfig  `json:"scheduler"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	// MonitorUserAgents lists uptime-pinger user agents allowed to hit the
	// trigger endpoint without the secret key.
	MonitorUserAgents []string `json:"monitor_user_agents" envconfig:"AUTOPILOT_MONITOR_USER_AGENTS"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("autopilot", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called autopilot.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Autopilot Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Vault.EncryptionKey == "" {
		log.Println("Error: Vault encryption key is empty. It's a required field.")
		return errors.New("vault encryption key is required")
	}

	if cnf.Platform.BaseUrl == "" {
		cnf.Platform.BaseUrl = "https://api.x.com/2"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Platform.BaseUrl = strings.TrimSuffix(strings.TrimSpace(cnf.Platform.BaseUrl), "/")

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Queue defaults, clamped to safe ranges.
	if cnf.Queue.BatchSize <= 0 {
		cnf.Queue.BatchSize = 10
	}
	if cnf.Queue.BatchSize > 50 {
		log.Printf("Warning: Queue batch size %d above maximum. Clamping to 50", cnf.Queue.BatchSize)
		cnf.Queue.BatchSize = 50
	}
	if cnf.Queue.MaxRetries <= 0 {
		cnf.Queue.MaxRetries = 3
	}
	if cnf.Queue.RetryDelaySec <= 0 {
		cnf.Queue.RetryDelaySec = 300 // 5 minutes, mirrors the compliance minimum spacing
	}
	if cnf.Queue.CircuitRetryDelaySec <= 0 {
		cnf.Queue.CircuitRetryDelaySec = 600
	}
	if cnf.Queue.ThreadPacingSec <= 0 {
		cnf.Queue.ThreadPacingSec = 2
	}
	if cnf.Queue.StuckThresholdSec <= 0 {
		cnf.Queue.StuckThresholdSec = 600
	}
	if cnf.Queue.StuckThresholdSec < 120 {
		log.Printf("Warning: Queue stuck threshold %ds below minimum. Clamping to 120s", cnf.Queue.StuckThresholdSec)
		cnf.Queue.StuckThresholdSec = 120
	}
	if cnf.Queue.EventQueue == "" {
		cnf.Queue.EventQueue = "send_events"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	// Breaker defaults.
	if cnf.Breaker.FailureThreshold <= 0 {
		cnf.Breaker.FailureThreshold = 5
	}
	if cnf.Breaker.CooldownSec <= 0 {
		cnf.Breaker.CooldownSec = 60
	}

	// Scheduler defaults.
	if cnf.Scheduler.IntervalSec <= 0 {
		cnf.Scheduler.IntervalSec = 60
	}
	if cnf.Scheduler.IntervalSec < 10 {
		log.Printf("Warning: Scheduler interval %ds below minimum. Clamping to 10s", cnf.Scheduler.IntervalSec)
		cnf.Scheduler.IntervalSec = 10
	}
	if cnf.Scheduler.TokenSweepEvery <= 0 {
		cnf.Scheduler.TokenSweepEvery = 30
	}
	if cnf.Scheduler.StalenessThreshold <= 0 {
		cnf.Scheduler.StalenessThreshold = 12
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
