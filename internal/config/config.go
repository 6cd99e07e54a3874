package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemaflow/schemaflow/internal/backends"
)

// Environment variables owned by schemaflow itself carry this prefix.
// Anything else ending in _BACKEND declares a migration connection.
const envPrefix = "SCHEMAFLOW_"

// Config holds the application configuration
type Config struct {
	Server struct {
		HTTPPort string
		APIToken string
	}
	StateDB struct {
		Type     string // "postgresql" or "memory"
		Host     string
		Port     string
		Username string
		Password string
		Database string
		Schema   string // Configurable schema name
	}
	Queue struct {
		Type               string   // "kafka" or "pulsar"
		KafkaBrokers       []string // Kafka broker addresses
		KafkaTopic         string   // Kafka topic name
		KafkaGroupID       string   // Kafka consumer group ID
		PulsarURL          string   // Pulsar service URL
		PulsarTopic        string   // Pulsar topic name
		PulsarSubscription string   // Pulsar subscription name
		Enabled            bool     // Whether to use queue (false = synchronous execution)
	}
	Lock struct {
		Enabled    bool     // Whether to take a distributed lock around migration runs
		Endpoints  []string // etcd endpoints
		Username   string
		Password   string
		Prefix     string
		SessionTTL int
	}
	MigrationsDir string // Where generated migration files are written
	Connections   map[string]*backends.ConnectionConfig
}

// Load reads configuration from the file named by SCHEMAFLOW_CONFIG (when
// set) and then applies environment variables on top. Environment always
// wins so deployments can override a checked-in file.
func Load() (*Config, error) {
	config := newConfig()

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.loadEnv(); err != nil {
		return nil, err
	}

	if config.Server.APIToken == "" {
		return nil, fmt.Errorf("API token is required: set SCHEMAFLOW_API_TOKEN or server.api_token")
	}
	return config, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	config := newConfig()
	if err := config.loadEnv(); err != nil {
		return nil, err
	}
	if config.Server.APIToken == "" {
		return nil, fmt.Errorf("SCHEMAFLOW_API_TOKEN environment variable is required")
	}
	return config, nil
}

func newConfig() *Config {
	config := &Config{
		Connections: make(map[string]*backends.ConnectionConfig),
	}
	config.Server.HTTPPort = "7070"
	config.StateDB.Type = "postgresql"
	config.StateDB.Host = "localhost"
	config.StateDB.Port = "5432"
	config.StateDB.Username = "postgres"
	config.StateDB.Database = "schemaflow_state"
	config.StateDB.Schema = "public"
	config.Queue.Type = "kafka"
	config.Queue.KafkaTopic = "schemaflow-migrations"
	config.Queue.KafkaGroupID = "schemaflow-migration-workers"
	config.Queue.PulsarURL = "pulsar://localhost:6650"
	config.Queue.PulsarTopic = "schemaflow-migrations"
	config.Queue.PulsarSubscription = "schemaflow-migration-workers"
	config.Lock.Prefix = "/schemaflow/locks"
	config.Lock.SessionTTL = 60
	config.MigrationsDir = "migrations"
	return config
}

// fileConfig is the YAML shape of a configuration file. Every field is
// optional; unset fields keep their defaults or environment values.
type fileConfig struct {
	Server struct {
		HTTPPort string `yaml:"http_port"`
		APIToken string `yaml:"api_token"`
	} `yaml:"server"`
	StateDB struct {
		Type     string `yaml:"type"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		Schema   string `yaml:"schema"`
	} `yaml:"state_db"`
	Queue struct {
		Enabled            bool     `yaml:"enabled"`
		Type               string   `yaml:"type"`
		KafkaBrokers       []string `yaml:"kafka_brokers"`
		KafkaTopic         string   `yaml:"kafka_topic"`
		KafkaGroupID       string   `yaml:"kafka_group_id"`
		PulsarURL          string   `yaml:"pulsar_url"`
		PulsarTopic        string   `yaml:"pulsar_topic"`
		PulsarSubscription string   `yaml:"pulsar_subscription"`
	} `yaml:"queue"`
	Lock struct {
		Enabled    bool     `yaml:"enabled"`
		Endpoints  []string `yaml:"endpoints"`
		Username   string   `yaml:"username"`
		Password   string   `yaml:"password"`
		Prefix     string   `yaml:"prefix"`
		SessionTTL int      `yaml:"session_ttl"`
	} `yaml:"lock"`
	MigrationsDir string `yaml:"migrations_dir"`
	Connections   map[string]struct {
		Backend  string            `yaml:"backend"`
		Host     string            `yaml:"host"`
		Port     string            `yaml:"port"`
		Username string            `yaml:"username"`
		Password string            `yaml:"password"`
		Database string            `yaml:"database"`
		Schema   string            `yaml:"schema"`
		Extra    map[string]string `yaml:"extra"`
	} `yaml:"connections"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setIfPresent(&c.Server.HTTPPort, file.Server.HTTPPort)
	setIfPresent(&c.Server.APIToken, file.Server.APIToken)
	setIfPresent(&c.StateDB.Type, file.StateDB.Type)
	setIfPresent(&c.StateDB.Host, file.StateDB.Host)
	setIfPresent(&c.StateDB.Port, file.StateDB.Port)
	setIfPresent(&c.StateDB.Username, file.StateDB.Username)
	setIfPresent(&c.StateDB.Password, file.StateDB.Password)
	setIfPresent(&c.StateDB.Database, file.StateDB.Database)
	setIfPresent(&c.StateDB.Schema, file.StateDB.Schema)

	c.Queue.Enabled = c.Queue.Enabled || file.Queue.Enabled
	setIfPresent(&c.Queue.Type, file.Queue.Type)
	if len(file.Queue.KafkaBrokers) > 0 {
		c.Queue.KafkaBrokers = file.Queue.KafkaBrokers
	}
	setIfPresent(&c.Queue.KafkaTopic, file.Queue.KafkaTopic)
	setIfPresent(&c.Queue.KafkaGroupID, file.Queue.KafkaGroupID)
	setIfPresent(&c.Queue.PulsarURL, file.Queue.PulsarURL)
	setIfPresent(&c.Queue.PulsarTopic, file.Queue.PulsarTopic)
	setIfPresent(&c.Queue.PulsarSubscription, file.Queue.PulsarSubscription)

	c.Lock.Enabled = c.Lock.Enabled || file.Lock.Enabled
	if len(file.Lock.Endpoints) > 0 {
		c.Lock.Endpoints = file.Lock.Endpoints
	}
	setIfPresent(&c.Lock.Username, file.Lock.Username)
	setIfPresent(&c.Lock.Password, file.Lock.Password)
	setIfPresent(&c.Lock.Prefix, file.Lock.Prefix)
	if file.Lock.SessionTTL > 0 {
		c.Lock.SessionTTL = file.Lock.SessionTTL
	}

	setIfPresent(&c.MigrationsDir, file.MigrationsDir)

	for name, conn := range file.Connections {
		name = strings.ToLower(name)
		extra := conn.Extra
		if extra == nil {
			extra = make(map[string]string)
		}
		c.Connections[name] = &backends.ConnectionConfig{
			Backend:  conn.Backend,
			Host:     conn.Host,
			Port:     conn.Port,
			Username: conn.Username,
			Password: conn.Password,
			Database: conn.Database,
			Schema:   conn.Schema,
			Extra:    extra,
		}
	}
	return nil
}

func (c *Config) loadEnv() error {
	setIfPresent(&c.Server.HTTPPort, os.Getenv(envPrefix+"HTTP_PORT"))
	setIfPresent(&c.Server.APIToken, os.Getenv(envPrefix+"API_TOKEN"))

	setIfPresent(&c.StateDB.Type, os.Getenv(envPrefix+"STATE_BACKEND"))
	setIfPresent(&c.StateDB.Host, os.Getenv(envPrefix+"STATE_DB_HOST"))
	setIfPresent(&c.StateDB.Port, os.Getenv(envPrefix+"STATE_DB_PORT"))
	setIfPresent(&c.StateDB.Username, os.Getenv(envPrefix+"STATE_DB_USERNAME"))
	setIfPresent(&c.StateDB.Password, os.Getenv(envPrefix+"STATE_DB_PASSWORD"))
	setIfPresent(&c.StateDB.Database, os.Getenv(envPrefix+"STATE_DB_NAME"))
	setIfPresent(&c.StateDB.Schema, os.Getenv(envPrefix+"STATE_SCHEMA"))

	if v := os.Getenv(envPrefix + "QUEUE_ENABLED"); v != "" {
		c.Queue.Enabled = v == "true"
	}
	setIfPresent(&c.Queue.Type, os.Getenv(envPrefix+"QUEUE_TYPE"))
	if kafkaBrokers := os.Getenv(envPrefix + "QUEUE_KAFKA_BROKERS"); kafkaBrokers != "" {
		c.Queue.KafkaBrokers = splitAndTrim(kafkaBrokers)
	}
	if len(c.Queue.KafkaBrokers) == 0 {
		kafkaHost := getEnvOrDefault(envPrefix+"QUEUE_KAFKA_HOST", "localhost")
		kafkaPort := getEnvOrDefault(envPrefix+"QUEUE_KAFKA_PORT", "9092")
		c.Queue.KafkaBrokers = []string{fmt.Sprintf("%s:%s", kafkaHost, kafkaPort)}
	}
	setIfPresent(&c.Queue.KafkaTopic, os.Getenv(envPrefix+"QUEUE_KAFKA_TOPIC"))
	setIfPresent(&c.Queue.KafkaGroupID, os.Getenv(envPrefix+"QUEUE_KAFKA_GROUP_ID"))
	setIfPresent(&c.Queue.PulsarURL, os.Getenv(envPrefix+"QUEUE_PULSAR_URL"))
	setIfPresent(&c.Queue.PulsarTopic, os.Getenv(envPrefix+"QUEUE_PULSAR_TOPIC"))
	setIfPresent(&c.Queue.PulsarSubscription, os.Getenv(envPrefix+"QUEUE_PULSAR_SUBSCRIPTION"))

	if v := os.Getenv(envPrefix + "LOCK_ENABLED"); v != "" {
		c.Lock.Enabled = v == "true"
	}
	if endpoints := os.Getenv(envPrefix + "LOCK_ETCD_ENDPOINTS"); endpoints != "" {
		c.Lock.Endpoints = splitAndTrim(endpoints)
	}
	setIfPresent(&c.Lock.Username, os.Getenv(envPrefix+"LOCK_ETCD_USERNAME"))
	setIfPresent(&c.Lock.Password, os.Getenv(envPrefix+"LOCK_ETCD_PASSWORD"))
	setIfPresent(&c.Lock.Prefix, os.Getenv(envPrefix+"LOCK_PREFIX"))

	setIfPresent(&c.MigrationsDir, os.Getenv(envPrefix+"MIGRATIONS_DIR"))

	c.loadConnectionsFromEnv()
	return nil
}

// loadConnectionsFromEnv discovers connections from {CONNECTION}_BACKEND
// variables and fills each from {CONNECTION}_DB_* variables. Variables under
// the SCHEMAFLOW_ prefix belong to the application and never declare
// connections.
func (c *Config) loadConnectionsFromEnv() {
	envVars := os.Environ()
	connectionNames := make(map[string]bool)

	for _, envVar := range envVars {
		parts := strings.SplitN(envVar, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := parts[0]
		value := parts[1]

		if !strings.HasSuffix(key, "_BACKEND") || strings.HasPrefix(key, envPrefix) {
			continue
		}

		connectionName := strings.ToLower(strings.TrimSuffix(key, "_BACKEND"))
		connectionNames[connectionName] = true

		if c.Connections[connectionName] == nil {
			c.Connections[connectionName] = &backends.ConnectionConfig{
				Backend: value,
				Extra:   make(map[string]string),
			}
		} else {
			c.Connections[connectionName].Backend = value
		}
	}

	for connectionName := range connectionNames {
		prefix := strings.ToUpper(connectionName) + "_"
		conn := c.Connections[connectionName]

		setIfPresent(&conn.Host, os.Getenv(prefix+"DB_HOST"))
		setIfPresent(&conn.Port, os.Getenv(prefix+"DB_PORT"))
		setIfPresent(&conn.Username, os.Getenv(prefix+"DB_USERNAME"))
		setIfPresent(&conn.Password, os.Getenv(prefix+"DB_PASSWORD"))
		setIfPresent(&conn.Database, os.Getenv(prefix+"DB_NAME"))
		setIfPresent(&conn.Schema, os.Getenv(prefix+"SCHEMA"))
		if conn.Extra == nil {
			conn.Extra = make(map[string]string)
		}

		for _, envVar := range envVars {
			parts := strings.SplitN(envVar, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := parts[0]
			value := parts[1]

			if strings.HasPrefix(key, prefix) && !strings.HasPrefix(key, prefix+"DB_") && key != prefix+"BACKEND" && key != prefix+"SCHEMA" {
				extraKey := strings.TrimPrefix(key, prefix)
				conn.Extra[extraKey] = value
			}
		}
	}
}

// LockDialTimeout returns the etcd dial timeout, currently fixed.
func (c *Config) LockDialTimeout() time.Duration {
	return 5 * time.Second
}

func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
