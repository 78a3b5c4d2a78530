package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Scylla      ScyllaConfig
	Kafka       KafkaConfig
	Encryption  EncryptionConfig
	Admission   AdmissionConfig
	Hashing     HashingConfig
	Session     SessionConfig
	CORS        CORSConfig
	Operator    OperatorConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	TLSPort      int
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	StorageRedis  = "redis"
	StorageScylla = "scylla"
)

// StorageConfig selects where users and comments live. Sessions always
// stay in redis.
type StorageConfig struct {
	Backend string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	// CommentRetention caps comments kept per video; zero keeps all
	CommentRetention int
}

type ScyllaConfig struct {
	Hosts          []string
	Keyspace       string
	Username       string
	Password       string
	Consistency    string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NumConns       int
	CertPath       string
	KeyPath        string
	CAPath         string
}

// EncryptionConfig keys are base64-encoded 32-byte values
type EncryptionConfig struct {
	KMSEnabled  bool
	KMSKeyID    string
	KMSRegion   string
	LocalKey    string
	IndexKey    string
	DEKRotation time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	SecurityTopic string
}

// AdmissionConfig carries the abuse-prevention limits. The auth lockout
// threshold and window are constants in the admission package.
type AdmissionConfig struct {
	DailyCap             int
	PostInterval         time.Duration
	RetrievalInterval    time.Duration
	RegistrationCap      int
	RegistrationInterval time.Duration
	JanitorInterval   time.Duration
	Shards            int
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
}

type SessionConfig struct {
	TTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// OperatorConfig guards operator-only endpoints. An empty token disables them.
type OperatorConfig struct {
	Token string
}

// LoadConfig reads an optional .env file and then the process environment.
// Any malformed or out-of-range value is returned as an error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		Environment: l.str("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         l.integer("SERVER_PORT", 8080),
			ReadTimeout:  l.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: l.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  l.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    l.boolean("TLS_ENABLED", false),
			TLSPort:      l.integer("TLS_PORT", 8443),
			AutoCert:     l.boolean("TLS_AUTOCERT", false),
			Domain:       l.str("TLS_DOMAIN", "localhost"),
			CertFile:     l.str("TLS_CERT_FILE", ""),
			KeyFile:      l.str("TLS_KEY_FILE", ""),
			AutoCertDir:  l.str("TLS_AUTOCERT_DIR", "./certs"),
			Email:        l.str("TLS_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  l.str("LOG_LEVEL", "info"),
			Format: l.str("LOG_FORMAT", "json"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(l.str("STORAGE_BACKEND", StorageRedis)),
		},
		Redis: RedisConfig{
			URL:              l.str("REDIS_URL", "redis://localhost:6379/0"),
			Password:         l.str("REDIS_PASSWORD", ""),
			DB:               l.integer("REDIS_DB", 0),
			PoolSize:         l.integer("REDIS_POOL_SIZE", 20),
			CommentRetention: l.integer("REDIS_COMMENT_RETENTION", 0),
		},
		Scylla: ScyllaConfig{
			Hosts:          l.list("SCYLLA_HOSTS", []string{"localhost:9042"}),
			Keyspace:       l.str("SCYLLA_KEYSPACE", "bulletin"),
			Username:       l.str("SCYLLA_USERNAME", ""),
			Password:       l.str("SCYLLA_PASSWORD", ""),
			Consistency:    l.str("SCYLLA_CONSISTENCY", "LOCAL_QUORUM"),
			Timeout:        l.duration("SCYLLA_TIMEOUT", 5*time.Second),
			ConnectTimeout: l.duration("SCYLLA_CONNECT_TIMEOUT", 10*time.Second),
			NumConns:       l.integer("SCYLLA_NUM_CONNS", 4),
			CertPath:       l.str("SCYLLA_TLS_CERT", ""),
			KeyPath:        l.str("SCYLLA_TLS_KEY", ""),
			CAPath:         l.str("SCYLLA_TLS_CA", ""),
		},
		Kafka: KafkaConfig{
			Enabled:       l.boolean("KAFKA_ENABLED", false),
			Brokers:       l.list("KAFKA_BROKERS", []string{"localhost:9092"}),
			SecurityTopic: l.str("KAFKA_SECURITY_TOPIC", "bulletin.security-events"),
		},
		Encryption: EncryptionConfig{
			KMSEnabled:  l.boolean("KMS_ENABLED", false),
			KMSKeyID:    l.str("KMS_KEY_ID", ""),
			KMSRegion:   l.str("KMS_REGION", "us-east-1"),
			LocalKey:    l.str("ENCRYPTION_LOCAL_KEY", ""),
			IndexKey:    l.str("ENCRYPTION_INDEX_KEY", ""),
			DEKRotation: l.duration("ENCRYPTION_DEK_ROTATION", 24*time.Hour),
		},
		Admission: AdmissionConfig{
			DailyCap:             l.integer("DAILY_POST_LIMIT", 100),
			PostInterval:         l.millis("POST_INTERVAL_MS", 5000),
			RetrievalInterval:    l.millis("RETRIEVAL_INTERVAL_MS", 1000),
			RegistrationCap:      l.integer("REGISTRATION_DAILY_LIMIT", 10),
			RegistrationInterval: l.millis("REGISTRATION_INTERVAL_MS", 60000),
			JanitorInterval:      l.duration("ADMISSION_JANITOR_INTERVAL", time.Hour),
			Shards:               l.integer("ADMISSION_SHARDS", 32),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  l.integer("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    l.integer("ARGON2_TIME_COST", 3),
			Argon2Parallelism: l.integer("ARGON2_PARALLELISM", 2),
			Pepper:            l.str("PASSWORD_PEPPER", ""),
		},
		Session: SessionConfig{
			TTL: l.duration("SESSION_TTL", 24*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: l.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		},
		Operator: OperatorConfig{
			Token: l.str("OPERATOR_TOKEN", ""),
		},
	}

	if len(l.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(l.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that parsing alone cannot catch
func (c *Config) Validate() error {
	var errs []error

	if c.Admission.DailyCap < 0 {
		errs = append(errs, fmt.Errorf("DAILY_POST_LIMIT must not be negative (got %d)", c.Admission.DailyCap))
	}
	if c.Admission.PostInterval < 0 {
		errs = append(errs, fmt.Errorf("POST_INTERVAL_MS must not be negative (got %s)", c.Admission.PostInterval))
	}
	if c.Admission.RetrievalInterval < 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_INTERVAL_MS must not be negative (got %s)", c.Admission.RetrievalInterval))
	}
	if c.Admission.RegistrationCap < 0 {
		errs = append(errs, fmt.Errorf("REGISTRATION_DAILY_LIMIT must not be negative (got %d)", c.Admission.RegistrationCap))
	}
	if c.Admission.RegistrationInterval < 0 {
		errs = append(errs, fmt.Errorf("REGISTRATION_INTERVAL_MS must not be negative (got %s)", c.Admission.RegistrationInterval))
	}
	if c.Admission.JanitorInterval <= 0 {
		errs = append(errs, fmt.Errorf("ADMISSION_JANITOR_INTERVAL must be positive (got %s)", c.Admission.JanitorInterval))
	}
	if c.Admission.Shards <= 0 {
		errs = append(errs, fmt.Errorf("ADMISSION_SHARDS must be positive (got %d)", c.Admission.Shards))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT out of range (got %d)", c.Server.Port))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive (got %s)", c.Session.TTL))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is set"))
	}
	if c.IsProduction() && c.Hashing.Pepper == "" {
		errs = append(errs, errors.New("PASSWORD_PEPPER is required in production"))
	}
	switch c.Storage.Backend {
	case StorageRedis:
		if c.Redis.CommentRetention < 0 {
			errs = append(errs, fmt.Errorf("REDIS_COMMENT_RETENTION must not be negative (got %d)", c.Redis.CommentRetention))
		}
	case StorageScylla:
		if len(c.Scylla.Hosts) == 0 || c.Scylla.Keyspace == "" {
			errs = append(errs, errors.New("SCYLLA_HOSTS and SCYLLA_KEYSPACE are required for the scylla backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q (got %q)", StorageRedis, StorageScylla, c.Storage.Backend))
	}
	if c.Encryption.KMSEnabled && c.Encryption.KMSKeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS_ENABLED is set"))
	}
	if c.IsProduction() {
		for _, origin := range c.CORS.AllowedOrigins {
			if isWildcardHost(origin) {
				errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS must name hosts in production (got %q)", origin))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// isWildcardHost reports origins such as "*" or "https://*" that match any
// host. Port wildcards on a named host are allowed.
func isWildcardHost(origin string) bool {
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return host == "" || strings.HasPrefix(host, "*")
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// loader collects parse errors so every bad key is reported at once
type loader struct {
	errs []error
}

func (l *loader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	raw := l.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not an integer", key, raw))
		return def
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	raw := l.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a boolean", key, raw))
		return def
	}
	return b
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	raw := l.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a duration", key, raw))
		return def
	}
	return d
}

func (l *loader) millis(key string, def int) time.Duration {
	return time.Duration(l.integer(key, def)) * time.Millisecond
}

func (l *loader) list(key string, def []string) []string {
	raw := l.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
