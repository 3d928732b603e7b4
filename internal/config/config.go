// Package config loads runtime configuration from environment variables
// (with optional .env overlay), mirroring the env-var-driven configuration
// style used throughout this codebase rather than a flag- or YAML-first
// approach.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig selects and configures the storage backends behind
// persistence/databases.Manager.
type DBConfig struct {
	DefaultDSN string
	Search     StoreConfig
	Vector     VectorStoreConfig
	Graph      StoreConfig
	Records    StoreConfig
}

// StoreConfig configures a single backend slot ("memory", "postgres", "none").
type StoreConfig struct {
	Backend string
	DSN     string
}

// VectorStoreConfig additionally carries the vector index's dimensionality,
// distance metric, and (when Backend is "qdrant") its collection name.
type VectorStoreConfig struct {
	Backend    string
	DSN        string
	Dimensions int
	Metric     string
	Collection string
}

// EmbeddingConfig configures the embedding client contract.
type EmbeddingConfig struct {
	BaseURL     string
	Path        string
	Model       string
	APIHeader   string
	APIKey      string
	Dimension   int
	BatchMax    int
	Concurrency int
	TimeoutS    int
}

// ChunkerConfig tunes the token-budget chunking policy.
type ChunkerConfig struct {
	TargetTokens int
	MaxTokens    int
	MinTokens    int
	OverlapRatio float64
}

// IngestionConfig configures the orchestrator's worker pool and job queue.
type IngestionConfig struct {
	Workers          int
	QueueCapacity    int
	MaxUploadBytes   int64
	SingleFlightRedis bool
}

// RepairConfig configures the periodic index-repair sweep.
type RepairConfig struct {
	Interval time.Duration
	MaxAgeH  int
}

// RetryConfig configures the shared exponential-backoff helper.
type RetryConfig struct {
	BaseDelay  time.Duration
	Factor     float64
	MaxAttempts int
	MaxDelay   time.Duration
}

// WebConfig tunes the HTML/URL fetcher.
type WebConfig struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
}

// QueryConfig tunes hybrid retrieval defaults.
type QueryConfig struct {
	DefaultK      int
	RRFK          int
	GraphBoost    float64
	GraphTopN     int
	GraphMaxPerSeed int
	SameDocBonus  float64
	SameDocCap    int
}

// S3Config configures the raw-blob object store.
type S3Config struct {
	Enabled               bool
	Bucket                string
	Region                string
	Endpoint              string
	AccessKey             string
	SecretKey             string
	Prefix                string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// S3SSEConfig configures server-side encryption for S3 writes.
type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

// KafkaConfig configures the optional Kafka relay for repair task fan-out.
// Webhook events are not relayed through Kafka.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

// RedisConfig configures the single-flight / idempotency cache.
type RedisConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

// ObsConfig configures logging and metrics.
type ObsConfig struct {
	LogLevel     string
	LogPath      string
	ServiceName  string
	MetricsAddr  string

	// OTLP is the OTLP/HTTP collector host:port; InitOTel returns an error
	// when it is empty.
	OTLP           string
	ServiceVersion string
	Environment    string
}

// WhisperConfig configures the audio/video transcription extractor.
type WhisperConfig struct {
	Enabled   bool
	ModelPath string
}

// Config is the top-level, fully resolved runtime configuration.
type Config struct {
	Host string
	Port int

	DB        DBConfig
	Embedding EmbeddingConfig
	Chunker   ChunkerConfig
	Ingestion IngestionConfig
	Repair    RepairConfig
	Retry     RetryConfig
	Web       WebConfig
	Query     QueryConfig
	S3        S3Config
	Kafka     KafkaConfig
	Redis     RedisConfig
	Obs       ObsConfig
	Whisper   WhisperConfig
}

// Load reads configuration from the process environment, overlaying an
// optional .env file in the working directory. Every field has a sane
// default so the zero-config path runs against in-memory stores.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Host: firstNonEmpty(os.Getenv("FK_HOST"), "0.0.0.0"),
		Port: getenvInt("FK_PORT", 8080),
	}

	defaultDSN := os.Getenv("FK_POSTGRES_DSN")
	cfg.DB = DBConfig{
		DefaultDSN: defaultDSN,
		Search: StoreConfig{
			Backend: firstNonEmpty(os.Getenv("FK_SEARCH_BACKEND"), backendDefault(defaultDSN)),
			DSN:     firstNonEmpty(os.Getenv("FK_SEARCH_DSN"), defaultDSN),
		},
		Vector: VectorStoreConfig{
			Backend:    firstNonEmpty(os.Getenv("FK_VECTOR_BACKEND"), "memory"),
			DSN:        firstNonEmpty(os.Getenv("FK_VECTOR_DSN"), os.Getenv("FK_QDRANT_DSN")),
			Dimensions: getenvInt("FK_EMBEDDING_DIM", 768),
			Metric:     firstNonEmpty(os.Getenv("FK_VECTOR_METRIC"), "cosine"),
			Collection: firstNonEmpty(os.Getenv("FK_QDRANT_COLLECTION"), "finderskeepers"),
		},
		Graph: StoreConfig{
			Backend: firstNonEmpty(os.Getenv("FK_GRAPH_BACKEND"), backendDefault(defaultDSN)),
			DSN:     firstNonEmpty(os.Getenv("FK_GRAPH_DSN"), defaultDSN),
		},
		Records: StoreConfig{
			Backend: firstNonEmpty(os.Getenv("FK_RECORDS_BACKEND"), backendDefault(defaultDSN)),
			DSN:     firstNonEmpty(os.Getenv("FK_RECORDS_DSN"), defaultDSN),
		},
	}

	cfg.Embedding = EmbeddingConfig{
		BaseURL:     os.Getenv("FK_EMBEDDING_ENDPOINT"),
		Path:        firstNonEmpty(os.Getenv("FK_EMBEDDING_PATH"), "/v1/embeddings"),
		Model:       firstNonEmpty(os.Getenv("FK_EMBEDDING_MODEL"), "text-embedding-3-small"),
		APIHeader:   firstNonEmpty(os.Getenv("FK_EMBEDDING_API_HEADER"), "Authorization"),
		APIKey:      os.Getenv("FK_EMBEDDING_API_KEY"),
		Dimension:   getenvInt("FK_EMBEDDING_DIM", 768),
		BatchMax:    getenvInt("FK_EMBEDDING_BATCH_MAX", 32),
		Concurrency: getenvInt("FK_EMBEDDING_CONCURRENCY", 8),
		TimeoutS:    getenvInt("FK_EMBEDDING_TIMEOUT_S", 30),
	}

	cfg.Chunker = ChunkerConfig{
		TargetTokens: getenvInt("FK_CHUNK_TARGET_TOKENS", 800),
		MaxTokens:    getenvInt("FK_CHUNK_MAX_TOKENS", 1200),
		MinTokens:    getenvInt("FK_CHUNK_MIN_TOKENS", 200),
		OverlapRatio: getenvFloat("FK_CHUNK_OVERLAP_RATIO", 0.1),
	}

	cfg.Ingestion = IngestionConfig{
		Workers:           getenvInt("FK_INGEST_WORKERS", 4),
		QueueCapacity:     getenvInt("FK_INGEST_QUEUE_CAPACITY", 256),
		MaxUploadBytes:    getenvInt64("FK_INGEST_MAX_UPLOAD_BYTES", 64*1024*1024),
		SingleFlightRedis: getenvBool("FK_INGEST_SINGLEFLIGHT_REDIS", false),
	}

	cfg.Repair = RepairConfig{
		Interval: getenvDuration("FK_REPAIR_INTERVAL", 10*time.Minute),
		MaxAgeH:  getenvInt("FK_REPAIR_MAX_AGE_H", 24),
	}

	cfg.Retry = RetryConfig{
		BaseDelay:   getenvDuration("FK_RETRY_BASE_DELAY", 250*time.Millisecond),
		Factor:      getenvFloat("FK_RETRY_FACTOR", 2.0),
		MaxAttempts: getenvInt("FK_RETRY_MAX_ATTEMPTS", 4),
		MaxDelay:    getenvDuration("FK_RETRY_MAX_DELAY", 8*time.Second),
	}

	cfg.Web = WebConfig{
		Timeout:      getenvDuration("FK_URL_TIMEOUT", 30*time.Second),
		MaxBytes:     getenvInt64("FK_URL_MAX_BYTES", 50*1024*1024),
		MaxRedirects: getenvInt("FK_URL_MAX_REDIRECTS", 10),
	}

	cfg.Query = QueryConfig{
		DefaultK:        getenvInt("FK_QUERY_DEFAULT_K", 10),
		RRFK:            getenvInt("FK_QUERY_RRF_K", 60),
		GraphBoost:      getenvFloat("FK_QUERY_GRAPH_BOOST", 0.2),
		GraphTopN:       getenvInt("FK_QUERY_GRAPH_TOPN", 10),
		GraphMaxPerSeed: getenvInt("FK_QUERY_GRAPH_MAX_PER_SEED", 5),
		SameDocBonus:    getenvFloat("FK_QUERY_SAMEDOC_BONUS", 0.01),
		SameDocCap:      getenvInt("FK_QUERY_SAMEDOC_CAP", 3),
	}

	cfg.S3 = S3Config{
		Enabled:               getenvBool("FK_S3_ENABLED", false),
		Bucket:                os.Getenv("FK_S3_BUCKET"),
		Region:                firstNonEmpty(os.Getenv("FK_S3_REGION"), "us-east-1"),
		Endpoint:              os.Getenv("FK_S3_ENDPOINT"),
		AccessKey:             os.Getenv("FK_S3_ACCESS_KEY"),
		SecretKey:             os.Getenv("FK_S3_SECRET_KEY"),
		Prefix:                os.Getenv("FK_S3_PREFIX"),
		UsePathStyle:          getenvBool("FK_S3_USE_PATH_STYLE", false),
		TLSInsecureSkipVerify: getenvBool("FK_S3_TLS_INSECURE_SKIP_VERIFY", false),
		SSE: S3SSEConfig{
			Mode:     os.Getenv("FK_S3_SSE_MODE"),
			KMSKeyID: os.Getenv("FK_S3_SSE_KMS_KEY_ID"),
		},
	}

	cfg.Kafka = KafkaConfig{
		Enabled: getenvBool("FK_KAFKA_ENABLED", false),
		Brokers: splitNonEmpty(os.Getenv("FK_KAFKA_BROKERS"), ","),
		Topic:   firstNonEmpty(os.Getenv("FK_KAFKA_TOPIC"), "finderskeepers.repair"),
		GroupID: firstNonEmpty(os.Getenv("FK_KAFKA_GROUP_ID"), "finderskeepers-orchestrator"),
	}

	cfg.Redis = RedisConfig{
		Enabled: getenvBool("FK_REDIS_ENABLED", false),
		Addr:    firstNonEmpty(os.Getenv("FK_REDIS_ADDR"), "localhost:6379"),
		DB:      getenvInt("FK_REDIS_DB", 0),
	}

	cfg.Obs = ObsConfig{
		LogLevel:    firstNonEmpty(os.Getenv("FK_LOG_LEVEL"), "info"),
		LogPath:     os.Getenv("FK_LOG_PATH"),
		ServiceName: firstNonEmpty(os.Getenv("FK_SERVICE_NAME"), "finderskeepers"),
		MetricsAddr: firstNonEmpty(os.Getenv("FK_METRICS_ADDR"), ":9464"),

		OTLP:           os.Getenv("FK_OTLP_ENDPOINT"),
		ServiceVersion: firstNonEmpty(os.Getenv("FK_SERVICE_VERSION"), "dev"),
		Environment:    os.Getenv("FK_ENVIRONMENT"),
	}

	cfg.Whisper = WhisperConfig{
		Enabled:   getenvBool("FK_WHISPER_ENABLED", false),
		ModelPath: os.Getenv("FK_WHISPER_MODEL_PATH"),
	}

	return cfg, nil
}

func backendDefault(dsn string) string {
	if dsn != "" {
		return "postgres"
	}
	return "memory"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitNonEmpty(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
