package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tiny-errors/internal/model"
)

// Analytics sources for the trend analyzer.
const (
	AnalyticsSourceStore      = "store"
	AnalyticsSourceClickHouse = "clickhouse"
)

// Config holds shared service configuration sourced from environment variables.
type Config struct {
	Env                 string
	IngestAddr          string
	QueryAddr           string
	EnricherMetricsAddr string
	LoaderMetricsAddr   string
	DBDriver            string
	DBDSN               string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	AuthCacheTTL        time.Duration
	KafkaBrokers        []string
	KafkaTopicOccurs    string
	KafkaTopicEnriched  string
	ClickHouseDSN       string
	AnalyticsSource     string
	CORSAllowOrigins    []string
	BotUserAgents       []string
	BatchSize           int
	BatchInterval       time.Duration
	Projects            map[string]ProjectCredential
	ProjectsConfigPath  string
}

// ProjectCredential seeds a project with its API key and optional HMAC secret.
type ProjectCredential struct {
	Name       string `yaml:"name"`
	APIKey     string `yaml:"api_key"`
	HMACSecret string `yaml:"hmac_secret"`
}

type projectsFile struct {
	Projects map[string]ProjectCredential `yaml:"projects"`
}

// Load reads .env files, then process environment variables into a Config,
// applying defaults when unset.
func Load() (Config, error) {
	LoadDotEnv()

	path := getenv("PROJECTS_CONFIG_PATH", "config/projects.dev.yml")
	projects, err := loadProjectsConfig(path)
	if err != nil {
		return Config{}, fmt.Errorf("load projects config: %w", err)
	}

	cfg := Config{
		Env:                 getenv("APP_ENV", "development"),
		IngestAddr:          getenv("INGEST_ADDR", ":8080"),
		QueryAddr:           getenv("QUERY_ADDR", ":8081"),
		EnricherMetricsAddr: getenv("ENRICHER_METRICS_ADDR", ":9100"),
		LoaderMetricsAddr:   getenv("LOADER_METRICS_ADDR", ":9101"),
		DBDriver:            getenv("DB_DRIVER", "sqlite"),
		DBDSN:               getenv("DB_DSN", "file:tiny-errors.db?_busy_timeout=5000"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             atoiDefault("REDIS_DB", 0),
		AuthCacheTTL:        durationDefault("AUTH_CACHE_TTL_MS", 60000),
		KafkaBrokers:        splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicOccurs:    getenv("KAFKA_TOPIC_OCCURRENCES", "errors.occurrences"),
		KafkaTopicEnriched:  getenv("KAFKA_TOPIC_ENRICHED", "errors.enriched"),
		ClickHouseDSN:       getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000?database=default&dial_timeout=5s&compress=true"),
		AnalyticsSource:     getenv("ANALYTICS_SOURCE", AnalyticsSourceStore),
		CORSAllowOrigins:    splitAndTrim(getenv("CORS_ALLOW_ORIGINS", "*")),
		BotUserAgents:       splitAndTrim(getenv("BOT_UA_DENYLIST", "bot,crawler,spider")),
		BatchSize:           atoiDefault("LOADER_BATCH_SIZE", 1000),
		BatchInterval:       durationDefault("LOADER_BATCH_INTERVAL_MS", 800),
		Projects:            projects,
		ProjectsConfigPath:  path,
	}
	switch cfg.AnalyticsSource {
	case AnalyticsSourceStore, AnalyticsSourceClickHouse:
	default:
		return Config{}, fmt.Errorf("unknown ANALYTICS_SOURCE %q", cfg.AnalyticsSource)
	}
	return cfg, nil
}

// LoadDotEnv loads .env.local and .env when present. Variables already set
// in the process environment win, and .env.local wins over .env.
func LoadDotEnv() []string {
	var loaded []string
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}

// ProjectModels converts the configured credentials into project rows,
// ordered by id.
func (c Config) ProjectModels() []model.Project {
	out := make([]model.Project, 0, len(c.Projects))
	for id, cred := range c.Projects {
		out = append(out, model.Project{ID: id, Name: cred.Name, APIKey: cred.APIKey, HMACSecret: cred.HMACSecret})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func getenv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func atoiDefault(key string, def int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func durationDefault(key string, defMS int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(defMS) * time.Millisecond
}

func loadProjectsConfig(path string) (map[string]ProjectCredential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file projectsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Projects) == 0 {
		return nil, fmt.Errorf("no projects configured in %s", path)
	}
	out := make(map[string]ProjectCredential, len(file.Projects))
	for id, cred := range file.Projects {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if cred.APIKey == "" {
			return nil, fmt.Errorf("project %s missing api_key in %s", id, path)
		}
		if cred.Name == "" {
			cred.Name = id
		}
		out[id] = cred
	}
	return out, nil
}
