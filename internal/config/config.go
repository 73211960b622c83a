package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/adapter/gemini"
	"github.com/zhouzirui/z-tasks/backend/internal/model/variant"
	"github.com/zhouzirui/z-tasks/backend/internal/service/ai"
	"github.com/zhouzirui/z-tasks/backend/internal/service/temporal"
)

const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	AI     AIConfig
	Store  StoreConfig
	Tasks  TaskConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	tasks, err := loadTaskConfig()
	if err != nil {
		return nil, err
	}

	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Log: log, AI: ai, Store: store, Tasks: tasks}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, ShutdownTimeout: shutdown}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, ShutdownTimeout: shutdown}, nil
}

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level       string
	Development bool
}

func loadLogConfig() (LogConfig, error) {
	dev, err := parseBoolEnv("LOG_DEVELOPMENT", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info"), Development: dev}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	ReasoningModel string
	TitleModel     string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int

	GeminiAPIKey string
	GeminiModel  string

	// CatalogPath points at an optional YAML variant catalog.
	CatalogPath   string
	MaxToolRounds int
	SmoothDelay   time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != "" && c.GeminiModel != ""
	default:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	}
}

// NewChatModel 使用配置创建一个模型实例。name 为空时使用主模型。
func (c AIConfig) NewChatModel(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	if !c.Enabled() {
		return nil, goerr.New("model credentials are missing", goerr.V("provider", c.Provider))
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	if c.Provider == ProviderGemini {
		if name == "" {
			name = c.GeminiModel
		}
		cm, err := gemini.New(ctx, gemini.Config{APIKey: c.GeminiAPIKey, Model: name, Temperature: temperature})
		if err != nil {
			return nil, err
		}
		return cm, nil
	}

	if name == "" {
		name = c.Model
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       name,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	cm, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ark chat model", goerr.V("model", name))
	}
	return ai.ToolCalling(cm), nil
}

// NewModelProvider 为每个变体创建模型；未单独配置的变体共用主模型。
func (c AIConfig) NewModelProvider(ctx context.Context) (ai.StaticProvider, error) {
	primary, err := c.NewChatModel(ctx, "")
	if err != nil {
		return ai.StaticProvider{}, err
	}

	provider := ai.StaticProvider{
		Default:  primary,
		Variants: make(map[string]model.ToolCallingChatModel),
	}
	overrides := map[string]string{
		variant.ChatModelReasoning: c.ReasoningModel,
		variant.TitleModel:         c.TitleModel,
	}
	for id, name := range overrides {
		if name == "" {
			continue
		}
		m, err := c.NewChatModel(ctx, name)
		if err != nil {
			return ai.StaticProvider{}, goerr.Wrap(err, "failed to create variant model", goerr.V("variant", id))
		}
		provider.Variants[id] = m
	}
	return provider, nil
}

// Variants 返回变体目录：配置了 MODEL_CATALOG 时读取 YAML，否则使用内置目录。
func (c AIConfig) Variants() ([]variant.Variant, error) {
	if c.CatalogPath == "" {
		return variant.Seed(), nil
	}
	return variant.LoadFile(c.CatalogPath)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderGemini {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	rounds := ai.DefaultMaxRounds
	if override, err := parseOptionalIntEnv("MAX_TOOL_ROUNDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			rounds = 1
		} else {
			rounds = *override
		}
	}

	delay, err := parseDurationEnv("STREAM_SMOOTH_DELAY", 10*time.Millisecond)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:       provider,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ReasoningModel: strings.TrimSpace(os.Getenv("ARK_REASONING_MODEL")),
		TitleModel:     strings.TrimSpace(os.Getenv("ARK_TITLE_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:    getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		CatalogPath:    strings.TrimSpace(os.Getenv("MODEL_CATALOG")),
		MaxToolRounds:  rounds,
		SmoothDelay:    delay,
	}, nil
}

// StoreConfig 描述任务、会话与事件日志的存储后端。
type StoreConfig struct {
	Driver          string
	SQLitePath      string
	StreamLog       string
	StreamRetention time.Duration
	PollInterval    time.Duration
}

// NeedsSQLite 表示是否需要打开 SQLite 数据库。
func (c StoreConfig) NeedsSQLite() bool {
	return c.Driver == DriverSQLite || c.StreamLog == DriverSQLite
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", DriverSQLite))
	if driver != DriverMemory && driver != DriverSQLite {
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}

	streamLog := strings.ToLower(getEnvOrDefault("STREAM_LOG_DRIVER", driver))
	if streamLog != DriverMemory && streamLog != DriverSQLite && streamLog != DriverNone {
		return StoreConfig{}, fmt.Errorf("invalid STREAM_LOG_DRIVER value %q", streamLog)
	}

	retention, err := parseDurationEnv("STREAM_RETENTION", 24*time.Hour)
	if err != nil {
		return StoreConfig{}, err
	}

	poll, err := parseDurationEnv("STREAM_POLL_INTERVAL", time.Second)
	if err != nil {
		return StoreConfig{}, err
	}

	return StoreConfig{
		Driver:          driver,
		SQLitePath:      getEnvOrDefault("SQLITE_PATH", "data/z-tasks.db"),
		StreamLog:       streamLog,
		StreamRetention: retention,
		PollInterval:    poll,
	}, nil
}

// TaskConfig 描述任务时间解析的默认值。
type TaskConfig struct {
	Location    *time.Location
	DefaultHour int
}

func loadTaskConfig() (TaskConfig, error) {
	loc := time.Local
	if name := strings.TrimSpace(os.Getenv("TASK_TIMEZONE")); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return TaskConfig{}, fmt.Errorf("invalid TASK_TIMEZONE value %q: %w", name, err)
		}
		loc = l
	}

	hour := temporal.DefaultHour
	if override, err := parseOptionalIntEnv("TASK_DEFAULT_HOUR"); err != nil {
		return TaskConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 23 {
			return TaskConfig{}, fmt.Errorf("invalid TASK_DEFAULT_HOUR value %d", *override)
		}
		hour = *override
	}

	return TaskConfig{Location: loc, DefaultHour: hour}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
