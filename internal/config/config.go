package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	RAG        RagConfig        `mapstructure:"rag"`
	ServiceNow ServiceNowConfig `mapstructure:"servicenow"`
	Routing    RoutingConfig    `mapstructure:"routing"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置（向量缓存的 L2 层，可选）
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// RagConfig 摄取与问答流水线配置
type RagConfig struct {
	ChunkSize       int `mapstructure:"chunk_size"`
	ChunkOverlap    int `mapstructure:"chunk_overlap"`
	FinalTopK       int `mapstructure:"final_top_k"`
	OverfetchFactor int `mapstructure:"overfetch_factor"`
	MinEvidence     int `mapstructure:"min_evidence"`
	MaxUploadMB     int `mapstructure:"max_upload_mb"`

	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Reranker    RerankerConfig    `mapstructure:"reranker"`
}

// VectorStoreConfig 向量存储配置
type VectorStoreConfig struct {
	Type   string       `mapstructure:"type"` // memory, pgvector, qdrant
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig Qdrant 外部向量数据库配置
type QdrantConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Collection     string `mapstructure:"collection"`
	Distance       string `mapstructure:"distance"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig 向量化后端配置
type EmbeddingConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// LLMConfig 生成后端配置
type LLMConfig struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	Model              string `mapstructure:"model"`
	MaxTokens          int    `mapstructure:"max_tokens"`
	ContextTokenBudget int    `mapstructure:"context_token_budget"`
}

// RerankerConfig 重排序服务配置
type RerankerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ServiceNowConfig ServiceNow CMDB 集成配置
type ServiceNowConfig struct {
	Instance       string `mapstructure:"instance"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RoutingConfig 意图路由配置
type RoutingConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST 覆盖 database.host
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// 配置文件缺失不致命，默认值 + 环境变量足以启动
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 流水线参数默认值，配置文件未给出时生效。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("rag.chunk_size", 600)
	v.SetDefault("rag.chunk_overlap", 100)
	v.SetDefault("rag.final_top_k", 5)
	v.SetDefault("rag.overfetch_factor", 3)
	v.SetDefault("rag.min_evidence", 1)
	v.SetDefault("rag.max_upload_mb", 50)
	v.SetDefault("rag.vector_store.type", "memory")
	v.SetDefault("rag.embedding.dimension", 1024)
	v.SetDefault("rag.llm.max_tokens", 512)
	v.SetDefault("rag.llm.context_token_budget", 3000)
}

// Validate 启动期配置校验，非法组合直接拒绝启动。
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("配置错误: rag.chunk_size 必须大于 0")
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("配置错误: rag.chunk_overlap 必须在 [0, chunk_size) 区间")
	}
	if c.RAG.FinalTopK <= 0 {
		return fmt.Errorf("配置错误: rag.final_top_k 必须大于 0")
	}
	if c.RAG.OverfetchFactor < 1 {
		return fmt.Errorf("配置错误: rag.overfetch_factor 必须不小于 1")
	}
	if c.RAG.MaxUploadMB <= 0 {
		return fmt.Errorf("配置错误: rag.max_upload_mb 必须大于 0")
	}
	if c.RAG.Embedding.Dimension <= 0 {
		return fmt.Errorf("配置错误: rag.embedding.dimension 必须大于 0")
	}
	switch c.RAG.VectorStore.Type {
	case "", "memory", "pgvector", "qdrant":
	default:
		return fmt.Errorf("配置错误: 未知的向量存储类型 %q", c.RAG.VectorStore.Type)
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// MaxUploadBytes 上传大小上限（字节）。
func (c *RagConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
