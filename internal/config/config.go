// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，由 Init 填充，仅供 main 等装配代码读取。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Tika      TikaConfig      `mapstructure:"tika"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	LLM       LLMConfig       `mapstructure:"llm"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Seed      SeedConfig      `mapstructure:"seed"`

	// Testing 为 true 时强制使用内存向量库、离线大模型应答、SQLite 与内存对象存储。
	Testing bool `mapstructure:"testing"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Driver string       `mapstructure:"driver"` // mysql | sqlite
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SQLiteConfig 存储 SQLite 数据库文件路径，":memory:" 表示内存库。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储向量化相关的配置。
type EmbeddingConfig struct {
	Dimensions int `mapstructure:"dimensions"`
}

// VectorConfig 选择向量库后端及其连接参数。
type VectorConfig struct {
	Backend       string              `mapstructure:"backend"` // memory | milvus | elasticsearch | qdrant
	Milvus        MilvusConfig        `mapstructure:"milvus"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
}

// MilvusConfig 存储 Milvus 相关的配置。
type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	Collection string `mapstructure:"collection"`
	NList      int    `mapstructure:"nlist"`
	NProbe     int    `mapstructure:"nprobe"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// QdrantConfig 存储 Qdrant 相关的配置。
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 是请求未指定生成参数时使用的默认值。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示词。
type LLMPromptConfig struct {
	System string `mapstructure:"system"`
}

// RAGConfig 存储检索增强相关的默认参数。
type RAGConfig struct {
	TopK          int `mapstructure:"top_k"`
	HistoryRounds int `mapstructure:"history_rounds"`
	ChunkSize     int `mapstructure:"chunk_size"`
	ChunkOverlap  int `mapstructure:"chunk_overlap"`
}

// SeedConfig 配置启动时自动导入的目录，Dir 不存在时跳过。
type SeedConfig struct {
	Dir           string `mapstructure:"dir"`
	KnowledgeBase string `mapstructure:"knowledge_base"`
}

// Init 加载配置文件到全局 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Errorf("读取配置失败: %w", err))
	}
	Conf = *cfg
}

// Load 依次读取 .env、YAML 配置文件与 KBQA_ 前缀的环境变量，后者优先。
// configPath 为空或文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KBQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	cfg.ApplyTestingOverrides()
	return &cfg, nil
}

// Default 返回只包含默认值的配置，供测试与 CLI 使用。
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// ApplyTestingOverrides 在 Testing 为 true 时强制使用进程内实现。
func (c *Config) ApplyTestingOverrides() {
	if !c.Testing {
		return
	}
	c.Vector.Backend = "memory"
	c.Database.Driver = "sqlite"
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = ":memory:"
	}
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")

	// 没有默认值的键 AutomaticEnv 读不到，敏感项也要登记空默认值
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.sqlite.path", "./data/kbqa.db")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("jwt.secret", "CHANGE_ME")
	v.SetDefault("jwt.access_token_expire_hours", 2)
	v.SetDefault("jwt.refresh_token_expire_days", 7)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "document-ingestion")
	v.SetDefault("kafka.group_id", "kbqa-go-consumer")
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("tika.server_url", "http://localhost:9998")

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "kbqa")

	v.SetDefault("embedding.dimensions", 256)

	v.SetDefault("vector.backend", "milvus")
	v.SetDefault("vector.milvus.address", "localhost:19530")
	v.SetDefault("vector.milvus.collection", "innerQA")
	v.SetDefault("vector.milvus.nlist", 1024)
	v.SetDefault("vector.milvus.nprobe", 16)
	v.SetDefault("vector.elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("vector.elasticsearch.username", "")
	v.SetDefault("vector.elasticsearch.password", "")
	v.SetDefault("vector.elasticsearch.index_name", "kb_vectors")
	v.SetDefault("vector.qdrant.host", "localhost")
	v.SetDefault("vector.qdrant.port", 6334)
	v.SetDefault("vector.qdrant.collection", "innerQA")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("llm.model", "qwen-max")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.generation.temperature", 0.8)
	v.SetDefault("llm.generation.top_p", 0.8)
	v.SetDefault("llm.generation.max_tokens", 1024)
	v.SetDefault("llm.prompt.system", "你是一个专业的文旅智能客服助手，需要严格依据提供的知识库内容进行回答，"+
		"优先使用知识库中的信息，不要编造。如果知识库中没有相关内容，要明确说明。")

	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.history_rounds", 5)
	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.chunk_overlap", 100)

	v.SetDefault("seed.dir", "initfile")
	v.SetDefault("seed.knowledge_base", "默认知识库")

	v.SetDefault("testing", false)
}
