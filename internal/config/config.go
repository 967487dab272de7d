// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。平台登录服务负责签发，这里只做校验。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// AdminConfig 存储知识库管理接口的访问凭据。
type AdminConfig struct {
	// KeyHash 是管理密钥的 bcrypt 哈希，为空时只能通过 ADMIN 角色的 JWT 访问。
	KeyHash string `mapstructure:"key_hash"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	// KnowledgeObject 是知识库文档在存储桶中的对象名。
	KnowledgeObject string `mapstructure:"knowledge_object"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AssistantConfig 存储对话编排相关的业务配置。
type AssistantConfig struct {
	DefaultLang   string `mapstructure:"default_lang"`
	PersonaName   string `mapstructure:"persona_name"`
	PlatformName  string `mapstructure:"platform_name"`
	ContactHandle string `mapstructure:"contact_handle"`
	// HistoryLimit 是每轮从会话存储加载的消息条数，PromptHistory 是写入 prompt 的条数。
	HistoryLimit  int    `mapstructure:"history_limit"`
	PromptHistory int    `mapstructure:"prompt_history"`
	LexiconPath   string `mapstructure:"lexicon_path"`
	// Timezone 用于计算用户当地的小时数，例如深夜消息的情绪信号。
	Timezone string `mapstructure:"timezone"`

	Thresholds ThresholdConfig `mapstructure:"thresholds"`
}

// Location 返回配置的时区，无法加载（例如容器内缺少 tzdata）时回退到 UTC+5。
func (a AssistantConfig) Location() *time.Location {
	if a.Timezone != "" {
		if loc, err := time.LoadLocation(a.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("UTC+5", 5*60*60)
}

// ThresholdConfig 收拢所有经验阈值，均可通过配置覆盖。
type ThresholdConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	SemanticTopK        int     `mapstructure:"semantic_top_k"`
	EmotionScoreFloor   float64 `mapstructure:"emotion_score_floor"`
	ChurnLowMax         int     `mapstructure:"churn_low_max"`
	ChurnMediumMax      int     `mapstructure:"churn_medium_max"`
	ChurnHighMax        int     `mapstructure:"churn_high_max"`
	// RetentionWindow 表示最近多少条助手消息内不重复追加挽留话术。
	RetentionWindow int `mapstructure:"retention_window"`
}

// DefaultThresholds 返回与线上一致的默认阈值。
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		SimilarityThreshold: 0.5,
		SemanticTopK:        3,
		EmotionScoreFloor:   10,
		ChurnLowMax:         25,
		ChurnMediumMax:      50,
		ChurnHighMax:        75,
		RetentionWindow:     3,
	}
}

// DefaultAssistant 返回助手配置的默认值。
func DefaultAssistant() AssistantConfig {
	return AssistantConfig{
		DefaultLang:   "uz",
		PersonaName:   "Murabbiy",
		PlatformName:  "FitCoach",
		ContactHandle: "@fitcoach_support",
		HistoryLimit:  20,
		PromptHistory: 6,
		Timezone:      "Asia/Tashkent",
		Thresholds:    DefaultThresholds(),
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultAssistant()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "chat-turns")
	v.SetDefault("kafka.group_id", "fitcoach-turn-archiver")
	v.SetDefault("elasticsearch.index_name", "course_knowledge")
	v.SetDefault("minio.knowledge_object", "knowledge/knowledge_base.json")
	v.SetDefault("embedding.timeout", 10*time.Second)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("assistant.default_lang", d.DefaultLang)
	v.SetDefault("assistant.persona_name", d.PersonaName)
	v.SetDefault("assistant.platform_name", d.PlatformName)
	v.SetDefault("assistant.contact_handle", d.ContactHandle)
	v.SetDefault("assistant.history_limit", d.HistoryLimit)
	v.SetDefault("assistant.prompt_history", d.PromptHistory)
	v.SetDefault("assistant.timezone", d.Timezone)
	v.SetDefault("assistant.thresholds.similarity_threshold", d.Thresholds.SimilarityThreshold)
	v.SetDefault("assistant.thresholds.semantic_top_k", d.Thresholds.SemanticTopK)
	v.SetDefault("assistant.thresholds.emotion_score_floor", d.Thresholds.EmotionScoreFloor)
	v.SetDefault("assistant.thresholds.churn_low_max", d.Thresholds.ChurnLowMax)
	v.SetDefault("assistant.thresholds.churn_medium_max", d.Thresholds.ChurnMediumMax)
	v.SetDefault("assistant.thresholds.churn_high_max", d.Thresholds.ChurnHighMax)
	v.SetDefault("assistant.thresholds.retention_window", d.Thresholds.RetentionWindow)
}

// Load 从指定路径读取 YAML 配置，环境变量 FITCOACH_* 可覆盖同名键。
func Load(configPath string) (Config, error) {
	var cfg Config
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("fitcoach")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，并将结果写入全局 Conf 变量。失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
