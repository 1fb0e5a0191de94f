package conf

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Anthropic     AnthropicConfig     `mapstructure:"anthropic"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Prompts       PromptsConfig       `mapstructure:"prompts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig 后端REST服务配置
type BackendConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// AnthropicConfig 模型服务配置
type AnthropicConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RedisConfig Redis配置，地址为空时幂等去重被禁用
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AgentConfig Agent执行参数
type AgentConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations"`
	MaxContextMessages int           `mapstructure:"max_context_messages"`
	SummaryThreshold   int           `mapstructure:"summary_threshold"`
	StreamQueueSize    int           `mapstructure:"stream_queue_size"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	DryRun             bool          `mapstructure:"dry_run"`
}

// AuthConfig 认证配置，密钥为空时跳过JWT校验
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PromptsConfig 提示词与邮件模板文件路径
type PromptsConfig struct {
	SystemPromptPath   string `mapstructure:"system_prompt_path"`
	EmailTemplatesPath string `mapstructure:"email_templates_path"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	OTELEndpoint   string  `mapstructure:"otel_endpoint"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
	EnableTrace    bool    `mapstructure:"enable_trace"`
	LogLevel       string  `mapstructure:"log_level"`
}

// Load 加载配置文件并应用环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("communications-agent")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.stream_queue_size", 1000)
	v.SetDefault("prompts.system_prompt_path", "prompts/enhanced_communications_system_prompt.md")
	v.SetDefault("prompts.email_templates_path", "prompts/email_templates.yaml")
	v.SetDefault("observability.service_name", "communications-agent")
	v.SetDefault("observability.service_version", "v1.0.0")
	v.SetDefault("observability.environment", "production")
	v.SetDefault("observability.log_level", "info")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可选，全部走环境变量与默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// 敏感配置从环境变量覆盖
	if url := os.Getenv("BACKEND_URL"); url != "" {
		config.Backend.URL = url
	}
	if key := os.Getenv("BACKEND_API_KEY"); key != "" {
		config.Backend.APIKey = key
	}
	if secret := os.Getenv("BACKEND_CLIENT_SECRET"); secret != "" {
		config.Backend.ClientSecret = secret
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Anthropic.APIKey = key
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if endpoint := os.Getenv("OTEL_ENDPOINT"); endpoint != "" {
		config.Observability.OTELEndpoint = endpoint
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.HTTPPort = p
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate 启动即失败：缺少关键配置不允许带病运行
func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required (set backend.url or BACKEND_URL)")
	}
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic api key is required (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	return nil
}
