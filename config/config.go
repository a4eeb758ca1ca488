package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rapidaai/callcenter/pkg/configs"
	"github.com/rapidaai/callcenter/pkg/utils"
)

type TwilioConfig struct {
	AccountSid string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	// AnswerUrl is fetched by Twilio when an outbound leg is answered.
	AnswerUrl string `mapstructure:"answer_url"`
	// ValidateWebhook enables X-Twilio-Signature verification on inbound webhooks.
	ValidateWebhook bool `mapstructure:"validate_webhook"`
}

type VonageConfig struct {
	ApplicationId string `mapstructure:"application_id"`
	PrivateKey    string `mapstructure:"private_key"`
	FromNumber    string `mapstructure:"from_number"`
	AnswerUrl     string `mapstructure:"answer_url"`
}

type TelephonyConfig struct {
	Provider string       `mapstructure:"provider" validate:"required,oneof=twilio vonage"`
	Twilio   TwilioConfig `mapstructure:"twilio"`
	Vonage   VonageConfig `mapstructure:"vonage"`
	// DialDedupTTL bounds how long an idempotency key suppresses a repeat dial.
	DialDedupTTL time.Duration `mapstructure:"dial_dedup_ttl"`
}

type TranscriptionConfig struct {
	Provider string `mapstructure:"provider" validate:"required,oneof=openai deepgram"`
	ApiKey   string `mapstructure:"api_key"`
	// Model defaults per provider when empty.
	Model         string        `mapstructure:"model"`
	Language      string        `mapstructure:"language"`
	BaseUrl       string        `mapstructure:"base_url"`
	CaptureWindow time.Duration `mapstructure:"capture_window" validate:"required"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"required"`
}

type ConversationalAIConfig struct {
	BaseUrl      string `mapstructure:"base_url"`
	WebsocketUrl string `mapstructure:"websocket_url"`
	ApiKey       string `mapstructure:"api_key"`
}

type SessionConfig struct {
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval" validate:"required"`
	PermissionTimeout  time.Duration `mapstructure:"permission_timeout" validate:"required"`
}

type InboundConfig struct {
	Greeting         string `mapstructure:"greeting" validate:"required"`
	Unavailable      string `mapstructure:"unavailable" validate:"required"`
	Apology          string `mapstructure:"apology" validate:"required"`
	NewCallChannel   string `mapstructure:"new_call_channel" validate:"required"`
	PublicWebhookUrl string `mapstructure:"public_webhook_url"`
}

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Env      string `mapstructure:"env" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	PostgresConfig configs.PostgresConfig `mapstructure:"postgres" validate:"required"`
	RedisConfig    configs.RedisConfig    `mapstructure:"redis" validate:"required"`
	// MigrateOnStart runs the embedded schema migrations before serving.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`

	TelephonyConfig        TelephonyConfig        `mapstructure:"telephony" validate:"required"`
	TranscriptionConfig    TranscriptionConfig    `mapstructure:"transcription" validate:"required"`
	ConversationalAIConfig ConversationalAIConfig `mapstructure:"conversational_ai"`
	SessionConfig          SessionConfig          `mapstructure:"session" validate:"required"`
	InboundConfig          InboundConfig          `mapstructure:"inbound" validate:"required"`
}

func (cfg *AppConfig) IsProduction() bool {
	return utils.FromEnvironmentStr(cfg.Env).IsProduction()
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		log.Printf("no config file found, reading from env variables: %v", err)
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "callcenter-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("ENV", "development")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")
	v.SetDefault("MIGRATE_ON_START", false)

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "callcenter")
	v.SetDefault("POSTGRES__AUTH__USER", "<>")
	v.SetDefault("POSTGRES__AUTH__PASSWORD", "<>")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__DB", 0)
	v.SetDefault("REDIS__MAX_CONNECTION", 10)

	v.SetDefault("TELEPHONY__PROVIDER", "twilio")
	v.SetDefault("TELEPHONY__DIAL_DEDUP_TTL", "2m")
	v.SetDefault("TELEPHONY__TWILIO__VALIDATE_WEBHOOK", false)

	v.SetDefault("TRANSCRIPTION__PROVIDER", "openai")
	v.SetDefault("TRANSCRIPTION__LANGUAGE", "en")
	v.SetDefault("TRANSCRIPTION__CAPTURE_WINDOW", "1s")
	v.SetDefault("TRANSCRIPTION__FLUSH_INTERVAL", "3s")

	v.SetDefault("SESSION__STATUS_POLL_INTERVAL", "3s")
	v.SetDefault("SESSION__PERMISSION_TIMEOUT", "30s")

	v.SetDefault("INBOUND__GREETING", "Thank you for calling. Please hold while we connect you.")
	v.SetDefault("INBOUND__UNAVAILABLE", "All of our agents are currently unavailable. Please call again later.")
	v.SetDefault("INBOUND__APOLOGY", "We are sorry, something went wrong. Please call again later.")
	v.SetDefault("INBOUND__NEW_CALL_CHANNEL", "callcenter:calls:new")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
