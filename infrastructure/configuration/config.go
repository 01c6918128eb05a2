package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"smm-publisher/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	Directus    Directus    `json:"directus"`
	Telegram    Telegram    `json:"telegram"`
	VK          VK          `json:"vk"`
	Instagram   Instagram   `json:"instagram"`
	Facebook    Facebook    `json:"facebook"`
	Publish     Publish     `json:"publish"`
	Scheduler   Scheduler   `json:"scheduler"`
	Pubsub      Pubsub      `json:"pubsub"`
	ServiceBus  ServiceBus  `json:"serviceBus"`
	RedisClient RedisClient `json:"redisClient"`
	Logger      Logger      `json:"logger"`
}

type App struct {
	Port         int      `json:"port"`
	SecretKey    string   `json:"secretKey"`
	TLSEnabled   bool     `json:"tlsEnabled"`
	TLSCertFile  string   `json:"tlsCertFile"`
	TLSKeyFile   string   `json:"tlsKeyFile"`
	AllowOrigins []string `json:"allowOrigins"`
}

type Database struct {
	Psql  Db `json:"psql"`
	Mongo Db `json:"mongo"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

// Directus authenticates with a static token when set, otherwise with email/password.
type Directus struct {
	URL            string `json:"url"`
	Token          string `json:"token"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Collection     string `json:"collection"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type Telegram struct {
	BaseURL  string `json:"baseUrl"`
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

type VK struct {
	BaseURL     string `json:"baseUrl"`
	AccessToken string `json:"accessToken"`
	GroupID     string `json:"groupId"`
	APIVersion  string `json:"apiVersion"`
}

type Instagram struct {
	BaseURL          string `json:"baseUrl"`
	AccessToken      string `json:"accessToken"`
	AccountID        string `json:"accountId"`
	ContainerDelayMs int    `json:"containerDelayMs"`
}

type Facebook struct {
	BaseURL     string `json:"baseUrl"`
	AccessToken string `json:"accessToken"`
	PageID      string `json:"pageId"`
}

// Publish tunes the orchestration controller.
type Publish struct {
	MaxAttempts      int    `json:"maxAttempts"`
	BaseDelaySeconds int    `json:"baseDelaySeconds"`
	LeaseTTLSeconds  int    `json:"leaseTtlSeconds"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
	LockBackend      string `json:"lockBackend"`
	AuditBackend     string `json:"auditBackend"`
}

type Scheduler struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds"`
	BatchSize       int  `json:"batchSize"`
}

type Pubsub struct {
	ProjectID string `json:"projectID"`
	TopicID   string `json:"topicID"`
}

type ServiceBus struct {
	Namespace string `json:"namespace"`
	QueueName string `json:"queueName"`
}

type RedisClient struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	Username     string `json:"username"`
}

type Logger struct {
	Level string `json:"level"`
}

const (
	LockBackendMemory   = "memory"
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"

	AuditBackendNone     = "none"
	AuditBackendPostgres = "postgres"
	AuditBackendMongo    = "mongo"
)

var C Config

func init() {
	Init()
}

// Init loads the config file and fills empty values from the environment.
// It runs at package init and again once env files have been loaded.
func Init() {
	C = Config{}
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initPlatforms(&C)
	applyDefaults(&C)
	if C.Logger.Level != "" {
		logger.SetLevel(C.Logger.Level)
	}
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	setIfEmpty(&C.Database.Psql.Name, "DB_NAME")
	setIfEmpty(&C.Database.Psql.Host, "DB_HOST")
	setIfEmpty(&C.Database.Psql.User, "DB_USER")
	setIfEmpty(&C.Database.Psql.Password, "DB_PASSWORD")
	setIfEmpty(&C.Database.Psql.Port, "DB_PORT")

	setIfEmpty(&C.Database.Mongo.Name, "MONGO_DB_NAME")
	setIfEmpty(&C.Database.Mongo.Host, "MONGO_HOST")
	setIfEmpty(&C.Database.Mongo.Port, "MONGO_PORT")
	setIfEmpty(&C.Database.Mongo.User, "MONGO_USER")
	setIfEmpty(&C.Database.Mongo.Password, "MONGO_PASSWORD")

	setIfEmpty(&C.RedisClient.Host, "REDIS_HOST")
	setIfEmpty(&C.RedisClient.Port, "REDIS_PORT")
	setIfEmpty(&C.RedisClient.Password, "REDIS_PASSWORD")
}

func initApp(C *Config) {
	// SECRET_KEY from the environment overrides the config file.
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true":
			C.App.TLSEnabled = true
		case "0", "false":
			C.App.TLSEnabled = false
		}
	}
	setIfEmpty(&C.App.TLSCertFile, "TLS_CERT_FILE")
	setIfEmpty(&C.App.TLSKeyFile, "TLS_KEY_FILE")
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

func initPlatforms(C *Config) {
	setIfEmpty(&C.Directus.URL, "DIRECTUS_URL")
	setIfEmpty(&C.Directus.Token, "DIRECTUS_TOKEN")
	setIfEmpty(&C.Directus.Email, "DIRECTUS_ADMIN_EMAIL")
	setIfEmpty(&C.Directus.Password, "DIRECTUS_ADMIN_PASSWORD")

	setIfEmpty(&C.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setIfEmpty(&C.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setIfEmpty(&C.VK.AccessToken, "VK_ACCESS_TOKEN")
	setIfEmpty(&C.VK.GroupID, "VK_GROUP_ID")
	setIfEmpty(&C.Instagram.AccessToken, "INSTAGRAM_ACCESS_TOKEN")
	setIfEmpty(&C.Instagram.AccountID, "INSTAGRAM_BUSINESS_ACCOUNT_ID")
	setIfEmpty(&C.Facebook.AccessToken, "FACEBOOK_PAGE_ACCESS_TOKEN")
	setIfEmpty(&C.Facebook.PageID, "FACEBOOK_PAGE_ID")

	setIfEmpty(&C.Pubsub.ProjectID, "PUBSUB_PROJECT_ID")
	setIfEmpty(&C.ServiceBus.Namespace, "SERVICEBUS_NAMESPACE")
}

func applyDefaults(C *Config) {
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	if len(C.App.AllowOrigins) == 0 {
		C.App.AllowOrigins = []string{"http://localhost:3000"}
	}
	if C.Database.Psql.SSLMode == "" {
		C.Database.Psql.SSLMode = "disable"
	}
	if C.Directus.Collection == "" {
		C.Directus.Collection = "campaign_content"
	}
	if C.Directus.TimeoutSeconds <= 0 {
		C.Directus.TimeoutSeconds = 30
	}
	if C.Telegram.BaseURL == "" {
		C.Telegram.BaseURL = "https://api.telegram.org"
	}
	if C.VK.BaseURL == "" {
		C.VK.BaseURL = "https://api.vk.com/method"
	}
	if C.VK.APIVersion == "" {
		C.VK.APIVersion = "5.131"
	}
	if C.Instagram.BaseURL == "" {
		C.Instagram.BaseURL = "https://graph.facebook.com/v20.0"
	}
	if C.Instagram.ContainerDelayMs <= 0 {
		C.Instagram.ContainerDelayMs = 2000
	}
	if C.Facebook.BaseURL == "" {
		C.Facebook.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if C.Publish.MaxAttempts <= 0 {
		C.Publish.MaxAttempts = 3
	}
	if C.Publish.BaseDelaySeconds <= 0 {
		C.Publish.BaseDelaySeconds = 5
	}
	if C.Publish.LeaseTTLSeconds <= 0 {
		C.Publish.LeaseTTLSeconds = 300
	}
	if C.Publish.TimeoutSeconds <= 0 {
		C.Publish.TimeoutSeconds = 30
	}
	if C.Publish.LockBackend == "" {
		C.Publish.LockBackend = LockBackendMemory
	}
	if C.Publish.AuditBackend == "" {
		C.Publish.AuditBackend = AuditBackendNone
	}
	if C.Scheduler.IntervalSeconds <= 0 {
		C.Scheduler.IntervalSeconds = 60
	}
	if C.Scheduler.BatchSize <= 0 {
		C.Scheduler.BatchSize = 20
	}
	if C.Pubsub.TopicID == "" {
		C.Pubsub.TopicID = "publication-events"
	}
	if C.ServiceBus.QueueName == "" {
		C.ServiceBus.QueueName = "publication-events"
	}
}

func setIfEmpty(dst *string, envKey string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(envKey); v != "" {
		*dst = v
	}
}
