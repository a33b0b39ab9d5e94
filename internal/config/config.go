package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App       *AppConfig       `yaml:"app"`
	Database  *DatabaseConfig  `yaml:"database"`
	Redis     *RedisConfig     `yaml:"redis"`
	SMS       *SMSConfig       `yaml:"sms"`
	Push      *PushConfig      `yaml:"push"`
	Maps      *MapsConfig      `yaml:"maps"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	Security  *SecurityConfig  `yaml:"security"`
	SOS       *SOSConfig       `yaml:"sos"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	Port        int    `yaml:"port"`
	Host        string `yaml:"host"`
	Debug       bool   `yaml:"debug"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

type DatabaseConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	MaxPoolSize    int           `yaml:"max_pool_size"`
	MinPoolSize    int           `yaml:"min_pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SocketTimeout  time.Duration `yaml:"socket_timeout"`
}

type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SMSConfig struct {
	Provider string        `yaml:"provider"` // twilio, sns
	Twilio   *TwilioConfig `yaml:"twilio"`
	SNS      *SNSConfig    `yaml:"sns"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

type SNSConfig struct {
	Region string `yaml:"region"`
}

type PushConfig struct {
	Provider           string `yaml:"provider"` // fcm, apns
	FCMCredentialsFile string `yaml:"fcm_credentials_file"`
	APNSKeyFile        string `yaml:"apns_key_file"`
	APNSKeyID          string `yaml:"apns_key_id"`
	APNSTeamID         string `yaml:"apns_team_id"`
	APNSTopic          string `yaml:"apns_topic"`
	APNSProduction     bool   `yaml:"apns_production"`
}

type MapsConfig struct {
	GoogleAPIKey string `yaml:"google_api_key"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
}

type SecurityConfig struct {
	JWTSecret          string   `yaml:"jwt_secret"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// SOSConfig carries the emergency-response policy knobs. Intervals are
// tunables, not correctness requirements; defaults follow platform practice
// for driver location cadence.
type SOSConfig struct {
	LocationTimelineInterval time.Duration `yaml:"location_timeline_interval"`
	AccuracyThresholdMeters  float64       `yaml:"accuracy_threshold_meters"`
	TopicGracePeriod         time.Duration `yaml:"topic_grace_period"`
	NotificationMaxAttempts  int           `yaml:"notification_max_attempts"`
	NotificationBackoffBase  time.Duration `yaml:"notification_backoff_base"`
	NotificationDedupeWindow time.Duration `yaml:"notification_dedupe_window"`
	AutoCancelAfter          time.Duration `yaml:"auto_cancel_after"`
	SweepInterval            time.Duration `yaml:"sweep_interval"`
	TriggerLockTTL           time.Duration `yaml:"trigger_lock_ttl"`
}

func Load() (*Config, error) {
	config := &Config{
		App:       loadAppConfig(),
		Database:  loadDatabaseConfig(),
		Redis:     loadRedisConfig(),
		SMS:       loadSMSConfig(),
		Push:      loadPushConfig(),
		Maps:      loadMapsConfig(),
		WebSocket: loadWebSocketConfig(),
		Security:  loadSecurityConfig(),
		SOS:       loadSOSConfig(),
	}

	return config, nil
}

func loadAppConfig() *AppConfig {
	return &AppConfig{
		Name:        getEnv("APP_NAME", "GoRideSOS"),
		Version:     getEnv("APP_VERSION", "1.0.0"),
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnvAsInt("APP_PORT", 8080),
		Host:        getEnv("APP_HOST", "localhost"),
		Debug:       getEnvAsBool("APP_DEBUG", true),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
	}
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URI:            getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		Database:       getEnv("MONGODB_DATABASE", "goride_sos"),
		MaxPoolSize:    getEnvAsInt("MONGODB_MAX_POOL_SIZE", 100),
		MinPoolSize:    getEnvAsInt("MONGODB_MIN_POOL_SIZE", 10),
		ConnectTimeout: getEnvAsDuration("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
		SocketTimeout:  getEnvAsDuration("MONGODB_SOCKET_TIMEOUT", 30*time.Second),
	}
}

func loadRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvAsInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvAsInt("REDIS_DB", 0),
		PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func loadSMSConfig() *SMSConfig {
	return &SMSConfig{
		Provider: getEnv("SMS_PROVIDER", "twilio"),
		Twilio: &TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		},
		SNS: &SNSConfig{
			Region: getEnv("AWS_SNS_REGION", "us-east-1"),
		},
	}
}

func loadPushConfig() *PushConfig {
	return &PushConfig{
		Provider:           getEnv("PUSH_PROVIDER", "fcm"),
		FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
		APNSKeyFile:        getEnv("APNS_KEY_FILE", ""),
		APNSKeyID:          getEnv("APNS_KEY_ID", ""),
		APNSTeamID:         getEnv("APNS_TEAM_ID", ""),
		APNSTopic:          getEnv("APNS_TOPIC", ""),
		APNSProduction:     getEnvAsBool("APNS_PRODUCTION", false),
	}
}

func loadMapsConfig() *MapsConfig {
	return &MapsConfig{
		GoogleAPIKey: getEnv("GOOGLE_MAPS_API_KEY", ""),
	}
}

func loadWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
		WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
		WriteWait:       getEnvAsDuration("WS_WRITE_WAIT", 10*time.Second),
		PongWait:        getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
		MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1024)),
		SendBufferSize:  getEnvAsInt("WS_SEND_BUFFER_SIZE", 256),
	}
}

func loadSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		JWTSecret:          getEnv("JWT_SECRET", "change-me-in-production"),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func loadSOSConfig() *SOSConfig {
	return &SOSConfig{
		LocationTimelineInterval: getEnvAsDuration("SOS_LOCATION_TIMELINE_INTERVAL", 30*time.Second),
		AccuracyThresholdMeters:  getEnvAsFloat64("SOS_ACCURACY_THRESHOLD", 100),
		TopicGracePeriod:         getEnvAsDuration("SOS_TOPIC_GRACE", 60*time.Second),
		NotificationMaxAttempts:  getEnvAsInt("SOS_NOTIFICATION_MAX_ATTEMPTS", 3),
		NotificationBackoffBase:  getEnvAsDuration("SOS_NOTIFICATION_BACKOFF_BASE", 2*time.Second),
		NotificationDedupeWindow: getEnvAsDuration("SOS_NOTIFICATION_DEDUPE_WINDOW", 30*time.Second),
		AutoCancelAfter:          getEnvAsDuration("SOS_AUTO_CANCEL", 30*time.Minute),
		SweepInterval:            getEnvAsDuration("SOS_SWEEP_INTERVAL", time.Minute),
		TriggerLockTTL:           getEnvAsDuration("SOS_TRIGGER_LOCK_TTL", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
