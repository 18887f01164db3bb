package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	StoreDriver    string
	LogDevelopment bool

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	RateLimitPerMinute        int
	RateLimitBurst            int
	AccountRateLimitPerMinute int
	AccountRateLimitBurst     int
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int

	PaymentGateway       string
	PaymentGatewayURL    string
	PaymentGatewayKey    string
	PaymentTimeout       time.Duration
	PaymentWebhookSecret string
	PaymentSweepInterval time.Duration
	PaymentSweepAge      time.Duration
	PaymentSweepBatch    int

	BootstrapAdminUsername string
	BootstrapAdminPassword string

	CORSOrigins    []string
	TrustedProxies []string
}

type WorkerConfig struct {
	DatabaseURL    string
	LogDevelopment bool
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	Providers      map[string]string
	AMQPURL        string
	AMQPExchange   string
	MQTTBrokerURL  string
	MQTTClientID   string
	MQTTTopic      string
}

// Load reads the API configuration. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() Config {
	loadDotEnv()
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver == "" {
		driver = "postgres"
	}
	gateway := strings.ToLower(strings.TrimSpace(os.Getenv("PAYMENT_GATEWAY")))
	if gateway == "" {
		gateway = "sandbox"
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "ev-maintenance"
	}

	return Config{
		Port:           port,
		DatabaseURL:    os.Getenv("DB_DSN"),
		StoreDriver:    driver,
		LogDevelopment: readBool("LOG_DEVELOPMENT", false),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: issuer,
		JWTTTL:    readDurationSeconds("JWT_TTL_SECONDS", 3600),

		RateLimitPerMinute:        readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt("RATE_LIMIT_BURST", 30),
		AccountRateLimitPerMinute: readInt("ACCOUNT_RATE_LIMIT_PER_MIN", 300),
		AccountRateLimitBurst:     readInt("ACCOUNT_RATE_LIMIT_BURST", 60),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   readInt("REDIS_DB", 0),

		PaymentGateway:       gateway,
		PaymentGatewayURL:    os.Getenv("PAYMENT_GATEWAY_URL"),
		PaymentGatewayKey:    os.Getenv("PAYMENT_GATEWAY_KEY"),
		PaymentTimeout:       readDurationSeconds("PAYMENT_TIMEOUT_SECONDS", 10),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		PaymentSweepInterval: readDurationSeconds("PAYMENT_SWEEP_INTERVAL_SECONDS", 60),
		PaymentSweepAge:      readDurationSeconds("PAYMENT_SWEEP_AGE_SECONDS", 300),
		PaymentSweepBatch:    readInt("PAYMENT_SWEEP_BATCH_SIZE", 50),

		BootstrapAdminUsername: os.Getenv("BOOTSTRAP_ADMIN_USERNAME"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),

		CORSOrigins:    readList("CORS_ALLOWED_ORIGINS", nil),
		TrustedProxies: readList("TRUSTED_PROXIES", nil),
	}
}

func LoadWorker() WorkerConfig {
	loadDotEnv()
	exchange := os.Getenv("AMQP_EXCHANGE")
	if exchange == "" {
		exchange = "ev_maintenance_notifications"
	}
	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = "notification-worker"
	}
	topic := os.Getenv("MQTT_TOPIC_PREFIX")
	if topic == "" {
		topic = "evm/notifications"
	}

	return WorkerConfig{
		DatabaseURL:    os.Getenv("DB_DSN"),
		LogDevelopment: readBool("LOG_DEVELOPMENT", false),
		Interval:       readDurationSeconds("NOTIF_POLL_INTERVAL_SECONDS", 5),
		BatchSize:      readInt("NOTIF_BATCH_SIZE", 50),
		MaxAttempts:    readInt("NOTIF_MAX_ATTEMPTS", 3),
		Providers: map[string]string{
			"email":  readString("NOTIF_EMAIL_PROVIDER", "log"),
			"sms":    readString("NOTIF_SMS_PROVIDER", "log"),
			"push":   readString("NOTIF_PUSH_PROVIDER", "noop"),
			"broker": readString("NOTIF_BROKER_PROVIDER", "noop"),
		},
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPExchange:  exchange,
		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),
		MQTTClientID:  clientID,
		MQTTTopic:     topic,
	}
}

func loadDotEnv() {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return strings.ToLower(value)
}

func readList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
