package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/pkg/errors"
)

// Config holds every value the binaries read from the environment. Only this
// struct must be used to hold configuration; no direct access to env or any
// other config source should be made elsewhere.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=whatsapp_simulator"`
	AppDebug            bool   `env:"APP_DEBUG,default=false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr            string        `env:"HTTP_LISTEN_ADDR,default=:3000"`
	HttpServerReadTimeout     time.Duration `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerRequestTimeout  time.Duration `env:"HTTP_SERVER_REQUEST_TIMEOUT,default=5s"`
	HttpServerReadBufferSize  int           `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int           `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST,default=localhost"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST,default=localhost"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=wasim:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=whatsapp_simulator"`

	LogLevel string `env:"LOG_LEVEL"`

	QueueName              string        `env:"QUEUE_NAME,default=webhooks"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=webhook-processors"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=processor"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS,default=2"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	WorkerCount      int `env:"WORKER_COUNT,default=8"`
	WorkerBufferSize int `env:"WORKER_BUFFER_SIZE,default=1024"`

	WebhookLockTTL          time.Duration `env:"WEBHOOK_LOCK_TTL,default=30s"`
	WebhookReprocessOnStart bool          `env:"WEBHOOK_REPROCESS_ON_START,default=true"`
	WebhookEmbeddedWorkers  bool          `env:"WEBHOOK_EMBEDDED_WORKERS,default=true"`

	SimulationClientWebhookURL string        `env:"SIMULATION_CLIENT_WEBHOOK_URL"`
	SimulationAppSecret        string        `env:"SIMULATION_APP_SECRET"`
	SimulationWabaID           string        `env:"SIMULATION_WABA_ID,default=100000000000000"`
	SimulationDisplayNumber    string        `env:"SIMULATION_DISPLAY_PHONE_NUMBER,default=1555000000"`
	SimulationSentDelay        time.Duration `env:"SIMULATION_SENT_DELAY,default=500ms"`
	SimulationDeliveredMin     time.Duration `env:"SIMULATION_DELIVERED_MIN_DELAY,default=1s"`
	SimulationDeliveredMax     time.Duration `env:"SIMULATION_DELIVERED_MAX_DELAY,default=3s"`
	SimulationReadMin          time.Duration `env:"SIMULATION_READ_MIN_DELAY,default=2s"`
	SimulationReadMax          time.Duration `env:"SIMULATION_READ_MAX_DELAY,default=5s"`
	SimulationCallbackTimeout  time.Duration `env:"SIMULATION_CALLBACK_TIMEOUT,default=0s"`
	SimulationPersistSchedule  bool          `env:"SIMULATION_PERSIST_SCHEDULE,default=false"`
}

var (
	ErrInvalidDelayRange = errors.New("min delay must not exceed max delay")
	ErrNegativeDelay     = errors.New("delays must not be negative")
)

// Load reads an optional dotenv file and maps the environment onto Config.
func Load(path string) (*Config, error) {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	for _, d := range []time.Duration{c.SimulationSentDelay, c.SimulationDeliveredMin, c.SimulationDeliveredMax, c.SimulationReadMin, c.SimulationReadMax} {
		if d < 0 {
			return ErrNegativeDelay
		}
	}
	if c.SimulationDeliveredMin > c.SimulationDeliveredMax {
		return errors.Wrap(ErrInvalidDelayRange, "delivered")
	}
	if c.SimulationReadMin > c.SimulationReadMax {
		return errors.Wrap(ErrInvalidDelayRange, "read")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
