package config

import (
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"catalog"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"CATALOG_STORAGE_ADDRESS" default:":3443"`
	LogLevel        string `envconfig:"CATALOG_STORAGE_LOG_LEVEL" default:"info"`
	MigrationFolder string `envconfig:"CATALOG_STORAGE_MIGRATIONS_FOLDER" default:""`
	Kafka           kafkaConfig
	Storage         storageConfig
	Jobs            jobsConfig
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"CATALOG_STORAGE_KAFKA_BROKERS" default:""`
	ClientID string   `envconfig:"CATALOG_STORAGE_KAFKA_CLIENT_ID" default:"catalog-storage"`
	Version  string   `envconfig:"CATALOG_STORAGE_KAFKA_VERSION" default:""`

	// Topic layout. Record topics are suffixed with the tenant and record
	// type at publish time.
	RecordTopicPrefix string `envconfig:"CATALOG_STORAGE_KAFKA_RECORD_TOPIC_PREFIX" default:"catalog.records"`
	NotificationTopic string `envconfig:"CATALOG_STORAGE_KAFKA_NOTIFICATION_TOPIC" default:"catalog.export.events"`

	// MaxInFlight bounds the producer's outbound buffer. The streaming
	// pipeline pauses its cursor when the buffer is full.
	MaxInFlight int `envconfig:"CATALOG_STORAGE_KAFKA_MAX_IN_FLIGHT" default:"1024"`
}

type storageConfig struct {
	Endpoint  string `envconfig:"CATALOG_STORAGE_S3_ENDPOINT" default:""`
	Bucket    string `envconfig:"CATALOG_STORAGE_S3_BUCKET" default:"catalog-exports"`
	AccessKey string `envconfig:"CATALOG_STORAGE_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"CATALOG_STORAGE_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"CATALOG_STORAGE_S3_USE_SSL" default:"false"`

	// PartSize is the multipart rotation threshold in bytes. 5 MiB is the
	// minimum part size most object stores accept.
	PartSize int64  `envconfig:"CATALOG_STORAGE_S3_PART_SIZE" default:"5242880"`
	TmpDir   string `envconfig:"CATALOG_STORAGE_S3_TMP_DIR" default:""`
}

type jobsConfig struct {
	Workers         int   `envconfig:"CATALOG_STORAGE_JOB_WORKERS" default:"2"`
	CheckpointEvery int64 `envconfig:"CATALOG_STORAGE_JOB_CHECKPOINT_EVERY" default:"1000"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
