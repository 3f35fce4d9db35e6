package config

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"11000"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST,required"`
	Port            string `env:"POSTGRES_PORT,required"`
	User            string `env:"POSTGRES_USER,required"`
	DBName          string `env:"POSTGRES_DB_NAME,required"`
	Password        string `env:"POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN" envDefault:"20"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
}

type IMAPConfig struct {
	Server   string `env:"IMAP_SERVER,required"`
	Port     int    `env:"IMAP_PORT" envDefault:"993"`
	Username string `env:"IMAP_USERNAME,required"`
	Password string `env:"IMAP_PASSWORD,required"`
	Folder   string `env:"IMAP_FOLDER" envDefault:"INBOX"`
	TLS      bool   `env:"IMAP_TLS" envDefault:"true"`
}

type StorageConfig struct {
	Region             string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID        string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey    string `env:"AWS_SECRET_ACCESS_KEY"`
	AttachmentBucket   string `env:"BUCKET_NAME_EMAIL_ATTACHMENT" envDefault:"attachments"`
	DisableAttachments bool   `env:"DISABLE_ATTACHMENT_STORAGE" envDefault:"false"`
}

type SyncConfig struct {
	PoolMaxConnections       int `env:"SYNC_POOL_MAX_CONNECTIONS" envDefault:"3"`
	PoolLeaseTimeoutSec      int `env:"SYNC_POOL_LEASE_TIMEOUT_SEC" envDefault:"10"`
	PoolMaxSessionAgeMin     int `env:"SYNC_POOL_MAX_SESSION_AGE_MIN" envDefault:"30"`
	SyncLimit                int `env:"SYNC_FETCH_LIMIT" envDefault:"100"`
	OperationMaxRetries      int `env:"SYNC_OPERATION_MAX_RETRIES" envDefault:"3"`
	EventQueueSize           int `env:"SYNC_EVENT_QUEUE_SIZE" envDefault:"64"`
	SubscriberIdleTimeoutMin int `env:"SYNC_SUBSCRIBER_IDLE_TIMEOUT_MIN" envDefault:"5"`
	ListenerMaxBackoffSec    int `env:"SYNC_LISTENER_MAX_BACKOFF_SEC" envDefault:"120"`
	FailedOpRetentionDays    int `env:"SYNC_FAILED_OP_RETENTION_DAYS" envDefault:"7"`
}
