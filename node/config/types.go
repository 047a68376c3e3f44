package config

// // NOTE: ONLY PUT STRUCT DEFINITIONS IN THIS FILE

// MinioCfg object storage connection
type MinioCfg struct {
	// host:port of the S3 endpoint
	Endpoint  string `envconfig:"MINIO_ENDPOINT"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY"`
	Bucket    string `envconfig:"MINIO_BUCKET"`
	Secure    bool   `envconfig:"MINIO_SECURE"`
}

// RabbitCfg broker connection
type RabbitCfg struct {
	Host     string `envconfig:"RABBITMQ_HOST"`
	Port     int    `envconfig:"RABBITMQ_PORT"`
	VHost    string `envconfig:"RABBITMQ_VHOST"`
	User     string `envconfig:"RABBITMQ_USER"`
	Password string `envconfig:"RABBITMQ_PASSWORD"`
	// messages delivered ahead of acks
	PrefetchCount int `envconfig:"RABBITMQ_PREFETCH_COUNT"`
	// seconds
	Heartbeat int `envconfig:"RABBITMQ_HEARTBEAT"`
}

// Route is an exchange/queue/routing key triple. Queue may be empty for
// publish-only routes, in which case nothing is declared or bound.
type Route struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// InputRoute is the route a worker consumes from.
type InputRoute struct {
	Exchange   string `envconfig:"INPUT_EXCHANGE"`
	Queue      string `envconfig:"INPUT_QUEUE"`
	RoutingKey string `envconfig:"INPUT_ROUTING_KEY"`
}

// OutputRoute is the route a worker publishes to.
type OutputRoute struct {
	Exchange   string `envconfig:"OUTPUT_EXCHANGE"`
	Queue      string `envconfig:"OUTPUT_QUEUE"`
	RoutingKey string `envconfig:"OUTPUT_ROUTING_KEY"`
}

// OllamaCfg model runtime connection
type OllamaCfg struct {
	BaseURL string `envconfig:"OLLAMA_BASE_URL"`
	Model   string `envconfig:"OLLAMA_MODEL"`
	// seconds
	TimeoutSeconds int `envconfig:"OLLAMA_TIMEOUT_SECONDS"`
	// requested vector size, 0 keeps the model default
	Dimensions int  `envconfig:"OLLAMA_DIMENSIONS"`
	Truncate   bool `envconfig:"OLLAMA_TRUNCATE"`
}

// PostgresCfg database connection
type PostgresCfg struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE"`
}

// CommonCfg settings every worker reads
type CommonCfg struct {
	LogLevel string `envconfig:"LOG_LEVEL"`
	// listen address for /metrics and /healthz, empty disables it
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// ReaderCfg pdf reader config
type ReaderCfg struct {
	CommonCfg
	MinioCfg
	RabbitCfg

	Exchange   string `envconfig:"RABBITMQ_EXCHANGE"`
	Queue      string `envconfig:"RABBITMQ_QUEUE"`
	RoutingKey string `envconfig:"RABBITMQ_ROUTING_KEY"`

	DeleteExchange   string `envconfig:"RABBITMQ_DELETE_EXCHANGE"`
	DeleteQueue      string `envconfig:"RABBITMQ_DELETE_QUEUE"`
	DeleteRoutingKey string `envconfig:"RABBITMQ_DELETE_ROUTING_KEY"`

	Workers int `envconfig:"WORKERS"`
	// object prefix holding processed markers
	ProcessedPrefix     string `envconfig:"PROCESSED_PREFIX"`
	PollIntervalSeconds int    `envconfig:"POLL_INTERVAL_SECONDS"`
	// download bandwidth such as 10MiB, 0 is unlimited
	DownloadBandwidth ByteSize `envconfig:"DOWNLOAD_BANDWIDTH"`
}

// ChunkerCfg text chunker config
type ChunkerCfg struct {
	CommonCfg
	RabbitCfg
	InputRoute
	OutputRoute

	Strategy string `envconfig:"CHUNK_STRATEGY"`
	Size     int    `envconfig:"CHUNK_SIZE"`
	Overlap  int    `envconfig:"CHUNK_OVERLAP"`
}

// EmbedderCfg embedder config
type EmbedderCfg struct {
	CommonCfg
	RabbitCfg
	InputRoute
	OutputRoute
	OllamaCfg

	MaxRetries int `envconfig:"EMBED_MAX_RETRIES"`
}

// IndexerCfg vector indexer config
type IndexerCfg struct {
	CommonCfg
	RabbitCfg
	InputRoute
	PostgresCfg
	// query embedding for search
	OllamaCfg

	DeleteExchange   string `envconfig:"RABBITMQ_DELETE_EXCHANGE"`
	DeleteQueue      string `envconfig:"RABBITMQ_DELETE_QUEUE"`
	DeleteRoutingKey string `envconfig:"RABBITMQ_DELETE_ROUTING_KEY"`

	Backend    string `envconfig:"INDEX_BACKEND"`
	Collection string `envconfig:"COLLECTION"`
	// vector column size; 0 leaves the column untyped and skips the ANN index
	EmbeddingDim              int  `envconfig:"EMBEDDING_DIM"`
	CreateCollectionIfMissing bool `envconfig:"CREATE_COLLECTION_IF_MISSING"`
	DryRun                    bool `envconfig:"DRY_RUN"`
}

// ModelCfg model downloader config
type ModelCfg struct {
	CommonCfg
	Host  string `envconfig:"OLLAMA_HOST"`
	Model string `envconfig:"MODEL"`
}
