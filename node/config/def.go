package config

func defaultCommon() CommonCfg {
	return CommonCfg{LogLevel: "INFO"}
}

func defaultRabbit() RabbitCfg {
	return RabbitCfg{
		Host:          "rabbitmq",
		Port:          5672,
		VHost:         "/",
		PrefetchCount: 16,
		Heartbeat:     120,
	}
}

func defaultOllama() OllamaCfg {
	return OllamaCfg{
		BaseURL:        "http://ollama:11434",
		Model:          "mxbai-embed-large",
		TimeoutSeconds: 60,
		Truncate:       true,
	}
}

// DefaultReaderCfg returns the default pdf reader config
func DefaultReaderCfg() *ReaderCfg {
	return &ReaderCfg{
		CommonCfg: defaultCommon(),
		MinioCfg:  MinioCfg{Endpoint: "minio:9000"},
		RabbitCfg: defaultRabbit(),

		Exchange:   "events",
		RoutingKey: "text",

		DeleteExchange:   "events",
		DeleteRoutingKey: "deletions",

		Workers:             4,
		ProcessedPrefix:     ".processed",
		PollIntervalSeconds: 30,
	}
}

// DefaultChunkerCfg returns the default chunker config
func DefaultChunkerCfg() *ChunkerCfg {
	return &ChunkerCfg{
		CommonCfg:   defaultCommon(),
		RabbitCfg:   defaultRabbit(),
		InputRoute:  InputRoute{Exchange: "events", Queue: "text", RoutingKey: "text"},
		OutputRoute: OutputRoute{Exchange: "events", Queue: "chunks", RoutingKey: "chunks"},

		Strategy: "recursive",
		Size:     350,
		Overlap:  0,
	}
}

// DefaultEmbedderCfg returns the default embedder config
func DefaultEmbedderCfg() *EmbedderCfg {
	return &EmbedderCfg{
		CommonCfg:   defaultCommon(),
		RabbitCfg:   defaultRabbit(),
		InputRoute:  InputRoute{Exchange: "events", Queue: "chunks", RoutingKey: "chunks"},
		OutputRoute: OutputRoute{Exchange: "events", Queue: "embeddings", RoutingKey: "embeddings"},
		OllamaCfg:   defaultOllama(),

		MaxRetries: 3,
	}
}

// DefaultIndexerCfg returns the default vector indexer config
func DefaultIndexerCfg() *IndexerCfg {
	return &IndexerCfg{
		CommonCfg:  defaultCommon(),
		RabbitCfg:  defaultRabbit(),
		InputRoute: InputRoute{Exchange: "events", Queue: "embeddings", RoutingKey: "embeddings"},
		PostgresCfg: PostgresCfg{
			Host:     "postgres",
			Port:     5432,
			Database: "ragflow",
			SSLMode:  "disable",
		},
		OllamaCfg: defaultOllama(),

		DeleteExchange:   "events",
		DeleteQueue:      "deletions",
		DeleteRoutingKey: "deletions",

		Backend:                   "pgvector",
		Collection:                "rag_chunks",
		CreateCollectionIfMissing: true,
	}
}

// DefaultModelCfg returns the default model downloader config
func DefaultModelCfg() *ModelCfg {
	return &ModelCfg{
		CommonCfg: defaultCommon(),
		Host:      "http://localhost:11434",
	}
}
