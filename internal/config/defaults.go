package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/trialscope/data/clinical_trials.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/trialscope/data/indices/trials.vec"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/trialscope/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/trialscope/data/models/bge-small-en-v1.5.onnx"
	}
	if cfg.Embedding.OpenAIModel == "" {
		cfg.Embedding.OpenAIModel = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Match.CandidateLimit == 0 {
		cfg.Match.CandidateLimit = 1000
	}
	if cfg.Match.BatchSize == 0 {
		cfg.Match.BatchSize = 100
	}
	if cfg.Eligibility.Model == "" {
		cfg.Eligibility.Model = "gpt-4o-mini"
	}
	if cfg.Eligibility.Temperature == 0 {
		cfg.Eligibility.Temperature = 0.1
	}
	if cfg.Eligibility.TopK == 0 {
		cfg.Eligibility.TopK = 20
	}
}
