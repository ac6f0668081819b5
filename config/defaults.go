package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Redis:      DefaultRedisConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		Engine:     DefaultEngineConfig(),
		Audio:      DefaultAudioConfig(),
		Dispatcher: DefaultDispatcherConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		SyncWaitTimeout: 10 * time.Minute,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRedisConfig returns the default queue backend settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		QueueName: "transcription_queue",
	}
}

// DefaultSchedulerConfig returns the default batching settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxBatchSize:          6,
		BatchTimeout:          70 * time.Millisecond,
		MaxConcurrency:        1,
		BRPopTimeout:          5 * time.Second,
		StragglerPollInterval: 10 * time.Millisecond,
		PreprocessWorkers:     4,
		MaxInflightCycles:     4,
	}
}

// DefaultEngineConfig returns the default inference backend settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Endpoint:             "http://localhost:9000/v1/transcribe",
		RequestTimeout:       10 * time.Minute,
		ComputeRatePerSecond: 0.0007,
	}
}

// DefaultAudioConfig returns the default audio acquisition settings.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		FetchTimeout:     30 * time.Second,
		MaxDownloadBytes: 256 << 20,
	}
}

// DefaultDispatcherConfig returns the default callback settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		CallbackTimeout:  10 * time.Second,
		CallbackAttempts: 3,
		RetryDelay:       2 * time.Second,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "batchd",
		SampleRate:   1.0,
	}
}
