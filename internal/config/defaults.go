package config

import "time"

// Default value constants.
const (
	DefaultServerPort = 8080
	DefaultServerMode = "debug"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "demandmap"
	DefaultDBMaxConns = 25

	DefaultRedisAddr = "localhost:6379"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "demandmap-workers"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 4

	DefaultFitMaxIter         = 100
	DefaultFitTolerance       = 1e-6
	DefaultFitPriorScale      = 10.0
	DefaultFitScalePriorShape = 1.0
	DefaultFitScalePriorRate  = 0.01

	DefaultResidualThreshold   = 2.0
	DefaultResidualMinExpected = 1e-8
)

// ApplyDefaults fills every zero-value field in cfg with the platform default.
// Fields that have already been set by the caller are left unchanged so that
// explicit configuration always wins.  It must run after unmarshalling and
// before Validate so that optional-but-defaulted fields are never seen as
// missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// Server
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "demandmap"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// Redis
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = 10 * time.Minute
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "demandmap"
	}

	// Kafka
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}

	// Worker
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.QueueDepth == 0 {
		cfg.Worker.QueueDepth = 64
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// Fit
	if cfg.Fit.MaxIter == 0 {
		cfg.Fit.MaxIter = DefaultFitMaxIter
	}
	if cfg.Fit.Tolerance == 0 {
		cfg.Fit.Tolerance = DefaultFitTolerance
	}
	if cfg.Fit.PriorScale == 0 {
		cfg.Fit.PriorScale = DefaultFitPriorScale
	}
	if cfg.Fit.ScalePriorShape == 0 {
		cfg.Fit.ScalePriorShape = DefaultFitScalePriorShape
	}
	if cfg.Fit.ScalePriorRate == 0 {
		cfg.Fit.ScalePriorRate = DefaultFitScalePriorRate
	}

	// Residuals
	if cfg.Residuals.Threshold == 0 {
		cfg.Residuals.Threshold = DefaultResidualThreshold
	}
	if cfg.Residuals.MinExpected == 0 {
		cfg.Residuals.MinExpected = DefaultResidualMinExpected
	}
}
