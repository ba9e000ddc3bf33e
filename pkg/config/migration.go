package config

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MigrationConfig is the fully-resolved set of knobs for one run,
// assembled from a properties file the way block/spirit's
// migration.Migration struct is assembled from flags before NewRunner
// validates it.
type MigrationConfig struct {
	// Source endpoint.
	MongoURI            string
	MongoBatchSize      int
	PartitionField      string
	PartitionStrategy   string

	// Target endpoint.
	YugabyteHosts        []string
	YugabytePort         int
	YugabyteDatabase     string
	YugabyteUsername     string
	YugabytePassword     string
	LoadBalanceHosts     bool
	TCPKeepAlive         bool
	ConnectionTimeout    time.Duration
	SocketTimeout        time.Duration
	LoginTimeout         time.Duration
	IsolationLevel       string

	InsertMode       InsertMode
	InsertBatchSize  int
	CopyBufferSize   int
	CopyFlushEvery   int
	CSVDelimiter     rune
	CSVNull          string
	CSVQuote         rune
	CSVEscape        rune
	TruncateTarget   bool

	RunID             int64
	PrevRunID         int64
	CorrelationID     string
	CheckpointEnabled bool
	CheckpointKeyspace string
	CheckpointInterval time.Duration

	ValidationEnabled  bool
	ValidationSampleSize int

	DefaultParallelism int

	RetryMaxAttempts int
	RetryInitialDelay time.Duration
	RetryFactor       float64
}

// RunType derives NEW vs RESUME from whether a prior run is chained.
func (c *MigrationConfig) RunType() string {
	if c.PrevRunID != 0 {
		return "RESUME"
	}
	return "NEW"
}

// MigrationFromProperties builds a MigrationConfig from a loaded
// properties file, applying defaults for every key left unset.
func MigrationFromProperties(p Properties) (*MigrationConfig, error) {
	c := &MigrationConfig{
		MongoURI:           p.Get("mongo.uri", ""),
		MongoBatchSize:     p.GetInt("mongo.batchSize", 1000),
		PartitionField:     p.Get("mongo.partition.field", "_id"),
		PartitionStrategy:  p.Get("mongo.partition.strategy", "sampled"),

		YugabytePort:      p.GetInt("yugabyte.port", 5433),
		YugabyteDatabase:  p.Get("yugabyte.database", ""),
		YugabyteUsername:  p.Get("yugabyte.username", ""),
		YugabytePassword:  p.Get("yugabyte.password", ""),
		LoadBalanceHosts:  p.GetBool("yugabyte.loadBalanceHosts", true),
		TCPKeepAlive:      p.GetBool("yugabyte.tcpKeepAlive", true),
		ConnectionTimeout: time.Duration(p.GetInt("yugabyte.connectionTimeout", 10_000)) * time.Millisecond,
		SocketTimeout:     time.Duration(p.GetInt("yugabyte.socketTimeout", 0)) * time.Millisecond,
		LoginTimeout:      time.Duration(p.GetInt("yugabyte.loginTimeout", 10_000)) * time.Millisecond,
		IsolationLevel:    p.Get("yugabyte.isolationLevel", "READ COMMITTED"),

		InsertMode:      InsertMode(strings.ToUpper(p.Get("yugabyte.insertMode", string(InsertModeCopy)))),
		InsertBatchSize: p.GetInt("yugabyte.insertBatchSize", 1000),
		CopyBufferSize:  p.GetInt("yugabyte.copyBufferSize", 5000),
		CopyFlushEvery:  p.GetInt("yugabyte.copyFlushEvery", 1000),
		CSVDelimiter:    firstRuneOr(p.Get("yugabyte.csvDelimiter", ","), ','),
		CSVNull:         p.Get("yugabyte.csvNull", ""),
		CSVQuote:        firstRuneOr(p.Get("yugabyte.csvQuote", `"`), '"'),
		CSVEscape:       firstRuneOr(p.Get("yugabyte.csvEscape", `"`), '"'),
		TruncateTarget:  p.GetBool("yugabyte.truncateTargetTable", false),

		RunID:              p.GetInt64("migration.runId", 0),
		PrevRunID:          p.GetInt64("migration.prevRunId", 0),
		CheckpointEnabled:  p.GetBool("migration.checkpoint.enabled", true),
		CheckpointKeyspace: p.Get("migration.checkpoint.keyspace", "public"),
		CheckpointInterval: time.Duration(p.GetInt("migration.checkpoint.interval", 50_000)) * time.Millisecond,

		ValidationEnabled:    p.GetBool("migration.validation.enabled", true),
		ValidationSampleSize: p.GetInt("migration.validation.sampleSize", 1000),

		DefaultParallelism: p.GetInt("migration.parallelism", 4),

		RetryMaxAttempts:  p.GetInt("retry.maxAttempts", 3),
		RetryInitialDelay: time.Duration(p.GetInt("retry.initialDelayMs", 100)) * time.Millisecond,
		RetryFactor:       2.0,
	}

	if v := p.Get("yugabyte.host", ""); v != "" {
		c.YugabyteHosts = splitOn(v, ",")
	}

	if c.RunID == 0 {
		c.RunID = time.Now().Unix()
	}

	c.CorrelationID = p.Get("migration.correlationId", "")
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.New().String()
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MigrationConfig) validate() error {
	if c.MongoURI == "" {
		return errors.New("mongo.uri is required")
	}
	if len(c.YugabyteHosts) == 0 {
		return errors.New("yugabyte.host is required")
	}
	if c.YugabyteDatabase == "" {
		return errors.New("yugabyte.database is required")
	}
	if c.InsertMode != InsertModeCopy && c.InsertMode != InsertModeInsert {
		return errors.New("yugabyte.insertMode must be COPY or INSERT")
	}
	if c.DefaultParallelism < 1 {
		return errors.New("migration.parallelism must be at least 1")
	}
	if c.PrevRunID != 0 && !c.CheckpointEnabled {
		return errors.New("migration.prevRunId requires migration.checkpoint.enabled")
	}
	return nil
}

func firstRuneOr(s string, fallback rune) rune {
	for _, r := range s {
		return r
	}
	return fallback
}
