package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProps() Properties {
	return Properties{
		"mongo.uri":         "mongodb://localhost:27017",
		"yugabyte.host":     "db1,db2,db3",
		"yugabyte.database": "target",
	}
}

func TestMigrationFromPropertiesAppliesDefaults(t *testing.T) {
	cfg, err := MigrationFromProperties(validProps())
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.MongoBatchSize)
	assert.Equal(t, "_id", cfg.PartitionField)
	assert.Equal(t, InsertModeCopy, cfg.InsertMode)
	assert.Equal(t, 4, cfg.DefaultParallelism)
	assert.Equal(t, []string{"db1", "db2", "db3"}, cfg.YugabyteHosts)
	assert.NotZero(t, cfg.RunID, "a fresh run must be assigned a run id")
}

func TestMigrationFromPropertiesRequiresMongoURI(t *testing.T) {
	p := validProps()
	delete(p, "mongo.uri")
	_, err := MigrationFromProperties(p)
	assert.Error(t, err)
}

func TestMigrationFromPropertiesRequiresYugabyteHost(t *testing.T) {
	p := validProps()
	delete(p, "yugabyte.host")
	_, err := MigrationFromProperties(p)
	assert.Error(t, err)
}

func TestMigrationFromPropertiesRejectsUnknownInsertMode(t *testing.T) {
	p := validProps()
	p["yugabyte.insertMode"] = "BULK_LOAD"
	_, err := MigrationFromProperties(p)
	assert.Error(t, err)
}

func TestMigrationFromPropertiesRejectsZeroParallelism(t *testing.T) {
	p := validProps()
	p["migration.parallelism"] = "0"
	_, err := MigrationFromProperties(p)
	assert.Error(t, err)
}

func TestRunTypeNewVsResume(t *testing.T) {
	c := &MigrationConfig{}
	assert.Equal(t, "NEW", c.RunType())
	c.PrevRunID = 42
	assert.Equal(t, "RESUME", c.RunType())
}

func TestMigrationFromPropertiesPreservesExplicitRunID(t *testing.T) {
	p := validProps()
	p["migration.runId"] = "12345"
	cfg, err := MigrationFromProperties(p)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), cfg.RunID)
}

func TestFirstRuneOr(t *testing.T) {
	assert.Equal(t, '|', firstRuneOr("|", ','))
	assert.Equal(t, ',', firstRuneOr("", ','))
}
