package dbconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blockmigrate/mongox/pkg/config"
)

func testConfig() *config.MigrationConfig {
	return &config.MigrationConfig{
		YugabyteHosts:     []string{"host-a", "host-b"},
		YugabytePort:      5433,
		YugabyteDatabase:  "targetdb",
		YugabyteUsername:  "user",
		YugabytePassword:  "pass",
		ConnectionTimeout: 5 * time.Second,
		IsolationLevel:    "READ COMMITTED",
	}
}

func TestDialerEnablesKeepAliveWhenConfigured(t *testing.T) {
	f := NewFactory(testConfig())
	f.tcpKeepAlive = true
	d := f.dialer()
	assert.Equal(t, 30*time.Second, d.KeepAlive)
	assert.Equal(t, f.connectionTimeout, d.Timeout)
}

func TestDialerDisablesKeepAliveWhenNotConfigured(t *testing.T) {
	f := NewFactory(testConfig())
	f.tcpKeepAlive = false
	d := f.dialer()
	assert.Equal(t, time.Duration(-1), d.KeepAlive)
}

func TestDSNListsAllHostsWhenLoadBalanceHostsEnabled(t *testing.T) {
	f := NewFactory(testConfig())
	f.loadBalanceHosts = true
	dsn := f.dsn()
	assert.Contains(t, dsn, "host-a,host-b")
}

func TestDSNListsOnlyFirstHostWhenLoadBalanceHostsDisabled(t *testing.T) {
	f := NewFactory(testConfig())
	f.loadBalanceHosts = false
	dsn := f.dsn()
	assert.Contains(t, dsn, "host-a")
	assert.NotContains(t, dsn, "host-b")
}

func TestDSNFallsBackToLoopbackWhenNoHostsConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.YugabyteHosts = nil
	f := NewFactory(cfg)
	assert.Contains(t, f.dsn(), "127.0.0.1")
}

func TestDSNIncludesConnectTimeoutWhenPositive(t *testing.T) {
	f := NewFactory(testConfig())
	assert.Contains(t, f.dsn(), "connect_timeout=5")
}
