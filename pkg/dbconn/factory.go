// Package dbconn builds target-store (YugabyteDB / PostgreSQL wire
// protocol) sessions. Grounded on block/spirit's pkg/dbconn: one
// factory that holds immutable driver options and mints one fresh,
// unpooled connection per NewSession call for COPY-bound work.
// Bulk-copy sessions are long-lived and single-use, the same reasoning
// spirit's comments give for not pooling COPY-bound connections.
// NewPool separately builds a small pool for components that issue
// many short transactions.
package dbconn

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockmigrate/mongox/pkg/config"
)

// Factory produces authenticated sessions to the target cluster.
// It is safe for concurrent use: all fields are set once at
// construction and never mutated afterward.
type Factory struct {
	hosts             []string
	port              int
	database          string
	username          string
	password          string
	loadBalanceHosts  bool
	tcpKeepAlive      bool
	connectionTimeout time.Duration
	socketTimeout     time.Duration
	loginTimeout      time.Duration
	isolationLevel    string
}

// NewFactory captures the connection options configured once for the
// life of a run.
func NewFactory(cfg *config.MigrationConfig) *Factory {
	return &Factory{
		hosts:             cfg.YugabyteHosts,
		port:              cfg.YugabytePort,
		database:          cfg.YugabyteDatabase,
		username:          cfg.YugabyteUsername,
		password:          cfg.YugabytePassword,
		loadBalanceHosts:  cfg.LoadBalanceHosts,
		tcpKeepAlive:      cfg.TCPKeepAlive,
		connectionTimeout: cfg.ConnectionTimeout,
		socketTimeout:     cfg.SocketTimeout,
		loginTimeout:      cfg.LoginTimeout,
		isolationLevel:    cfg.IsolationLevel,
	}
}

// dialer returns the net.Dialer used for every connection this factory
// opens. TCP keepalive is disabled outright (rather than left at the Go
// runtime default) when yugabyte.tcpKeepAlive is false, since the whole
// point of the knob is to let an operator turn it off on networks where
// idle probes trip a middlebox.
func (f *Factory) dialer() *net.Dialer {
	d := &net.Dialer{Timeout: f.connectionTimeout}
	if f.tcpKeepAlive {
		d.KeepAlive = 30 * time.Second
	} else {
		d.KeepAlive = -1
	}
	return d
}

// dsn builds the libpq-style connection string. When loadBalanceHosts
// is set, all configured hosts are listed, always in configured order;
// pgx tries them in that order and uses the first that accepts the
// connection, so connections are not spread across the hosts. When it
// is unset, only the first host is listed.
func (f *Factory) dsn() string {
	hosts := f.hosts
	if len(hosts) == 0 {
		hosts = []string{"127.0.0.1"}
	}
	hostList := hosts[0]
	if f.loadBalanceHosts {
		for _, h := range hosts[1:] {
			hostList += "," + h
		}
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer",
		f.username, f.password, hostList, f.port, f.database)
	if f.connectionTimeout > 0 {
		dsn += fmt.Sprintf("&connect_timeout=%d", int(f.connectionTimeout.Seconds()))
	}
	return dsn
}

// NewSession returns a fresh, single-use connection. The caller owns
// its lifecycle and must Close it on every exit path, including retry
// abort.
func (f *Factory) NewSession(ctx context.Context) (*pgx.Conn, error) {
	connCtx := ctx
	if f.loginTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, f.loginTimeout)
		defer cancel()
	}
	cfg, err := pgx.ParseConfig(f.dsn())
	if err != nil {
		return nil, fmt.Errorf("parsing target DSN: %w", err)
	}
	cfg.DialFunc = f.dialer().DialContext
	if f.socketTimeout > 0 {
		cfg.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", f.socketTimeout.Milliseconds())
	}
	conn, err := pgx.ConnectConfig(connCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to target: %w", err)
	}
	if err := f.applySessionOptions(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (f *Factory) applySessionOptions(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL %s", f.isolationLevel)); err != nil {
		return fmt.Errorf("setting isolation level: %w", err)
	}
	return nil
}

// NewPool is used by components (validator, checkpoint store) that
// issue many short transactions rather than one long-lived COPY
// session, where a small pool is appropriate.
func (f *Factory) NewPool(ctx context.Context, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(f.dsn())
	if err != nil {
		return nil, fmt.Errorf("parsing target pool DSN: %w", err)
	}
	poolCfg.MaxConns = maxConns
	if f.connectionTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = f.connectionTimeout
	}
	poolCfg.ConnConfig.DialFunc = f.dialer().DialContext
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating target pool: %w", err)
	}
	return pool, nil
}

// Close releases any driver-level globals registered by the factory.
// pgx registers no process-wide state, but the method is kept so
// shutdown is uniform and tolerant of multiple factory instances.
func (f *Factory) Close() {}
