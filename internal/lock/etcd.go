// Package lock provides a distributed mutex so concurrent schemaflow
// processes (API replicas, workers, operators running the CLI) never apply
// migrations to the same connection at the same time.
package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/schemaflow/schemaflow/internal/logger"
)

// Locker serializes migration runs per connection.
type Locker interface {
	// Acquire blocks until the lock for the named connection is held or the
	// context is done. The returned release function must be called exactly
	// once.
	Acquire(ctx context.Context, connection string) (release func() error, err error)

	// Close releases the locker's resources
	Close() error
}

// Config configures the etcd-backed locker.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	Prefix      string // Key prefix for lock keys, default /schemaflow/locks
	SessionTTL  int    // Lease TTL in seconds; the lock survives this long if the holder dies
}

// EtcdLocker implements Locker on an etcd cluster using a session lease and
// a mutex per connection.
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
	ttl    int
}

// NewEtcdLocker connects to etcd and returns a locker.
func NewEtcdLocker(cfg Config) (*EtcdLocker, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/schemaflow/locks"
	}
	prefix = strings.TrimSuffix(prefix, "/")
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 60
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Acquire takes the migration lock for a connection. Each acquisition uses
// its own session so a crashed holder releases the lock when its lease
// expires.
func (l *EtcdLocker) Acquire(ctx context.Context, connection string) (func() error, error) {
	if connection == "" {
		return nil, fmt.Errorf("connection name is required")
	}

	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl), concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	key := fmt.Sprintf("%s/%s", l.prefix, connection)
	mutex := concurrency.NewMutex(session, key)

	if err := mutex.Lock(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to acquire migration lock for %s: %w", connection, err)
	}
	logger.Debugf("Acquired migration lock for connection %s", connection)

	release := func() error {
		defer func() { _ = session.Close() }()
		unlockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mutex.Unlock(unlockCtx); err != nil {
			return fmt.Errorf("failed to release migration lock for %s: %w", connection, err)
		}
		logger.Debugf("Released migration lock for connection %s", connection)
		return nil
	}
	return release, nil
}

// Close closes the etcd client
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}

// NoopLocker is used when no etcd cluster is configured. Single-process
// deployments do not need cross-process locking.
type NoopLocker struct{}

// Acquire always succeeds immediately
func (NoopLocker) Acquire(ctx context.Context, connection string) (func() error, error) {
	return func() error { return nil }, nil
}

// Close is a no-op
func (NoopLocker) Close() error { return nil }
