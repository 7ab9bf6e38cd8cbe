package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"
)

// ConnectionManager manages PostgreSQL primary and read replica connections.
// Analytics only read, so queries are spread over the replicas and fall back
// to the primary when none are available.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // Atomic counter for round-robin selection
	mu       sync.RWMutex
	config   ConnectionConfig
	log      logrus.FieldLogger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// NewConnectionManager creates a new connection manager with primary and replicas
func NewConnectionManager(config ConnectionConfig, log logrus.FieldLogger) (*ConnectionManager, error) {
	if log == nil {
		log = logrus.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	cm := &ConnectionManager{
		config: config,
		log:    log,
	}

	primary, err := cm.open(config.PrimaryURL, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}
	cm.primary = primary

	// Replicas are optional
	for i, replicaURL := range config.ReplicaURLs {
		replica, err := cm.open(replicaURL, cm.replicaMaxConns())
		if err != nil {
			log.WithField("replica", i).WithError(err).Warn("skipping unavailable replica")
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	log.WithField("replicas", len(cm.replicas)).Info("connection manager initialized")
	return cm, nil
}

func (cm *ConnectionManager) open(url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cm.config.MinConns)
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// replicaMaxConns sizes replica pools at half the primary, minimum 2
func (cm *ConnectionManager) replicaMaxConns() int {
	n := cm.config.MaxConns / 2
	if n < 2 {
		n = 2
	}
	return n
}

// Primary returns the primary database connection
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// QueryContext runs a read query on a replica
func (cm *ConnectionManager) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return cm.Replica().QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row read query on a replica
func (cm *ConnectionManager) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return cm.Replica().QueryRowContext(ctx, query, args...)
}

// PingContext pings the primary
func (cm *ConnectionManager) PingContext(ctx context.Context) error {
	return cm.primary.PingContext(ctx)
}

// HealthCheck checks the health of primary and all replicas. Losing every
// replica is reported even though reads still succeed on the primary.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	replicas := cm.AllReplicas()
	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}

	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// AllReplicas returns all replica connections
func (cm *ConnectionManager) AllReplicas() []*sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	replicas := make([]*sql.DB, len(cm.replicas))
	copy(replicas, cm.replicas)
	return replicas
}

// ConnectionStats holds statistics for all database connections
type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []sql.DBStats
}

// PoolStats returns connection pool statistics for primary and replicas
func (cm *ConnectionManager) PoolStats() ConnectionStats {
	stats := ConnectionStats{Primary: cm.primary.Stats()}
	for _, replica := range cm.AllReplicas() {
		stats.Replicas = append(stats.Replicas, replica.Stats())
	}
	return stats
}

// Stats sums the statistics of every pool
func (cm *ConnectionManager) Stats() sql.DBStats {
	pools := cm.PoolStats()
	total := pools.Primary
	for _, s := range pools.Replicas {
		total.MaxOpenConnections += s.MaxOpenConnections
		total.OpenConnections += s.OpenConnections
		total.InUse += s.InUse
		total.Idle += s.Idle
		total.WaitCount += s.WaitCount
		total.WaitDuration += s.WaitDuration
		total.MaxIdleClosed += s.MaxIdleClosed
		total.MaxIdleTimeClosed += s.MaxIdleTimeClosed
		total.MaxLifetimeClosed += s.MaxLifetimeClosed
	}
	return total
}

// RemoveUnhealthyReplicas closes and drops replicas that fail a ping
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0
	for _, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
			continue
		}
		healthy = append(healthy, replica)
	}

	cm.replicas = healthy
	return removed
}

// AddReplica adds a new replica connection at runtime
func (cm *ConnectionManager) AddReplica(replicaURL string) error {
	replica, err := cm.open(replicaURL, cm.replicaMaxConns())
	if err != nil {
		return fmt.Errorf("failed to connect to replica: %w", err)
	}

	cm.mu.Lock()
	cm.replicas = append(cm.replicas, replica)
	cm.mu.Unlock()
	return nil
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// StartHealthCheckRoutine periodically removes unhealthy replicas until ctx
// is done
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				cm.log.WithField("panic", r).Error("replica health check routine panicked")
			}
		}()

		for {
			select {
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				removed := cm.RemoveUnhealthyReplicas(checkCtx)
				cancel()
				if removed > 0 {
					cm.log.WithField("removed", removed).Warn("removed unhealthy replicas")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ParseReplicaURLs parses a comma-separated list of replica URLs
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	urls := strings.Split(replicaURLsStr, ",")
	result := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
