// Package stats keeps Redis-backed usage counters for event kinds sent to
// the engine and for query aliases coming back from it.
//
// Several bridge instances may write concurrently; any of them (or an
// external dashboard) can read the totals.
//
// Redis Key Structure:
//
//	skybridge:stats:{scope}:{name}               - Hash with totals and last-seen data
//	skybridge:hourly:{scope}:{name}:{YYYYMMDDHH} - Count for one hour (expires 48h)
//	skybridge:daily:{scope}:{name}:{YYYYMMDD}    - Count for one day (expires 7d)
//	skybridge:repos:{scope}:{name}:{YYYYMMDD}    - HyperLogLog of repos seen that day (expires 7d)
//	skybridge:instances:{scope}:{name}           - Hash of instance -> last seen unix time
package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scopes group counters by what is being counted.
const (
	ScopeKind  = "kind"
	ScopeAlias = "alias"
)

const keyPrefix = "skybridge:"

// Stats is the current view of one counter.
type Stats struct {
	Scope            string            `json:"scope"`
	Name             string            `json:"name"`
	LastSeenAt       *time.Time        `json:"last_seen_at,omitempty"`
	LastRepo         string            `json:"last_repo,omitempty"`
	Total            int64             `json:"total"`
	Errors           int64             `json:"errors"`
	LastHour         int64             `json:"last_hour"`
	Last24h          int64             `json:"last_24h"`
	UniqueReposToday int64             `json:"unique_repos_today"`
	Instances        map[string]string `json:"instances,omitempty"`
	RetrievedAt      time.Time         `json:"retrieved_at"`
}

// Client records and reads counters.
type Client struct {
	redis      *redis.Client
	instanceID string
	now        func() time.Time
}

// NewClient connects to redisURL and verifies the connection.
// instanceID should be unique per bridge process.
func NewClient(ctx context.Context, redisURL string, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewClientFromRedis(client, instanceID), nil
}

// NewClientFromRedis wraps an existing connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{
		redis:      client,
		instanceID: instanceID,
		now:        time.Now,
	}
}

func statsKey(scope, name string) string {
	return keyPrefix + "stats:" + scope + ":" + name
}

func hourlyKey(scope, name string, t time.Time) string {
	return keyPrefix + "hourly:" + scope + ":" + name + ":" + t.UTC().Format("2006010215")
}

func dailyKey(scope, name string, t time.Time) string {
	return keyPrefix + "daily:" + scope + ":" + name + ":" + t.UTC().Format("20060102")
}

func reposKey(scope, name string, t time.Time) string {
	return keyPrefix + "repos:" + scope + ":" + name + ":" + t.UTC().Format("20060102")
}

func instancesKey(scope, name string) string {
	return keyPrefix + "instances:" + scope + ":" + name
}

// MaxBatchRepos bounds the distinct repos a batch holds while Redis is
// unreachable. Counts keep growing past it; only the HyperLogLog input
// is capped, so the day's unique-repo estimate undercounts.
const MaxBatchRepos = 10000

// Batch accumulates counts for one scope/name between flushes.
type Batch struct {
	Scope    string
	Name     string
	Count    int64
	Errors   int64
	Repos    map[string]struct{}
	LastRepo string
}

// NewBatch returns an empty batch.
func NewBatch(scope, name string) *Batch {
	return &Batch{Scope: scope, Name: name, Repos: make(map[string]struct{})}
}

// Add counts one occurrence. repo may be empty.
func (b *Batch) Add(repo string, errs int64) {
	b.Count++
	b.Errors += errs
	if repo != "" {
		b.addRepo(repo)
		b.LastRepo = repo
	}
}

func (b *Batch) addRepo(repo string) {
	if len(b.Repos) < MaxBatchRepos {
		b.Repos[repo] = struct{}{}
	}
}

// Merge folds other into b.
func (b *Batch) Merge(other *Batch) {
	b.Count += other.Count
	b.Errors += other.Errors
	for r := range other.Repos {
		b.addRepo(r)
	}
	if other.LastRepo != "" {
		b.LastRepo = other.LastRepo
	}
}

// FlushBatch writes b in a single pipeline.
func (c *Client) FlushBatch(ctx context.Context, b *Batch) error {
	if b.Count == 0 {
		return nil
	}

	now := c.now()
	nowUnix := strconv.FormatInt(now.Unix(), 10)

	pipe := c.redis.Pipeline()

	sk := statsKey(b.Scope, b.Name)
	fields := map[string]any{"last_seen_at": nowUnix}
	if b.LastRepo != "" {
		fields["last_repo"] = b.LastRepo
	}
	pipe.HSet(ctx, sk, fields)
	pipe.HIncrBy(ctx, sk, "total", b.Count)
	if b.Errors > 0 {
		pipe.HIncrBy(ctx, sk, "errors", b.Errors)
	}

	hk := hourlyKey(b.Scope, b.Name, now)
	pipe.IncrBy(ctx, hk, b.Count)
	pipe.Expire(ctx, hk, 48*time.Hour)

	dk := dailyKey(b.Scope, b.Name, now)
	pipe.IncrBy(ctx, dk, b.Count)
	pipe.Expire(ctx, dk, 7*24*time.Hour)

	if len(b.Repos) > 0 {
		repos := make([]any, 0, len(b.Repos))
		for r := range b.Repos {
			repos = append(repos, r)
		}
		rk := reposKey(b.Scope, b.Name, now)
		pipe.PFAdd(ctx, rk, repos...)
		pipe.Expire(ctx, rk, 7*24*time.Hour)
	}

	ik := instancesKey(b.Scope, b.Name)
	pipe.HSet(ctx, ik, c.instanceID, nowUnix)
	pipe.Expire(ctx, ik, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush %s %s: %w", b.Scope, b.Name, err)
	}
	return nil
}

// GetStats reads the counters for one scope/name.
func (c *Client) GetStats(ctx context.Context, scope, name string) (*Stats, error) {
	now := c.now()

	pipe := c.redis.Pipeline()
	statsCmd := pipe.HGetAll(ctx, statsKey(scope, name))
	currentHourCmd := pipe.Get(ctx, hourlyKey(scope, name, now))

	hourlyCmds := make([]*redis.StringCmd, 24)
	for i := range hourlyCmds {
		hourlyCmds[i] = pipe.Get(ctx, hourlyKey(scope, name, now.Add(-time.Duration(i)*time.Hour)))
	}

	reposCmd := pipe.PFCount(ctx, reposKey(scope, name, now))
	instancesCmd := pipe.HGetAll(ctx, instancesKey(scope, name))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	s := &Stats{
		Scope:       scope,
		Name:        name,
		Instances:   make(map[string]string),
		RetrievedAt: now,
	}

	if m, err := statsCmd.Result(); err == nil {
		if v, ok := m["last_seen_at"]; ok {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0).UTC()
				s.LastSeenAt = &t
			}
		}
		s.LastRepo = m["last_repo"]
		s.Total, _ = strconv.ParseInt(m["total"], 10, 64)
		s.Errors, _ = strconv.ParseInt(m["errors"], 10, 64)
	}

	if v, err := currentHourCmd.Int64(); err == nil {
		s.LastHour = v
	}
	for _, cmd := range hourlyCmds {
		if v, err := cmd.Int64(); err == nil {
			s.Last24h += v
		}
	}
	if v, err := reposCmd.Result(); err == nil {
		s.UniqueReposToday = v
	}
	if m, err := instancesCmd.Result(); err == nil {
		for inst, seen := range m {
			if unix, err := strconv.ParseInt(seen, 10, 64); err == nil {
				s.Instances[inst] = time.Unix(unix, 0).UTC().Format(time.RFC3339)
			}
		}
	}
	return s, nil
}

// ListActive returns the names in scope seen within since.
func (c *Client) ListActive(ctx context.Context, scope string, since time.Duration) ([]string, error) {
	prefix := statsKey(scope, "")
	cutoff := c.now().Add(-since).Unix()

	var names []string
	iter := c.redis.Scan(ctx, 0, prefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		lastSeen, err := c.redis.HGet(ctx, key, "last_seen_at").Int64()
		if err == nil && lastSeen >= cutoff {
			names = append(names, strings.TrimPrefix(key, prefix))
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s stats: %w", scope, err)
	}
	return names, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
