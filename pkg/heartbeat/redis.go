// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heartbeat

import (
	"log"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// RedisRegistry is a Registry backed by a shared redis instance, the
// coordination point for daemon replicas on different hosts. Each
// executable gets one hash; fields are host:pid:thread idents, values
// the unix time of the last beat.
type RedisRegistry struct {
	pool   *redis.Pool
	expiry time.Duration
}

// NewRedisRegistry connects to the redis server at addr. An empty
// password skips AUTH; a nil logger disables command tracing. An
// expiry of zero selects DefaultExpiry.
func NewRedisRegistry(addr, password string, expiry time.Duration, logger *log.Logger) *RedisRegistry {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisRegistry{
		pool:   newPool(addr, password, logger),
		expiry: expiry,
	}
}

func newPool(server, password string, logger *log.Logger) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", server)
			if err != nil {
				return nil, err
			}
			if logger != nil {
				c = redis.NewLoggingConn(c, logger, "redis")
			}
			if password != "" {
				if _, err := c.Do("AUTH", password); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, err
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}
}

func hbKey(executable string) string {
	return "courier:hb:" + executable
}

// Live refreshes the caller's beat, expires stale entries, and ranks
// the caller among the live set.
func (r *RedisRegistry) Live(ctx context.Context, executable, hostname string, pid, thread int) (Assignment, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "redis connection failed")
	}
	defer conn.Close()

	key := hbKey(executable)
	own := ident(hostname, pid, thread)
	now := time.Now().Unix()

	if _, err := conn.Do("HSET", key, own, now); err != nil {
		return Assignment{}, errors.Wrap(err, "heartbeat update failed")
	}

	entries, err := redis.Int64Map(conn.Do("HGETALL", key))
	if err != nil {
		return Assignment{}, errors.Wrap(err, "heartbeat scan failed")
	}

	cutoff := now - int64(r.expiry/time.Second)
	var live []string
	for id, beat := range entries {
		if beat < cutoff {
			if _, err := conn.Do("HDEL", key, id); err != nil {
				return Assignment{}, errors.Wrapf(err, "failed to expire %s", id)
			}
			continue
		}
		live = append(live, id)
	}

	return rank(own, live)
}

// Die deregisters the caller's slot.
func (r *RedisRegistry) Die(ctx context.Context, executable, hostname string, pid, thread int) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis connection failed")
	}
	defer conn.Close()

	_, err = conn.Do("HDEL", hbKey(executable), ident(hostname, pid, thread))
	return errors.Wrap(err, "heartbeat removal failed")
}

// Members returns the live threads registered under an executable
// without refreshing any beats.
func (r *RedisRegistry) Members(ctx context.Context, executable string) ([]Member, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "redis connection failed")
	}
	defer conn.Close()

	entries, err := redis.Int64Map(conn.Do("HGETALL", hbKey(executable)))
	if err != nil {
		return nil, errors.Wrap(err, "heartbeat scan failed")
	}

	cutoff := time.Now().Unix() - int64(r.expiry/time.Second)
	var members []Member
	for id, beat := range entries {
		if beat < cutoff {
			continue
		}
		host, pid, thread, err := parseIdent(id)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{Hostname: host, PID: pid, Thread: thread, LastBeat: time.Unix(beat, 0)})
	}
	sortMembers(members)
	return members, nil
}

// Close shuts down the connection pool.
func (r *RedisRegistry) Close() error {
	return r.pool.Close()
}
