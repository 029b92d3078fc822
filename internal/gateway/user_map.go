package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/estatechat/pkg/constant"
)

// UserMap manages user connections and mirrors online status to redis
type UserMap struct {
	mu    sync.RWMutex
	users map[string]*UserConns // userId -> UserConns
	rdb   *redis.Client
	ttl   time.Duration
}

// UserConns holds all connections for a user
type UserConns struct {
	Clients []*Client
	Time    time.Time
}

// NewUserMap creates a new UserMap. rdb may be nil.
func NewUserMap(rdb *redis.Client, ttl time.Duration) *UserMap {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &UserMap{
		users: make(map[string]*UserConns),
		rdb:   rdb,
		ttl:   ttl,
	}
}

// Register adds a client and reports whether it is the user's first connection
func (m *UserMap) Register(ctx context.Context, client *Client) bool {
	m.mu.Lock()
	conns, exists := m.users[client.UserId]
	if !exists {
		conns = &UserConns{Clients: make([]*Client, 0, 2)}
		m.users[client.UserId] = conns
	}
	conns.Clients = append(conns.Clients, client)
	conns.Time = time.Now()
	m.mu.Unlock()

	m.setOnline(ctx, client)
	return !exists
}

// Unregister removes a client. It reports whether the client was known and
// whether its user went offline.
func (m *UserMap) Unregister(ctx context.Context, client *Client) (removed, offline bool) {
	m.mu.Lock()
	conns, exists := m.users[client.UserId]
	if !exists {
		m.mu.Unlock()
		return false, false
	}

	kept := make([]*Client, 0, len(conns.Clients))
	for _, c := range conns.Clients {
		if c.ConnId != client.ConnId {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(conns.Clients) {
		m.mu.Unlock()
		return false, false
	}
	conns.Clients = kept
	offline = len(kept) == 0
	if offline {
		delete(m.users, client.UserId)
	}
	m.mu.Unlock()

	m.setOffline(ctx, client, offline)
	return true, offline
}

// GetAll gets all clients for a user
func (m *UserMap) GetAll(userId string) ([]*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns, exists := m.users[userId]
	if !exists {
		return nil, false
	}

	clients := make([]*Client, len(conns.Clients))
	copy(clients, conns.Clients)
	return clients, true
}

// Each calls fn for every connected client
func (m *UserMap) Each(fn func(*Client)) {
	m.mu.RLock()
	var clients []*Client
	for _, conns := range m.users {
		clients = append(clients, conns.Clients...)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		fn(c)
	}
}

// HasConnection checks if user has any connection
func (m *UserMap) HasConnection(userId string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns, exists := m.users[userId]
	return exists && len(conns.Clients) > 0
}

// GetOnlineUserCount returns the number of online users
func (m *UserMap) GetOnlineUserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// GetOnlineConnCount returns the total number of connections
func (m *UserMap) GetOnlineConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, conns := range m.users {
		count += len(conns.Clients)
	}
	return count
}

// IsOnline checks local connections first, then the redis mirror
func (m *UserMap) IsOnline(ctx context.Context, userId string) bool {
	if m.HasConnection(userId) {
		return true
	}
	if m.rdb == nil {
		return false
	}

	exists, err := m.rdb.Exists(ctx, onlineKey(userId)).Result()
	if err != nil {
		log.CtxWarn(ctx, "check online status failed: user_id=%s, error=%v", userId, err)
		return false
	}
	return exists > 0
}

// GetAllOnlineUserIds returns the locally connected user ids, sorted
func (m *UserMap) GetAllOnlineUserIds() []string {
	m.mu.RLock()
	userIds := make([]string, 0, len(m.users))
	for userId := range m.users {
		userIds = append(userIds, userId)
	}
	m.mu.RUnlock()

	sort.Strings(userIds)
	return userIds
}

// RefreshOnlineStatus extends the redis TTL of every local user
func (m *UserMap) RefreshOnlineStatus(ctx context.Context) {
	if m.rdb == nil {
		return
	}

	pipe := m.rdb.Pipeline()
	for _, userId := range m.GetAllOnlineUserIds() {
		pipe.Expire(ctx, onlineKey(userId), m.ttl)
		pipe.Expire(ctx, connsKey(userId), m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		log.CtxWarn(ctx, "refresh online status failed: error=%v", err)
	}
}

// setOnline marks user as online in redis and records the connection
func (m *UserMap) setOnline(ctx context.Context, client *Client) {
	if m.rdb == nil {
		return
	}

	pipe := m.rdb.TxPipeline()
	pipe.Set(ctx, onlineKey(client.UserId), constant.StatusOnline, m.ttl)
	pipe.SAdd(ctx, connsKey(client.UserId), client.ConnId)
	pipe.Expire(ctx, connsKey(client.UserId), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.CtxWarn(ctx, "set online failed: user_id=%s, error=%v", client.UserId, err)
	}
}

// setOffline drops the connection and, for the last one, the online flag
func (m *UserMap) setOffline(ctx context.Context, client *Client, offline bool) {
	if m.rdb == nil {
		return
	}

	pipe := m.rdb.TxPipeline()
	pipe.SRem(ctx, connsKey(client.UserId), client.ConnId)
	if offline {
		pipe.Del(ctx, onlineKey(client.UserId), connsKey(client.UserId))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.CtxWarn(ctx, "set offline failed: user_id=%s, error=%v", client.UserId, err)
	}
}

func onlineKey(userId string) string {
	return fmt.Sprintf(constant.RedisKeyOnline(), userId)
}

func connsKey(userId string) string {
	return fmt.Sprintf(constant.RedisKeyOnlineConns(), userId)
}
