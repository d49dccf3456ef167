package armory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"

	"github.com/legacyplayers/lcec/internal/models"
)

// redisGet reads and decodes a cached record; ok is false on miss or error.
func redisGet[T any](ctx context.Context, rdb *redis.Client, key string) (T, bool) {
	var zero T
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}

// redisSet writes through to the L2 cache; failures are logged, never
// propagated — the oracle's correctness never depends on Redis.
func redisSet[T any](ctx context.Context, rdb *redis.Client, logger *zap.SugaredLogger, key string, value T, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warnw("armory L2 cache write failed", "key", key, "error", err)
	}
}

// defaultCacheTTL bounds how long a character/team/guild record is trusted
// without a fresh MySQL read. Short enough that a history_id bump (gear
// change) is picked up within one reset window in practice.
const defaultCacheTTL = 60 * time.Second

// Store is the durable read path behind the cache: the legacy armory
// database. It predates the event pipeline and is owned by a different
// subsystem; this interface only ever SELECTs.
type Store interface {
	QueryCharacter(ctx context.Context, serverID, characterID uint32) (*models.CharacterRecord, error)
	QueryArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error)
	QueryGuild(ctx context.Context, serverID, guildID uint32) (*models.GuildRecord, error)
}

// MySQLStore implements Store against the legacy armory MySQL schema.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool to the legacy armory database.
// dsn follows go-sql-driver/mysql's DSN format.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open armory mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) QueryCharacter(ctx context.Context, serverID, characterID uint32) (*models.CharacterRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT character_id, server_id, name, guild_id, last_history_id
		FROM armory_character
		WHERE server_id = ? AND character_id = ?
	`, serverID, characterID)

	var rec models.CharacterRecord
	var guildID sql.NullInt64
	var historyID sql.NullInt64
	if err := row.Scan(&rec.CharacterID, &rec.ServerID, &rec.Name, &guildID, &historyID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if guildID.Valid {
		v := uint32(guildID.Int64)
		rec.GuildID = &v
	}
	if historyID.Valid {
		v := uint32(historyID.Int64)
		rec.LastHistoryID = &v
	}
	return &rec, nil
}

func (s *MySQLStore) QueryArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT team_uid, server_id, team_id, name, rating
		FROM armory_arena_team
		WHERE server_id = ? AND team_uid = ?
	`, serverID, teamUID)

	var rec models.ArenaTeamRecord
	if err := row.Scan(&rec.TeamUID, &rec.ServerID, &rec.TeamID, &rec.Name, &rec.Rating); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *MySQLStore) QueryGuild(ctx context.Context, serverID, guildID uint32) (*models.GuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, server_id, guild_name
		FROM armory_guild
		WHERE server_id = ? AND guild_id = ?
	`, serverID, guildID)

	var rec models.GuildRecord
	if err := row.Scan(&rec.GuildID, &rec.ServerID, &rec.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

type characterKey struct {
	serverID, characterID uint32
}

type teamKey struct {
	serverID uint32
	teamUID  uint64
}

type guildKey struct {
	serverID, guildID uint32
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// CachedOracle wraps a Store with an in-process, copy-on-read cache guarded
// by a shared-readable/exclusive-writable lock, backed by a Redis L2 so
// sibling shard processes on the same host don't each cold-load the same
// record. It is safe for concurrent use by every shard's leaf components.
type CachedOracle struct {
	store  Store
	redis  *redis.Client
	logger *zap.SugaredLogger
	ttl    time.Duration

	mu         sync.RWMutex
	characters map[characterKey]cacheEntry[models.CharacterRecord]
	teams      map[teamKey]cacheEntry[models.ArenaTeamRecord]
	guilds     map[guildKey]cacheEntry[models.GuildRecord]
}

// NewCachedOracle builds an Oracle over store, with rdb as the optional
// shared L2 cache (nil disables it, falling back to per-process caching
// only). ttl <= 0 falls back to defaultCacheTTL.
func NewCachedOracle(store Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedOracle {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedOracle{
		store:      store,
		redis:      rdb,
		logger:     logger.Sugar(),
		ttl:        ttl,
		characters: make(map[characterKey]cacheEntry[models.CharacterRecord]),
		teams:      make(map[teamKey]cacheEntry[models.ArenaTeamRecord]),
		guilds:     make(map[guildKey]cacheEntry[models.GuildRecord]),
	}
}

func (o *CachedOracle) redisKey(parts ...any) string {
	key := "armory:"
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += fmt.Sprint(p)
	}
	return key
}

func (o *CachedOracle) LookupCharacter(ctx context.Context, serverID, characterID uint32) (*models.CharacterRecord, error) {
	key := characterKey{serverID, characterID}

	o.mu.RLock()
	entry, ok := o.characters[key]
	o.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return cloneCharacter(entry.value), nil
	}

	if o.redis != nil {
		if rec, hit := redisGet[models.CharacterRecord](ctx, o.redis, o.redisKey("character", serverID, characterID)); hit {
			o.mu.Lock()
			o.characters[key] = cacheEntry[models.CharacterRecord]{value: rec, expiresAt: time.Now().Add(o.ttl)}
			o.mu.Unlock()
			return cloneCharacter(rec), nil
		}
	}

	rec, err := o.store.QueryCharacter(ctx, serverID, characterID)
	if err != nil {
		return nil, fmt.Errorf("query character %d/%d: %w", serverID, characterID, err)
	}
	if rec == nil {
		return nil, nil
	}

	o.mu.Lock()
	o.characters[key] = cacheEntry[models.CharacterRecord]{value: *rec, expiresAt: time.Now().Add(o.ttl)}
	o.mu.Unlock()
	if o.redis != nil {
		redisSet(ctx, o.redis, o.logger, o.redisKey("character", serverID, characterID), *rec, o.ttl)
	}

	return cloneCharacter(*rec), nil
}

// cloneCharacter copies rec together with the values behind its pointer
// fields, so no caller shares memory with a cache entry.
func cloneCharacter(rec models.CharacterRecord) *models.CharacterRecord {
	if rec.GuildID != nil {
		v := *rec.GuildID
		rec.GuildID = &v
	}
	if rec.LastHistoryID != nil {
		v := *rec.LastHistoryID
		rec.LastHistoryID = &v
	}
	return &rec
}

func (o *CachedOracle) LookupArenaTeam(ctx context.Context, serverID uint32, teamUID uint64) (*models.ArenaTeamRecord, error) {
	key := teamKey{serverID, teamUID}

	o.mu.RLock()
	entry, ok := o.teams[key]
	o.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		rec := entry.value
		return &rec, nil
	}

	if o.redis != nil {
		if rec, hit := redisGet[models.ArenaTeamRecord](ctx, o.redis, o.redisKey("team", serverID, teamUID)); hit {
			o.mu.Lock()
			o.teams[key] = cacheEntry[models.ArenaTeamRecord]{value: rec, expiresAt: time.Now().Add(o.ttl)}
			o.mu.Unlock()
			out := rec
			return &out, nil
		}
	}

	rec, err := o.store.QueryArenaTeam(ctx, serverID, teamUID)
	if err != nil {
		return nil, fmt.Errorf("query arena team %d/%d: %w", serverID, teamUID, err)
	}
	if rec == nil {
		return nil, nil
	}

	o.mu.Lock()
	o.teams[key] = cacheEntry[models.ArenaTeamRecord]{value: *rec, expiresAt: time.Now().Add(o.ttl)}
	o.mu.Unlock()
	if o.redis != nil {
		redisSet(ctx, o.redis, o.logger, o.redisKey("team", serverID, teamUID), *rec, o.ttl)
	}

	out := *rec
	return &out, nil
}

func (o *CachedOracle) LookupGuild(ctx context.Context, serverID, guildID uint32) (*models.GuildRecord, error) {
	key := guildKey{serverID, guildID}

	o.mu.RLock()
	entry, ok := o.guilds[key]
	o.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		rec := entry.value
		return &rec, nil
	}

	if o.redis != nil {
		if rec, hit := redisGet[models.GuildRecord](ctx, o.redis, o.redisKey("guild", serverID, guildID)); hit {
			o.mu.Lock()
			o.guilds[key] = cacheEntry[models.GuildRecord]{value: rec, expiresAt: time.Now().Add(o.ttl)}
			o.mu.Unlock()
			out := rec
			return &out, nil
		}
	}

	rec, err := o.store.QueryGuild(ctx, serverID, guildID)
	if err != nil {
		return nil, fmt.Errorf("query guild %d/%d: %w", serverID, guildID, err)
	}
	if rec == nil {
		return nil, nil
	}

	o.mu.Lock()
	o.guilds[key] = cacheEntry[models.GuildRecord]{value: *rec, expiresAt: time.Now().Add(o.ttl)}
	o.mu.Unlock()
	if o.redis != nil {
		redisSet(ctx, o.redis, o.logger, o.redisKey("guild", serverID, guildID), *rec, o.ttl)
	}

	out := *rec
	return &out, nil
}
