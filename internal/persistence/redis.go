package persistence

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/engine"
	"github.com/talgya/cli-mmo/internal/social"
	"github.com/talgya/cli-mmo/internal/world"
)

const redisKeyPrefix = "cli-mmo"

func redisKey(instanceID, name string) string {
	return redisKeyPrefix + ":" + instanceID + ":" + name
}

// RedisStore keeps game instances in Redis as JSON values.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(ErrPersistence, "ping redis at %s: %v", opts.Address, err)
	}
	return &RedisStore{client: client}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// HasInstance reports whether an instance has been created.
func (s *RedisStore) HasInstance(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(id, "instance")).Result()
	if err != nil {
		return false, eris.Wrapf(ErrPersistence, "lookup instance %s: %v", id, err)
	}
	return n > 0, nil
}

// GetInstance returns the stored instance description.
func (s *RedisStore) GetInstance(ctx context.Context, id string) (Instance, error) {
	var inst Instance
	if err := s.getJSON(ctx, redisKey(id, "instance"), &inst); err != nil {
		if errors.Is(err, redis.Nil) {
			return Instance{}, eris.Wrapf(ErrInstanceNotFound, "instance %s", id)
		}
		return Instance{}, eris.Wrapf(ErrPersistence, "get instance %s: %v", id, err)
	}
	return inst, nil
}

// CreateInstance registers a new instance. It fails if the instance exists.
func (s *RedisStore) CreateInstance(ctx context.Context, inst Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode instance %s: %v", inst.ID, err)
	}
	ok, err := s.client.SetNX(ctx, redisKey(inst.ID, "instance"), data, 0).Result()
	if err != nil {
		return eris.Wrapf(ErrPersistence, "create instance %s: %v", inst.ID, err)
	}
	if !ok {
		return eris.Wrapf(ErrPersistence, "instance %s already exists", inst.ID)
	}
	return nil
}

// SaveWorld writes the instance's world as one record set.
func (s *RedisStore) SaveWorld(ctx context.Context, instanceID string, m *world.Map) error {
	data, err := json.Marshal(world.Flatten(m, instanceID))
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode world %s: %v", instanceID, err)
	}
	if err := s.client.Set(ctx, redisKey(instanceID, "world"), data, 0).Err(); err != nil {
		return eris.Wrapf(ErrPersistence, "save world %s: %v", instanceID, err)
	}
	return nil
}

// LoadWorld rebuilds the instance's world.
func (s *RedisStore) LoadWorld(ctx context.Context, instanceID string) (*world.Map, error) {
	var set world.RecordSet
	if err := s.getJSON(ctx, redisKey(instanceID, "world"), &set); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, eris.Wrapf(ErrInstanceNotFound, "world for instance %s", instanceID)
		}
		return nil, eris.Wrapf(ErrPersistence, "load world %s: %v", instanceID, err)
	}
	m, err := world.FromRecords(set)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "rebuild world %s: %v", instanceID, err)
	}
	return m, nil
}

// CreateNation stores a single new nation.
func (s *RedisStore) CreateNation(ctx context.Context, instanceID string, n *social.Nation) error {
	data, err := json.Marshal(n)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode nation %s: %v", n.ID, err)
	}
	if err := s.client.HSet(ctx, redisKey(instanceID, "nations"), n.ID, data).Err(); err != nil {
		return eris.Wrapf(ErrPersistence, "create nation %s: %v", n.ID, err)
	}
	return nil
}

// SaveNations replaces every nation of the instance in one transaction.
func (s *RedisStore) SaveNations(ctx context.Context, instanceID string, nations []*social.Nation) error {
	pipe := s.client.TxPipeline()
	if err := queueNations(ctx, pipe, instanceID, nations); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(ErrPersistence, "save nations: %v", err)
	}
	return nil
}

// SaveSnapshot replaces the world and the nations and records tick as the
// last completed tick in one MULTI/EXEC block.
func (s *RedisStore) SaveSnapshot(ctx context.Context, instanceID string, m *world.Map, nations []*social.Nation, tick uint64) error {
	data, err := json.Marshal(world.Flatten(m, instanceID))
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode world %s: %v", instanceID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKey(instanceID, "world"), data, 0)
	if err := queueNations(ctx, pipe, instanceID, nations); err != nil {
		return err
	}
	pipe.HSet(ctx, redisKey(instanceID, "meta"), MetaLastTick, FormatTick(tick))
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(ErrPersistence, "save snapshot %s: %v", instanceID, err)
	}
	return nil
}

func queueNations(ctx context.Context, pipe redis.Pipeliner, instanceID string, nations []*social.Nation) error {
	key := redisKey(instanceID, "nations")
	pipe.Del(ctx, key)
	for _, n := range nations {
		data, err := json.Marshal(n)
		if err != nil {
			return eris.Wrapf(ErrPersistence, "encode nation %s: %v", n.ID, err)
		}
		pipe.HSet(ctx, key, n.ID, data)
	}
	return nil
}

// LoadNations returns every nation of the instance ordered by id.
func (s *RedisStore) LoadNations(ctx context.Context, instanceID string) ([]*social.Nation, error) {
	all, err := s.client.HGetAll(ctx, redisKey(instanceID, "nations")).Result()
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load nations: %v", err)
	}
	out := make([]*social.Nation, 0, len(all))
	for id, data := range all {
		var n social.Nation
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "decode nation %s: %v", id, err)
		}
		if n.Territories == nil {
			n.Territories = make(map[string]bool)
		}
		if n.OwnedResources == nil {
			n.OwnedResources = make(map[world.ResourceType]*social.ResourceAmount)
		}
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveTickRecord appends one tick record, scored by tick number.
func (s *RedisStore) SaveTickRecord(ctx context.Context, instanceID string, rec engine.TickRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode tick %d: %v", rec.Tick, err)
	}
	key := redisKey(instanceID, "ticks")
	score := strconv.FormatUint(rec.Tick, 10)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, score, score)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(rec.Tick), Member: data})
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(ErrPersistence, "save tick %d: %v", rec.Tick, err)
	}
	return nil
}

// TickRecords returns the most recent limit records, oldest first.
func (s *RedisStore) TickRecords(ctx context.Context, instanceID string, limit int) ([]engine.TickRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.ZRevRange(ctx, redisKey(instanceID, "ticks"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load tick records: %v", err)
	}
	out := make([]engine.TickRecord, len(raw))
	for i, data := range raw {
		var rec engine.TickRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "decode tick record: %v", err)
		}
		out[len(raw)-1-i] = rec
	}
	return out, nil
}

// SaveMeta stores a key-value pair in the instance metadata.
func (s *RedisStore) SaveMeta(ctx context.Context, instanceID, key, value string) error {
	if err := s.client.HSet(ctx, redisKey(instanceID, "meta"), key, value).Err(); err != nil {
		return eris.Wrapf(ErrPersistence, "save meta %s: %v", key, err)
	}
	return nil
}

// GetMeta retrieves a metadata value. A missing key returns "" and no error.
func (s *RedisStore) GetMeta(ctx context.Context, instanceID, key string) (string, error) {
	v, err := s.client.HGet(ctx, redisKey(instanceID, "meta"), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(ErrPersistence, "get meta %s: %v", key, err)
	}
	return v, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
