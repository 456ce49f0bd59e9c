package persistence

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/chatflow/pkg/api"
)

// RedisExecutionStore is an ExecutionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>exec:<id>               => JSON snapshot
//	<prefix>idx:all                 => ZSET of all execution IDs scored by start time
//	<prefix>idx:flow:<flowID>       => SET of execution IDs for a given flow
//	<prefix>idx:status:<status>     => SET of execution IDs for a given status
//
// Status indexes are moved on every Upsert. List still re-checks the
// decoded snapshot, so a stale index entry never leaks into results.
type RedisExecutionStore struct {
	client *redis.Client
	prefix string
}

var _ ExecutionStore = (*RedisExecutionStore)(nil)

var allStatuses = []api.Status{
	api.StatusRunning,
	api.StatusPaused,
	api.StatusCompleted,
	api.StatusError,
	api.StatusStopped,
}

// NewRedisExecutionStore creates a RedisExecutionStore.
// prefix is optional but recommended (e.g. "chatflow:").
func NewRedisExecutionStore(client *redis.Client, prefix string) *RedisExecutionStore {
	if prefix == "" {
		prefix = "chatflow:"
	}
	return &RedisExecutionStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisExecutionStore) keyExecution(id string) string {
	return s.prefix + "exec:" + id
}

func (s *RedisExecutionStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisExecutionStore) keyFlow(flowID string) string {
	return s.prefix + "idx:flow:" + flowID
}

func (s *RedisExecutionStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisExecutionStore) Upsert(ctx context.Context, exec *api.FlowExecution) error {
	data, err := EncodeExecution(exec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyExecution(exec.ID), data, 0)
	pipe.ZAddNX(ctx, s.keyAll(), redis.Z{Score: float64(exec.StartedAt.UnixNano()), Member: exec.ID})
	pipe.SAdd(ctx, s.keyFlow(exec.FlowID), exec.ID)
	for _, st := range allStatuses {
		if st != exec.Status {
			pipe.SRem(ctx, s.keyStatus(st), exec.ID)
		}
	}
	pipe.SAdd(ctx, s.keyStatus(exec.Status), exec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisExecutionStore) Get(ctx context.Context, id string) (*api.FlowExecution, error) {
	data, err := s.client.Get(ctx, s.keyExecution(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return DecodeExecution(data)
}

func (s *RedisExecutionStore) List(ctx context.Context, filter api.ExecutionFilter) ([]*api.FlowExecution, error) {
	var ids []string
	var err error

	switch {
	case filter.FlowID != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyFlow(filter.FlowID),
			s.keyStatus(filter.Status),
		).Result()
	case filter.FlowID != "":
		ids, err = s.client.SMembers(ctx, s.keyFlow(filter.FlowID)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.ZRange(ctx, s.keyAll(), 0, -1).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.FlowExecution{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.FlowExecution{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyExecution(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	executions := []*api.FlowExecution{}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		exec, err := DecodeExecution(data)
		if err != nil {
			return nil, err
		}
		if matches(filter, exec) {
			executions = append(executions, exec)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	return executions, nil
}
