package taskqueue

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/chatflow/internal/testutil"
)

type RedisQueueTestSuite struct {
	suite.Suite
	client *redis.Client
	queue  *RedisQueue
}

func TestRedisQueueTestSuite(t *testing.T) {
	addr := testutil.GetRedisAddress(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	suite.Run(t, &RedisQueueTestSuite{
		client: client,
		queue:  NewRedisQueue(client, "chatflow:queuetest:", nil),
	})
}

func (r *RedisQueueTestSuite) SetupTest() {
	r.Require().NoError(r.client.Del(context.Background(), r.queue.key).Err())
}

func (r *RedisQueueTestSuite) TestContract() {
	testQueueContract(r.T(), r.queue)
}
