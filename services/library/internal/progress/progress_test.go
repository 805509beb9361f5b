package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/animetrack/services/library/internal/domain"
)

var bebop = MediaKey{Kind: domain.KindAnime, ExternalID: 1}

func TestMemoryStore_Latest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Latest(ctx, bebop)
	require.ErrorIs(t, err, ErrNoProgress)

	require.NoError(t, s.Publish(ctx, bebop, Progress{Total: 3, Created: 1, Remaining: 2}))
	require.NoError(t, s.Publish(ctx, bebop, Progress{Total: 3, Created: 2, Remaining: 1}))

	p, err := s.Latest(ctx, bebop)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Created)
	assert.Equal(t, 2, p.Processed())
}

func TestFanout_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	var calls int
	failing := SinkFunc(func(context.Context, MediaKey, Progress) error {
		calls++
		return errors.New("redis down")
	})

	f := NewFanout(zap.NewNop(), failing, nil, mem)
	require.NoError(t, f.Publish(ctx, bebop, Progress{Total: 1, Existing: 1}))

	assert.Equal(t, 1, calls)
	p, err := mem.Latest(ctx, bebop)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Existing)
}

type fakeConn struct {
	subject string
	data    []byte
}

func (c *fakeConn) Publish(subj string, data []byte) error {
	c.subject, c.data = subj, data
	return nil
}

func TestPublisher_SubjectAndPayload(t *testing.T) {
	nc := &fakeConn{}
	key := MediaKey{Kind: domain.KindManga, ExternalID: 30013}
	require.NoError(t, NewPublisher(nc).Publish(context.Background(), key, Progress{Total: 4, Failed: 1, Remaining: 3}))

	assert.Equal(t, "library.import.progress.manga.30013", nc.subject)
	var got map[string]any
	require.NoError(t, json.Unmarshal(nc.data, &got))
	assert.Equal(t, "manga", got["kind"])
	assert.Equal(t, float64(30013), got["external_id"])
	assert.Equal(t, float64(1), got["failed"])
	assert.Equal(t, float64(3), got["remaining"])
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "library:import:progress:anime:1", redisKey(bebop))
}

type fakeRedis struct {
	vals   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{vals: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.vals[key] = string(v)
	case string:
		f.vals[key] = v
	}
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisStore_PublishAndLatest(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	s := NewRedisStore(fr, 10*time.Minute)

	_, err := s.Latest(ctx, bebop)
	require.ErrorIs(t, err, ErrNoProgress)

	require.NoError(t, s.Publish(ctx, bebop, Progress{Total: 4, Existing: 1, Remaining: 3}))
	assert.Equal(t, 10*time.Minute, fr.ttls[redisKey(bebop)])

	p, err := s.Latest(ctx, bebop)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 1, p.Existing)
	assert.Equal(t, 3, p.Remaining)
}

func TestRedisStore_DefaultTTLAndErrors(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	s := NewRedisStore(fr, 0)
	require.NoError(t, s.Publish(ctx, bebop, Progress{Total: 1}))
	assert.Equal(t, time.Hour, fr.ttls[redisKey(bebop)])

	fr.vals[redisKey(bebop)] = "{not json"
	_, err := s.Latest(ctx, bebop)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoProgress)

	fr.getErr = errors.New("connection refused")
	_, err = s.Latest(ctx, bebop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotErrorIs(t, err, ErrNoProgress)
}
