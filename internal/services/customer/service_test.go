package customer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperline/sales-voice-service/pkg/redis"
)

type memoryRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{values: make(map[string]string)}
}

func (m *memoryRedis) GenerateKey(keyType redis.KeyType, identifier string) string {
	return string(keyType) + ":" + identifier + ":"
}

func (m *memoryRedis) GetValue(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", redis.ErrKeyNotExist
	}
	return v, nil
}

func (m *memoryRedis) SetValue(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryRedis) DelValue(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memoryRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (m *memoryRedis) Subscribe(ctx context.Context, channel string, handler func(string)) error {
	return nil
}

func TestLookupFetchesAndCachesProfile(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/api/v1/customers/by-phone/+15551234567", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cust-9","name":"Dana","phone_number":"+15551234567","company":"Corner Cafe","do_not_call":false}`))
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "secret", time.Minute, newMemoryRedis())

	p, err := svc.LookupByPhone(context.Background(), "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "cust-9", p.ID)
	assert.Equal(t, "Corner Cafe", p.Company)

	// Second lookup is served from cache.
	p, err = svc.LookupByPhone(context.Background(), "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, hits)
}

func TestLookupUnknownNumberReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "", time.Minute, newMemoryRedis())

	p, err := svc.LookupByPhone(context.Background(), "+15550000000")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestOptOutFlagOverridesCachedProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cust-9","name":"Dana","phone_number":"+15551234567","do_not_call":false}`))
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "", time.Minute, newMemoryRedis())

	p, err := svc.LookupByPhone(context.Background(), "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.DoNotCall)

	require.NoError(t, svc.MarkOptedOut(context.Background(), "+15551234567"))

	p, err = svc.LookupByPhone(context.Background(), "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.DoNotCall)
}

func TestOptOutSurvivesUpstreamOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "", time.Minute, newMemoryRedis())

	// The upstream write fails but the Redis flag must still hold.
	err := svc.MarkOptedOut(context.Background(), "+15551234567")
	require.Error(t, err)

	p, err := svc.LookupByPhone(context.Background(), "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.DoNotCall)
}
