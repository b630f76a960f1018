package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mobiletel/callcore/internal/calls"
	"github.com/mobiletel/callcore/internal/listener"
	"github.com/mobiletel/callcore/internal/ott"
)

// maxRecordsPerNumber bounds the per-number history list.
const maxRecordsPerNumber = 100

// CallRecord is one finished call as persisted to the history store.
type CallRecord struct {
	CallID       int32     `json:"call_id"`
	Kind         string    `json:"kind"`
	Direction    string    `json:"direction"`
	Number       string    `json:"number"`
	SlotID       int32     `json:"slot_id"`
	Emergency    bool      `json:"emergency"`
	AnswerType   int       `json:"answer_type"`
	StartTime    time.Time `json:"start_time"`
	CallDuration int64     `json:"call_duration_ms"`
	RingDuration int64     `json:"ring_duration_ms"`
	ContactName  string    `json:"contact_name,omitempty"`
}

// RedisStore persists call history in Redis. It subscribes as a call
// listener and writes a record whenever a call reaches its end state.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, ttl time.Duration, log *logrus.Entry) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Infof("connected to Redis at %s", addr)

	return &RedisStore{client: rdb, ttl: ttl, log: log}, nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// StoreRecord appends a record to the number's history list.
func (rs *RedisStore) StoreRecord(ctx context.Context, record CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	listKey := recordKey(record.Number)
	if err := rs.client.LPush(ctx, listKey, data).Err(); err != nil {
		return fmt.Errorf("failed to store call record: %w", err)
	}
	if rs.ttl > 0 {
		if err := rs.client.Expire(ctx, listKey, rs.ttl).Err(); err != nil {
			rs.log.Warnf("failed to set TTL on %s: %v", listKey, err)
		}
	}
	if err := rs.client.LTrim(ctx, listKey, 0, maxRecordsPerNumber-1).Err(); err != nil {
		rs.log.Warnf("failed to trim %s: %v", listKey, err)
	}
	return nil
}

// History returns the stored records for a number, oldest first.
func (rs *RedisStore) History(ctx context.Context, number string) ([]CallRecord, error) {
	data, err := rs.client.LRange(ctx, recordKey(number), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []CallRecord{}, nil
		}
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}

	out := make([]CallRecord, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		var record CallRecord
		if err := json.Unmarshal([]byte(data[i]), &record); err != nil {
			rs.log.Warnf("failed to unmarshal call record: %v", err)
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func recordKey(number string) string {
	return fmt.Sprintf("callrecords:%s", calls.NormalizeNumber(number))
}

// recordFrom flattens a call snapshot into its persisted form.
func recordFrom(info calls.AttributeInfo) CallRecord {
	return CallRecord{
		CallID:       int32(info.CallID),
		Kind:         info.Kind.String(),
		Direction:    info.Direction.String(),
		Number:       info.Number,
		SlotID:       info.SlotID,
		Emergency:    info.Emergency,
		AnswerType:   int(info.AnswerType),
		StartTime:    info.StartTime,
		CallDuration: info.CallDuration.Milliseconds(),
		RingDuration: info.RingDuration.Milliseconds(),
		ContactName:  info.Contact.Name,
	}
}

// OnCallDetailsChange stores a record when a call reaches its end state.
func (rs *RedisStore) OnCallDetailsChange(info calls.AttributeInfo) {
	if info.State != calls.StateDisconnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rs.StoreRecord(ctx, recordFrom(info)); err != nil {
		rs.log.WithError(err).Warnf("failed to record call %d", info.CallID)
	}
}

func (rs *RedisStore) OnCallEventChange(calls.EventInfo) {}

func (rs *RedisStore) OnCallDisconnectedCause(calls.DisconnectDetails) {}

func (rs *RedisStore) OnReportAsyncResults(listener.AsyncResult) {}

func (rs *RedisStore) OnOttCallRequest(ott.Request) {}
