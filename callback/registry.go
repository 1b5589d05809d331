package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowclip/flowclip-api/config"
	"github.com/redis/go-redis/v9"
)

// Registry is the shared key-value store mediating TUS completions across
// worker processes. Two key spaces:
//
//	tus_callback:{task_id} - pending registration, TTL 1h
//	tus_result:{task_id}   - completion payload for late consumers, TTL 5m
type Registry struct {
	rdb *redis.Client
	ns  string
}

func NewRegistry(addr, password string, db int, namespace string) *Registry {
	return &Registry{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ns:  namespace,
	}
}

// Registration associates an upstream ASR task with the durable worker task
// waiting on it.
type Registration struct {
	WorkerTaskID string    `json:"worker_task_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CallbackResult is the cached outcome served to late consumers after the
// in-process waiter has moved on.
type CallbackResult struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	SrtURL       string `json:"srt_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r *Registry) callbackKey(taskID string) string {
	return r.ns + "tus_callback:" + taskID
}

func (r *Registry) resultKey(taskID string) string {
	return r.ns + "tus_result:" + taskID
}

// RegisterTUSTask implements asr.Registrar. The TTL bounds pollution from
// cancelled or crashed waiters; the callback server tolerates a missing
// registration.
func (r *Registry) RegisterTUSTask(ctx context.Context, asrTaskID, workerTaskID string) error {
	payload, err := json.Marshal(Registration{WorkerTaskID: workerTaskID, RegisteredAt: time.Now()})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.callbackKey(asrTaskID), payload, config.TusCallbackTTL).Err()
}

func (r *Registry) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.rdb.Ping(ctx).Err() == nil
}

// LookupRegistration resolves a pending registration, reporting found=false
// when the key is absent or expired.
func (r *Registry) LookupRegistration(ctx context.Context, asrTaskID string) (Registration, bool, error) {
	raw, err := r.rdb.Get(ctx, r.callbackKey(asrTaskID)).Bytes()
	if err == redis.Nil {
		return Registration{}, false, nil
	}
	if err != nil {
		return Registration{}, false, err
	}
	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registration{}, false, fmt.Errorf("corrupt registration for %s: %w", asrTaskID, err)
	}
	return reg, true, nil
}

func (r *Registry) DeleteRegistration(ctx context.Context, asrTaskID string) error {
	return r.rdb.Del(ctx, r.callbackKey(asrTaskID)).Err()
}

func (r *Registry) StoreResult(ctx context.Context, res CallbackResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.resultKey(res.TaskID), payload, config.TusResultTTL).Err()
}

func (r *Registry) GetResult(ctx context.Context, asrTaskID string) (CallbackResult, bool, error) {
	raw, err := r.rdb.Get(ctx, r.resultKey(asrTaskID)).Bytes()
	if err == redis.Nil {
		return CallbackResult{}, false, nil
	}
	if err != nil {
		return CallbackResult{}, false, err
	}
	var res CallbackResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return CallbackResult{}, false, err
	}
	return res, true, nil
}

// AcquireStartupLock gates singleton startup across processes on one host.
// Returns false when another process holds the lock.
func (r *Registry) AcquireStartupLock(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.ns+"callback_server:lock", holder, ttl).Result()
}

func (r *Registry) ReleaseStartupLock(ctx context.Context) error {
	return r.rdb.Del(ctx, r.ns+"callback_server:lock").Err()
}
