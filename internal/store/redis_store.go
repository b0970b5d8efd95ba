package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/podbrief/api/internal/model"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means no execution exists for the id
	ErrNotFound = errors.New("execution not found")

	// ErrStateConflict means the execution was not in the expected state at
	// transition time. A second writer raced the first; the losing write is
	// rejected rather than overwriting history.
	ErrStateConflict = errors.New("execution state conflict")
)

// ExecutionStore is the durable record of workflow executions
type ExecutionStore interface {
	Create(ctx context.Context, exec *model.WorkflowExecution) error
	Get(ctx context.Context, id string) (*model.WorkflowExecution, error)

	// Transition atomically validates the current state, applies the mutation
	// and writes the result. Compare-and-set, never last-writer-wins.
	Transition(ctx context.Context, id string, from model.WorkflowState, apply func(*model.WorkflowExecution) error) error

	// ClaimInput reserves the input idempotency key for an execution id.
	// Returns the winning execution id and whether this call claimed it.
	ClaimInput(ctx context.Context, input model.ObjectRef, executionID string) (string, bool, error)

	// ReclaimInput re-points the input key at a new execution, used when the
	// previous execution for the same input has failed.
	ReclaimInput(ctx context.Context, input model.ObjectRef, executionID string) error
}

// RedisStore implements ExecutionStore on redis
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

const casRetries = 5

func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, retention: retention}
}

func executionKey(id string) string {
	return fmt.Sprintf("execution:%s", id)
}

func inputKey(input model.ObjectRef) string {
	return fmt.Sprintf("execution:input:%s", input.IdempotencyKey())
}

func (s *RedisStore) Create(ctx context.Context, exec *model.WorkflowExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	return s.redis.Set(ctx, executionKey(exec.ID), data, s.retention).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	data, err := s.redis.Get(ctx, executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var exec model.WorkflowExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &exec, nil
}

func (s *RedisStore) Transition(ctx context.Context, id string, from model.WorkflowState, apply func(*model.WorkflowExecution) error) error {
	key := executionKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		var exec model.WorkflowExecution
		if err := json.Unmarshal(data, &exec); err != nil {
			return fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		if exec.CurrentState != from {
			return fmt.Errorf("%w: expected %s, found %s", ErrStateConflict, from, exec.CurrentState)
		}

		if err := apply(&exec); err != nil {
			return err
		}

		updated, err := json.Marshal(&exec)
		if err != nil {
			return fmt.Errorf("failed to marshal execution: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.retention)
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.redis.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: optimistic lock exhausted after %d attempts", ErrStateConflict, casRetries)
}

func (s *RedisStore) ClaimInput(ctx context.Context, input model.ObjectRef, executionID string) (string, bool, error) {
	key := inputKey(input)

	claimed, err := s.redis.SetNX(ctx, key, executionID, s.retention).Result()
	if err != nil {
		return "", false, err
	}
	if claimed {
		return executionID, true, nil
	}

	winner, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Claim expired between SetNX and Get; take it now.
			return executionID, true, s.redis.Set(ctx, key, executionID, s.retention).Err()
		}
		return "", false, err
	}
	return winner, false, nil
}

func (s *RedisStore) ReclaimInput(ctx context.Context, input model.ObjectRef, executionID string) error {
	return s.redis.Set(ctx, inputKey(input), executionID, s.retention).Err()
}
