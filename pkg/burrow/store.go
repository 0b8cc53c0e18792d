package burrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store provides instance-scoped Redis operations for the burrow.
// All keys and channels are automatically namespaced with the instance
// name. The store is thread-safe and can be used concurrently from
// multiple goroutines.
//
// The store is Warren's persistence adapter: trajectory appends, registry
// snapshots and the unflushed-recovery queue all go through it. Failures
// surface as errors wrapping ErrPersistenceUnavailable so callers can
// distinguish degraded durability from bad input.
type Store struct {
	rdb          *redis.Client
	instanceName string
}

// NewStore creates a new burrow store for the specified instance.
// The store automatically namespaces all keys and channels with the
// instance name.
//
// Returns an error if instanceName is empty.
func NewStore(redisOpts *redis.Options, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the store should not be used.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// InstanceName returns the instance this store is namespaced to.
func (s *Store) InstanceName() string {
	return s.instanceName
}

// AppendTrajectory writes a trajectory to Redis and publishes an event.
// Validates the trajectory before writing. The trajectory ID is added to
// the instance's trajectory index set.
//
// This method is idempotent - writing the same trajectory twice is safe,
// which is what makes recovery-queue replay harmless.
func (s *Store) AppendTrajectory(ctx context.Context, tr *Trajectory) error {
	if err := tr.Validate(); err != nil {
		return fmt.Errorf("invalid trajectory: %w", err)
	}

	hash, err := TrajectoryToHash(tr)
	if err != nil {
		return fmt.Errorf("failed to serialize trajectory: %w", err)
	}

	key := TrajectoryKey(s.instanceName, tr.ID)
	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("%w: failed to write trajectory: %v", ErrPersistenceUnavailable, err)
	}

	indexKey := TrajectoryIndexKey(s.instanceName)
	if err := s.rdb.SAdd(ctx, indexKey, tr.ID).Err(); err != nil {
		return fmt.Errorf("%w: failed to index trajectory: %v", ErrPersistenceUnavailable, err)
	}

	// Publish event for watchers; best effort after the durable write
	trajectoryJSON, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory for event: %w", err)
	}

	channel := TrajectoryEventsChannel(s.instanceName)
	if err := s.rdb.Publish(ctx, channel, trajectoryJSON).Err(); err != nil {
		return fmt.Errorf("%w: failed to publish trajectory event: %v", ErrPersistenceUnavailable, err)
	}

	return nil
}

// LoadTrajectory retrieves a trajectory by ID.
// Returns (nil, redis.Nil) if the trajectory doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (s *Store) LoadTrajectory(ctx context.Context, trajectoryID string) (*Trajectory, error) {
	key := TrajectoryKey(s.instanceName, trajectoryID)

	hashData, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read trajectory: %v", ErrPersistenceUnavailable, err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	tr, err := HashToTrajectory(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize trajectory: %w", err)
	}

	return tr, nil
}

// ListTrajectoryIDs returns all trajectory IDs known to this instance.
// Returns an empty slice if none exist (not an error).
func (s *Store) ListTrajectoryIDs(ctx context.Context) ([]string, error) {
	indexKey := TrajectoryIndexKey(s.instanceName)

	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list trajectories: %v", ErrPersistenceUnavailable, err)
	}

	return ids, nil
}

// WriteSnapshot persists a registry snapshot. Entries are stored as hash
// fields keyed by (agent_id, domain), so writing the same snapshot twice
// is idempotent: last write wins per key, never additive.
func (s *Store) WriteSnapshot(ctx context.Context, snap *RegistrySnapshot) error {
	hash, err := SnapshotToHash(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	metaJSON, err := SnapshotMetaJSON(snap)
	if err != nil {
		return err
	}

	metaKey := SnapshotMetaKey(s.instanceName)
	if err := s.rdb.Set(ctx, metaKey, metaJSON, 0).Err(); err != nil {
		return fmt.Errorf("%w: failed to write snapshot meta: %v", ErrPersistenceUnavailable, err)
	}

	if len(hash) == 0 {
		return nil
	}

	key := SnapshotKey(s.instanceName)
	if err := s.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("%w: failed to write snapshot: %v", ErrPersistenceUnavailable, err)
	}

	return nil
}

// ReadSnapshot retrieves the stored registry snapshot.
// Returns (nil, redis.Nil) if no snapshot has ever been written.
func (s *Store) ReadSnapshot(ctx context.Context) (*RegistrySnapshot, error) {
	metaKey := SnapshotMetaKey(s.instanceName)
	metaJSON, err := s.rdb.Get(ctx, metaKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, redis.Nil
		}
		return nil, fmt.Errorf("%w: failed to read snapshot meta: %v", ErrPersistenceUnavailable, err)
	}

	key := SnapshotKey(s.instanceName)
	hashData, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read snapshot: %v", ErrPersistenceUnavailable, err)
	}

	snap, err := HashToSnapshot(hashData, []byte(metaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize snapshot: %w", err)
	}

	return snap, nil
}

// EnqueueUnflushed pushes a trajectory ID onto the recovery queue.
// Called when a completion flush fails so the trajectory can be replayed
// once the store is reachable again.
func (s *Store) EnqueueUnflushed(ctx context.Context, trajectoryID string) error {
	key := UnflushedQueueKey(s.instanceName)
	if err := s.rdb.RPush(ctx, key, trajectoryID).Err(); err != nil {
		return fmt.Errorf("%w: failed to enqueue unflushed trajectory: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// DequeueUnflushed pops the oldest trajectory ID from the recovery queue.
// Returns ("", redis.Nil) when the queue is empty.
func (s *Store) DequeueUnflushed(ctx context.Context) (string, error) {
	key := UnflushedQueueKey(s.instanceName)

	id, err := s.rdb.LPop(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("%w: failed to dequeue unflushed trajectory: %v", ErrPersistenceUnavailable, err)
	}

	return id, nil
}

// UnflushedLen returns the recovery queue depth.
func (s *Store) UnflushedLen(ctx context.Context) (int64, error) {
	key := UnflushedQueueKey(s.instanceName)

	n, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read unflushed queue length: %v", ErrPersistenceUnavailable, err)
	}

	return n, nil
}

// Subscription represents an active Pub/Sub subscription to trajectory
// events. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Trajectory
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of trajectory events.
// The channel will be closed when the subscription is closed or the
// context is cancelled.
func (s *Subscription) Events() <-chan *Trajectory {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTrajectoryEvents subscribes to trajectory events for this
// instance. Returns a Subscription that delivers full trajectory objects.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent
// blocking. If the subscriber is too slow, events may be dropped by
// Redis Pub/Sub (at-most-once delivery).
func (s *Store) SubscribeTrajectoryEvents(ctx context.Context) (*Subscription, error) {
	channel := TrajectoryEventsChannel(s.instanceName)
	pubsub := s.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *Trajectory, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var tr Trajectory
				if err := json.Unmarshal([]byte(msg.Payload), &tr); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal trajectory event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &tr:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if LoadTrajectory, ReadSnapshot or
// DequeueUnflushed returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
