package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/redis"
)

type ClaimConfig struct {
	// LockTTL bounds how long a crashed holder keeps a record locked.
	LockTTL time.Duration

	LockKeyPrefix string
}

func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		LockTTL:       30 * time.Second,
		LockKeyPrefix: "webhook:lock:",
	}
}

// ClaimService hands out short-lived per-record locks so a webhook is never
// processed by two workers at once.
type ClaimService struct {
	redis  redis.RedisAdapter
	config ClaimConfig
}

func NewClaimService(redisAdapter redis.RedisAdapter, config ClaimConfig) *ClaimService {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultClaimConfig().LockTTL
	}
	if config.LockKeyPrefix == "" {
		config.LockKeyPrefix = DefaultClaimConfig().LockKeyPrefix
	}
	return &ClaimService{
		redis:  redisAdapter,
		config: config,
	}
}

// Claim tries to take the lock for id. ok is false when another holder has it.
func (s *ClaimService) Claim(ctx context.Context, id string) (string, bool, error) {
	token := uuid.NewString()
	acquired, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+id, []byte(token), s.config.LockTTL)
	if err != nil {
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		logger.Debug("webhook lock already held", "webhook_id", id)
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lock only if token still owns it, so an expired holder
// cannot free a lock taken over by someone else.
func (s *ClaimService) Release(ctx context.Context, id, token string) error {
	released, err := s.redis.DelIfEquals(ctx, s.config.LockKeyPrefix+id, []byte(token))
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if !released {
		logger.Warn("webhook lock expired before release", "webhook_id", id)
	}
	return nil
}
