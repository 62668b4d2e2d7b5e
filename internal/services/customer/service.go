package customer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/domain"
	"github.com/paperline/sales-voice-service/pkg/logger"
	"github.com/paperline/sales-voice-service/pkg/redis"
)

const (
	defaultCacheTTL = 10 * time.Minute
	// Opt-outs are effectively permanent; the long TTL only bounds
	// stale entries if the upstream record is the source of truth.
	optOutTTL = 365 * 24 * time.Hour
)

// profileResponse is the upstream customer API shape.
type profileResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Company     string `json:"company"`
	Notes       string `json:"notes"`
	DoNotCall   bool   `json:"do_not_call"`
}

type optOutRequest struct {
	PhoneNumber string `json:"phone_number"`
	Reason      string `json:"reason"`
}

// Service resolves customer profiles from the upstream customer API
// with a Redis read-through cache, and records opt-outs both locally
// and upstream. The opt-out flag in Redis always wins over a cached
// profile, so a customer who pressed 9 is never called again even if
// the upstream write failed.
type Service struct {
	baseURL  string
	apiKey   string
	cacheTTL time.Duration
	redisSvc redis.RedisServiceInterface
	client   *http.Client
}

// NewService creates a customer service. baseURL may be empty, in which
// case lookups resolve from cache only and unknown numbers come back nil.
func NewService(baseURL, apiKey string, cacheTTL time.Duration, redisSvc redis.RedisServiceInterface) *Service {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Service{
		baseURL:  baseURL,
		apiKey:   apiKey,
		cacheTTL: cacheTTL,
		redisSvc: redisSvc,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// LookupByPhone returns the customer profile for a phone number, or nil
// when the number is unknown.
func (s *Service) LookupByPhone(ctx context.Context, phone string) (*domain.CustomerProfile, error) {
	optedOut, err := s.isOptedOut(ctx, phone)
	if err != nil {
		logger.Base().Warn("Opt-out check failed", zap.String("phone", phone), zap.Error(err))
	}

	profile, err := s.cachedProfile(ctx, phone)
	if err == nil && profile != nil {
		if optedOut {
			profile.DoNotCall = true
		}
		return profile, nil
	}

	profile, err = s.fetchProfile(ctx, phone)
	if err != nil {
		if optedOut {
			// The upstream is unreachable but we still know not to call.
			return &domain.CustomerProfile{PhoneNumber: phone, DoNotCall: true}, nil
		}
		return nil, err
	}
	if profile == nil {
		if optedOut {
			return &domain.CustomerProfile{PhoneNumber: phone, DoNotCall: true}, nil
		}
		return nil, nil
	}

	s.cacheProfile(ctx, profile)
	if optedOut {
		profile.DoNotCall = true
	}
	return profile, nil
}

// MarkOptedOut flags a phone number as do-not-call. The Redis flag is
// written first so the decision sticks even when the upstream write fails.
func (s *Service) MarkOptedOut(ctx context.Context, phone string) error {
	key := s.redisKey(redis.OPT_OUT, phone)
	if s.redisSvc != nil {
		if err := s.redisSvc.SetValue(ctx, key, "1", optOutTTL); err != nil {
			logger.Base().Error("Failed caching opt-out flag", zap.String("phone", phone), zap.Error(err))
		}
		// Invalidate the cached profile so the flag is visible immediately.
		_ = s.redisSvc.DelValue(ctx, s.redisKey(redis.CUSTOMER_PROFILE, phone))
	}

	if s.baseURL == "" {
		return nil
	}

	body, _ := json.Marshal(optOutRequest{PhoneNumber: phone, Reason: "keypad_opt_out"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/customers/opt-out", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opt-out request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode > http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.Base().Error("Customer API opt-out error",
			zap.Int("status_code", resp.StatusCode), zap.String("body", string(bodyBytes)))
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	logger.Base().Info("Customer opted out", zap.String("phone", phone))
	return nil
}

func (s *Service) isOptedOut(ctx context.Context, phone string) (bool, error) {
	if s.redisSvc == nil {
		return false, nil
	}
	_, err := s.redisSvc.GetValue(ctx, s.redisKey(redis.OPT_OUT, phone))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) cachedProfile(ctx context.Context, phone string) (*domain.CustomerProfile, error) {
	if s.redisSvc == nil {
		return nil, redis.ErrKeyNotExist
	}
	raw, err := s.redisSvc.GetValue(ctx, s.redisKey(redis.CUSTOMER_PROFILE, phone))
	if err != nil {
		return nil, err
	}
	var profile domain.CustomerProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Service) cacheProfile(ctx context.Context, profile *domain.CustomerProfile) {
	if s.redisSvc == nil {
		return
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	key := s.redisKey(redis.CUSTOMER_PROFILE, profile.PhoneNumber)
	if err := s.redisSvc.SetValue(ctx, key, string(data), s.cacheTTL); err != nil {
		logger.Base().Warn("Failed caching customer profile",
			zap.String("phone", profile.PhoneNumber), zap.Error(err))
	}
}

// fetchProfile calls GET /api/v1/customers/by-phone/{phone} on the
// upstream customer API. A 404 means the number is unknown, not an error.
func (s *Service) fetchProfile(ctx context.Context, phone string) (*domain.CustomerProfile, error) {
	if s.baseURL == "" {
		return nil, nil
	}

	url := fmt.Sprintf("%s/api/v1/customers/by-phone/%s", s.baseURL, phone)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("customer lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		logger.Base().Error("Customer API lookup error",
			zap.Int("status_code", resp.StatusCode), zap.String("body", string(bodyBytes)))
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var pr profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode customer profile: %w", err)
	}

	return &domain.CustomerProfile{
		ID:          pr.ID,
		Name:        pr.Name,
		PhoneNumber: pr.PhoneNumber,
		Company:     pr.Company,
		Notes:       pr.Notes,
		DoNotCall:   pr.DoNotCall,
	}, nil
}

func (s *Service) redisKey(keyType redis.KeyType, phone string) string {
	if s.redisSvc != nil {
		return s.redisSvc.GenerateKey(keyType, phone)
	}
	return fmt.Sprintf("%s:%s:", string(keyType), phone)
}
