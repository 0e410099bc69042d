package promos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/richxcame/escrow-settlement/pkg/cache"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

var (
	// ErrPromoExhausted is returned when the code's global limit is spent
	ErrPromoExhausted = fmt.Errorf("%w: promo code has reached its maximum usage limit", common.ErrValidation)
	// ErrPromoUserLimit is returned when the caller already used the code as often as allowed
	ErrPromoUserLimit = fmt.Errorf("%w: promo code already used the maximum number of times", common.ErrValidation)
)

// PromosRepository is the storage the service needs
type PromosRepository interface {
	FindByCode(ctx context.Context, code string) (*PromoCode, error)
	FindByID(ctx context.Context, id uuid.UUID) (*PromoCode, error)
	CountUserUses(ctx context.Context, promoID, userID uuid.UUID) (int, error)
	RecordUse(ctx context.Context, tx pgx.Tx, use *PromoCodeUse) error
	Create(ctx context.Context, promo *PromoCode) error
	Update(ctx context.Context, promo *PromoCode) error
	Deactivate(ctx context.Context, id uuid.UUID) (string, error)
	List(ctx context.Context, limit, offset int) ([]*PromoCode, int64, error)
	Stats(ctx context.Context, id uuid.UUID) (*UsageStats, error)
}

// Service prices booking discounts and manages codes
type Service struct {
	repo  PromosRepository
	cache *cache.Manager
	now   func() time.Time
}

// NewService creates the promo service
func NewService(repo PromosRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetCache enables Redis caching of code lookups
func (s *Service) SetCache(cm *cache.Manager) {
	s.cache = cm
}

// NormalizeCode uppercases and trims a code as typed by a customer
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate reports whether code applies to a booking of amount for userID and what it takes
// off. A code that does not apply is a result, not an error.
func (s *Service) Validate(ctx context.Context, code string, userID uuid.UUID, amount int64) (*PromoCodeValidation, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	code = NormalizeCode(code)

	promo, err := s.lookup(ctx, code)
	if errors.Is(err, common.ErrNotFound) {
		return rejected(code, amount, "Invalid promo code"), nil
	}
	if err != nil {
		return nil, err
	}

	if reason := eligibility(promo, amount, s.now()); reason != "" {
		return rejected(code, amount, reason), nil
	}

	used, err := s.repo.CountUserUses(ctx, promo.ID, userID)
	if err != nil {
		return nil, err
	}
	if used >= promo.UsesPerUser {
		return rejected(code, amount, "You have already used this promo code the maximum number of times"), nil
	}

	discount := promo.Discount(amount)
	return &PromoCodeValidation{
		Valid:          true,
		Code:           promo.Code,
		DiscountAmount: discount,
		FinalAmount:    amount - discount,
	}, nil
}

// eligibility returns why promo cannot be used on amount at now, or "" when it can
func eligibility(promo *PromoCode, amount int64, now time.Time) string {
	switch {
	case !promo.IsActive:
		return "This promo code is no longer active"
	case now.Before(promo.ValidFrom):
		return "This promo code is not yet valid"
	case now.After(promo.ValidUntil):
		return "This promo code has expired"
	case promo.exhausted():
		return "This promo code has reached its maximum usage limit"
	case promo.MinBookingAmount != nil && amount < *promo.MinBookingAmount:
		return fmt.Sprintf("Minimum booking amount of KES %d required to use this promo code", *promo.MinBookingAmount)
	}
	return ""
}

func rejected(code string, amount int64, reason string) *PromoCodeValidation {
	return &PromoCodeValidation{Code: code, Message: reason, FinalAmount: amount}
}

// Quote prices code against a booking and returns the redemption RecordUse would store.
// A code that does not apply is a validation error.
func (s *Service) Quote(ctx context.Context, code string, userID, bookingID uuid.UUID, amount int64) (*PromoCodeUse, error) {
	result, err := s.Validate(ctx, code, userID, amount)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", common.ErrValidation, result.Message)
	}

	promo, err := s.lookup(ctx, result.Code)
	if err != nil {
		return nil, err
	}
	return &PromoCodeUse{
		PromoCodeID:    promo.ID,
		Code:           promo.Code,
		UserID:         userID,
		BookingID:      bookingID,
		DiscountAmount: result.DiscountAmount,
		OriginalAmount: amount,
		FinalAmount:    result.FinalAmount,
	}, nil
}

// RecordUse stores a quoted redemption in the booking transaction. The limits are checked
// again under the promo row lock.
func (s *Service) RecordUse(ctx context.Context, tx pgx.Tx, use *PromoCodeUse) error {
	if err := s.repo.RecordUse(ctx, tx, use); err != nil {
		return err
	}
	s.evict(ctx, use.Code)
	return nil
}

// Create validates and stores a new code
func (s *Service) Create(ctx context.Context, promo *PromoCode) error {
	promo.Code = NormalizeCode(promo.Code)
	if promo.Code == "" {
		return common.NewValidationError("promo code cannot be empty")
	}
	if err := checkTerms(promo); err != nil {
		return err
	}
	promo.UsesPerUser = max(promo.UsesPerUser, 1)
	return s.repo.Create(ctx, promo)
}

// Update validates and rewrites a code's terms
func (s *Service) Update(ctx context.Context, promo *PromoCode) error {
	if err := checkTerms(promo); err != nil {
		return err
	}
	promo.UsesPerUser = max(promo.UsesPerUser, 1)
	if err := s.repo.Update(ctx, promo); err != nil {
		return err
	}
	s.evict(ctx, promo.Code)
	return nil
}

// Deactivate switches a code off
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	code, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return err
	}
	s.evict(ctx, code)
	return nil
}

// List returns a page of codes
func (s *Service) List(ctx context.Context, limit, offset int) ([]*PromoCode, int64, error) {
	return s.repo.List(ctx, limit, offset)
}

// Get returns one code
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PromoCode, error) {
	return s.repo.FindByID(ctx, id)
}

// Stats returns the redemption totals of a code
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*UsageStats, error) {
	return s.repo.Stats(ctx, id)
}

func checkTerms(promo *PromoCode) error {
	switch {
	case promo.DiscountType != DiscountPercentage && promo.DiscountType != DiscountFixed:
		return common.NewValidationError("discount type must be 'percentage' or 'fixed_amount'")
	case promo.DiscountValue <= 0:
		return common.NewValidationError("discount value must be greater than 0")
	case promo.DiscountType == DiscountPercentage && promo.DiscountValue > 100:
		return common.NewValidationError("percentage discount cannot exceed 100%")
	case promo.ValidFrom.After(promo.ValidUntil):
		return common.NewValidationError("valid_from must be before valid_until")
	}
	return nil
}

// lookup reads a code through the cache. Cached use counts may lag; RecordUse is the
// authoritative check.
func (s *Service) lookup(ctx context.Context, code string) (*PromoCode, error) {
	if s.cache == nil {
		return s.repo.FindByCode(ctx, code)
	}

	var promo PromoCode
	err := s.cache.GetOrSet(ctx, cache.PromoKey(code), cache.PromoTTL, &promo, func() (interface{}, error) {
		return s.repo.FindByCode(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (s *Service) evict(ctx context.Context, code string) {
	if s.cache == nil || code == "" {
		return
	}
	if err := s.cache.Delete(ctx, cache.PromoKey(code)); err != nil {
		logger.WarnContext(ctx, "failed to evict cached promo code", zap.String("code", code), zap.Error(err))
	}
}
