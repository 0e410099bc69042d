package promos

import (
	"time"

	"github.com/google/uuid"
)

// Discount types
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed_amount"
)

// PromoCode is a booking discount. Amounts are whole shillings; percentage values are 1..100.
type PromoCode struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Code              string     `json:"code" db:"code" binding:"required,max=50"`
	Description       string     `json:"description" db:"description"`
	DiscountType      string     `json:"discount_type" db:"discount_type" binding:"required,oneof=percentage fixed_amount"`
	DiscountValue     int64      `json:"discount_value" db:"discount_value" binding:"required,gt=0"`
	MaxDiscountAmount *int64     `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	MinBookingAmount  *int64     `json:"min_booking_amount,omitempty" db:"min_booking_amount"`
	MaxUses           *int       `json:"max_uses,omitempty" db:"max_uses"`
	TotalUses         int        `json:"total_uses" db:"total_uses"`
	UsesPerUser       int        `json:"uses_per_user" db:"uses_per_user"`
	ValidFrom         time.Time  `json:"valid_from" db:"valid_from" binding:"required"`
	ValidUntil        time.Time  `json:"valid_until" db:"valid_until" binding:"required"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	CreatedBy         *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Discount is what the code takes off amount. It never exceeds amount.
func (p *PromoCode) Discount(amount int64) int64 {
	discount := p.DiscountValue
	if p.DiscountType == DiscountPercentage {
		discount = amount * p.DiscountValue / 100
		if p.MaxDiscountAmount != nil {
			discount = min(discount, *p.MaxDiscountAmount)
		}
	}
	return min(discount, amount)
}

// exhausted reports whether the global use limit is spent
func (p *PromoCode) exhausted() bool {
	return p.MaxUses != nil && p.TotalUses >= *p.MaxUses
}

// PromoCodeUse is one redemption of a code on a booking
type PromoCodeUse struct {
	ID             uuid.UUID `json:"id"`
	PromoCodeID    uuid.UUID `json:"promo_code_id"`
	Code           string    `json:"code"`
	UserID         uuid.UUID `json:"user_id"`
	BookingID      uuid.UUID `json:"booking_id"`
	DiscountAmount int64     `json:"discount_amount"`
	OriginalAmount int64     `json:"original_amount"`
	FinalAmount    int64     `json:"final_amount"`
	UsedAt         time.Time `json:"used_at"`
}

// PromoCodeValidation is the customer facing answer to "does this code apply"
type PromoCodeValidation struct {
	Valid          bool   `json:"valid"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	DiscountAmount int64  `json:"discount_amount"`
	FinalAmount    int64  `json:"final_amount"`
}

// UsageStats summarises the redemptions of one code
type UsageStats struct {
	UniqueUsers         int   `json:"unique_users" db:"unique_users"`
	TotalUses           int   `json:"total_uses" db:"total_uses"`
	TotalDiscount       int64 `json:"total_discount" db:"total_discount"`
	TotalOriginalAmount int64 `json:"total_original_amount" db:"total_original_amount"`
	TotalFinalAmount    int64 `json:"total_final_amount" db:"total_final_amount"`
}
