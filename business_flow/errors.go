// Package businessflow contains the core business logic and use cases for campaign delivery, anti-abuse, and attribution workflows
package businessflow

import (
	"errors"
	"fmt"
	"time"
)

// Business flow error constants
var (
	// Merchant-related errors
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrMerchantInactive   = errors.New("merchant account is inactive")
	ErrIncorrectPassword  = errors.New("incorrect password")
	ErrSessionExpired     = errors.New("session has expired")
	ErrSessionNotFound    = errors.New("session not found")
	ErrCaptchaRequired    = errors.New("captcha verification required")
	ErrCaptchaFailed      = errors.New("captcha verification failed")
	ErrEmailAlreadyExists = errors.New("email already exists")

	// Store-related errors
	ErrStoreNotFound       = errors.New("store not found")
	ErrStoreInactive       = errors.New("store is inactive")
	ErrStoreAccessDenied   = errors.New("store access denied")
	ErrInvalidStoreKey     = errors.New("invalid storefront key")
	ErrInvalidTimezone     = errors.New("invalid store timezone")
	ErrSettingsNotFound    = errors.New("store settings not found")
	ErrInvalidFrequencyCap = errors.New("frequency cap values must be positive")

	// Campaign-related errors
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrCampaignNotActive        = errors.New("campaign is not active")
	ErrCampaignAccessDenied     = errors.New("campaign access denied")
	ErrInvalidStatusTransition  = errors.New("invalid campaign status transition")
	ErrCampaignNameRequired     = errors.New("campaign name is required")
	ErrCampaignScheduleInvalid  = errors.New("campaign schedule window is invalid")
	ErrInvalidDiscountSpec      = errors.New("discount configuration is invalid")
	ErrInvalidTemplateFamily    = errors.New("unknown template family")
	ErrCampaignNotYetEligible   = errors.New("campaign is not yet within its schedule window")
	ErrCampaignScheduleExpired  = errors.New("campaign schedule window has ended")
	ErrCampaignUpdateNotAllowed = errors.New("campaign update not allowed")

	// Frequency and capacity errors
	ErrCapacityExceeded = errors.New("display frequency limit exceeded")
	ErrCooldownActive   = errors.New("display cooldown active")

	// Challenge token errors
	ErrTokenInvalid         = errors.New("challenge token is invalid")
	ErrTokenExpired         = errors.New("challenge token has expired")
	ErrTokenAlreadyConsumed = errors.New("challenge token already consumed")
	ErrTokenBindingMismatch = errors.New("challenge token does not match this campaign or session")

	// Rate limiting errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Lead and discount errors
	ErrLeadNotFound         = errors.New("lead not found")
	ErrLeadEmailRequired    = errors.New("lead email is required")
	ErrDiscountNotEnabled   = errors.New("discount issuance is not enabled for this campaign")
	ErrNoQualifyingTier     = errors.New("no discount tier qualifies")
	ErrExternalService      = errors.New("platform API request failed")
	ErrDiscountCodeMissing  = errors.New("campaign has no discount code configured")
	ErrDiscountModeInvalid  = errors.New("unknown discount issuance mode")
	ErrCacheNotAvailable    = errors.New("cache not available")
	ErrDuplicateAttribution = errors.New("order already attributed")

	// Webhook errors
	ErrWebhookSignatureInvalid = errors.New("webhook signature verification failed")
	ErrWebhookPayloadInvalid   = errors.New("webhook payload is malformed")

	// Input and filter errors
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidPage           = errors.New("page must be at least 1")
	ErrInvalidPageSize       = errors.New("page size must be between 1 and 100")
	ErrStartDateAfterEndDate = errors.New("start date cannot be after end date")
)

// RateLimitExceededError carries the window reset time alongside the
// rate limit sentinel so handlers can emit a Retry-After header.
type RateLimitExceededError struct {
	ResetAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, window resets at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitExceededError) Unwrap() error {
	return ErrRateLimitExceeded
}

// RetryAfterSeconds returns the whole seconds until the limiter window
// behind err resets, at least 1, or 0 when err carries no reset time.
func RetryAfterSeconds(err error) int {
	var rle *RateLimitExceededError
	if !errors.As(err, &rle) || rle.ResetAt.IsZero() {
		return 0
	}
	secs := int(time.Until(rle.ResetAt).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsMerchantNotFound(err error) bool {
	return errors.Is(err, ErrMerchantNotFound)
}

func IsMerchantInactive(err error) bool {
	return errors.Is(err, ErrMerchantInactive)
}

func IsIncorrectPassword(err error) bool {
	return errors.Is(err, ErrIncorrectPassword)
}

func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

func IsCaptchaRequired(err error) bool {
	return errors.Is(err, ErrCaptchaRequired)
}

func IsCaptchaFailed(err error) bool {
	return errors.Is(err, ErrCaptchaFailed)
}

func IsEmailAlreadyExists(err error) bool {
	return errors.Is(err, ErrEmailAlreadyExists)
}

func IsStoreNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotFound)
}

func IsStoreInactive(err error) bool {
	return errors.Is(err, ErrStoreInactive)
}

func IsStoreAccessDenied(err error) bool {
	return errors.Is(err, ErrStoreAccessDenied)
}

func IsInvalidStoreKey(err error) bool {
	return errors.Is(err, ErrInvalidStoreKey)
}

func IsInvalidTimezone(err error) bool {
	return errors.Is(err, ErrInvalidTimezone)
}

func IsSettingsNotFound(err error) bool {
	return errors.Is(err, ErrSettingsNotFound)
}

func IsInvalidFrequencyCap(err error) bool {
	return errors.Is(err, ErrInvalidFrequencyCap)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignNotActive(err error) bool {
	return errors.Is(err, ErrCampaignNotActive)
}

func IsCampaignAccessDenied(err error) bool {
	return errors.Is(err, ErrCampaignAccessDenied)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsCampaignNameRequired(err error) bool {
	return errors.Is(err, ErrCampaignNameRequired)
}

func IsCampaignScheduleInvalid(err error) bool {
	return errors.Is(err, ErrCampaignScheduleInvalid)
}

func IsCampaignScheduleExpired(err error) bool {
	return errors.Is(err, ErrCampaignScheduleExpired)
}

func IsInvalidDiscountSpec(err error) bool {
	return errors.Is(err, ErrInvalidDiscountSpec)
}

func IsInvalidTemplateFamily(err error) bool {
	return errors.Is(err, ErrInvalidTemplateFamily)
}

func IsCampaignUpdateNotAllowed(err error) bool {
	return errors.Is(err, ErrCampaignUpdateNotAllowed)
}

func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

func IsCooldownActive(err error) bool {
	return errors.Is(err, ErrCooldownActive)
}

func IsTokenInvalid(err error) bool {
	return errors.Is(err, ErrTokenInvalid)
}

func IsTokenExpired(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

func IsTokenAlreadyConsumed(err error) bool {
	return errors.Is(err, ErrTokenAlreadyConsumed)
}

func IsTokenBindingMismatch(err error) bool {
	return errors.Is(err, ErrTokenBindingMismatch)
}

func IsRateLimitExceeded(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

func IsLeadNotFound(err error) bool {
	return errors.Is(err, ErrLeadNotFound)
}

func IsLeadEmailRequired(err error) bool {
	return errors.Is(err, ErrLeadEmailRequired)
}

func IsDiscountNotEnabled(err error) bool {
	return errors.Is(err, ErrDiscountNotEnabled)
}

func IsNoQualifyingTier(err error) bool {
	return errors.Is(err, ErrNoQualifyingTier)
}

func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService)
}

func IsDiscountCodeMissing(err error) bool {
	return errors.Is(err, ErrDiscountCodeMissing)
}

func IsCacheNotAvailable(err error) bool {
	return errors.Is(err, ErrCacheNotAvailable)
}

func IsDuplicateAttribution(err error) bool {
	return errors.Is(err, ErrDuplicateAttribution)
}

func IsWebhookSignatureInvalid(err error) bool {
	return errors.Is(err, ErrWebhookSignatureInvalid)
}

func IsWebhookPayloadInvalid(err error) bool {
	return errors.Is(err, ErrWebhookPayloadInvalid)
}

func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}

func IsStartDateAfterEndDate(err error) bool {
	return errors.Is(err, ErrStartDateAfterEndDate)
}
