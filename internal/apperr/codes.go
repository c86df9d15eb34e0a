package apperr

import "fmt"

const (
	CodeValidation             = "validation_failed"
	CodeEmptyCart              = "empty_cart"
	CodeOutOfStock             = "out_of_stock"
	CodeInsufficientStock      = "insufficient_stock"
	CodeCouponInvalid          = "coupon_invalid"
	CodeCouponMinimumNotMet    = "coupon_minimum_not_met"
	CodeCouponLimitExceeded    = "coupon_limit_exceeded"
	CodeCODLimitExceeded       = "cod_limit_exceeded"
	CodeInsufficientBalance    = "insufficient_balance"
	CodeGateway                = "gateway_error"
	CodePaymentIncomplete      = "payment_incomplete"
	CodeInvalidTransition      = "invalid_transition"
	CodeAlreadyPaid            = "already_paid"
	CodeReturnNotAllowed       = "return_not_allowed"
	CodeReturnAlreadyRequested = "return_already_requested"
	CodePaymentNotConfirmable  = "payment_not_confirmable"
	CodeReferenceMismatch      = "gateway_reference_mismatch"
	CodeCouponExists           = "coupon_exists"
	CodeNotFound               = "not_found"
	CodeUnauthorized           = "unauthorized"
	CodeForbidden              = "forbidden"
	CodeRateLimited            = "rate_limited"
	CodeInternal               = "internal"
)

// Sentinels for errors.Is comparisons.
var (
	ErrEmptyCart           = Validation(CodeEmptyCart, "cart is empty")
	ErrInsufficientStock   = Conflict(CodeInsufficientStock, "insufficient stock")
	ErrCouponInvalid       = Validation(CodeCouponInvalid, "coupon is invalid")
	ErrCouponLimitExceeded = Validation(CodeCouponLimitExceeded, "coupon usage limit reached")
	ErrInsufficientBalance = Payment(CodeInsufficientBalance, "insufficient wallet balance", nil)
	ErrInvalidTransition   = Conflict(CodeInvalidTransition, "invalid status transition")
	ErrAlreadyPaid         = Conflict(CodeAlreadyPaid, "order is already paid")
)

func OutOfStock(productID fmt.Stringer, name string) *Error {
	return Validation(CodeOutOfStock, fmt.Sprintf("product %s (%s) is out of stock", name, productID))
}

func InsufficientStock(productID fmt.Stringer) *Error {
	return Conflict(CodeInsufficientStock, fmt.Sprintf("insufficient stock for product %s", productID))
}

func InvalidTransition(from, to string) *Error {
	return Conflict(CodeInvalidTransition, fmt.Sprintf("cannot move order from %s to %s", from, to))
}
