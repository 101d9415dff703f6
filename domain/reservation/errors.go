package reservation

import "errors"

var (
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidId           = errors.New("invalid id")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrQuantityMismatch    = errors.New("quantity does not match reservation")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidId, "invalid_id"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrProductNotFound, "product_not_found"},
	{ErrReservationNotFound, "reservation_not_found"},
	{ErrQuantityMismatch, "quantity_mismatch"},
}

// Code returns the wire code for a domain error, or "" when err is not one.
func Code(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// FromCode is the inverse of Code. Unknown codes return nil.
func FromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
