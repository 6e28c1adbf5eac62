package application

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tilestock/stock-service/internal/domain"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
)

// toAppError maps domain failures onto API error codes. Anything that is not
// a known domain error is treated as a persistence failure of operation.
func toAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	var qe *domain.QuantityError
	var ise *domain.InsufficientStockError
	switch {
	case errors.As(err, &qe):
		appErr := apperrors.ErrInvalidQuantity(qe.Error()).Wrap(err)
		if qe.Field != "" {
			appErr.WithDetail("field", qe.Field).WithDetail("value", strconv.Itoa(qe.Value))
		}
		return appErr
	case errors.As(err, &ise):
		appErr := apperrors.ErrInsufficientStock(ise.Error()).Wrap(err).
			WithDetail("available", strconv.Itoa(ise.Available)).
			WithDetail("requested", strconv.Itoa(ise.Requested))
		if ise.TileID != "" {
			appErr.WithDetail("tileId", ise.TileID)
		}
		if ise.SKU != "" {
			appErr.WithDetail("sku", ise.SKU)
		}
		return appErr
	case errors.Is(err, domain.ErrInvalidState):
		return apperrors.ErrInvalidState(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrTileNotFound):
		return apperrors.NewAppError(apperrors.CodeTileNotFound, "tile not found", http.StatusNotFound).Wrap(err)
	case errors.Is(err, domain.ErrSaleNotFound):
		return apperrors.NewAppError(apperrors.CodeSaleNotFound, "sale not found", http.StatusNotFound).Wrap(err)
	case errors.Is(err, domain.ErrShopNotFound):
		return apperrors.ErrNotFound("shop").Wrap(err)
	case errors.Is(err, domain.ErrForbidden):
		return apperrors.ErrForbidden("").Wrap(err)
	case errors.Is(err, domain.ErrStalePacketSize):
		return apperrors.ErrConflict(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrDuplicateSKU):
		return apperrors.ErrConflict(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrInvalidInput):
		return apperrors.ErrValidation(err.Error()).Wrap(err)
	}
	return apperrors.ErrPersistence(operation, err)
}

// isDomainError reports whether err is a business rejection rather than an
// infrastructure failure
func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidQuantity,
		domain.ErrInsufficientStock,
		domain.ErrInvalidState,
		domain.ErrTileNotFound,
		domain.ErrSaleNotFound,
		domain.ErrShopNotFound,
		domain.ErrForbidden,
		domain.ErrDuplicateSKU,
		domain.ErrInvalidInput,
		domain.ErrStalePacketSize,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return apperrors.IsAppError(err)
}
