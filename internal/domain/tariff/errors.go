package tariff

import "github.com/freightbill/backend/internal/domain/shared"

// ErrNoApplicableGrid is returned when no tariff grid is valid for the
// carrier/industrial pair and calculation date. Orders hitting this are
// excluded from the pre-invoice and reported, never silently priced at zero.
var ErrNoApplicableGrid = shared.NewDomainError("NO_APPLICABLE_GRID", "No tariff grid is valid for this carrier/client pair and date")
