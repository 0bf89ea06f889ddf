package services

import (
	"fmt"
	"strings"

	"cart-order-service/apperr"
	"cart-order-service/models"
)

func validateAddress(a models.Address) error {
	missing := []string{}
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.ZipCode) == "" {
		missing = append(missing, "zip_code")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return apperr.Validation("delivery address is incomplete").WithDetail("missing", missing)
	}
	return nil
}

func validateOrderDetails(addr models.Address, method models.PaymentMethod, instructions string) error {
	if err := validateAddress(addr); err != nil {
		return err
	}
	if !method.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown payment method %q", method)).
			WithDetail("allowed", models.AllPaymentMethods)
	}
	if len(instructions) > maxInstructionsLength {
		return apperr.Validation(fmt.Sprintf("special instructions exceed %d characters", maxInstructionsLength))
	}
	return nil
}

func validateAddons(addons []models.Addon) error {
	for _, a := range addons {
		if strings.TrimSpace(a.Name) == "" {
			return apperr.Validation("addon name is required")
		}
		if a.Price.IsNegative() {
			return apperr.Validation(fmt.Sprintf("addon %s has a negative price", a.Name))
		}
	}
	return nil
}
