// Package notify decides whether the end customer hears about a shipment.
package notify

import (
	"regexp"
	"strings"

	"github.com/BearBump/FulfillBox/internal/models"
)

// ExemptCarrier skips tracking-number validation.
const ExemptCarrier = "USPS"

var carrierPatterns = map[string][]*regexp.Regexp{
	"UPS": {
		regexp.MustCompile(`^1Z[0-9A-Z]{16}$`),
		regexp.MustCompile(`^T\d{10}$`),
		regexp.MustCompile(`^\d{9}$`),
		regexp.MustCompile(`^\d{26}$`),
	},
	"FEDEX": {
		regexp.MustCompile(`^\d{12}$`),
		regexp.MustCompile(`^\d{15}$`),
		regexp.MustCompile(`^\d{20}$`),
		regexp.MustCompile(`^96\d{20}$`),
	},
	"USPS": {
		regexp.MustCompile(`^9[1-5]\d{20,24}$`),
		regexp.MustCompile(`^[A-Z]{2}\d{9}US$`),
		regexp.MustCompile(`^\d{20}$`),
	},
	"DHL": {
		regexp.MustCompile(`^\d{10,11}$`),
		regexp.MustCompile(`^JJD\d{18,20}$`),
		regexp.MustCompile(`^(GM|LX|RX)[0-9A-Z]{10,18}$`),
	},
}

// upuS10 is the international postal format, e.g. LX123456789CN.
var upuS10 = regexp.MustCompile(`^[A-Z]{2}\d{9}[A-Z]{2}$`)

func normalizeCarrier(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	c = strings.ReplaceAll(c, " ", "")
	switch {
	case strings.HasPrefix(c, "FEDEX"):
		return "FEDEX"
	case strings.HasPrefix(c, "DHL"):
		return "DHL"
	}
	return c
}

// ValidTrackingNumber checks the number against the carrier's formats. For a
// carrier without a table any known format is accepted.
func ValidTrackingNumber(number, carrier string) bool {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(number), " ", ""))
	if n == "" {
		return false
	}
	if upuS10.MatchString(n) {
		return true
	}
	if pats, ok := carrierPatterns[normalizeCarrier(carrier)]; ok {
		return matchAny(pats, n)
	}
	for _, pats := range carrierPatterns {
		if matchAny(pats, n) {
			return true
		}
	}
	return false
}

func matchAny(pats []*regexp.Regexp, s string) bool {
	for _, p := range pats {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ShouldNotify is a pure function of its arguments:
//  1. "no": never
//  2. "yes": always, unless validation is on, the number is invalid for the
//     carrier and the carrier is not exempt
//  3. "default" (or unset): only for the last outstanding shipment of the line
func ShouldNotify(trackingNumber string, cfg models.NotificationConfig, carrier string, lastShipment bool) bool {
	switch cfg.SendShippingConfirmation {
	case models.NotifyNo:
		return false
	case models.NotifyYes:
		if !cfg.ValidateTrackingNumber {
			return true
		}
		if normalizeCarrier(carrier) == ExemptCarrier {
			return true
		}
		return ValidTrackingNumber(trackingNumber, carrier)
	default:
		return lastShipment
	}
}
