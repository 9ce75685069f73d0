package sweep

import (
	"strings"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/pkg/errors"
)

// Translation maps one supplier's status codes to track states.
type Translation map[string]models.TrackStatus

// Translations holds a Translation per supplier type.
type Translations map[string]Translation

// DefaultTranslations covers the adapters shipped with the service.
func DefaultTranslations() Translations {
	return Translations{
		"fake": {
			"placed":    models.TrackStatusOrdered,
			"shipped":   models.TrackStatusShipped,
			"cancelled": models.TrackStatusCancelled,
		},
		"restv1": {
			"place_order_success":     models.TrackStatusPending,
			"wait_seller_examine":     models.TrackStatusPending,
			"wait_seller_send_goods":  models.TrackStatusOrdered,
			"seller_part_send_goods":  models.TrackStatusPartiallyShipped,
			"wait_buyer_accept_goods": models.TrackStatusShipped,
			"fund_processing":         models.TrackStatusShipped,
			"finish":                  models.TrackStatusShipped,
			"in_cancel":               models.TrackStatusCancelled,
			"in_issue":                models.TrackStatusDisputed,
			"in_frozen":               models.TrackStatusDisputed,
		},
		"eventfeed": {
			"accepted":  models.TrackStatusOrdered,
			"packed":    models.TrackStatusOrdered,
			"shipped":   models.TrackStatusShipped,
			"delivered": models.TrackStatusShipped,
			"cancelled": models.TrackStatusCancelled,
			"returned":  models.TrackStatusDisputed,
		},
	}
}

// Merge overlays raw config tables on top of t. Codes are matched
// case-insensitively; an unknown target state is rejected.
func (t Translations) Merge(raw map[string]map[string]string) error {
	for supplierType, codes := range raw {
		tr, ok := t[supplierType]
		if !ok {
			tr = Translation{}
			t[supplierType] = tr
		}
		for code, state := range codes {
			st := models.TrackStatus(strings.ToUpper(strings.TrimSpace(state)))
			if !st.Valid() {
				return errors.Errorf("translation %s/%s: unknown state %q", supplierType, code, state)
			}
			tr[normalizeCode(code)] = st
		}
	}
	return nil
}

// Alias gives supplierType a copy of the adapter kind's table when it has
// none of its own.
func (t Translations) Alias(supplierType, kind string) {
	if _, ok := t[supplierType]; ok || supplierType == kind {
		return
	}
	base, ok := t[kind]
	if !ok {
		return
	}
	tr := make(Translation, len(base))
	for code, st := range base {
		tr[code] = st
	}
	t[supplierType] = tr
}

// Translate returns the track state for a supplier code, or cur when the
// code is unknown.
func (t Translations) Translate(supplierType, code string, cur models.TrackStatus) models.TrackStatus {
	if st, ok := t[supplierType][normalizeCode(code)]; ok {
		return st
	}
	return cur
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// mergeStatuses folds the per-id states of a joined supplier order token into
// one track state.
func mergeStatuses(cur models.TrackStatus, states []models.TrackStatus) models.TrackStatus {
	if len(states) == 0 {
		return cur
	}
	if len(states) == 1 {
		return states[0]
	}
	var shipped, partial, cancelled int
	for _, s := range states {
		switch s {
		case models.TrackStatusDisputed:
			return models.TrackStatusDisputed
		case models.TrackStatusShipped:
			shipped++
		case models.TrackStatusPartiallyShipped:
			partial++
		case models.TrackStatusCancelled:
			cancelled++
		}
	}
	live := len(states) - cancelled
	switch {
	case live == 0:
		return models.TrackStatusCancelled
	case shipped == live:
		return models.TrackStatusShipped
	case shipped > 0 || partial > 0:
		return models.TrackStatusPartiallyShipped
	}

	// least advanced of the remaining ids
	out := models.TrackStatus("")
	for _, s := range states {
		if s == models.TrackStatusCancelled {
			continue
		}
		if out == "" || s.CanTransition(out) {
			out = s
		}
	}
	return out
}
