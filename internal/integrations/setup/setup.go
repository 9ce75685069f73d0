// Package setup builds the storefront and supplier adapter registries from
// config.
package setup

import (
	"github.com/BearBump/FulfillBox/config"
	"github.com/BearBump/FulfillBox/internal/integrations/storefront"
	sffake "github.com/BearBump/FulfillBox/internal/integrations/storefront/fake"
	sfrest "github.com/BearBump/FulfillBox/internal/integrations/storefront/restv1"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier"
	"github.com/BearBump/FulfillBox/internal/integrations/supplier/eventfeed"
	spfake "github.com/BearBump/FulfillBox/internal/integrations/supplier/fake"
	sprest "github.com/BearBump/FulfillBox/internal/integrations/supplier/restv1"
	"github.com/pkg/errors"
)

func Storefronts(cfgs []config.StorefrontConfig) (*storefront.Registry, error) {
	reg := storefront.NewRegistry()
	for _, c := range cfgs {
		switch c.Kind {
		case "restv1":
			if c.BaseURL == "" {
				return nil, errors.Errorf("storefront %s: base_url is required", c.Platform)
			}
			reg.Register(c.Platform, sfrest.New(c.BaseURL, c.Token))
		case "fake":
			reg.Register(c.Platform, sffake.New())
		default:
			return nil, errors.Errorf("storefront %s: unknown kind %q", c.Platform, c.Kind)
		}
	}
	return reg, nil
}

func Suppliers(cfgs []config.SupplierConfig) (*supplier.Registry, error) {
	reg := supplier.NewRegistry()
	for _, c := range cfgs {
		switch c.Kind {
		case "restv1":
			if c.BaseURL == "" {
				return nil, errors.Errorf("supplier %s: base_url is required", c.Type)
			}
			reg.Register(c.Type, sprest.New(c.BaseURL, c.APIKey))
		case "eventfeed":
			if c.BaseURL == "" {
				return nil, errors.Errorf("supplier %s: base_url is required", c.Type)
			}
			reg.Register(c.Type, eventfeed.New(c.BaseURL, c.APIKey, c.Domain))
		case "fake":
			reg.Register(c.Type, spfake.New())
		default:
			return nil, errors.Errorf("supplier %s: unknown kind %q", c.Type, c.Kind)
		}
	}
	return reg, nil
}

// SupplierKinds maps each configured supplier type to its adapter kind.
func SupplierKinds(cfgs []config.SupplierConfig) map[string]string {
	out := make(map[string]string, len(cfgs))
	for _, c := range cfgs {
		out[c.Type] = c.Kind
	}
	return out
}

// SupplierRateLimits returns the per-type overrides that are set.
func SupplierRateLimits(cfgs []config.SupplierConfig) map[string]int64 {
	out := map[string]int64{}
	for _, c := range cfgs {
		if c.RateLimitPerMinute > 0 {
			out[c.Type] = int64(c.RateLimitPerMinute)
		}
	}
	return out
}
