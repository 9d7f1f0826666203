package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/bleman/internal/transport"
)

// bleAdvertisement wraps ble.Advertisement as a transport.Advertisement.
type bleAdvertisement struct {
	adv ble.Advertisement
}

func newAdvertisement(adv ble.Advertisement) transport.Advertisement {
	return &bleAdvertisement{adv: adv}
}

func (a *bleAdvertisement) Addr() string             { return a.adv.Addr().String() }
func (a *bleAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *bleAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *bleAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *bleAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a *bleAdvertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = svc.String()
	}
	return result
}

// gapName is a synthetic discovery result carrying the name read from
// the GAP Device Name characteristic after a connect. The engine folds
// it into the device's sticky name like any other advertisement.
type gapName struct {
	addr string
	name string
}

func (g gapName) Addr() string             { return g.addr }
func (g gapName) LocalName() string        { return g.name }
func (g gapName) RSSI() int                { return 0 }
func (g gapName) Connectable() bool        { return true }
func (g gapName) Services() []string       { return nil }
func (g gapName) ManufacturerData() []byte { return nil }
