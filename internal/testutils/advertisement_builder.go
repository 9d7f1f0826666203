//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/bleman/internal/transport"
)

// FakeAdvertisement is a concrete transport.Advertisement for tests
// and the fake transport's simulated radio.
type FakeAdvertisement struct {
	addr        string
	name        string
	rssi        int
	connectable bool
	services    []string
	manufData   []byte
}

var _ transport.Advertisement = (*FakeAdvertisement)(nil)

func (a *FakeAdvertisement) Addr() string             { return a.addr }
func (a *FakeAdvertisement) LocalName() string        { return a.name }
func (a *FakeAdvertisement) RSSI() int                { return a.rssi }
func (a *FakeAdvertisement) Connectable() bool        { return a.connectable }
func (a *FakeAdvertisement) Services() []string       { return a.services }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.manufData }

// AdvertisementBuilder builds advertisements for tests with a fluent
// API. The builder starts connectable with RSSI -50.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a builder with defaults applied.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		adv: FakeAdvertisement{rssi: -50, connectable: true},
	}
}

// WithAddress sets the device address.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.addr = addr
	return b
}

// WithName sets the local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.connectable = c
	return b
}

// WithServices adds advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = append(b.adv.services, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer-specific payload.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.manufData = cloneBytes(data)
	return b
}

// FromJSON fills builder fields from a JSON string with format
// support. Panics on invalid JSON; this configures test fixtures.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Address          *string  `json:"address"`
		Name             *string  `json:"name"`
		RSSI             *int     `json:"rssi"`
		Connectable      *bool    `json:"connectable"`
		Services         []string `json:"services"`
		ManufacturerData []int    `json:"manufacturerData"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Address != nil {
		b.adv.addr = *data.Address
	}
	if data.Name != nil {
		b.adv.name = *data.Name
	}
	if data.RSSI != nil {
		b.adv.rssi = *data.RSSI
	}
	if data.Connectable != nil {
		b.adv.connectable = *data.Connectable
	}
	if data.Services != nil {
		b.adv.services = data.Services
	}
	if data.ManufacturerData != nil {
		b.adv.manufData = intsToBytes(data.ManufacturerData)
	}
	return b
}

// Build returns the finished advertisement.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	return &adv
}
