//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/srg/bleman/internal/transport"
)

// FakeAttr is one hosted attribute on a FakePeripheral.
type FakeAttr struct {
	value    []byte
	secure   bool
	readErr  error
	writeErr error
	writes   [][]byte
}

// FakePeripheral is the simulated remote device a FakeTransport talks
// to. Build one with FakePeripheralBuilder; after Install the owning
// FakeTransport serializes all access.
type FakePeripheral struct {
	addr string
	name string
	rssi int

	cached        bool
	mtuCap        int
	txPHY         transport.PHY
	rxPHY         transport.PHY
	pin           string
	denySecurity  bool
	connectErr    error
	disconnectErr error
	failConnects  int
	failReason    error
	manualConnect bool
	phyErr        error

	attrs map[uint16]*FakeAttr

	// Runtime link state, owned by the FakeTransport.
	connected     bool
	secured       bool
	subscriptions map[uint16]bool
	mtu           int
}

// Addr returns the canonical address the peripheral answers at.
func (p *FakePeripheral) Addr() string { return p.addr }

// Name returns the advertised local name.
func (p *FakePeripheral) Name() string { return p.name }

// FakePeripheralBuilder configures a FakePeripheral with a fluent API.
// Zero-value defaults: RSSI -60, both PHYs 1M, no attributes, connects
// succeed on the first attempt.
type FakePeripheralBuilder struct {
	p  *FakePeripheral
	ft *FakeTransport
}

// NewFakePeripheralBuilder starts a standalone builder. Prefer
// FakeTransport.InstallPeripheral, which registers the result on
// Build.
func NewFakePeripheralBuilder(addr string) *FakePeripheralBuilder {
	return newFakePeripheralBuilder(addr, nil)
}

func newFakePeripheralBuilder(addr string, ft *FakeTransport) *FakePeripheralBuilder {
	return &FakePeripheralBuilder{
		p: &FakePeripheral{
			addr:          addr,
			rssi:          -60,
			txPHY:         transport.PHY1M,
			rxPHY:         transport.PHY1M,
			attrs:         make(map[uint16]*FakeAttr),
			subscriptions: make(map[uint16]bool),
		},
		ft: ft,
	}
}

// WithName sets the advertised local name.
func (b *FakePeripheralBuilder) WithName(name string) *FakePeripheralBuilder {
	b.p.name = name
	return b
}

// WithRSSI sets the advertised signal strength.
func (b *FakePeripheralBuilder) WithRSSI(rssi int) *FakePeripheralBuilder {
	b.p.rssi = rssi
	return b
}

// WithValue hosts an open attribute at handle.
func (b *FakePeripheralBuilder) WithValue(handle uint16, value []byte) *FakePeripheralBuilder {
	b.p.attrs[handle] = &FakeAttr{value: cloneBytes(value)}
	return b
}

// WithSecureValue hosts an attribute that rejects access until the
// link security is upgraded.
func (b *FakePeripheralBuilder) WithSecureValue(handle uint16, value []byte) *FakePeripheralBuilder {
	b.p.attrs[handle] = &FakeAttr{value: cloneBytes(value), secure: true}
	return b
}

// WithReadError makes reads of handle fail with err.
func (b *FakePeripheralBuilder) WithReadError(handle uint16, err error) *FakePeripheralBuilder {
	b.attr(handle).readErr = err
	return b
}

// WithWriteError makes writes to handle fail with err.
func (b *FakePeripheralBuilder) WithWriteError(handle uint16, err error) *FakePeripheralBuilder {
	b.attr(handle).writeErr = err
	return b
}

// Cached marks the peripheral as known to the platform, so the engine
// connects directly instead of waiting for discovery.
func (b *FakePeripheralBuilder) Cached() *FakePeripheralBuilder {
	b.p.cached = true
	return b
}

// WithMTUCap caps the MTU the peripheral grants.
func (b *FakePeripheralBuilder) WithMTUCap(mtu int) *FakePeripheralBuilder {
	b.p.mtuCap = mtu
	return b
}

// WithPIN makes pairing require this passkey. The upgrade silently
// fails when the engine cannot supply it.
func (b *FakePeripheralBuilder) WithPIN(pin string) *FakePeripheralBuilder {
	b.p.pin = pin
	return b
}

// DenySecurity makes every security upgrade attempt fail silently, so
// secure attributes stay unreachable.
func (b *FakePeripheralBuilder) DenySecurity() *FakePeripheralBuilder {
	b.p.denySecurity = true
	return b
}

// WithConnectError makes Connect fail synchronously with err.
func (b *FakePeripheralBuilder) WithConnectError(err error) *FakePeripheralBuilder {
	b.p.connectErr = err
	return b
}

// WithDisconnectError makes Disconnect fail synchronously with err.
func (b *FakePeripheralBuilder) WithDisconnectError(err error) *FakePeripheralBuilder {
	b.p.disconnectErr = err
	return b
}

// WithConnectFailures refuses the first n connect attempts with
// reason before letting one succeed.
func (b *FakePeripheralBuilder) WithConnectFailures(n int, reason error) *FakePeripheralBuilder {
	b.p.failConnects = n
	b.p.failReason = reason
	return b
}

// ManualConnect suspends connect attempts until the test finishes them
// with CompleteConnect or RefuseConnect.
func (b *FakePeripheralBuilder) ManualConnect() *FakePeripheralBuilder {
	b.p.manualConnect = true
	return b
}

// WithPHYError makes SetPHY complete with err.
func (b *FakePeripheralBuilder) WithPHYError(err error) *FakePeripheralBuilder {
	b.p.phyErr = err
	return b
}

// FromJSON fills attributes from a JSON description with format
// support. Panics on invalid JSON; this configures test fixtures.
//
//	{"name": "Thermo", "attributes": [
//	    {"handle": 18, "value": [1, 2], "secure": false}
//	]}
func (b *FakePeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *FakePeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name       *string `json:"name"`
		RSSI       *int    `json:"rssi"`
		Cached     *bool   `json:"cached"`
		Attributes []struct {
			Handle uint16 `json:"handle"`
			Value  []int  `json:"value"`
			Secure bool   `json:"secure"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.p.name = *data.Name
	}
	if data.RSSI != nil {
		b.p.rssi = *data.RSSI
	}
	if data.Cached != nil {
		b.p.cached = *data.Cached
	}
	for _, a := range data.Attributes {
		b.p.attrs[a.Handle] = &FakeAttr{value: intsToBytes(a.Value), secure: a.Secure}
	}
	return b
}

// intsToBytes converts JSON byte arrays ([1, 2, 255]) to payloads.
func intsToBytes(ints []int) []byte {
	if ints == nil {
		return nil
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	return out
}

// bytesToInts renders payloads as JSON byte arrays.
func bytesToInts(b []byte) []int {
	if b == nil {
		return nil
	}
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// Build finalizes the peripheral and, when the builder came from a
// FakeTransport, installs it there.
func (b *FakePeripheralBuilder) Build() *FakePeripheral {
	if b.ft != nil {
		b.ft.Install(b.p)
	}
	return b.p
}

func (b *FakePeripheralBuilder) attr(handle uint16) *FakeAttr {
	a := b.p.attrs[handle]
	if a == nil {
		a = &FakeAttr{}
		b.p.attrs[handle] = a
	}
	return a
}

// PeripheralToJSON serializes a peripheral's configuration for JSON
// assertions. Attributes render in ascending handle order; values as
// byte arrays.
func PeripheralToJSON(p *FakePeripheral) string {
	type attrJSON struct {
		Handle uint16 `json:"handle"`
		Value  []int  `json:"value"`
		Secure bool   `json:"secure"`
	}
	doc := struct {
		Address    string     `json:"address"`
		Name       string     `json:"name"`
		RSSI       int        `json:"rssi"`
		Cached     bool       `json:"cached"`
		Attributes []attrJSON `json:"attributes"`
	}{
		Address: p.addr,
		Name:    p.name,
		RSSI:    p.rssi,
		Cached:  p.cached,
	}

	handles := make([]uint16, 0, len(p.attrs))
	for handle := range p.attrs {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, handle := range handles {
		a := p.attrs[handle]
		doc.Attributes = append(doc.Attributes, attrJSON{Handle: handle, Value: bytesToInts(a.value), Secure: a.secure})
	}
	return MustJSON(doc)
}
