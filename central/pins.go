package central

import (
	"fmt"
	"io"

	"github.com/cornelk/hashmap"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleman/internal/bleaddr"
)

// PinStore holds pairing PINs in memory, keyed by canonical device
// address. Nothing is persisted: PINs live exactly as long as the
// process. Safe for concurrent use.
type PinStore struct {
	pins *hashmap.Map[string, string]
}

func NewPinStore() *PinStore {
	return &PinStore{pins: hashmap.New[string, string]()}
}

// SetPin registers the PIN for addr. The address must canonicalize and
// the PIN must be exactly six ASCII digits; both are checked here so a
// bad entry fails at registration, not mid-pairing.
func (p *PinStore) SetPin(addr, pin string) error {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return err
	}
	if !validPin(pin) {
		return fmt.Errorf("invalid PIN for %s: must be exactly 6 digits", canon)
	}
	p.pins.Set(canon, pin)
	return nil
}

// Pin returns the PIN registered for addr.
func (p *PinStore) Pin(addr string) (string, bool) {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return "", false
	}
	return p.pins.Get(canon)
}

// RemovePin forgets addr's PIN. Unknown or malformed addresses are a
// no-op.
func (p *PinStore) RemovePin(addr string) {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return
	}
	p.pins.Del(canon)
}

// Len returns the number of registered PINs.
func (p *PinStore) Len() int {
	return p.pins.Len()
}

// Load reads a YAML map of device address to PIN and registers every
// entry. Any malformed address or PIN fails the whole load; entries
// read before the bad one are still registered.
func (p *PinStore) Load(r io.Reader) (int, error) {
	var entries map[string]string
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("failed to parse PIN file: %w", err)
	}

	loaded := 0
	for addr, pin := range entries {
		if err := p.SetPin(addr, pin); err != nil {
			return loaded, fmt.Errorf("invalid PIN entry %q: %w", addr, err)
		}
		loaded++
	}
	return loaded, nil
}

func validPin(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
