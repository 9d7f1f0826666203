package goble

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ble/ble"

	"github.com/srg/bleman/internal/groutine"
	"github.com/srg/bleman/internal/transfer"
	"github.com/srg/bleman/internal/transport"
)

// ReadAttribute reads the characteristic at handle. The engine sends at
// most one operation per device at a time, so a goroutine per call
// cannot reorder completions.
func (t *bleTransport) ReadAttribute(addr string, handle uint16) error {
	l, err := t.connected(addr)
	if err != nil {
		return err
	}
	groutine.Go(l.ctx, "goble-read", func(context.Context) {
		res := transport.OpResult{Kind: transport.OpRead, Handle: handle}
		if client, char, err := l.snapshot(handle); err != nil {
			res.Err = err
		} else if data, rerr := client.ReadCharacteristic(char); rerr != nil {
			res.Err = NormalizeError(rerr)
		} else {
			res.Value = data
		}
		t.sink.OperationComplete(addr, res)
	})
	return nil
}

// WriteAttribute writes value to the characteristic at handle, chunked
// to the negotiated MTU payload and paced so slow peripherals keep up.
func (t *bleTransport) WriteAttribute(addr string, handle uint16, value []byte, withResponse bool) error {
	l, err := t.connected(addr)
	if err != nil {
		return err
	}
	groutine.Go(l.ctx, "goble-write", func(ctx context.Context) {
		res := transport.OpResult{Kind: transport.OpWrite, Handle: handle}
		res.Err = l.write(ctx, handle, value, withResponse)
		t.sink.OperationComplete(addr, res)
	})
	return nil
}

func (l *link) write(ctx context.Context, handle uint16, value []byte, withResponse bool) error {
	client, char, err := l.snapshot(handle)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	chunkSize := int(l.mtu.Load()) - 3
	if chunkSize < 1 {
		chunkSize = DefaultBLEWriteChunkSize
	}
	for i, chunk := range transfer.Chunks(value, chunkSize) {
		if i > 0 {
			select {
			case <-time.After(DefaultBLEWriteDelay):
			case <-ctx.Done():
				return fmt.Errorf("%w: write aborted", transport.ErrNotConnected)
			}
		}
		if err := client.WriteCharacteristic(char, chunk, !withResponse); err != nil {
			return fmt.Errorf("failed to write handle 0x%04X: %w", handle, NormalizeError(err))
		}
	}
	return nil
}

// SetNotify subscribes or unsubscribes the characteristic at handle.
// Notifications are preferred; indications are used when the
// characteristic supports nothing else.
func (t *bleTransport) SetNotify(addr string, handle uint16, enable bool) error {
	l, err := t.connected(addr)
	if err != nil {
		return err
	}
	groutine.Go(l.ctx, "goble-notify", func(context.Context) {
		res := transport.OpResult{Kind: transport.OpSetNotify, Handle: handle}
		res.Err = t.setNotify(l, handle, enable)
		t.sink.OperationComplete(addr, res)
	})
	return nil
}

func (t *bleTransport) setNotify(l *link, handle uint16, enable bool) error {
	client, char, err := l.snapshot(handle)
	if err != nil {
		return err
	}

	if !enable {
		return l.unsubscribe(client, char, handle)
	}

	if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("characteristic 0x%04X supports neither notify nor indicate", handle)
	}
	ind := char.Property&ble.CharNotify == 0

	addr := l.addr
	if err := client.Subscribe(char, ind, func(data []byte) {
		t.sink.Notification(addr, handle, data)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to handle 0x%04X: %w", handle, NormalizeError(err))
	}

	l.mu.Lock()
	if l.subs != nil {
		l.subs[handle] = ind
	}
	l.mu.Unlock()
	return nil
}

// unsubscribe drops the subscription using the mode it was made with,
// trying both modes when none was recorded.
func (l *link) unsubscribe(client ble.Client, char *ble.Characteristic, handle uint16) error {
	l.mu.Lock()
	ind, known := false, false
	if l.subs != nil {
		ind, known = l.subs[handle]
		delete(l.subs, handle)
	}
	l.mu.Unlock()

	if known {
		if err := client.Unsubscribe(char, ind); err != nil {
			return fmt.Errorf("failed to unsubscribe from handle 0x%04X: %w", handle, NormalizeError(err))
		}
		return nil
	}

	err1 := NormalizeError(client.Unsubscribe(char, false)) // notify
	err2 := NormalizeError(client.Unsubscribe(char, true))  // indicate
	if err1 != nil && err2 != nil {
		return fmt.Errorf("failed to unsubscribe from handle 0x%04X: notify=%v, indicate=%v", handle, err1, err2)
	}
	return nil
}

// ReadRSSI samples the link signal strength.
func (t *bleTransport) ReadRSSI(addr string) error {
	l, err := t.connected(addr)
	if err != nil {
		return err
	}
	groutine.Go(l.ctx, "goble-rssi", func(context.Context) {
		res := transport.OpResult{Kind: transport.OpReadRSSI}
		l.mu.Lock()
		client := l.client
		l.mu.Unlock()
		if client == nil {
			res.Err = fmt.Errorf("%w: %s", transport.ErrNotConnected, addr)
		} else {
			res.RSSI = client.ReadRSSI()
		}
		t.sink.OperationComplete(addr, res)
	})
	return nil
}

// RequestMTU negotiates the ATT MTU. The granted value also resizes the
// write chunking for this link.
func (t *bleTransport) RequestMTU(addr string, mtu int) error {
	l, err := t.connected(addr)
	if err != nil {
		return err
	}
	groutine.Go(l.ctx, "goble-mtu", func(context.Context) {
		res := transport.OpResult{Kind: transport.OpRequestMTU}
		l.mu.Lock()
		client := l.client
		l.mu.Unlock()
		if client == nil {
			res.Err = fmt.Errorf("%w: %s", transport.ErrNotConnected, addr)
		} else if granted, merr := client.ExchangeMTU(mtu); merr != nil {
			res.Err = fmt.Errorf("failed to exchange MTU: %w", NormalizeError(merr))
		} else {
			if granted > mtu {
				granted = mtu
			}
			res.MTU = granted
			l.mtu.Store(int32(granted))
		}
		t.sink.OperationComplete(addr, res)
	})
	return nil
}

// go-ble exposes no PHY, connection-priority, pairing, or server-role
// API, so those capabilities fail submission outright.

func (t *bleTransport) SetPHY(string, transport.PHY, transport.PHY, transport.PHYOptions) error {
	return fmt.Errorf("%w: set PHY", transport.ErrUnsupported)
}

func (t *bleTransport) ReadPHY(string) error {
	return fmt.Errorf("%w: read PHY", transport.ErrUnsupported)
}

func (t *bleTransport) RequestConnectionPriority(string, transport.ConnectionPriority) error {
	return fmt.Errorf("%w: connection priority", transport.ErrUnsupported)
}

func (t *bleTransport) RequestSecurityUpgrade(string) error {
	return fmt.Errorf("%w: security upgrade", transport.ErrUnsupported)
}

func (t *bleTransport) Respond(string, uint32, transport.Status, []byte) error {
	return fmt.Errorf("%w: server role", transport.ErrUnsupported)
}
