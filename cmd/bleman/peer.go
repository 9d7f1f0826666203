package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleman/central"
	"github.com/srg/bleman/internal/transport"
	"github.com/srg/bleman/internal/transport/goble"
)

// transportFactory builds the transport commands run against (can be
// overridden in tests)
var transportFactory = func() transport.Factory {
	return goble.New(goble.Config{})
}

type readOutcome struct {
	value []byte
	err   error
}

type notifyStateOutcome struct {
	enabled bool
	err     error
}

type rssiOutcome struct {
	rssi int
	err  error
}

type mtuOutcome struct {
	mtu int
	err error
}

type phyOutcome struct {
	tx, rx transport.PHY
	err    error
}

// peer is a synchronous facade over the session engine for one device:
// each method submits an operation and blocks until its completion
// callback arrives. Commands run one operation at a time, so every
// completion channel is buffered for exactly one outcome.
type peer struct {
	addr   string
	mgr    *central.Manager
	logger *logrus.Logger

	connectC     chan error
	disconnectC  chan error
	readC        chan readOutcome
	writeC       chan error
	notifyStateC chan notifyStateOutcome
	rssiC        chan rssiOutcome
	mtuC         chan mtuOutcome
	phyC         chan phyOutcome
}

// dialPeer starts a session engine, loads the PIN file when one is
// configured, and connects to addr. notify, when non-nil, receives
// notification payloads straight off the engine dispatcher. The caller
// owns the returned peer and must close() it.
func dialPeer(ctx context.Context, cmd *cobra.Command, logger *logrus.Logger, addr string,
	progress func(string), notify func(handle uint16, value []byte)) (*peer, error) {

	p := &peer{
		addr:         addr,
		logger:       logger,
		connectC:     make(chan error, 1),
		disconnectC:  make(chan error, 1),
		readC:        make(chan readOutcome, 1),
		writeC:       make(chan error, 1),
		notifyStateC: make(chan notifyStateOutcome, 1),
		rssiC:        make(chan rssiOutcome, 1),
		mtuC:         make(chan mtuOutcome, 1),
		phyC:         make(chan phyOutcome, 1),
	}

	mgr := central.New(central.Config{}, logger)
	mgr.SetHandlers(central.Handlers{
		OnConnecting: func(string) {
			if progress != nil {
				progress("Connecting")
			}
		},
		OnConnected:        func(string) { p.connectC <- nil },
		OnConnectionFailed: func(_ string, err error) { p.connectC <- err },
		OnDisconnected: func(_ string, reason error) {
			select {
			case p.disconnectC <- reason:
			default:
			}
		},
		OnRead: func(_ string, _ uint16, value []byte, err error) {
			p.readC <- readOutcome{value: value, err: err}
		},
		OnWrite: func(_ string, _ uint16, err error) { p.writeC <- err },
		OnNotifyState: func(_ string, _ uint16, enabled bool, err error) {
			p.notifyStateC <- notifyStateOutcome{enabled: enabled, err: err}
		},
		OnRSSI: func(_ string, rssi int, err error) { p.rssiC <- rssiOutcome{rssi: rssi, err: err} },
		OnMTU:  func(_ string, mtu int, err error) { p.mtuC <- mtuOutcome{mtu: mtu, err: err} },
		OnPHY: func(_ string, tx, rx transport.PHY, err error) {
			p.phyC <- phyOutcome{tx: tx, rx: rx, err: err}
		},
		OnNotification: func(_ string, handle uint16, value []byte) {
			if notify != nil {
				notify(handle, value)
			}
		},
	})

	if err := loadPins(cmd, mgr); err != nil {
		return nil, err
	}
	if err := mgr.Start(transportFactory()); err != nil {
		return nil, err
	}
	p.mgr = mgr

	if err := mgr.ConnectDirect(addr); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	select {
	case err := <-p.connectC:
		if err != nil {
			_ = mgr.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
	case <-ctx.Done():
		_ = mgr.Close()
		return nil, ctx.Err()
	}
	return p, nil
}

// loadPins feeds the persistent --pins file into the engine's PIN
// registry. A missing flag is a no-op.
func loadPins(cmd *cobra.Command, mgr *central.Manager) error {
	path, _ := cmd.Flags().GetString("pins")
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PIN file: %w", err)
	}
	defer f.Close()

	if _, err := mgr.Pins().Load(f); err != nil {
		return fmt.Errorf("failed to load PIN file %s: %w", path, err)
	}
	return nil
}

func (p *peer) close() {
	_ = p.mgr.Close()
}

func (p *peer) read(ctx context.Context, handle uint16) ([]byte, error) {
	if err := p.mgr.Read(p.addr, handle); err != nil {
		return nil, err
	}
	select {
	case out := <-p.readC:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *peer) write(ctx context.Context, handle uint16, value []byte, withResponse bool) error {
	if err := p.mgr.Write(p.addr, handle, value, withResponse); err != nil {
		return err
	}
	select {
	case err := <-p.writeC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) setNotify(ctx context.Context, handle uint16, enable bool) error {
	if err := p.mgr.SetNotify(p.addr, handle, enable); err != nil {
		return err
	}
	select {
	case out := <-p.notifyStateC:
		return out.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) readRSSI(ctx context.Context) (int, error) {
	if err := p.mgr.ReadRSSI(p.addr); err != nil {
		return 0, err
	}
	select {
	case out := <-p.rssiC:
		return out.rssi, out.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *peer) requestMTU(ctx context.Context, mtu int) (int, error) {
	if err := p.mgr.RequestMTU(p.addr, mtu); err != nil {
		return 0, err
	}
	select {
	case out := <-p.mtuC:
		return out.mtu, out.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *peer) readPHY(ctx context.Context) (transport.PHY, transport.PHY, error) {
	if err := p.mgr.ReadPHY(p.addr); err != nil {
		return 0, 0, err
	}
	select {
	case out := <-p.phyC:
		return out.tx, out.rx, out.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// waitDisconnect blocks until the link drops or the context ends,
// reporting a link drop as ErrConnectionLost.
func (p *peer) waitDisconnect(ctx context.Context) error {
	select {
	case <-p.disconnectC:
		return ErrConnectionLost
	case <-ctx.Done():
		return nil
	}
}
