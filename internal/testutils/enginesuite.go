//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleman/central"
)

// EngineSuite is a reusable test suite that runs a session engine over
// a FakeTransport and records every callback.
//
// Basic usage (engine starts automatically with an empty fake):
//
//	type ReadSuite struct {
//	    testutils.EngineSuite
//	}
//
//	func TestReadSuite(t *testing.T) {
//	    suite.Run(t, new(ReadSuite))
//	}
//
// Per-test configuration installs peripherals after the parent setup;
// the fake accepts them at any time:
//
//	func (s *ReadSuite) TestSecureRead() {
//	    s.Transport.InstallPeripheral("AA:BB:CC:DD:EE:FF").
//	        WithSecureValue(0x0015, []byte{0x2A}).
//	        Build()
//	    ...
//	}
//
// Engine tuning goes through s.Config before the parent SetupTest:
//
//	func (s *RetrySuite) SetupTest() {
//	    s.Config.ConnectRetries = 2
//	    s.EngineSuite.SetupTest()
//	}
type EngineSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Config feeds central.New. Adjust it before calling the parent
	// SetupTest; zero fields take engine defaults.
	Config central.Config

	Transport *FakeTransport
	Events    *EventRecorder
	Manager   *central.Manager

	// EventTimeout bounds every WaitEvent / WaitEventOfKind call.
	EventTimeout time.Duration
}

// SetupSuite initializes shared helpers once for all tests.
func (s *EngineSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.EventTimeout = 2 * time.Second
}

// SetupTest builds a fresh fake transport, recorder, and engine for
// each test and starts the engine.
func (s *EngineSuite) SetupTest() {
	s.Transport = NewFakeTransport(s.Logger)
	s.Events = NewEventRecorder()

	s.Manager = central.New(s.Config, s.Logger)
	s.Manager.SetHandlers(s.Events.Handlers())
	s.Require().NoError(s.Manager.Start(s.Transport.Factory()), "engine MUST start over the fake transport")
}

// TearDownTest shuts the engine down and discards the per-test state.
func (s *EngineSuite) TearDownTest() {
	if s.Manager != nil {
		s.Require().NoError(s.Manager.Close())
	}
	s.Manager = nil
	s.Transport = nil
	s.Events = nil
	s.Config = central.Config{}
}

// WaitEvent returns the next recorded callback in delivery order,
// failing the test when none arrives in time.
func (s *EngineSuite) WaitEvent() EngineEvent {
	ev, ok := s.Events.Next(s.EventTimeout)
	s.Require().True(ok, "an engine event MUST be delivered within %v", s.EventTimeout)
	return ev
}

// WaitEventOfKind skips ahead to the next callback of the given kind,
// failing the test when none arrives in time.
func (s *EngineSuite) WaitEventOfKind(kind EventKind) EngineEvent {
	ev, ok := s.Events.WaitFor(kind, s.EventTimeout)
	s.Require().True(ok, "a %q event MUST be delivered within %v", kind, s.EventTimeout)
	return ev
}

// ConnectPeripheral installs a plain peripheral at addr, connects it,
// and waits for the connected callback. Shortcut for tests that need
// an established link before the interesting part.
func (s *EngineSuite) ConnectPeripheral(addr string) *FakePeripheral {
	p := s.Transport.InstallPeripheral(addr).Build()
	s.Require().NoError(s.Manager.ConnectDirect(addr))
	ev := s.WaitEventOfKind(EvConnected)
	s.Require().Equal(p.Addr(), ev.Addr, "the connected callback MUST name the requested device")
	return p
}
