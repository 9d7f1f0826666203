//go:build test

package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// MonitorTestSuite provides testify/suite for proper test isolation
type MonitorTestSuite struct {
	CommandTestSuite
	originalFlags struct {
		monitorRaw      bool
		monitorInterval time.Duration
		monitorBuffer   uint32
	}
}

// SetupSuite runs once before all tests in the suite
func (suite *MonitorTestSuite) SetupSuite() {
	suite.CommandTestSuite.SetupSuite()

	// Save original flag values
	suite.originalFlags.monitorRaw = monitorRaw
	suite.originalFlags.monitorInterval = monitorInterval
	suite.originalFlags.monitorBuffer = monitorBuffer
}

// TearDownSuite runs once after all tests in the suite
func (suite *MonitorTestSuite) TearDownSuite() {
	// Restore original flag values
	monitorRaw = suite.originalFlags.monitorRaw
	monitorInterval = suite.originalFlags.monitorInterval
	monitorBuffer = suite.originalFlags.monitorBuffer

	suite.CommandTestSuite.TearDownSuite()
}

// SetupTest runs before each test in the suite
func (suite *MonitorTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()

	// Reset flags before each test for proper isolation
	monitorRaw = false
	monitorInterval = 250 * time.Millisecond
	monitorBuffer = 4096
}

// driveNotifications waits for the subscription, pushes each payload as
// a notification on handle, then drops the link so the command returns.
// The returned channel closes when the driver is done.
func (suite *MonitorTestSuite) driveNotifications(addr string, handle uint16, payloads ...[]byte) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		deadline := time.Now().Add(2 * time.Second)
		for !suite.Transport.Subscribed(addr, handle) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		suite.Assert().True(suite.Transport.Subscribed(addr, handle), "the command MUST subscribe to the handle")

		for _, p := range payloads {
			suite.Transport.PushNotification(addr, handle, p)
		}
		// Dropping the link ends the command; queued notifications are
		// dispatched first, so nothing pushed above is lost.
		suite.Transport.DropLink(addr, errors.New("supervision timeout"))
	}()
	return done
}

func (suite *MonitorTestSuite) TestMonitorCmd_HexLines() {
	// GOAL: Verify notifications print as address/handle/hex lines until the link drops
	//
	// TEST SCENARIO: Subscribe, push two notifications, drop the link → both lines printed, link loss reported

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000D, nil).
		Build()

	done := suite.driveNotifications(TestDeviceAddress1, 0x000D,
		[]byte{0xDE, 0xAD}, []byte{0xBE, 0xEF})

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(monitorCmd, TestDeviceAddress1, "0x000D", "--interval", "50ms")
	})
	<-done

	suite.Require().Error(execErr, "the command MUST report the dropped link")
	suite.Assert().ErrorIs(execErr, ErrConnectionLost, "the error MUST be the connection-lost sentinel")
	suite.Assert().Contains(out, TestDeviceAddress1+" 0x000D dead", "first notification MUST print as a hex line")
	suite.Assert().Contains(out, TestDeviceAddress1+" 0x000D beef", "second notification MUST print as a hex line")
}

func (suite *MonitorTestSuite) TestMonitorCmd_RawStream() {
	// GOAL: Verify --raw streams payload bytes to stdout without framing
	//
	// TEST SCENARIO: Push two payloads → stdout carries them back to back

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x0021, nil).
		Build()

	done := suite.driveNotifications(TestDeviceAddress1, 0x0021,
		[]byte("hello "), []byte("world"))

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(monitorCmd, TestDeviceAddress1, "0x0021", "--raw")
	})
	<-done

	suite.Require().Error(execErr, "the command MUST report the dropped link")
	suite.Assert().ErrorIs(execErr, ErrConnectionLost, "the error MUST be the connection-lost sentinel")
	suite.Assert().Contains(out, "hello world", "payload bytes MUST stream through unframed")
}

func (suite *MonitorTestSuite) TestMonitorCmd_FiltersOtherHandles() {
	// GOAL: Verify notifications from other handles never reach the output
	//
	// TEST SCENARIO: Push to the monitored handle and a different one → only the monitored payload prints

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000D, nil).
		WithValue(0x0044, nil).
		Build()

	done := make(chan struct{})
	go func() {
		defer close(done)

		deadline := time.Now().Add(2 * time.Second)
		for !suite.Transport.Subscribed(TestDeviceAddress1, 0x000D) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		suite.Transport.PushNotification(TestDeviceAddress1, 0x0044, []byte{0xCA, 0xFE})
		suite.Transport.PushNotification(TestDeviceAddress1, 0x000D, []byte{0xDE, 0xAD})
		suite.Transport.DropLink(TestDeviceAddress1, errors.New("supervision timeout"))
	}()

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(monitorCmd, TestDeviceAddress1, "0x000D", "--interval", "50ms")
	})
	<-done

	suite.Assert().ErrorIs(execErr, ErrConnectionLost, "the error MUST be the connection-lost sentinel")
	suite.Assert().Contains(out, "dead", "the monitored handle's payload MUST print")
	suite.Assert().NotContains(out, "cafe", "the other handle's payload MUST be filtered out")
}

func (suite *MonitorTestSuite) TestMonitorCmd_SubscribeFailure() {
	// GOAL: Verify a subscribe rejection surfaces as a command error
	//
	// TEST SCENARIO: Handle does not exist on the peripheral → command fails naming the handle

	suite.Transport.InstallPeripheral(TestDeviceAddress1).Build()

	_, err := suite.ExecuteCommand(monitorCmd, TestDeviceAddress1, "0x000D")
	suite.Require().Error(err, "monitor MUST fail when the subscription is rejected")
	suite.Assert().Contains(err.Error(), "failed to subscribe to 0x000D", "error MUST name the handle")
}

func (suite *MonitorTestSuite) TestMonitorCmd_Flags() {
	// GOAL: Verify monitor command has all required flags with correct defaults
	//
	// TEST SCENARIO: Check flag definitions → all flags present → default values correct

	suite.Assert().NotNil(monitorCmd, "monitor command MUST be defined")
	suite.Assert().Equal("monitor <device-address> <handle>", monitorCmd.Use, "command usage MUST match expected format")

	flags := []struct {
		name         string
		defaultValue string
	}{
		{name: "interval", defaultValue: "250ms"},
		{name: "buffer", defaultValue: "4096"},
	}

	for _, f := range flags {
		suite.Run(f.name, func() {
			flag := monitorCmd.Flags().Lookup(f.name)
			suite.Assert().NotNil(flag, "flag MUST exist")
			suite.Assert().Equal(f.defaultValue, flag.DefValue, "default value MUST match")
		})
	}

	suite.Run("raw", func() {
		flag := monitorCmd.Flags().Lookup("raw")
		suite.Assert().NotNil(flag, "raw flag MUST exist")
	})
}

// TestMonitorCommandSuite runs the test suite
func TestMonitorCommandSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
