//go:build test

package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/bleman/internal/testutils"
	"github.com/srg/bleman/internal/transport"
)

// ScanTestSuite provides testify/suite for proper test isolation
type ScanTestSuite struct {
	CommandTestSuite
	originalFlags struct {
		scanDuration  time.Duration
		scanFormat    string
		scanServices  []string
		scanAllowList []string
		scanBlockList []string
		scanWatch     bool
	}
}

// SetupSuite runs once before all tests in the suite
func (suite *ScanTestSuite) SetupSuite() {
	suite.CommandTestSuite.SetupSuite()

	// Save original flag values
	suite.originalFlags.scanDuration = scanDuration
	suite.originalFlags.scanFormat = scanFormat
	suite.originalFlags.scanServices = scanServices
	suite.originalFlags.scanAllowList = scanAllowList
	suite.originalFlags.scanBlockList = scanBlockList
	suite.originalFlags.scanWatch = scanWatch
}

// TearDownSuite runs once after all tests in the suite
func (suite *ScanTestSuite) TearDownSuite() {
	// Restore original flag values
	scanDuration = suite.originalFlags.scanDuration
	scanFormat = suite.originalFlags.scanFormat
	scanServices = suite.originalFlags.scanServices
	scanAllowList = suite.originalFlags.scanAllowList
	scanBlockList = suite.originalFlags.scanBlockList
	scanWatch = suite.originalFlags.scanWatch

	suite.CommandTestSuite.TearDownSuite()
}

// SetupTest runs before each test in the suite
func (suite *ScanTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()

	// Reset flags before each test for proper isolation
	scanDuration = 10 * time.Second
	scanFormat = "table"
	scanServices = nil
	scanAllowList = nil
	scanBlockList = nil
	scanWatch = false

	// The watch-mode default depends on whether --duration was given
	if f := scanCmd.Flags().Lookup("duration"); f != nil {
		f.Changed = false
	}
}

// pumpAdvertisements delivers each advertisement once as soon as the
// fake radio starts scanning. Returns a channel closed when done.
func (suite *ScanTestSuite) pumpAdvertisements(advs ...transport.Advertisement) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		pending := advs
		for len(pending) > 0 && time.Now().Before(deadline) {
			if suite.Transport.Advertise(pending[0]) {
				pending = pending[1:]
				continue
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	return done
}

func (suite *ScanTestSuite) TestScanCmd_TableOutput() {
	// GOAL: Verify a scan renders discovered devices as a table
	//
	// TEST SCENARIO: Advertise one device during the scan → table contains name, address, RSSI

	adv := testutils.NewAdvertisementBuilder().
		WithAddress(TestDeviceAddress1).
		WithName("HeartRate").
		WithRSSI(-42).
		WithConnectable(true).
		Build()
	done := suite.pumpAdvertisements(adv)

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(scanCmd, "--duration", "300ms")
	})
	<-done

	suite.Require().NoError(execErr, "scan command MUST succeed")
	suite.Assert().Contains(out, "NAME", "output MUST contain the table header")
	suite.Assert().Contains(out, "HeartRate", "output MUST contain the device name")
	suite.Assert().Contains(out, TestDeviceAddress1, "output MUST contain the device address")
	suite.Assert().Contains(out, "-42 dBm", "output MUST contain the signal strength")
}

func (suite *ScanTestSuite) TestScanCmd_JSONOutput() {
	// GOAL: Verify --format json emits machine-readable results
	//
	// TEST SCENARIO: Advertise one device → JSON array parses → fields match the advertisement

	adv := testutils.NewAdvertisementBuilder().
		WithAddress(TestDeviceAddress1).
		WithName("Sensor").
		WithRSSI(-55).
		WithConnectable(true).
		WithServices("180d").
		Build()
	done := suite.pumpAdvertisements(adv)

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(scanCmd, "--duration", "300ms", "--format", "json")
	})
	<-done

	suite.Require().NoError(execErr, "scan command MUST succeed")

	start := strings.Index(out, "[")
	suite.Require().GreaterOrEqual(start, 0, "output MUST contain a JSON array")

	var rows []map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out[start:]), &rows), "JSON output MUST parse")
	suite.Require().Len(rows, 1, "exactly one device MUST be reported")
	suite.Assert().Equal(TestDeviceAddress1, rows[0]["address"], "address field MUST match")
	suite.Assert().Equal("Sensor", rows[0]["name"], "name field MUST match")
	suite.Assert().Equal(float64(-55), rows[0]["rssi"], "rssi field MUST match")
}

func (suite *ScanTestSuite) TestScanCmd_YAMLOutput() {
	// GOAL: Verify --format yaml emits readable results
	//
	// TEST SCENARIO: Advertise one device → YAML document names the device fields

	adv := testutils.NewAdvertisementBuilder().
		WithAddress(TestDeviceAddress1).
		WithName("Sensor").
		WithRSSI(-55).
		Build()
	done := suite.pumpAdvertisements(adv)

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(scanCmd, "--duration", "300ms", "--format", "yaml")
	})
	<-done

	suite.Require().NoError(execErr, "scan command MUST succeed")
	suite.Assert().Contains(out, TestDeviceAddress1, "YAML MUST contain the address")
	suite.Assert().Contains(out, "name: Sensor", "YAML MUST contain the name")
}

func (suite *ScanTestSuite) TestScanCmd_ServiceFilter() {
	// GOAL: Verify --services narrows the scan to matching advertisers
	//
	// TEST SCENARIO: Two devices, one advertising the service → only that one reported

	heartRate := testutils.NewAdvertisementBuilder().
		WithAddress(TestDeviceAddress1).
		WithName("HeartRate").
		WithRSSI(-40).
		WithServices("180d").
		Build()
	other := testutils.NewAdvertisementBuilder().
		WithAddress(TestDeviceAddress2).
		WithName("Beacon").
		WithRSSI(-70).
		Build()
	done := suite.pumpAdvertisements(heartRate, other)

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(scanCmd, "--duration", "300ms", "--services", "180d")
	})
	<-done

	suite.Require().NoError(execErr, "scan command MUST succeed")
	suite.Assert().Contains(out, "HeartRate", "the matching device MUST be reported")
	suite.Assert().NotContains(out, "Beacon", "the non-matching device MUST be filtered out")
}

func (suite *ScanTestSuite) TestScanCmd_InvalidFormat() {
	// GOAL: Verify format validation happens before the radio starts
	//
	// TEST SCENARIO: Unknown output format → error returned → no scan started

	_, err := suite.ExecuteCommand(scanCmd, "--format", "xml")
	suite.Require().Error(err, "MUST reject an unknown output format")
	suite.Assert().Contains(err.Error(), "invalid format", "error MUST name the failing flag")
	suite.Assert().Empty(suite.Transport.Calls("StartScan"), "no scan MUST be started")
}

func (suite *ScanTestSuite) TestScanCmd_ScanFailure() {
	// GOAL: Verify a radio failure surfaces as a command error
	//
	// TEST SCENARIO: Radio refuses to scan → command fails with the radio error

	suite.Transport.FailScanStart(errors.New("radio busy"))

	_, err := suite.ExecuteCommand(scanCmd, "--duration", "200ms")
	suite.Require().Error(err, "scan MUST fail when the radio refuses")
	suite.Assert().Contains(err.Error(), "radio busy", "error MUST carry the radio failure")
}

func (suite *ScanTestSuite) TestScanCmd_Flags() {
	// GOAL: Verify scan command has all required flags with correct defaults
	//
	// TEST SCENARIO: Check flag definitions → all flags present → default values correct

	suite.Assert().NotNil(scanCmd, "scan command MUST be defined")

	flags := []struct {
		name         string
		defaultValue string
	}{
		{name: "duration", defaultValue: "10s"},
		{name: "format", defaultValue: "table"},
	}

	for _, f := range flags {
		suite.Run(f.name, func() {
			flag := scanCmd.Flags().Lookup(f.name)
			suite.Assert().NotNil(flag, "flag MUST exist")
			suite.Assert().Equal(f.defaultValue, flag.DefValue, "default value MUST match")
		})
	}

	// Filter and mode flags
	for _, name := range []string{"services", "allow", "block", "watch"} {
		suite.Run(name, func() {
			flag := scanCmd.Flags().Lookup(name)
			suite.Assert().NotNil(flag, "flag MUST exist")
		})
	}
}

// TestScanCommandSuite runs the test suite
func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
