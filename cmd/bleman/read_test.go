//go:build test

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ReadTestSuite provides testify/suite for proper test isolation
type ReadTestSuite struct {
	CommandTestSuite
	originalFlags struct {
		readFormat string
		readOrder  string
	}
}

// SetupSuite runs once before all tests in the suite
func (suite *ReadTestSuite) SetupSuite() {
	suite.CommandTestSuite.SetupSuite()

	// Save original flag values
	suite.originalFlags.readFormat = readFormat
	suite.originalFlags.readOrder = readOrder
}

// TearDownSuite runs once after all tests in the suite
func (suite *ReadTestSuite) TearDownSuite() {
	// Restore original flag values
	readFormat = suite.originalFlags.readFormat
	readOrder = suite.originalFlags.readOrder

	suite.CommandTestSuite.TearDownSuite()
}

// SetupTest runs before each test in the suite
func (suite *ReadTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()

	// Reset flags before each test for proper isolation
	readFormat = "hex"
	readOrder = "le"
}

func (suite *ReadTestSuite) TestReadCmd_HexDefault() {
	// GOAL: Verify a full read round-trip prints the value as hex
	//
	// TEST SCENARIO: Install peripheral with a value → run read → hex printed, read recorded

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000A, []byte{0xDE, 0xAD}).
		Build()

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(readCmd, TestDeviceAddress1, "0x000A")
	})

	suite.Require().NoError(execErr, "read command MUST succeed")
	suite.Assert().Contains(out, "dead", "output MUST contain the hex-encoded value")

	reads := suite.Transport.Calls("ReadAttribute")
	suite.Require().Len(reads, 1, "exactly one read MUST reach the transport")
	suite.Assert().Equal(uint16(0x000A), reads[0].Handle, "the read MUST target the requested handle")
}

func (suite *ReadTestSuite) TestReadCmd_FormattedOutput() {
	// GOAL: Verify --format and --order drive the value decoder
	//
	// TEST SCENARIO: Read the same handle under different formats → decoded text matches

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000A, []byte{0x2C, 0x01}).
		WithValue(0x000B, []byte{0x48, 0x00}).
		WithValue(0x000C, []byte("Thermo\x00")).
		Build()

	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{
			name:     "u16 little-endian",
			args:     []string{TestDeviceAddress1, "0x000A", "--format", "u16"},
			expected: "300",
		},
		{
			name:     "u16 big-endian reads swapped",
			args:     []string{TestDeviceAddress1, "0x000A", "--format", "u16", "--order", "be"},
			expected: "11265",
		},
		{
			name:     "sfloat with zero exponent",
			args:     []string{TestDeviceAddress1, "0x000B", "--format", "sfloat"},
			expected: "72",
		},
		{
			name:     "string drops NUL padding",
			args:     []string{TestDeviceAddress1, "0x000C", "--format", "string"},
			expected: "Thermo",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			readFormat = "hex"
			readOrder = "le"

			var execErr error
			out := suite.CaptureStdout(func() {
				_, execErr = suite.ExecuteCommand(readCmd, tt.args...)
			})
			suite.Require().NoError(execErr, "read command MUST succeed")
			suite.Assert().Contains(out, tt.expected, "output MUST contain the decoded value")
		})
	}
}

func (suite *ReadTestSuite) TestReadCmd_SecureValueWithPins() {
	// GOAL: Verify the --pins file feeds the pairing registry end to end
	//
	// TEST SCENARIO: Secure attribute + registered PIN → read succeeds after security upgrade

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithSecureValue(0x0015, []byte{0x2A}).
		WithPIN("123456").
		Build()

	pinFile := filepath.Join(suite.T().TempDir(), "pins.yaml")
	suite.Require().NoError(os.WriteFile(pinFile, []byte(TestDeviceAddress1+": \"123456\"\n"), 0o600),
		"PIN file MUST be written")

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(rootCmd, "read", TestDeviceAddress1, "0x0015",
			"--format", "u8", "--pins", pinFile)
	})

	suite.Require().NoError(execErr, "secure read MUST succeed once the PIN is registered")
	suite.Assert().Contains(out, "42", "output MUST contain the decoded secure value")
	suite.Assert().True(suite.Transport.Secured(TestDeviceAddress1), "the link MUST have been secured")
}

func (suite *ReadTestSuite) TestReadCmd_UnknownPeripheral() {
	// GOAL: Verify a connect failure surfaces as a command error
	//
	// TEST SCENARIO: Read from an address nothing answers at → command fails with connect error

	_, err := suite.ExecuteCommand(readCmd, TestDeviceAddress2, "0x000A")
	suite.Require().Error(err, "read MUST fail when no peripheral answers")
	suite.Assert().Contains(err.Error(), "failed to connect", "error MUST name the connect failure")
}

func (suite *ReadTestSuite) TestReadCmd_InvalidHandle() {
	// GOAL: Verify handle validation happens before any radio traffic
	//
	// TEST SCENARIO: Unparseable handle → error returned → no transport calls recorded

	_, err := suite.ExecuteCommand(readCmd, TestDeviceAddress1, "not-a-handle")
	suite.Require().Error(err, "MUST reject an unparseable handle")
	suite.Assert().Empty(suite.Transport.Calls("Connect"), "no connect attempt MUST be made")
}

func (suite *ReadTestSuite) TestReadCmd_Flags() {
	// GOAL: Verify read command has all required flags with correct defaults
	//
	// TEST SCENARIO: Check flag definitions → all flags present → default values correct

	suite.Assert().NotNil(readCmd, "read command MUST be defined")
	suite.Assert().Equal("read <device-address> <handle>", readCmd.Use, "command usage MUST match expected format")

	flags := []struct {
		name         string
		defaultValue string
	}{
		{name: "format", defaultValue: "hex"},
		{name: "order", defaultValue: "le"},
	}

	for _, f := range flags {
		suite.Run(f.name, func() {
			flag := readCmd.Flags().Lookup(f.name)
			suite.Assert().NotNil(flag, "flag MUST exist")
			suite.Assert().Equal(f.defaultValue, flag.DefValue, "default value MUST match")
		})
	}
}

func (suite *ReadTestSuite) TestReadCmd_ArgsValidation() {
	// GOAL: Verify command accepts exactly address and handle
	//
	// TEST SCENARIO: Validate args with different counts → accepts 2 args → rejects others

	validator := readCmd.Args
	suite.Require().NotNil(validator, "args validator MUST be defined")

	tests := []struct {
		name      string
		args      []string
		shouldErr bool
	}{
		{
			name:      "valid with address and handle",
			args:      []string{"AA:BB:CC:DD:EE:FF", "0x000A"},
			shouldErr: false,
		},
		{
			name:      "invalid with address only",
			args:      []string{"AA:BB:CC:DD:EE:FF"},
			shouldErr: true,
		},
		{
			name:      "invalid with no arguments",
			args:      []string{},
			shouldErr: true,
		},
		{
			name:      "invalid with extra arguments",
			args:      []string{"AA:BB:CC:DD:EE:FF", "0x000A", "extra"},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := validator(readCmd, tt.args)
			if tt.shouldErr {
				suite.Assert().Error(err, "MUST reject invalid argument count")
			} else {
				suite.Assert().NoError(err, "MUST accept valid argument count")
			}
		})
	}
}

// TestReadCommandSuite runs the test suite
func TestReadCommandSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}
