//go:build test

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// WriteTestSuite provides testify/suite for proper test isolation
type WriteTestSuite struct {
	CommandTestSuite
	originalFlags struct {
		writeHex        bool
		writeValue      string
		writeFormat     string
		writeOrder      string
		writeNoResponse bool
	}
}

// SetupSuite runs once before all tests in the suite
func (suite *WriteTestSuite) SetupSuite() {
	suite.CommandTestSuite.SetupSuite()

	// Save original flag values
	suite.originalFlags.writeHex = writeHex
	suite.originalFlags.writeValue = writeValue
	suite.originalFlags.writeFormat = writeFormat
	suite.originalFlags.writeOrder = writeOrder
	suite.originalFlags.writeNoResponse = writeNoResponse
}

// TearDownSuite runs once after all tests in the suite
func (suite *WriteTestSuite) TearDownSuite() {
	// Restore original flag values
	writeHex = suite.originalFlags.writeHex
	writeValue = suite.originalFlags.writeValue
	writeFormat = suite.originalFlags.writeFormat
	writeOrder = suite.originalFlags.writeOrder
	writeNoResponse = suite.originalFlags.writeNoResponse

	suite.CommandTestSuite.TearDownSuite()
}

// SetupTest runs before each test in the suite
func (suite *WriteTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()

	// Reset flags before each test for proper isolation
	writeHex = false
	writeValue = ""
	writeFormat = "u8"
	writeOrder = "le"
	writeNoResponse = false
}

func (suite *WriteTestSuite) TestWriteCmd_PositionalString() {
	// GOAL: Verify a full write round-trip delivers raw string bytes
	//
	// TEST SCENARIO: Write a string → transport records the bytes → success printed

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000E, nil).
		Build()

	var execErr error
	out := suite.CaptureStdout(func() {
		_, execErr = suite.ExecuteCommand(writeCmd, TestDeviceAddress1, "0x000E", "high")
	})

	suite.Require().NoError(execErr, "write command MUST succeed")
	suite.Assert().Contains(out, "Write successful", "output MUST confirm the write")

	written := suite.Transport.Written(TestDeviceAddress1, 0x000E)
	suite.Require().Len(written, 1, "exactly one write MUST reach the peripheral")
	suite.Assert().Equal([]byte("high"), written[0], "written bytes MUST match the input string")

	calls := suite.Transport.Calls("WriteAttribute")
	suite.Require().Len(calls, 1, "one write call MUST be recorded")
	suite.Assert().True(calls[0].WithResponse, "default write MUST request a response")
}

func (suite *WriteTestSuite) TestWriteCmd_HexData() {
	// GOAL: Verify --hex parses the positional argument as hex bytes
	//
	// TEST SCENARIO: Write hex input → decoded bytes reach the peripheral

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000E, nil).
		Build()

	_, err := suite.ExecuteCommand(writeCmd, TestDeviceAddress1, "0x000E", "01ff", "--hex")
	suite.Require().NoError(err, "hex write MUST succeed")

	written := suite.Transport.Written(TestDeviceAddress1, 0x000E)
	suite.Require().Len(written, 1, "exactly one write MUST reach the peripheral")
	suite.Assert().Equal([]byte{0x01, 0xFF}, written[0], "decoded hex bytes MUST match")
}

func (suite *WriteTestSuite) TestWriteCmd_EncodedValue() {
	// GOAL: Verify --value encodes numbers per --format and --order
	//
	// TEST SCENARIO: Write numeric values → wire bytes match the requested encoding

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000E, nil).
		Build()

	tests := []struct {
		name     string
		args     []string
		expected []byte
	}{
		{
			name:     "u16 little-endian",
			args:     []string{TestDeviceAddress1, "0x000E", "--value", "300", "--format", "u16"},
			expected: []byte{0x2C, 0x01},
		},
		{
			name:     "u16 big-endian",
			args:     []string{TestDeviceAddress1, "0x000E", "--value", "300", "--format", "u16", "--order", "be"},
			expected: []byte{0x01, 0x2C},
		},
		{
			name:     "s8 negative",
			args:     []string{TestDeviceAddress1, "0x000E", "--value", "-40", "--format", "s8"},
			expected: []byte{0xD8},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			writeValue = ""
			writeFormat = "u8"
			writeOrder = "le"

			_, err := suite.ExecuteCommand(writeCmd, tt.args...)
			suite.Require().NoError(err, "encoded write MUST succeed")

			written := suite.Transport.Written(TestDeviceAddress1, 0x000E)
			suite.Require().NotEmpty(written, "the write MUST reach the peripheral")
			suite.Assert().Equal(tt.expected, written[len(written)-1], "wire bytes MUST match the encoding")
		})
	}
}

func (suite *WriteTestSuite) TestWriteCmd_NoResponse() {
	// GOAL: Verify --no-response switches the write mode
	//
	// TEST SCENARIO: Write with --no-response → transport sees withResponse=false

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000E, nil).
		Build()

	_, err := suite.ExecuteCommand(writeCmd, TestDeviceAddress1, "0x000E", "01", "--hex", "--no-response")
	suite.Require().NoError(err, "write MUST succeed")

	calls := suite.Transport.Calls("WriteAttribute")
	suite.Require().Len(calls, 1, "one write call MUST be recorded")
	suite.Assert().False(calls[0].WithResponse, "the write MUST not request a response")
}

func (suite *WriteTestSuite) TestWriteCmd_DataSourceValidation() {
	// GOAL: Verify the two data sources are mutually exclusive and one is required
	//
	// TEST SCENARIO: Both sources and neither source → errors before any radio traffic

	_, err := suite.ExecuteCommand(writeCmd, TestDeviceAddress1, "0x000E", "data", "--value", "1")
	suite.Require().Error(err, "MUST reject positional data combined with --value")
	suite.Assert().Contains(err.Error(), "not both", "error MUST name the conflict")

	// Parsed flag values survive the failed execution
	writeValue = ""

	_, err = suite.ExecuteCommand(writeCmd, TestDeviceAddress1, "0x000E")
	suite.Require().Error(err, "MUST reject a write with no data source")
	suite.Assert().Contains(err.Error(), "data required", "error MUST name the missing data")

	suite.Assert().Empty(suite.Transport.Calls("Connect"), "no connect attempt MUST be made")
}

func (suite *WriteTestSuite) TestWriteCmd_WriteRejected() {
	// GOAL: Verify a transport-level write failure surfaces as a command error
	//
	// TEST SCENARIO: Peripheral rejects the write → command fails naming the handle

	suite.Transport.InstallPeripheral(TestDeviceAddress1).
		WithValue(0x000E, nil).
		WithWriteError(0x000E, errors.New("write rejected")).
		Build()

	_, err := suite.ExecuteCommand(writeCmd, TestDeviceAddress1, "0x000E", "01", "--hex")
	suite.Require().Error(err, "write MUST fail when the peripheral rejects it")
	suite.Assert().Contains(err.Error(), "failed to write 0x000E", "error MUST name the handle")
}

func (suite *WriteTestSuite) TestWriteCmd_Flags() {
	// GOAL: Verify write command has all required flags with correct defaults
	//
	// TEST SCENARIO: Check flag definitions → all flags present → default values correct

	suite.Assert().NotNil(writeCmd, "write command MUST be defined")
	suite.Assert().Equal("write <device-address> <handle> [data]", writeCmd.Use, "command usage MUST match expected format")

	flags := []struct {
		name         string
		defaultValue string
	}{
		{name: "value", defaultValue: ""},
		{name: "format", defaultValue: "u8"},
		{name: "order", defaultValue: "le"},
	}

	for _, f := range flags {
		suite.Run(f.name, func() {
			flag := writeCmd.Flags().Lookup(f.name)
			suite.Assert().NotNil(flag, "flag MUST exist")
			suite.Assert().Equal(f.defaultValue, flag.DefValue, "default value MUST match")
		})
	}

	// Boolean flags
	boolFlags := []string{"hex", "no-response"}
	for _, name := range boolFlags {
		suite.Run(name, func() {
			flag := writeCmd.Flags().Lookup(name)
			suite.Assert().NotNil(flag, "boolean flag MUST exist")
		})
	}
}

func (suite *WriteTestSuite) TestWriteCmd_ArgsValidation() {
	// GOAL: Verify command accepts 2-3 arguments (address, handle, optional data)
	//
	// TEST SCENARIO: Validate args with different counts → accepts 2-3 args → rejects invalid counts

	validator := writeCmd.Args
	suite.Require().NotNil(validator, "args validator MUST be defined")

	tests := []struct {
		name      string
		args      []string
		shouldErr bool
	}{
		{
			name:      "valid with address and handle",
			args:      []string{"AA:BB:CC:DD:EE:FF", "0x000E"},
			shouldErr: false,
		},
		{
			name:      "valid with address, handle, and data",
			args:      []string{"AA:BB:CC:DD:EE:FF", "0x000E", "test"},
			shouldErr: false,
		},
		{
			name:      "invalid with only address",
			args:      []string{"AA:BB:CC:DD:EE:FF"},
			shouldErr: true,
		},
		{
			name:      "invalid with no arguments",
			args:      []string{},
			shouldErr: true,
		},
		{
			name:      "invalid with too many arguments",
			args:      []string{"AA:BB:CC:DD:EE:FF", "0x000E", "data", "extra"},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := validator(writeCmd, tt.args)
			if tt.shouldErr {
				suite.Assert().Error(err, "MUST reject invalid argument count")
			} else {
				suite.Assert().NoError(err, "MUST accept valid argument count")
			}
		})
	}
}

// TestWriteCommandSuite runs the test suite
func TestWriteCommandSuite(t *testing.T) {
	suite.Run(t, new(WriteTestSuite))
}
