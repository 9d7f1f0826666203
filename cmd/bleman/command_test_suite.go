//go:build test

package main

import (
	"bytes"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleman/internal/testutils"
	"github.com/srg/bleman/internal/transport"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

// CommandTestSuite runs commands against a fake transport by swapping
// the package transport factory for the duration of each test. All
// cmd/bleman test suites should embed this.
type CommandTestSuite struct {
	suite.Suite

	Helper    *testutils.TestHelper
	Transport *testutils.FakeTransport

	origFactory func() transport.Factory
}

// SetupSuite saves the real transport factory once for all tests.
func (s *CommandTestSuite) SetupSuite() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.origFactory = transportFactory
}

// TearDownSuite restores the real transport factory.
func (s *CommandTestSuite) TearDownSuite() {
	transportFactory = s.origFactory
}

// SetupTest points commands at a fresh fake transport.
func (s *CommandTestSuite) SetupTest() {
	s.Transport = testutils.NewFakeTransport(s.Helper.Logger)
	transportFactory = func() transport.Factory { return s.Transport.Factory() }

	// Persistent root flags keep their values between executions
	_ = rootCmd.PersistentFlags().Set("pins", "")
	_ = rootCmd.PersistentFlags().Set("log-level", "")
}

// TearDownTest discards the per-test transport.
func (s *CommandTestSuite) TearDownTest() {
	s.Transport = nil
}

// CaptureStdout executes fn while capturing stdout, returns captured output.
// Stdout is restored even if fn panics.
func (s *CommandTestSuite) CaptureStdout(fn func()) string {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
