//go:build test

package central_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/bleman/internal/testutils"
	"github.com/srg/bleman/internal/transport"
)

// ServerRoleTestSuite covers the attributes this process hosts for
// remote centrals: chunked reads, plain writes, and prepared-write
// reassembly.
type ServerRoleTestSuite struct {
	testutils.EngineSuite
}

func TestServerRoleTestSuite(t *testing.T) {
	suite.Run(t, new(ServerRoleTestSuite))
}

const peerAddr = "CC:DD:EE:FF:00:11"

// waitResponses blocks until the engine has answered n inbound requests.
func (suite *ServerRoleTestSuite) waitResponses(n int) []testutils.Call {
	suite.Require().Eventually(func() bool { return len(suite.Transport.Responses()) >= n },
		suite.EventTimeout, 10*time.Millisecond, "the engine MUST answer every inbound request")
	return suite.Transport.Responses()
}

func (suite *ServerRoleTestSuite) TestHostedReadServesChunks() {
	// GOAL: Verify hosted attribute reads are served in MTU-sized chunks
	//
	// TEST SCENARIO: 30-byte hosted value, default 23-byte MTU → offsets 0, 22, 30 serve 22, 8, 0 bytes → an offset past the end is an offset error

	value := make([]byte, 30)
	for i := range value {
		value[i] = byte(i)
	}
	suite.Manager.SetLocalValue(0x0040, value)

	suite.Transport.InboundRead(peerAddr, 1, 0x0040, 0)
	suite.Transport.InboundRead(peerAddr, 2, 0x0040, 22)
	suite.Transport.InboundRead(peerAddr, 3, 0x0040, 30)
	suite.Transport.InboundRead(peerAddr, 4, 0x0040, 31)

	responses := suite.waitResponses(4)

	suite.Assert().Equal(transport.StatusSuccess, responses[0].Status)
	suite.Assert().Equal(value[:22], responses[0].Value, "the first chunk MUST carry MTU-1 bytes")

	suite.Assert().Equal(transport.StatusSuccess, responses[1].Status)
	suite.Assert().Equal(value[22:], responses[1].Value, "the second chunk MUST carry the remainder")

	suite.Assert().Equal(transport.StatusSuccess, responses[2].Status)
	suite.Assert().Empty(responses[2].Value, "an offset at the end MUST serve the empty end-of-value chunk")

	suite.Assert().Equal(transport.StatusInvalidOffset, responses[3].Status, "an offset past the end MUST be rejected")
}

func (suite *ServerRoleTestSuite) TestHostedReadUnknownHandle() {
	// GOAL: Verify reads of handles this process does not host are rejected
	//
	// TEST SCENARIO: Read an unhosted handle → invalid-handle response, no value

	suite.Transport.InboundRead(peerAddr, 1, 0x0099, 0)

	responses := suite.waitResponses(1)
	suite.Assert().Equal(transport.StatusInvalidHandle, responses[0].Status)
	suite.Assert().Empty(responses[0].Value)
}

func (suite *ServerRoleTestSuite) TestHostedReadTracksNegotiatedMTU() {
	// GOAL: Verify read chunking follows the peer's negotiated MTU
	//
	// TEST SCENARIO: Peer negotiates MTU 41 → a hosted read from that peer serves 40-byte chunks

	value := make([]byte, 60)
	for i := range value {
		value[i] = byte(i)
	}
	suite.Manager.SetLocalValue(0x0040, value)

	suite.Transport.InstallPeripheral(peerAddr).Build()
	suite.Require().NoError(suite.Manager.ConnectDirect(peerAddr))
	suite.WaitEventOfKind(testutils.EvConnected)
	suite.Require().NoError(suite.Manager.RequestMTU(peerAddr, 41))
	suite.WaitEventOfKind(testutils.EvMTU)

	suite.Transport.InboundRead(peerAddr, 1, 0x0040, 0)

	responses := suite.waitResponses(1)
	suite.Assert().Equal(transport.StatusSuccess, responses[0].Status)
	suite.Assert().Equal(value[:40], responses[0].Value, "the chunk size MUST follow the negotiated MTU")
}

func (suite *ServerRoleTestSuite) TestPlainWriteCommits() {
	// GOAL: Verify a plain inbound write commits atomically and reports the new value
	//
	// TEST SCENARIO: Plain write at offset 0 → committed, acknowledged, local-write callback → a plain write at a nonzero offset is rejected untouched

	suite.Transport.InboundWrite(peerAddr, 1, 0x0041, 0, []byte{0xAA, 0xBB}, false)

	responses := suite.waitResponses(1)
	suite.Assert().Equal(transport.StatusSuccess, responses[0].Status)

	ev := suite.WaitEventOfKind(testutils.EvLocalWrite)
	suite.Assert().Equal(uint16(0x0041), ev.Handle)
	suite.Assert().Equal([]byte{0xAA, 0xBB}, ev.Value, "the callback MUST carry the committed value")

	got, ok := suite.Manager.LocalValue(0x0041)
	suite.Require().True(ok)
	suite.Assert().Equal([]byte{0xAA, 0xBB}, got)

	suite.Run("nonzero offset is rejected", func() {
		suite.Transport.InboundWrite(peerAddr, 2, 0x0041, 1, []byte{0xCC}, false)

		responses := suite.waitResponses(2)
		suite.Assert().Equal(transport.StatusInvalidOffset, responses[1].Status)

		got, _ := suite.Manager.LocalValue(0x0041)
		suite.Assert().Equal([]byte{0xAA, 0xBB}, got, "a rejected write MUST leave the committed value untouched")
	})
}

func (suite *ServerRoleTestSuite) TestPreparedWriteCommit() {
	// GOAL: Verify strictly contiguous prepared writes reassemble and commit on execute
	//
	// TEST SCENARIO: 28-byte value in chunks at offsets 0, 18, 24 → execute commits the full value atomically with one local-write callback

	full := bytes.Repeat([]byte{0x5A}, 18)
	full = append(full, bytes.Repeat([]byte{0x5B}, 6)...)
	full = append(full, bytes.Repeat([]byte{0x5C}, 4)...)

	suite.Transport.InboundWrite(peerAddr, 1, 0x0042, 0, full[0:18], true)
	suite.Transport.InboundWrite(peerAddr, 2, 0x0042, 18, full[18:24], true)
	suite.Transport.InboundWrite(peerAddr, 3, 0x0042, 24, full[24:28], true)

	responses := suite.waitResponses(3)
	for i := 0; i < 3; i++ {
		suite.Assert().Equal(transport.StatusSuccess, responses[i].Status, "chunk %d MUST be acknowledged", i)
	}

	_, committed := suite.Manager.LocalValue(0x0042)
	suite.Assert().False(committed, "nothing MUST be committed before the execute")

	suite.Transport.InboundExecute(peerAddr, 4, true)

	responses = suite.waitResponses(4)
	suite.Assert().Equal(transport.StatusSuccess, responses[3].Status)

	ev := suite.WaitEventOfKind(testutils.EvLocalWrite)
	suite.Assert().Equal(uint16(0x0042), ev.Handle)
	suite.Assert().Equal(full, ev.Value, "the commit MUST deliver the reassembled value in one piece")

	got, ok := suite.Manager.LocalValue(0x0042)
	suite.Require().True(ok)
	suite.Assert().Equal(full, got)
}

func (suite *ServerRoleTestSuite) TestPreparedWriteRejectsGap() {
	// GOAL: Verify an out-of-sequence prepared offset aborts that handle's transfer
	//
	// TEST SCENARIO: Committed value in place → chunk at 0 accepted, chunk at 19 rejected → execute commits nothing and the old value survives

	suite.Manager.SetLocalValue(0x0042, []byte{0x01, 0x02, 0x03})

	suite.Transport.InboundWrite(peerAddr, 1, 0x0042, 0, bytes.Repeat([]byte{0x5A}, 18), true)
	suite.Transport.InboundWrite(peerAddr, 2, 0x0042, 19, []byte{0x5B}, true)

	responses := suite.waitResponses(2)
	suite.Assert().Equal(transport.StatusSuccess, responses[0].Status)
	suite.Assert().Equal(transport.StatusInvalidOffset, responses[1].Status, "a gap in the offsets MUST be rejected")

	suite.Transport.InboundExecute(peerAddr, 3, true)

	responses = suite.waitResponses(3)
	suite.Assert().Equal(transport.StatusSuccess, responses[2].Status, "the execute itself MUST still succeed")

	got, ok := suite.Manager.LocalValue(0x0042)
	suite.Require().True(ok)
	suite.Assert().Equal([]byte{0x01, 0x02, 0x03}, got, "an aborted transfer MUST leave the committed value untouched")

	_, pending := suite.Events.TryNext()
	suite.Assert().False(pending, "no local-write callback MUST fire for an aborted transfer")
}

func (suite *ServerRoleTestSuite) TestPreparedWriteCancel() {
	// GOAL: Verify execute with the cancel flag discards everything prepared
	//
	// TEST SCENARIO: Two chunks prepared → cancel → nothing committed → a fresh transfer afterwards starts from scratch

	suite.Transport.InboundWrite(peerAddr, 1, 0x0043, 0, []byte{0x01, 0x02}, true)
	suite.Transport.InboundWrite(peerAddr, 2, 0x0043, 2, []byte{0x03}, true)
	suite.Transport.InboundExecute(peerAddr, 3, false)

	responses := suite.waitResponses(3)
	suite.Assert().Equal(transport.StatusSuccess, responses[2].Status)

	_, ok := suite.Manager.LocalValue(0x0043)
	suite.Assert().False(ok, "a canceled transfer MUST commit nothing")

	suite.Run("next transfer starts clean", func() {
		suite.Transport.InboundWrite(peerAddr, 4, 0x0043, 0, []byte{0xAA}, true)
		suite.Transport.InboundExecute(peerAddr, 5, true)

		suite.waitResponses(5)
		got, ok := suite.Manager.LocalValue(0x0043)
		suite.Require().True(ok)
		suite.Assert().Equal([]byte{0xAA}, got, "the canceled chunks MUST NOT leak into the next transfer")
	})
}

func (suite *ServerRoleTestSuite) TestExecuteCommitsInHandleOrder() {
	// GOAL: Verify one execute commits interleaved per-handle transfers in ascending handle order
	//
	// TEST SCENARIO: Chunks for handles 0x52 and 0x50 interleaved → execute → local-write callbacks for 0x50 then 0x52

	suite.Transport.InboundWrite(peerAddr, 1, 0x0052, 0, []byte{0x52}, true)
	suite.Transport.InboundWrite(peerAddr, 2, 0x0050, 0, []byte{0x50}, true)
	suite.Transport.InboundExecute(peerAddr, 3, true)

	suite.waitResponses(3)

	ev := suite.WaitEventOfKind(testutils.EvLocalWrite)
	suite.Assert().Equal(uint16(0x0050), ev.Handle, "commits MUST arrive in ascending handle order")
	ev = suite.WaitEventOfKind(testutils.EvLocalWrite)
	suite.Assert().Equal(uint16(0x0052), ev.Handle)

	v50, _ := suite.Manager.LocalValue(0x0050)
	v52, _ := suite.Manager.LocalValue(0x0052)
	suite.Assert().Equal([]byte{0x50}, v50)
	suite.Assert().Equal([]byte{0x52}, v52)
}

func (suite *ServerRoleTestSuite) TestExecuteWithNothingPrepared() {
	// GOAL: Verify an execute with no prepared writes succeeds as a no-op
	//
	// TEST SCENARIO: Execute from a peer with no session → success response, no callbacks

	suite.Transport.InboundExecute(peerAddr, 1, true)

	responses := suite.waitResponses(1)
	suite.Assert().Equal(transport.StatusSuccess, responses[0].Status)

	_, pending := suite.Events.TryNext()
	suite.Assert().False(pending)
}

func (suite *ServerRoleTestSuite) TestDisconnectDropsPreparedWrites() {
	// GOAL: Verify a peer's half-done prepared writes die with its link
	//
	// TEST SCENARIO: Connected peer prepares a chunk → link drops → a later execute commits nothing

	suite.Transport.InstallPeripheral(peerAddr).Build()
	suite.Require().NoError(suite.Manager.ConnectDirect(peerAddr))
	suite.WaitEventOfKind(testutils.EvConnected)

	suite.Transport.InboundWrite(peerAddr, 1, 0x0044, 0, []byte{0x01, 0x02}, true)
	suite.waitResponses(1)

	suite.Transport.DropLink(peerAddr, nil)
	suite.WaitEventOfKind(testutils.EvDisconnected)

	suite.Transport.InboundExecute(peerAddr, 2, true)
	suite.waitResponses(2)

	_, ok := suite.Manager.LocalValue(0x0044)
	suite.Assert().False(ok, "prepared chunks MUST NOT survive the link")
}
