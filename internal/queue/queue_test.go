package queue_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleman/internal/queue"
	"github.com/srg/bleman/internal/transport"
)

type completion struct {
	op  *queue.Op
	res transport.OpResult
}

type QueueTestSuite struct {
	suite.Suite

	q           *queue.Queue
	sent        []*queue.Op
	completions []completion
	upgrades    []*queue.Op
	sendErr     func(*queue.Op) error
}

func (suite *QueueTestSuite) SetupTest() {
	suite.sent = nil
	suite.completions = nil
	suite.upgrades = nil
	suite.sendErr = nil

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	suite.q = queue.New("AA:BB:CC:DD:EE:FF", 1, queue.Hooks{
		Send: func(op *queue.Op) error {
			suite.sent = append(suite.sent, op)
			if suite.sendErr != nil {
				return suite.sendErr(op)
			}
			return nil
		},
		Complete: func(op *queue.Op, res transport.OpResult) {
			suite.completions = append(suite.completions, completion{op: op, res: res})
		},
		SecurityUpgrade: func(op *queue.Op) {
			suite.upgrades = append(suite.upgrades, op)
		},
	}, logger)
}

func (suite *QueueTestSuite) TestFIFODispatchAndCompletion() {
	// GOAL: Verify operations run strictly one at a time and complete in FIFO order
	//
	// TEST SCENARIO: Enqueue read + write + rssi → results arrive one by one → completions mirror enqueue order exactly once

	suite.q.Enqueue(queue.NewRead(0x000A))
	suite.q.Enqueue(queue.NewWrite(0x000C, []byte{0x01}, true))
	suite.q.Enqueue(queue.NewReadRSSI())

	suite.Assert().Len(suite.sent, 1, "only the head MUST be dispatched")
	suite.Assert().Equal(transport.OpRead, suite.sent[0].Kind)
	suite.Assert().Equal(3, suite.q.Len())

	suite.q.HandleResult(transport.OpResult{Kind: transport.OpRead, Handle: 0x000A, Value: []byte{0x64}})
	suite.Assert().Len(suite.sent, 2, "completion MUST dispatch the next head")
	suite.Assert().Equal(transport.OpWrite, suite.sent[1].Kind)

	suite.q.HandleResult(transport.OpResult{Kind: transport.OpWrite, Handle: 0x000C})
	suite.q.HandleResult(transport.OpResult{Kind: transport.OpReadRSSI, RSSI: -60})

	suite.Require().Len(suite.completions, 3, "every operation MUST complete exactly once")
	suite.Assert().Equal(transport.OpRead, suite.completions[0].op.Kind, "completions MUST keep FIFO order")
	suite.Assert().Equal(transport.OpWrite, suite.completions[1].op.Kind)
	suite.Assert().Equal(transport.OpReadRSSI, suite.completions[2].op.Kind)
	suite.Assert().Equal([]byte{0x64}, suite.completions[0].res.Value)
	suite.Assert().Equal(-60, suite.completions[2].res.RSSI)
	suite.Assert().Equal(0, suite.q.Len(), "queue MUST drain")
	suite.Assert().Equal(uint64(3), suite.q.Processed())
}

func (suite *QueueTestSuite) TestSequenceNumbersAreMonotonic() {
	// GOAL: Verify each enqueued operation gets the next sequence number
	//
	// TEST SCENARIO: Enqueue three operations → sequence numbers 1, 2, 3 assigned in order

	a, b, c := queue.NewRead(1), queue.NewRead(2), queue.NewRead(3)
	suite.q.Enqueue(a)
	suite.q.Enqueue(b)
	suite.q.Enqueue(c)

	suite.Assert().Equal(uint64(1), a.Seq)
	suite.Assert().Equal(uint64(2), b.Seq)
	suite.Assert().Equal(uint64(3), c.Seq)
}

func (suite *QueueTestSuite) TestSecurityUpgradeRetriesExactlyOnce() {
	// GOAL: Verify the security-upgrade single-retry path
	//
	// TEST SCENARIO: Read fails with insufficient authentication → upgrade requested and op re-sent →
	// second security failure completes the op terminally

	suite.q.Enqueue(queue.NewRead(0x000A))
	suite.Require().Len(suite.sent, 1)

	secErr := transport.StatusInsufficientAuthentication.Err()
	suite.q.HandleResult(transport.OpResult{Kind: transport.OpRead, Handle: 0x000A, Err: secErr})

	suite.Assert().Len(suite.upgrades, 1, "first security failure MUST request exactly one upgrade")
	suite.Assert().Len(suite.sent, 2, "the same operation MUST be re-sent once")
	suite.Assert().Same(suite.sent[0], suite.sent[1], "the retried op MUST be the original, not a copy")
	suite.Assert().Empty(suite.completions, "no outcome MUST surface before the retry resolves")

	suite.q.HandleResult(transport.OpResult{Kind: transport.OpRead, Handle: 0x000A, Err: secErr})

	suite.Require().Len(suite.completions, 1, "second security failure MUST be terminal")
	suite.Assert().ErrorIs(suite.completions[0].res.Err, transport.ErrSecurityUpgradeRequired)
	suite.Assert().Len(suite.upgrades, 1, "no second upgrade MUST be requested")
	suite.Assert().Len(suite.sent, 2, "no third dispatch MUST happen")
}

func (suite *QueueTestSuite) TestSecurityRetrySucceeds() {
	// GOAL: Verify a successful retry after an upgrade surfaces success exactly once
	//
	// TEST SCENARIO: Read fails with insufficient encryption → retry sent → retry succeeds → one successful completion

	suite.q.Enqueue(queue.NewRead(0x000A))
	suite.q.HandleResult(transport.OpResult{Kind: transport.OpRead, Err: transport.StatusInsufficientEncryption.Err()})
	suite.q.HandleResult(transport.OpResult{Kind: transport.OpRead, Value: []byte{0x2A}})

	suite.Require().Len(suite.completions, 1)
	suite.Assert().NoError(suite.completions[0].res.Err)
	suite.Assert().Equal([]byte{0x2A}, suite.completions[0].res.Value)
}

func (suite *QueueTestSuite) TestUnexpectedResultIgnored() {
	// GOAL: Verify stray transport results cannot corrupt the queue
	//
	// TEST SCENARIO: Result with empty queue → dropped; result of a different kind than in flight → dropped

	suite.q.HandleResult(transport.OpResult{Kind: transport.OpRead})
	suite.Assert().Empty(suite.completions, "result with nothing in flight MUST be ignored")

	suite.q.Enqueue(queue.NewWrite(0x000C, []byte{0x01}, true))
	suite.q.HandleResult(transport.OpResult{Kind: transport.OpReadRSSI, RSSI: -50})

	suite.Assert().Empty(suite.completions, "mismatched result kind MUST be ignored")
	suite.Assert().NotNil(suite.q.InFlight(), "the in-flight operation MUST stay in flight")

	suite.q.HandleResult(transport.OpResult{Kind: transport.OpWrite})
	suite.Assert().Len(suite.completions, 1, "the real result MUST still complete the op")
}

func (suite *QueueTestSuite) TestFailAllReportsInFIFOOrder() {
	// GOAL: Verify disconnect teardown fails every queued operation in order
	//
	// TEST SCENARIO: Three queued ops → FailAll(not connected) → three completions in enqueue order, queue empty

	suite.q.Enqueue(queue.NewRead(0x000A))
	suite.q.Enqueue(queue.NewWrite(0x000C, []byte{0x01}, false))
	suite.q.Enqueue(queue.NewRequestMTU(185))

	suite.q.FailAll(transport.ErrNotConnected)

	suite.Require().Len(suite.completions, 3, "every queued op MUST be reported")
	suite.Assert().Equal(transport.OpRead, suite.completions[0].op.Kind, "failure reports MUST keep FIFO order")
	suite.Assert().Equal(transport.OpWrite, suite.completions[1].op.Kind)
	suite.Assert().Equal(transport.OpRequestMTU, suite.completions[2].op.Kind)
	for _, c := range suite.completions {
		suite.Assert().ErrorIs(c.res.Err, transport.ErrNotConnected, "each op MUST fail with not connected")
	}
	suite.Assert().Equal(0, suite.q.Len())
	suite.Assert().Nil(suite.q.InFlight())
}

func (suite *QueueTestSuite) TestQueueReusableAfterFailAll() {
	// GOAL: Verify the queue keeps working after a teardown
	//
	// TEST SCENARIO: FailAll → enqueue again → new op dispatches and completes normally

	suite.q.Enqueue(queue.NewRead(0x000A))
	suite.q.FailAll(transport.ErrNotConnected)

	suite.q.Enqueue(queue.NewReadRSSI())
	suite.Assert().Len(suite.sent, 2, "a fresh op MUST dispatch after teardown")

	suite.q.HandleResult(transport.OpResult{Kind: transport.OpReadRSSI, RSSI: -42})
	suite.Require().Len(suite.completions, 2)
	suite.Assert().NoError(suite.completions[1].res.Err)
}

func (suite *QueueTestSuite) TestSendFailureCompletesAndAdvances() {
	// GOAL: Verify an immediate submission failure does not wedge the queue
	//
	// TEST SCENARIO: First send fails, second succeeds → first op completes with the error → second op dispatches

	boom := errors.New("hci submit failed")
	suite.sendErr = func(op *queue.Op) error {
		if op.Kind == transport.OpRead {
			return boom
		}
		return nil
	}

	suite.q.Enqueue(queue.NewRead(0x000A))
	suite.q.Enqueue(queue.NewReadRSSI())

	suite.Require().Len(suite.completions, 1, "the failed submission MUST complete immediately")
	suite.Assert().ErrorIs(suite.completions[0].res.Err, boom)
	suite.Assert().NotNil(suite.q.InFlight(), "the next op MUST be in flight")
	suite.Assert().Equal(transport.OpReadRSSI, suite.q.InFlight().Kind)
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}
