// Package retry implements the recovery decision a device client makes
// when an in-flight v2.0 control request times out: given the outcome
// of a status-port probe, decide whether the original request or its
// reply was lost, or whether the failure is unrecoverable.
package retry

import (
	"github.com/malbeclabs/ipbus-deviceclient/internal/protocol"
	"github.com/malbeclabs/ipbus-deviceclient/internal/status"
	"github.com/malbeclabs/ipbus-deviceclient/internal/wire"
)

// Action is the recovery action the single-flight engine should take.
type Action uint8

const (
	// ResendRequest re-sends the saved packet bytes to the control port:
	// the target never saw the original request.
	ResendRequest Action = iota
	// ResendReply asks the target to retransmit its previous reply: the
	// target processed the request but the reply was lost in transit.
	ResendReply
	// Fail reports ErrorCode to the requester and clears in-flight state;
	// this recovery attempt cannot resolve the timeout.
	Fail
)

func (a Action) String() string {
	switch a {
	case ResendRequest:
		return "resend_request"
	case ResendReply:
		return "resend_reply"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Decide. ErrorCode is only meaningful when
// Action == Fail.
type Decision struct {
	Action    Action
	ErrorCode protocol.ErrorCode
}

// Decide interprets the outcome of a status-port probe issued after an
// in-flight request stamped with sentID timed out. It implements the
// case table:
//
//	observed == decrement_id(increment_id(sentID)) [== sentID]  -> request lost, resend
//	observed == increment_id(sentID)                            -> reply lost, resend-of-reply
//	any other value, or a malformed/timed-out probe              -> unrecoverable
func Decide(sentID wire.ID, outcome status.Outcome, probeErr error) Decision {
	if probeErr != nil {
		switch probeErr {
		case status.ErrTimeout:
			return Decision{Action: Fail, ErrorCode: protocol.StatusTimeout}
		default:
			return Decision{Action: Fail, ErrorCode: protocol.MalformedStatus}
		}
	}

	nextID := wire.IncrementID(sentID)
	switch outcome.NextExpectedID {
	case wire.DecrementID(nextID):
		return Decision{Action: ResendRequest}
	case nextID:
		return Decision{Action: ResendReply}
	default:
		return Decision{Action: Fail, ErrorCode: protocol.MalformedStatus}
	}
}
