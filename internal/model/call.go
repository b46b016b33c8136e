package model

import "encoding/json"

// CallKind distinguishes audio-only from video calls. The relay never
// inspects media; the kind only rides along so the callee UI can prompt
// with the right controls.
type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

// CallUserPayload is the call-user request: an SDP offer addressed to a user.
type CallUserPayload struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       string          `json:"from,omitempty"`
	Name       string          `json:"name,omitempty"`
	CallType   CallKind        `json:"callType"`
}

// IncomingCallPayload is delivered to every connection of the callee.
type IncomingCallPayload struct {
	CallID   string          `json:"callId"`
	From     string          `json:"from"`
	Name     string          `json:"name,omitempty"`
	Signal   json.RawMessage `json:"signal"`
	CallType CallKind        `json:"callType"`
}

// AcceptCallPayload is the accept-call request: the SDP answer back to the
// caller.
type AcceptCallPayload struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
	CallID string          `json:"callId,omitempty"`
}

// CallAcceptedPayload is delivered to the caller's connections.
type CallAcceptedPayload struct {
	CallID string          `json:"callId"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// CallPeerPayload addresses reject-call / end-call requests and the
// call-rejected / call-ended notifications.
type CallPeerPayload struct {
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	CallID string `json:"callId,omitempty"`
}

// IceCandidatePayload is forwarded verbatim between call parties; candidate
// order is preserved per sender.
type IceCandidatePayload struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}
