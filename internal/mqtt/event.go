package mqtt

import "fmt"

// EventKind identifies a protocol event surfaced by an EventLoop.
type EventKind int

const (
	ConnAck EventKind = iota
	SubAck
	UnsubAck
	Publish
	PubAck
	PingResp

	// Outgoing events are emitted when the client hands a packet to the transport.
	OutgoingPublish
	OutgoingPubAck
	OutgoingPingReq
)

var eventKindNames = map[EventKind]string{
	ConnAck:         "ConnAck",
	SubAck:          "SubAck",
	UnsubAck:        "UnsubAck",
	Publish:         "Publish",
	PubAck:          "PubAck",
	PingResp:        "PingResp",
	OutgoingPublish: "Outgoing(Publish)",
	OutgoingPubAck:  "Outgoing(PubAck)",
	OutgoingPingReq: "Outgoing(PingReq)",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Outgoing reports whether the event describes a packet we sent.
func (k EventKind) Outgoing() bool {
	return k >= OutgoingPublish
}

// Event is one step of a connection's protocol conversation. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// Pkid is set on SubAck, UnsubAck, PubAck, OutgoingPublish and OutgoingPubAck.
	Pkid uint16

	// Publish fields.
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool

	// ConnAck fields.
	SessionPresent bool
	ReturnCode     byte
}

func (e Event) String() string {
	switch e.Kind {
	case Publish:
		return fmt.Sprintf("Publish(topic=%s, qos=%d, retained=%t, len=%d)", e.Topic, e.QoS, e.Retained, len(e.Payload))
	case ConnAck:
		return fmt.Sprintf("ConnAck(session_present=%t, code=%d)", e.SessionPresent, e.ReturnCode)
	case SubAck, UnsubAck, PubAck, OutgoingPublish, OutgoingPubAck:
		return fmt.Sprintf("%s(pkid=%d)", e.Kind, e.Pkid)
	}
	return e.Kind.String()
}
