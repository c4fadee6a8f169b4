package mqtt

import "fmt"

// QoS is the delivery guarantee requested for a publish or subscription.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

// ParseQoS maps a numeric level to a QoS. Anything outside 0..2 falls back to AtLeastOnce.
func ParseQoS(level int) QoS {
	switch level {
	case 0:
		return AtMostOnce
	case 1:
		return AtLeastOnce
	case 2:
		return ExactlyOnce
	default:
		return AtLeastOnce
	}
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "qos0"
	case AtLeastOnce:
		return "qos1"
	case ExactlyOnce:
		return "qos2"
	}
	return fmt.Sprintf("qos(%d)", byte(q))
}

// Acked reports whether a publish at this level is confirmed by the broker.
func (q QoS) Acked() bool {
	return q != AtMostOnce
}
