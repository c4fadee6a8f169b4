// Package workload produces the messages a publisher session sends.
package workload

import (
	"fmt"
	"time"
)

// Kind selects the payload shape of an Item.
type Kind int

const (
	Default Kind = iota
	IMU
	BMS
	GPS
)

func (k Kind) String() string {
	switch k {
	case Default:
		return "default"
	case IMU:
		return "imu"
	case BMS:
		return "bms"
	case GPS:
		return "gps"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Item is one schedulable unit of data generation.
type Item struct {
	Kind     Kind
	Sequence uint32
	// Delay between two emissions of this item. Zero means unthrottled.
	Delay time.Duration
	// PayloadSize applies to Default items only.
	PayloadSize int
}

// Next returns the item with its sequence advanced.
func (i Item) Next() Item {
	i.Sequence++
	return i
}

// DelayForRate converts a rate in messages per second into a per-item delay.
func DelayForRate(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}
