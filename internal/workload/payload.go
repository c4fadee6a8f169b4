package workload

import (
	"math/rand/v2"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Imu struct {
	Sequence  uint32  `json:"sequence"`
	Timestamp uint64  `json:"timestamp"`
	Ax        float64 `json:"ax"`
	Ay        float64 `json:"ay"`
	Az        float64 `json:"az"`
	Pitch     float64 `json:"pitch"`
	Roll      float64 `json:"roll"`
	Yaw       float64 `json:"yaw"`
	MagX      float64 `json:"magx"`
	MagY      float64 `json:"magy"`
	MagZ      float64 `json:"magz"`
}

type Gps struct {
	Sequence  uint32  `json:"sequence"`
	Timestamp uint64  `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Bms struct {
	Sequence            uint32      `json:"sequence"`
	Timestamp           uint64      `json:"timestamp"`
	PeriodicityMs       int32       `json:"periodicity_ms"`
	MosfetTemperature   float64     `json:"mosfet_temperature"`
	AmbientTemperature  float64     `json:"ambient_temperature"`
	MosfetStatus        int32       `json:"mosfet_status"`
	CellVoltageCount    int32       `json:"cell_voltage_count"`
	CellVoltages        [16]float64 `json:"cell_voltages"`
	CellThermistorCount int32       `json:"cell_thermistor_count"`
	CellTemps           [8]float64  `json:"cell_temps"`
	CellBalancingStatus int32       `json:"cell_balancing_status"`
	PackVoltage         float64     `json:"pack_voltage"`
	PackCurrent         float64     `json:"pack_current"`
	PackSoc             float64     `json:"pack_soc"`
	PackSoh             float64     `json:"pack_soh"`
	PackSop             float64     `json:"pack_sop"`
	PackCycleCount      int64       `json:"pack_cycle_count"`
	PackAvailableEnergy int64       `json:"pack_available_energy"`
	PackConsumedEnergy  int64       `json:"pack_consumed_energy"`
	PackFault           int32       `json:"pack_fault"`
	PackStatus          int32       `json:"pack_status"`
}

// Source synthesizes payloads. It is not safe for concurrent use; each
// generator owns one.
type Source struct {
	rng *rand.Rand
}

func NewSource() *Source {
	return &Source{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (s *Source) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *Source) intBetween(lo, hi int64) int64 {
	return lo + s.rng.Int64N(hi-lo)
}

// Payload renders an item. Default items are zero-filled buffers of
// PayloadSize bytes, sensor items a single-element JSON array.
func (s *Source) Payload(it Item) []byte {
	var v any
	switch it.Kind {
	case IMU:
		v = []Imu{s.Imu(it.Sequence)}
	case BMS:
		v = []Bms{s.Bms(it.Sequence)}
	case GPS:
		v = []Gps{s.Gps(it.Sequence)}
	default:
		return make([]byte, it.PayloadSize)
	}

	b, err := json.Marshal(v)
	if err != nil {
		// plain structs of numbers always marshal
		panic(err)
	}
	return b
}

func timestamp() uint64 {
	return uint64(time.Now().UnixMilli())
}

func (s *Source) Imu(seq uint32) Imu {
	return Imu{
		Sequence:  seq,
		Timestamp: timestamp(),
		Ax:        s.between(1.0, 2.8),
		Ay:        s.between(1.0, 2.8),
		Az:        s.between(9.79, 9.82),
		Pitch:     s.between(0.8, 1.0),
		Roll:      s.between(0.8, 1.0),
		Yaw:       s.between(0.8, 1.0),
		MagX:      s.between(-45, -15),
		MagY:      s.between(-45, -15),
		MagZ:      s.between(-45, -15),
	}
}

func (s *Source) Gps(seq uint32) Gps {
	return Gps{
		Sequence:  seq,
		Timestamp: timestamp(),
		Latitude:  s.between(-90, 90),
		Longitude: s.between(-180, 180),
	}
}

func (s *Source) Bms(seq uint32) Bms {
	b := Bms{
		Sequence:            seq,
		Timestamp:           timestamp(),
		PeriodicityMs:       250,
		MosfetTemperature:   s.between(40, 45),
		AmbientTemperature:  s.between(35, 40),
		MosfetStatus:        1,
		CellVoltageCount:    16,
		CellThermistorCount: 8,
		CellBalancingStatus: 1,
		PackVoltage:         s.between(95, 96),
		PackCurrent:         s.between(15, 20),
		PackSoc:             s.between(80, 90),
		PackSoh:             s.between(9.5, 9.9),
		PackSop:             s.between(9.5, 9.9),
		PackCycleCount:      s.intBetween(100, 150),
		PackAvailableEnergy: s.intBetween(2000, 3000),
		PackConsumedEnergy:  s.intBetween(2000, 3000),
		PackStatus:          1,
	}
	for i := range b.CellVoltages {
		b.CellVoltages[i] = s.between(3.0, 3.2)
	}
	for i := range b.CellTemps {
		b.CellTemps[i] = s.between(40, 43)
	}
	return b
}
