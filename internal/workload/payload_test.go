package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorPayloads(t *testing.T) {
	src := NewSource()

	var imu []Imu
	require.NoError(t, json.Unmarshal(src.Payload(Item{Kind: IMU, Sequence: 4}), &imu))
	require.Len(t, imu, 1)
	assert.Equal(t, uint32(4), imu[0].Sequence)
	assert.InDelta(t, 9.805, imu[0].Az, 0.016)
	assert.NotZero(t, imu[0].Timestamp)

	var bms []Bms
	require.NoError(t, json.Unmarshal(src.Payload(Item{Kind: BMS, Sequence: 9}), &bms))
	require.Len(t, bms, 1)
	assert.Equal(t, int32(16), bms[0].CellVoltageCount)
	for _, v := range bms[0].CellVoltages {
		assert.GreaterOrEqual(t, v, 3.0)
		assert.Less(t, v, 3.2)
	}

	var gps []Gps
	require.NoError(t, json.Unmarshal(src.Payload(Item{Kind: GPS}), &gps))
	require.Len(t, gps, 1)
	assert.LessOrEqual(t, gps[0].Latitude, 90.0)
}
