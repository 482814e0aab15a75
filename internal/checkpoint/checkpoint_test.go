package checkpoint

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkStats(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	sink, err := NewFileSink(dir, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec := StatsRecord{
			RunID:      "test-run",
			Timestep:   (i + 1) * 1000,
			Episodes:   i,
			MeanReward: float64(i) * 0.5,
			RecordedAt: time.Now(),
		}
		require.NoError(t, sink.WriteStats(rec))
	}
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, "statistics.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var records []StatsRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec StatsRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 3)
	assert.Equal(t, 1000, records[0].Timestep)
	assert.Equal(t, 3000, records[2].Timestep)
	assert.Equal(t, "test-run", records[1].RunID)
}

func TestFileSinkWeightsRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	sink, err := NewFileSink(dir, zerolog.Nop())
	require.NoError(t, err)
	defer sink.Close()

	params := []float32{0.1, -0.2, 0.3}
	require.NoError(t, sink.WriteWeights(500, params))

	// A later write replaces the blob.
	params2 := []float32{1, 2, 3, 4}
	require.NoError(t, sink.WriteWeights(900, params2))

	step, loaded, err := ReadWeights(dir)
	require.NoError(t, err)
	assert.Equal(t, 900, step)
	assert.Equal(t, params2, loaded)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dir, "weights.gob.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadWeightsMissing(t *testing.T) {
	_, _, err := ReadWeights(t.TempDir())
	assert.Error(t, err)
}

func TestNopSink(t *testing.T) {
	var s NopSink
	assert.NoError(t, s.WriteStats(StatsRecord{}))
	assert.NoError(t, s.WriteWeights(0, nil))
	assert.NoError(t, s.Close())
}
