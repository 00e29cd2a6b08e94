package commitlog

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbenti/nsdb/internal/model"
)

func sampleBit(ts int64) model.Bit {
	return model.Bit{
		Timestamp: ts,
		Value:     model.Int64Scalar(1),
		Dimensions: map[string]model.Scalar{
			"creationDate": model.Int64Scalar(ts * 100),
			"ratio":        model.DecimalScalar(0.5),
		},
		Tags: map[string]model.Scalar{
			"name": model.StringScalar("John"),
		},
	}
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(Config{Dir: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)

	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, log.Append(NewEntry("db", "ns", "people", sampleBit(ts))))
	}
	require.NoError(t, log.Close())

	var replayed []Entry
	reader := NewReader(dir, zerolog.Nop())
	require.NoError(t, reader.ReplayAll(func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))

	require.Len(t, replayed, 5)
	assert.Equal(t, int64(5), reader.TotalEntries)
	assert.Equal(t, int64(0), reader.CorruptedEntries)

	first := replayed[0]
	assert.Equal(t, "db", first.Db)
	assert.Equal(t, "ns", first.Namespace)
	assert.Equal(t, "people", first.Metric)

	bit := first.Bit()
	assert.Equal(t, int64(1), bit.Timestamp)
	assert.Equal(t, model.Int64Scalar(1), bit.Value)
	assert.Equal(t, model.Int64Scalar(100), bit.Dimensions["creationDate"])
	assert.InDelta(t, 0.5, bit.Dimensions["ratio"].Float64(), 1e-9)
	assert.Equal(t, model.StringScalar("John"), bit.Tags["name"])
}

func TestReplayStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(Config{Dir: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, log.Append(NewEntry("db", "ns", "people", sampleBit(1))))
	require.NoError(t, log.Append(NewEntry("db", "ns", "people", sampleBit(2))))
	path := log.currentPath
	require.NoError(t, log.Close())

	// Corrupt the last byte of the segment.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	var replayed int
	reader := NewReader(dir, zerolog.Nop())
	require.NoError(t, reader.ReplayAll(func(Entry) error {
		replayed++
		return nil
	}))

	assert.Equal(t, 1, replayed)
	assert.Equal(t, int64(1), reader.CorruptedEntries)
}

func TestRotationBySize(t *testing.T) {
	dir := t.TempDir()

	log, err := Open(Config{Dir: dir, MaxSizeBytes: 256, Logger: zerolog.Nop()})
	require.NoError(t, err)
	for ts := int64(1); ts <= 20; ts++ {
		require.NoError(t, log.Append(NewEntry("db", "ns", "people", sampleBit(ts))))
	}
	require.NoError(t, log.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1)

	// rotation never loses entries
	var replayed int
	reader := NewReader(dir, zerolog.Nop())
	require.NoError(t, reader.ReplayAll(func(Entry) error {
		replayed++
		return nil
	}))
	assert.Equal(t, 20, replayed)
}

func TestPayloadTooLarge(t *testing.T) {
	log, err := Open(Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer log.Close()

	huge := sampleBit(1)
	huge.Tags["blob"] = model.StringScalar(string(make([]byte, MaxPayloadSize+1)))
	err = log.Append(NewEntry("db", "ns", "people", huge))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
