package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"station":"Dano"}`),
		Topic:     "raw-station-uploads",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "file_name", Value: []byte("Dano_2021.csv")},
			{Key: "content_type", Value: []byte("text/csv")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"station":"Dano"}`, string(raw.Value))
	assert.Equal(t, "raw-station-uploads", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "Dano_2021.csv", raw.Headers["file_name"])
	assert.Equal(t, "text/csv", raw.Headers["content_type"])
	assert.Nil(t, raw.Commit, "commit is attached by the reader")
}

func TestSerializeToMessage(t *testing.T) {
	at := time.Date(2021, 7, 15, 6, 0, 0, 0, time.UTC)
	processed := time.Date(2021, 8, 1, 12, 0, 0, 0, time.FixedZone("GMT+1", 3600))
	temp := 24.1
	r := domain.ProcessedReading{
		Station:  "Dano",
		Datetime: at,
		Year:     2021, Month: 7, Day: 15, Hour: 6,
		Values: map[string]*float64{
			domain.VarAirTemp:   &temp,
			domain.VarWindSpeed: nil,
		},
		IsDaylight:       true,
		DaylightDuration: "12:30:00",
	}

	msg, err := serializeToMessage(r, "upload-1", processed)
	require.NoError(t, err)

	assert.Equal(t, "Dano|2021-07-15T06:00:00Z", string(msg.Key))
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "station", msg.Headers[0].Key)
	assert.Equal(t, []byte("Dano"), msg.Headers[0].Value)
	assert.Equal(t, "upload_id", msg.Headers[1].Key)
	assert.Equal(t, []byte("upload-1"), msg.Headers[1].Value)
	assert.Equal(t, "processed_at", msg.Headers[2].Key)
	assert.Equal(t, []byte("2021-08-01T11:00:00Z"), msg.Headers[2].Value)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	values := decoded["values"].(map[string]any)
	assert.InDelta(t, 24.1, values[domain.VarAirTemp], 1e-9)
	assert.Contains(t, values, domain.VarWindSpeed)
	assert.Nil(t, values[domain.VarWindSpeed], "missing values are published as null")
	assert.Equal(t, true, decoded["is_daylight"])
}
