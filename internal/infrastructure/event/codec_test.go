package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct {
	OrderID string `json:"order_id" validate:"required"`
	Total   string `json:"total"`
}

func (orderPlaced) EventType() string { return "ordering.order_placed" }

type orderShipped struct {
	OrderID string `json:"order_id"`
}

func (orderShipped) EventType() string { return "ordering.order_shipped" }

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewPayloadCodec()
	codec.Register(&orderPlaced{})

	data, err := codec.Encode(&orderPlaced{OrderID: "o-1", Total: "19.90"})
	require.NoError(t, err)

	decoded, err := codec.Decode("ordering.order_placed", 1, data)
	require.NoError(t, err)
	placed, ok := decoded.(*orderPlaced)
	require.True(t, ok)
	assert.Equal(t, "o-1", placed.OrderID)
	assert.Equal(t, "19.90", placed.Total)
}

func TestCodecEncodeRejectsUnregistered(t *testing.T) {
	codec := NewPayloadCodec()

	_, err := codec.Encode(&orderShipped{OrderID: "o-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestCodecEncodeValidates(t *testing.T) {
	codec := NewPayloadCodec()
	codec.Register(&orderPlaced{})

	_, err := codec.Encode(&orderPlaced{Total: "19.90"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestCodecDecodeUnknownType(t *testing.T) {
	codec := NewPayloadCodec()

	_, err := codec.Decode("nope", 1, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestCodecDecodeRejectsNewerSchema(t *testing.T) {
	codec := NewPayloadCodec()
	codec.Register(&orderPlaced{})

	_, err := codec.Decode("ordering.order_placed", 2, []byte(`{"order_id":"o-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than registered")
}

func TestCodecDecodeZeroVersionTreatedAsOne(t *testing.T) {
	codec := NewPayloadCodec()
	codec.Register(&orderPlaced{})

	decoded, err := codec.Decode("ordering.order_placed", 0, []byte(`{"order_id":"o-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "o-1", decoded.(*orderPlaced).OrderID)
}

func TestCodecCurrentVersion(t *testing.T) {
	codec := NewPayloadCodec()
	codec.Register(&orderPlaced{})

	v, ok := codec.CurrentVersion("ordering.order_placed")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = codec.CurrentVersion("nope")
	assert.False(t, ok)

	assert.True(t, codec.IsRegistered("ordering.order_placed"))
	assert.False(t, codec.IsRegistered("ordering.order_shipped"))
}
