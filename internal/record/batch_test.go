package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		codec CompressionCodec
	}{
		{"none", CompressionNone},
		{"gzip", CompressionGzip},
		{"snappy", CompressionSnappy},
		{"lz4", CompressionLZ4},
		{"zstd", CompressionZstd},
	}

	records := []Record{
		{Timestamp: 1000, Key: []byte("k1"), Value: []byte("v1"), Headers: []Header{{Key: []byte("h"), Value: []byte("1")}}},
		{Timestamp: 1001, Key: nil, Value: []byte("v2")},
		{Timestamp: 1002, Key: []byte("k3"), Value: []byte("v3")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodeBatch(42, 7, records, tc.codec)
			require.NoError(t, err)

			batch, err := DecodeBatch(raw)
			require.NoError(t, err)
			require.Equal(t, uint64(42), batch.Header.BaseOffset)
			require.Equal(t, int32(3), batch.Header.RecordsCount)
			require.Equal(t, tc.codec, batch.Header.Compression())

			got, err := batch.Records()
			require.NoError(t, err)
			require.Len(t, got, 3)

			for i, r := range got {
				require.Equal(t, uint64(42+i), r.Offset)
				require.Equal(t, uint64(7), r.Epoch)
				require.Equal(t, records[i].Value, r.Value)
				require.Equal(t, records[i].Key, r.Key)
			}
			require.Equal(t, []byte("1"), got[0].Headers[0].Value)
		})
	}
}

func TestDecodeBatchRejectsCorruptCRC(t *testing.T) {
	raw, err := EncodeBatch(0, 1, []Record{{Timestamp: 1, Value: []byte("x")}}, CompressionNone)
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0xFF

	_, err = DecodeBatch(raw)
	require.ErrorIs(t, err, ErrCRCMismatch)
}

func TestDecodeBatchRejectsShortInput(t *testing.T) {
	_, err := DecodeBatch([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInsufficientData)
}
