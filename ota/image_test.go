package ota

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirmwareInfoRoundTrip(t *testing.T) {
	in := FirmwareInfo{Version: "0.3.1", Description: "anemometer", Released: "Oct 15 2026 09:12:44"}
	out, err := ParseFirmwareInfo(EncodeHeader(in))
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestParseFirmwareInfoErrors(t *testing.T) {
	_, err := ParseFirmwareInfo(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrShortImage)

	_, err = ParseFirmwareInfo(make([]byte, HeaderSize))
	assert.ErrorIs(t, err, ErrImageMagic)

	b := EncodeHeader(FirmwareInfo{Version: "1"})
	b[imageHeaderSize+segmentHeaderSize] = 0
	_, err = ParseFirmwareInfo(b)
	assert.ErrorIs(t, err, ErrAppDescMagic)
}

func TestVersionTruncated(t *testing.T) {
	long := "0123456789012345678901234567890123456789"
	out, err := ParseFirmwareInfo(EncodeHeader(FirmwareInfo{Version: long}))
	require.NoError(t, err)
	assert.Equal(t, long[:31], out.Version)
}
