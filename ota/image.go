package ota

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Image layout: a 24 byte image header, an 8 byte header for the first
// segment and then the 256 byte application descriptor.
const (
	imageHeaderSize   = 24
	segmentHeaderSize = 8
	appDescSize       = 256

	// HeaderSize is the number of leading bytes needed to read FirmwareInfo.
	HeaderSize = imageHeaderSize + segmentHeaderSize + appDescSize

	imageMagic   = 0xE9
	appDescMagic = 0xABCD5432
)

// offsets inside the application descriptor
const (
	descVersion = 16
	descProject = 48
	descTime    = 80
	descDate    = 96
	descIdfVer  = 112
)

var (
	ErrShortImage   = errors.New("image shorter than header")
	ErrImageMagic   = errors.New("bad image magic")
	ErrAppDescMagic = errors.New("bad application descriptor magic")
)

type FirmwareInfo struct {
	Version     string `json:"version"`
	Released    string `json:"released"`
	Description string `json:"description"`
}

func (f *FirmwareInfo) String() string {
	if f == nil {
		return "none"
	}
	return fmt.Sprintf("%v (%v, %v)", f.Version, f.Description, f.Released)
}

// ParseFirmwareInfo reads the firmware metadata from the start of an image.
func ParseFirmwareInfo(b []byte) (*FirmwareInfo, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortImage
	}
	if b[0] != imageMagic {
		return nil, ErrImageMagic
	}
	desc := b[imageHeaderSize+segmentHeaderSize : HeaderSize]
	if binary.LittleEndian.Uint32(desc) != appDescMagic {
		return nil, ErrAppDescMagic
	}
	return &FirmwareInfo{
		Version:     cstring(desc[descVersion:descProject]),
		Released:    cstring(desc[descDate:descIdfVer]) + " " + cstring(desc[descTime:descDate]),
		Description: cstring(desc[descProject:descTime]),
	}, nil
}

// EncodeHeader builds the leading HeaderSize bytes of an image carrying info.
// Released is expected as "<date> <time>".
func EncodeHeader(info FirmwareInfo) []byte {
	b := make([]byte, HeaderSize)
	b[0] = imageMagic
	desc := b[imageHeaderSize+segmentHeaderSize:]
	binary.LittleEndian.PutUint32(desc, appDescMagic)
	copy(desc[descVersion:descProject-1], info.Version)
	copy(desc[descProject:descTime-1], info.Description)
	date, tm, _ := strings.Cut(info.Released, " ")
	copy(desc[descTime:descDate-1], tm)
	copy(desc[descDate:descIdfVer-1], date)
	return b
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
