package ota

import (
	"fmt"
	"io"
)

type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotValid
	SlotPendingVerify
	SlotInvalid
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotValid:
		return "valid"
	case SlotPendingVerify:
		return "pending-verify"
	case SlotInvalid:
		return "invalid"
	}
	return "unknown"
}

// Slot is one partition able to hold a firmware image.
type Slot struct {
	Label    string
	State    SlotState
	Firmware *FirmwareInfo
}

func (s Slot) String() string {
	return fmt.Sprintf("%v [%v] firmware [%v]", s.Label, s.State, s.Firmware)
}

// Flash is the partition API used during an update. Only the Updater writes
// to it while an attempt is in progress.
type Flash interface {
	BootSlot() (Slot, error)
	RunningSlot() (Slot, error)
	UpdateSlot() (Slot, error)
	// LastInvalidSlot returns nil when no slot has been marked invalid.
	LastInvalidSlot() (*Slot, error)
	BeginUpdate() (Update, error)
	MarkRunningValid() error
}

// Update is a write session on the inactive slot. Complete makes the slot
// bootable, Abort marks it invalid.
type Update interface {
	io.Writer
	Complete() error
	Abort() error
}

type Restarter interface {
	Restart() error
}
