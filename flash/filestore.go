package flash

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gr-butler/anemometer/ota"
	logger "github.com/sirupsen/logrus"
)

const (
	SlotA = "ota_0"
	SlotB = "ota_1"

	otaDataFile = "otadata.json"
)

var ErrUpdateInProgress = errors.New("update already in progress")

type invalidRecord struct {
	Label    string            `json:"label"`
	Firmware *ota.FirmwareInfo `json:"firmware,omitempty"`
}

// otaData is the persisted boot selection. A slot booted with PendingVerify
// set that does not call MarkRunningValid before the next start is rolled
// back.
type otaData struct {
	Boot          string                       `json:"boot"`
	Previous      string                       `json:"previous,omitempty"`
	PendingVerify bool                         `json:"pending_verify"`
	BootAttempts  int                          `json:"boot_attempts"`
	Invalid       *invalidRecord               `json:"invalid,omitempty"`
	Firmware      map[string]*ota.FirmwareInfo `json:"firmware"`
}

// FileStore keeps two firmware slots as files in a directory.
type FileStore struct {
	dir      string
	lock     sync.Mutex
	data     otaData
	running  string
	updating bool
}

var _ ota.Flash = (*FileStore)(nil)

// Open loads the slot table and records this start as a boot of the selected
// slot, rolling back to the previous slot if the selected one was never
// confirmed.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}

	d := &s.data
	if d.PendingVerify {
		d.BootAttempts++
		if d.BootAttempts > 1 && d.Previous != "" {
			logger.Warnf("Slot [%v] was not confirmed, rolling back to [%v]", d.Boot, d.Previous)
			d.Invalid = &invalidRecord{Label: d.Boot, Firmware: d.Firmware[d.Boot]}
			d.Boot, d.Previous = d.Previous, ""
			d.PendingVerify = false
			d.BootAttempts = 0
		}
	}
	s.running = d.Boot
	if err := s.save(); err != nil {
		return nil, err
	}
	logger.Infof("Flash store [%v] running slot [%v]", dir, s.running)
	return s, nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(filepath.Join(s.dir, otaDataFile))
	if errors.Is(err, os.ErrNotExist) {
		s.data = otaData{Boot: SlotA, Firmware: map[string]*ota.FirmwareInfo{}}
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return fmt.Errorf("corrupt %v: %w", otaDataFile, err)
	}
	if s.data.Boot != SlotA && s.data.Boot != SlotB {
		return fmt.Errorf("corrupt %v: boot slot [%v]", otaDataFile, s.data.Boot)
	}
	if s.data.Firmware == nil {
		s.data.Firmware = map[string]*ota.FirmwareInfo{}
	}
	return nil
}

func (s *FileStore) save() error {
	b, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, otaDataFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, otaDataFile))
}

// ImagePath is where the firmware of a slot is stored.
func (s *FileStore) ImagePath(label string) string {
	return filepath.Join(s.dir, label+".bin")
}

func other(label string) string {
	if label == SlotA {
		return SlotB
	}
	return SlotA
}

func (s *FileStore) slot(label string) ota.Slot {
	d := &s.data
	sl := ota.Slot{Label: label, Firmware: d.Firmware[label]}
	switch {
	case d.Invalid != nil && d.Invalid.Label == label:
		sl.State = ota.SlotInvalid
		if sl.Firmware == nil {
			sl.Firmware = d.Invalid.Firmware
		}
	case label == d.Boot && d.PendingVerify:
		sl.State = ota.SlotPendingVerify
	case sl.Firmware != nil:
		sl.State = ota.SlotValid
	}
	return sl
}

func (s *FileStore) BootSlot() (ota.Slot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.slot(s.data.Boot), nil
}

func (s *FileStore) RunningSlot() (ota.Slot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.slot(s.running), nil
}

func (s *FileStore) UpdateSlot() (ota.Slot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.slot(other(s.running)), nil
}

func (s *FileStore) LastInvalidSlot() (*ota.Slot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.data.Invalid == nil {
		return nil, nil
	}
	sl := s.slot(s.data.Invalid.Label)
	return &sl, nil
}

// MarkRunningValid confirms the running slot so it is not rolled back.
func (s *FileStore) MarkRunningValid() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.running != s.data.Boot || !s.data.PendingVerify {
		return nil
	}
	logger.Infof("Marking slot [%v] valid", s.running)
	s.data.PendingVerify = false
	s.data.BootAttempts = 0
	return s.save()
}

func (s *FileStore) BeginUpdate() (ota.Update, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.updating {
		return nil, ErrUpdateInProgress
	}
	label := other(s.running)
	f, err := os.Create(s.ImagePath(label) + ".part")
	if err != nil {
		return nil, err
	}
	s.updating = true
	return &update{store: s, label: label, file: f}, nil
}

type update struct {
	store    *FileStore
	label    string
	file     *os.File
	written  int64
	closed   bool
	finished bool
}

func (u *update) Write(b []byte) (int, error) {
	if u.closed {
		return 0, os.ErrClosed
	}
	n, err := u.file.Write(b)
	u.written += int64(n)
	return n, err
}

// firmware reads the metadata back from the image, nil if the header was
// never written.
func (u *update) firmware() *ota.FirmwareInfo {
	if u.written < ota.HeaderSize {
		return nil
	}
	head := make([]byte, ota.HeaderSize)
	if _, err := u.file.ReadAt(head, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil
	}
	info, err := ota.ParseFirmwareInfo(head)
	if err != nil {
		return nil
	}
	return info
}

// Complete validates the image and makes it the boot slot, pending
// verification. On error the session stays open and must be aborted.
func (u *update) Complete() error {
	if u.closed {
		return os.ErrClosed
	}
	info := u.firmware()
	if info == nil {
		return fmt.Errorf("slot [%v] image has no valid header", u.label)
	}
	if err := u.file.Sync(); err != nil {
		return err
	}
	u.closed = true
	part := u.file.Name()
	if err := u.file.Close(); err != nil {
		return err
	}

	s := u.store
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := os.Rename(part, s.ImagePath(u.label)); err != nil {
		return err
	}
	u.finished = true
	s.updating = false
	d := &s.data
	d.Firmware[u.label] = info
	d.Previous = s.running
	d.Boot = u.label
	d.PendingVerify = true
	d.BootAttempts = 0
	if d.Invalid != nil && d.Invalid.Label == u.label {
		d.Invalid = nil
	}
	logger.Infof("Slot [%v] set as boot slot with [%v]", u.label, info)
	return s.save()
}

// Abort discards the image and marks the slot invalid. The version of an
// aborted download is not recorded, only a rolled back boot blocks a
// version, and a record already held for the slot is kept.
func (u *update) Abort() error {
	if u.finished {
		return nil
	}
	u.finished = true
	if !u.closed {
		u.closed = true
		u.file.Close()
	}
	rmErr := os.Remove(u.file.Name())
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}

	s := u.store
	s.lock.Lock()
	defer s.lock.Unlock()
	s.updating = false
	d := &s.data
	delete(d.Firmware, u.label)
	if d.Invalid == nil || d.Invalid.Label != u.label {
		d.Invalid = &invalidRecord{Label: u.label}
	}
	if err := s.save(); err != nil {
		return err
	}
	return rmErr
}
