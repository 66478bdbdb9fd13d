package spidev

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lepton.grabber/internal/monitoring"
)

// LinkTypeVoSPI tags recordings of raw transfers. It is DLT_USER0, reserved
// for private use.
const LinkTypeVoSPI = layers.LinkType(147)

// Each recorded record starts with one flag byte followed by the bytes the
// transfer received.
const (
	recordFlagDeselect byte = 1 << 0
	recordFlagError    byte = 1 << 1
)

// maxRecordSize bounds the snap length of a recording: one full segment with
// telemetry at the largest packet size plus the flag byte.
const maxRecordSize = 65536

// Recorder wraps a Transport and appends every transfer to a pcap file.
// The recording outlives the transport: Close only closes the wrapped
// transport, so a reopened Recorder keeps appending to the same file until
// Finish is called. Recording failures are logged and counted and never
// affect the transfer.
type Recorder struct {
	inner Transport

	mu        sync.Mutex
	f         io.WriteCloser
	w         *pcapgo.Writer
	now       func() time.Time
	n         int
	writeErrs int
}

// NewRecorder creates path and records the transfers performed through inner.
func NewRecorder(inner Transport, path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	r, err := newRecorder(inner, f, time.Now)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newRecorder(inner Transport, w io.WriteCloser, now func() time.Time) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(maxRecordSize, LinkTypeVoSPI); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Recorder{inner: inner, f: w, w: pw, now: now}, nil
}

// Open opens the wrapped transport. The recording is not touched.
func (r *Recorder) Open() error { return r.inner.Open() }

func (r *Recorder) IsOpen() bool { return r.inner.IsOpen() }

// Transfer forwards to the wrapped transport and records the result. A
// failed transfer is recorded with the error flag and no payload, so replay
// reproduces it. The returned error is always the transport's.
func (r *Recorder) Transfer(buf []byte, forceDeselect bool) error {
	err := r.inner.Transfer(buf, forceDeselect)

	var flags byte
	if forceDeselect {
		flags |= recordFlagDeselect
	}
	record := []byte{flags}
	if err != nil {
		record[0] |= recordFlagError
	} else {
		record = append(record, buf...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(record),
		Length:        len(record),
	}
	if werr := r.w.WritePacket(ci, record); werr != nil {
		r.writeErrs++
		// first failure, then every 1000th
		if r.writeErrs%1000 == 1 {
			monitoring.Logf("[spidev] failed to record transfer (%d failures): %v", r.writeErrs, werr)
		}
		return err
	}
	r.n++
	return err
}

// Records returns how many transfers have been written.
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// WriteErrors returns how many transfers could not be recorded.
func (r *Recorder) WriteErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeErrs
}

// Close closes the wrapped transport. The recording stays open.
func (r *Recorder) Close() error { return r.inner.Close() }

// Finish closes the recording. Later transfers still pass through but are
// not recorded. Finishing twice is a no-op.
func (r *Recorder) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f, r.w = nil, nil
	return err
}

// ReplayTransport plays back a recording made by Recorder. Transfers are
// answered in recorded order regardless of their requested length; a short
// record is padded with 0xFF. At the end of the recording Transfer fails
// with io.EOF (wrapped in ErrIO) unless Loop is set.
type ReplayTransport struct {
	path string
	// Loop rewinds to the first record at end of file.
	Loop bool

	mu sync.Mutex
	f  *os.File
	r  *pcapgo.Reader
}

// NewReplayTransport returns an unopened replay of path.
func NewReplayTransport(path string, loop bool) *ReplayTransport {
	return &ReplayTransport{path: path, Loop: loop}
}

func (t *ReplayTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f != nil {
		return nil
	}
	return t.openLocked()
}

func (t *ReplayTransport) openLocked() error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpen, t.path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrOpen, t.path, err)
	}
	if r.LinkType() != LinkTypeVoSPI {
		f.Close()
		return fmt.Errorf("%w: %s: unexpected link type %v", ErrOpen, t.path, r.LinkType())
	}
	t.f, t.r = f, r
	return nil
}

func (t *ReplayTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f != nil
}

func (t *ReplayTransport) Transfer(buf []byte, forceDeselect bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return ErrNotOpen
	}

	data, _, err := t.r.ReadPacketData()
	if errors.Is(err, io.EOF) && t.Loop {
		t.f.Close()
		t.f, t.r = nil, nil
		if err := t.openLocked(); err != nil {
			return fmt.Errorf("%w: rewind: %v", ErrIO, err)
		}
		data, _, err = t.r.ReadPacketData()
	}
	if err != nil {
		return fmt.Errorf("%w: replay: %w", ErrIO, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: replay: empty record", ErrIO)
	}
	if data[0]&recordFlagError != 0 {
		return fmt.Errorf("%w: replayed failure", ErrIO)
	}

	n := copy(buf, data[1:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0xFF
	}
	return nil
}

func (t *ReplayTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f, t.r = nil, nil
	return err
}
