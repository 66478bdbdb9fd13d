package spidev

import (
	"errors"
	"sync"
)

// ScriptedTransport implements Transport with a queue of canned responses.
// Each Transfer pops one response: data is copied into the caller's buffer
// (remaining bytes are filled with IdleByte), an error is returned as is.
// When the queue is empty every byte reads as IdleByte, which with the
// default 0xFF is a discard packet, just like an idle bus with MISO pulled up.
type ScriptedTransport struct {
	mu sync.Mutex

	responses []scriptedResponse

	// IdleByte fills buffers once the script is exhausted.
	IdleByte byte

	// OpenError is returned by Open while set.
	OpenError error

	// OnTransfer, when set, is called after each transfer with the number
	// of transfers performed so far. It runs without the lock held.
	OnTransfer func(n int)

	open   bool
	calls  []TransferCall
	opens  int
	closes int
}

// TransferCall records one Transfer invocation.
type TransferCall struct {
	Len           int
	ForceDeselect bool
	Err           error
}

type scriptedResponse struct {
	data []byte
	err  error
}

// NewScriptedTransport returns an unopened ScriptedTransport.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{IdleByte: 0xFF}
}

// Enqueue appends responses returned by successive transfers.
func (s *ScriptedTransport) Enqueue(data ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range data {
		s.responses = append(s.responses, scriptedResponse{data: d})
	}
}

// EnqueueError makes a future transfer fail with err (wrapped in ErrIO when
// it is not already).
func (s *ScriptedTransport) EnqueueError(err error) {
	if !errors.Is(err, ErrIO) {
		err = errors.Join(ErrIO, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scriptedResponse{err: err})
}

// Pending returns the number of queued responses.
func (s *ScriptedTransport) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

func (s *ScriptedTransport) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	s.opens++
	if s.OpenError != nil {
		if errors.Is(s.OpenError, ErrOpen) {
			return s.OpenError
		}
		return errors.Join(ErrOpen, s.OpenError)
	}
	s.open = true
	return nil
}

func (s *ScriptedTransport) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *ScriptedTransport) Transfer(buf []byte, forceDeselect bool) error {
	s.mu.Lock()
	if !s.open {
		s.calls = append(s.calls, TransferCall{Len: len(buf), ForceDeselect: forceDeselect, Err: ErrNotOpen})
		s.mu.Unlock()
		return ErrNotOpen
	}

	var resp scriptedResponse
	if len(s.responses) > 0 {
		resp = s.responses[0]
		s.responses = s.responses[1:]
	}

	if resp.err == nil {
		n := copy(buf, resp.data)
		for i := n; i < len(buf); i++ {
			buf[i] = s.IdleByte
		}
	}
	s.calls = append(s.calls, TransferCall{Len: len(buf), ForceDeselect: forceDeselect, Err: resp.err})
	n := len(s.calls)
	hook := s.OnTransfer
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return resp.err
}

func (s *ScriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.closes++
	return nil
}

// Calls returns a copy of the transfer log.
func (s *ScriptedTransport) Calls() []TransferCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransferCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Opens returns how many times Open attempted to open a closed transport.
func (s *ScriptedTransport) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes returns how many times an open transport was closed.
func (s *ScriptedTransport) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
