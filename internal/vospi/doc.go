// Package vospi acquires video segments from the sensor's VoSPI port and
// reassembles them into frames.
//
// Data flows one way: a spidev.Transport yields raw packets, Classify
// separates discard filler from video packets, a SegmentReader collects one
// segment starting at its packet 0, and the Assembler tracks the 1→2→3→4
// segment sequence, emitting a Frame when the sequence completes. After more
// than ResyncThreshold consecutive non-productive cycles the Resynchronizer
// deselects the chip for the quiet period so the sensor restarts its packet
// numbering.
//
// A Grabber runs the Assembler on one dedicated goroutine. Every transport
// operation happens on that goroutine; other goroutines interact with it only
// through Stop (which cancels and joins), RequestResync and Stats.
//
// Cancellation is observed between single-packet reads while waiting for the
// first packet of a segment and at the top of every cycle. A bulk segment
// transfer in progress is never interrupted, and no timeout is applied to
// individual transfers.
package vospi
