package pano

import (
	"image"

	"github.com/abworrall/pano-composite/pkg/perr"
	"github.com/abworrall/pano-composite/pkg/storage"
	"github.com/abworrall/pano-composite/pkg/tilestore"
)

// A Sink receives the finished panorama as horizontal strips, top to
// bottom. Channels are linear RGB plus a coverage alpha. Close is always
// called once Begin has succeeded, even after a failed Write.
type Sink interface {
	Begin(width, height, channels int, dt storage.DataType) error
	Write(strip *tilestore.Buffer) error
	Close() error
}

// MemorySink collects the panorama into a single buffer.
type MemorySink struct {
	Buf      *tilestore.Buffer
	DataType storage.DataType
	Closed   bool
}

func (m *MemorySink) Begin(width, height, channels int, dt storage.DataType) error {
	m.Buf = tilestore.NewBuffer(image.Rect(0, 0, width, height), channels)
	m.DataType = dt
	return nil
}

func (m *MemorySink) Write(strip *tilestore.Buffer) error {
	if m.Buf == nil || m.Closed {
		return perr.New(perr.IOFailure, "memory sink is not open")
	}
	m.Buf.CopyFrom(strip)
	return nil
}

func (m *MemorySink) Close() error {
	m.Closed = true
	return nil
}
