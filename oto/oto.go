package oto

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/fxcircus/tapefour"
)

// Context wraps an oto/v3 context as a tapefour.AudioContext. The hardware
// pulls audio by reading from the processor; the read callback runs on oto's
// own goroutine so the processor must not block.
type Context struct {
	context *oto.Context
	player  *oto.Player
}

const otoBufferDuration = 50 * time.Millisecond

func NewContext() (*Context, error) {
	op := &oto.NewContextOptions{
		SampleRate:   tapefour.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   otoBufferDuration,
	}
	context, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{context: context}, nil
}

func (c *Context) Start(processor tapefour.AudioProcessor) error {
	if c.player != nil {
		return fmt.Errorf("context already started")
	}
	c.player = c.context.NewPlayer(&processorReader{processor: processor})
	c.player.Play()
	return nil
}

func (c *Context) Close() error {
	if c.player != nil {
		if err := c.player.Close(); err != nil {
			return fmt.Errorf("cannot close oto player: %w", err)
		}
		c.player = nil
	}
	return nil
}

// processorReader adapts an AudioProcessor to the io.Reader oto pulls from,
// converting the rendered floats to 16-bit samples in place.
type processorReader struct {
	processor tapefour.AudioProcessor
	scratch   tapefour.AudioBuffer
	floats    []float32
}

func (r *processorReader) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	if cap(r.scratch) < frames {
		r.scratch = make(tapefour.AudioBuffer, frames)
		r.floats = make([]float32, 2*frames)
	}
	buffer := r.scratch[:frames]
	for i := range buffer {
		buffer[i] = [2]float32{}
	}
	r.processor.Process(buffer)
	floats := r.floats[:2*frames]
	buffer.Interleave(floats)
	floatBufferTo16BitLE(floats, p)
	return frames * 4, nil
}

// floatBufferTo16BitLE converts a []float32 buffer to 16-bit little-endian
// integer bytes, clamping out-of-range samples.
func floatBufferTo16BitLE(floats []float32, p []byte) {
	for i, v := range floats {
		var uv int16
		if v < -1.0 {
			uv = -32767
		} else if v > 1.0 {
			uv = 32767
		} else {
			uv = int16(v * 32767)
		}
		p[2*i] = byte(uv)
		p[2*i+1] = byte(uv >> 8)
	}
}
