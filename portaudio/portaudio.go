package portaudio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"

	"github.com/fxcircus/tapefour"
)

// Context enumerates capture devices and opens mono input streams through
// portaudio, satisfying tapefour.InputContext. Devices are addressed by
// name; an empty id means the system default input.
type Context struct{}

func NewContext() (*Context, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("unable to setup portaudio: %w", err)
	}
	return &Context{}, nil
}

func (c *Context) Devices() ([]tapefour.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("could not list devices: %w", err)
	}
	defaultInput, _ := pa.DefaultInputDevice()
	var ret []tapefour.DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		ret = append(ret, tapefour.DeviceInfo{
			ID:               d.Name,
			Name:             d.Name,
			MaxInputChannels: d.MaxInputChannels,
			IsDefault:        defaultInput != nil && d.Name == defaultInput.Name,
		})
	}
	return ret, nil
}

func (c *Context) Open(deviceID string) (tapefour.AudioSource, error) {
	device, err := findDevice(deviceID)
	if err != nil {
		return nil, err
	}
	return &source{device: device}, nil
}

func (c *Context) Close() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio termination error: %w", err)
	}
	return nil
}

func findDevice(deviceID string) (*pa.DeviceInfo, error) {
	if deviceID == "" {
		device, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("could not list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels >= 1 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", deviceID)
}

// source is a blocking mono capture stream. The stream opens lazily on the
// first read so the buffer length can follow the caller's chunk size.
type source struct {
	device *pa.DeviceInfo
	stream *pa.Stream
	buffer []float32
}

func (s *source) ReadAudio(dst []float32) (int, error) {
	if s.stream == nil {
		if err := s.open(len(dst)); err != nil {
			return 0, err
		}
	}
	if len(dst) != len(s.buffer) {
		return 0, fmt.Errorf("read length changed from %v to %v", len(s.buffer), len(dst))
	}
	if err := s.stream.Read(); err != nil {
		return 0, fmt.Errorf("could not read stream: %w", err)
	}
	copy(dst, s.buffer)
	return len(dst), nil
}

func (s *source) open(frames int) error {
	s.buffer = make([]float32, frames)
	params := pa.LowLatencyParameters(s.device, nil)
	params.Input.Channels = 1
	params.SampleRate = tapefour.SampleRate
	params.FramesPerBuffer = frames
	stream, err := pa.OpenStream(params, s.buffer)
	if err != nil {
		return fmt.Errorf("could not open stream on %q: %w", s.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("could not start stream on %q: %w", s.device.Name, err)
	}
	s.stream = stream
	return nil
}

func (s *source) Close() error {
	if s.stream == nil {
		return nil
	}
	s.stream.Stop()
	err := s.stream.Close()
	s.stream = nil
	if err != nil {
		return fmt.Errorf("could not close stream: %w", err)
	}
	return nil
}
