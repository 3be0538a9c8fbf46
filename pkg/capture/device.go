package capture

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device is the exclusive microphone handle. Open acquires the hardware;
// Read fills and returns one frame of samples; Close releases the
// hardware and is safe to call more than once.
type Device interface {
	Open(sampleRate, frameSize int) error
	Read() ([]float32, error)
	Close() error
}

// PortAudioDevice captures from the default input device.
type PortAudioDevice struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	opened bool
}

func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

func (d *PortAudioDevice) Open(sampleRate, frameSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	d.buf = make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, d.buf)
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return err
	}
	d.stream = stream
	d.opened = true
	return nil
}

func (d *PortAudioDevice) Read() ([]float32, error) {
	if err := d.stream.Read(); err != nil {
		return nil, err
	}
	return d.buf, nil
}

func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	_ = d.stream.Stop()
	err := d.stream.Close()
	_ = portaudio.Terminate()
	d.stream = nil
	return err
}
