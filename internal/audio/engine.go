// Package audio is the reference implementation of the scheduler's opaque
// audio-clock collaborator: a small polyphonic oscillator engine driven by
// PortAudio output, so internal/scheduler has something real to dispatch
// onto. Synthesis quality is not the point — sample-accurate scheduling is.
package audio

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate      = 48000
	channels        = 1
	framesPerBuffer = 960 // 20ms @ 48kHz, matching the client's voice-chat frame size
	rootFrequencyHz = 220.0
)

// Device describes an available output device.
type Device struct {
	ID   int
	Name string
}

// paStream abstracts a PortAudio output stream so the mixing logic can be
// exercised without real hardware.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// note is a scheduled oscillator voice, positioned on the engine's sample
// clock (not wall time — audioTime is converted to a sample index as soon
// as it's scheduled).
type note struct {
	trackID     string
	sampleID    string
	startSample int64
	endSample   int64
	frequencyHz float64
	velocity    float64
}

// Engine renders scheduled notes to an output stream. It implements
// scheduler.AudioClock.
type Engine struct {
	outputDeviceID int

	stream  paStream
	running atomic.Bool
	clock   atomic.Int64 // samples written since Start

	mu      sync.Mutex
	pending []note

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns an Engine using the default output device.
func New() *Engine {
	return &Engine{outputDeviceID: -1}
}

// SetOutputDevice selects an output device by index (see ListOutputDevices).
func (e *Engine) SetOutputDevice(id int) { e.outputDeviceID = id }

// ListOutputDevices returns the available PortAudio output devices.
func ListOutputDevices() []Device {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Printf("[audio] list devices: %v", err)
		return nil
	}
	var out []Device
	for i, d := range devices {
		if d.MaxOutputChannels > 0 {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out
}

// Start opens the output stream and begins the render loop.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		e.running.Store(false)
		return err
	}
	outputDev, err := resolveDevice(devices, e.outputDeviceID)
	if err != nil {
		e.running.Store(false)
		return err
	}

	buf := make([]float32, framesPerBuffer)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: channels,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		e.running.Store(false)
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		e.running.Store(false)
		return err
	}

	e.stream = stream
	e.clock.Store(0)
	e.stopCh = make(chan struct{})

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.renderLoop(buf) }()

	log.Printf("[audio] started output=%s", outputDev.Name)
	return nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return portaudio.DefaultOutputDevice()
}

// Stop halts the render loop and closes the stream. Stream teardown
// mirrors the capture/playback shutdown order the client voice engine
// uses: stop the stream (unblocking any in-flight Write), wait for the
// render goroutine to exit, then close — never close first, or the
// goroutine's Write races a freed native stream.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)
	if e.stream != nil {
		e.stream.Stop()
	}
	e.wg.Wait()
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
}

// Now returns elapsed render time since Start, implementing
// scheduler.AudioClock.
func (e *Engine) Now() time.Duration {
	samples := e.clock.Load()
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// ScheduleNote queues an oscillator voice. audioTime and duration are
// measured against Now(), implementing scheduler.AudioClock.
func (e *Engine) ScheduleNote(trackID, sampleID string, audioTime time.Duration, pitch int, velocity float64, duration time.Duration) {
	start := samplesFromDuration(audioTime)
	end := samplesFromDuration(audioTime + duration)
	if end <= start {
		end = start + 1
	}
	n := note{
		trackID:     trackID,
		sampleID:    sampleID,
		startSample: start,
		endSample:   end,
		frequencyHz: frequencyForPitch(pitch),
		velocity:    velocity,
	}
	e.mu.Lock()
	e.pending = append(e.pending, n)
	e.mu.Unlock()
}

// CancelScheduledAfter drops trackID's queued notes starting at or after
// audioTime, implementing scheduler.AudioClock.
func (e *Engine) CancelScheduledAfter(trackID string, audioTime time.Duration) {
	cutoff := samplesFromDuration(audioTime)
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.pending[:0]
	for _, n := range e.pending {
		if n.trackID == trackID && n.startSample >= cutoff {
			continue
		}
		kept = append(kept, n)
	}
	e.pending = kept
}

func (e *Engine) renderLoop(buf []float32) {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		bufStart := e.clock.Load()
		e.mu.Lock()
		renderBuffer(buf, bufStart, e.pending)
		e.pending = dropFinished(e.pending, bufStart+int64(len(buf)))
		e.mu.Unlock()

		if err := e.stream.Write(); err != nil {
			if e.running.Load() {
				log.Printf("[audio] write: %v", err)
			}
			return
		}
		e.clock.Add(int64(len(buf)))
	}
}

// renderBuffer mixes every note overlapping [bufStart, bufStart+len(buf))
// into buf (first zeroing it) and returns how many notes contributed.
// Factored out of renderLoop so the mixing/envelope math is unit-testable
// without a real PortAudio stream.
func renderBuffer(buf []float32, bufStart int64, notes []note) int {
	for i := range buf {
		buf[i] = 0
	}
	bufEnd := bufStart + int64(len(buf))
	sounding := 0
	for _, n := range notes {
		if n.endSample <= bufStart || n.startSample >= bufEnd {
			continue
		}
		sounding++
		mixNote(buf, bufStart, n)
	}
	for i := range buf {
		buf[i] = clampFloat32(buf[i])
	}
	return sounding
}

// mixNote additively renders one note's oscillator into buf over its
// overlap with [bufStart, bufStart+len(buf)), applying a short linear
// fade-in/out to avoid clicks at the note's edges.
func mixNote(buf []float32, bufStart int64, n note) {
	const fadeSamples = 64
	total := n.endSample - n.startSample
	for i := range buf {
		sampleIdx := bufStart + int64(i)
		if sampleIdx < n.startSample || sampleIdx >= n.endSample {
			continue
		}
		t := float64(sampleIdx-n.startSample) / float64(sampleRate)
		osc := math.Sin(2 * math.Pi * n.frequencyHz * t)

		envelope := 1.0
		sinceStart := sampleIdx - n.startSample
		untilEnd := n.endSample - sampleIdx
		if total > 2*fadeSamples {
			if sinceStart < fadeSamples {
				envelope = float64(sinceStart) / float64(fadeSamples)
			} else if untilEnd < fadeSamples {
				envelope = float64(untilEnd) / float64(fadeSamples)
			}
		}

		buf[i] += float32(osc * n.velocity * envelope)
	}
}

func dropFinished(notes []note, horizon int64) []note {
	kept := notes[:0]
	for _, n := range notes {
		if n.endSample > horizon {
			kept = append(kept, n)
		}
	}
	return kept
}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

func samplesFromDuration(d time.Duration) int64 {
	return int64(d.Seconds() * float64(sampleRate))
}

// frequencyForPitch maps a semitone offset from the oscillator's root note
// (A3, 220Hz) to a frequency using equal temperament.
func frequencyForPitch(semitones int) float64 {
	return rootFrequencyHz * math.Pow(2, float64(semitones)/12.0)
}
