// Package midi maps incoming MIDI notes to transport actions so a foot
// controller or pad can drive the recorder hands free. Only note-on messages
// are acted on; everything else is dropped.
package midi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Transport is the slice of the engine a remote controls.
type Transport interface {
	Play()
	Stop()
	Record()
	Arm(track int)
	UndoLastTake()
}

// Default note mapping, one octave starting at C2: white keys for the
// transport, the first four black keys arm tracks 1 to 4.
const (
	notePlay   = 36 // C2
	noteStop   = 38 // D2
	noteRecord = 40 // E2
	noteUndo   = 41 // F2
	noteArm1   = 37 // C#2
	noteArm2   = 39
	noteArm3   = 42
	noteArm4   = 44
)

type (
	Context struct {
		driver             *rtmididrv.Driver
		currentIn          drivers.In
		inputDevices       []Device
		devicesInitialized bool
		transport          Transport
	}

	Device struct {
		context *Context
		in      drivers.In
	}
)

// NewContext opens the rtmidi driver. A missing driver is not an error;
// the context just never yields any devices.
func NewContext(transport Transport) *Context {
	c := Context{transport: transport}
	c.driver, _ = rtmididrv.New()
	return &c
}

func (c *Context) InputDevices(yield func(Device) bool) {
	if c.devicesInitialized {
		for _, device := range c.inputDevices {
			if !yield(device) {
				break
			}
		}
		return
	}
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for _, in := range ins {
		device := Device{context: c, in: in}
		c.inputDevices = append(c.inputDevices, device)
		if !yield(device) {
			break
		}
	}
	c.devicesInitialized = true
}

// Open an input device while closing the currently open if necessary.
func (d Device) Open() error {
	if d.context.currentIn == d.in {
		return nil
	}
	if d.context.driver == nil {
		return errors.New("no driver available")
	}
	if d.context.HasDeviceOpen() {
		d.context.currentIn.Close()
	}
	d.context.currentIn = d.in
	if err := d.in.Open(); err != nil {
		d.context.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	_, err := midi.ListenTo(d.in, d.context.handleMessage)
	if err != nil {
		d.in.Close()
		d.context.currentIn = nil
	}
	return err
}

func (d Device) String() string {
	return d.in.String()
}

// TryToOpenBy opens the first device whose name starts with namePrefix, or
// just the first device when takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) {
	if namePrefix == "" && !takeFirst {
		return
	}
	for input := range c.InputDevices {
		if takeFirst || strings.HasPrefix(input.String(), namePrefix) {
			input.Open()
			return
		}
	}
}

func (c *Context) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

func (c *Context) Close() {
	if c.driver == nil {
		return
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}

// handleMessage runs on the driver's listener goroutine; the transport
// methods behind it are safe to call from any goroutine.
func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity uint8
	if !msg.GetNoteOn(&channel, &key, &velocity) || velocity == 0 {
		return
	}
	switch key {
	case notePlay:
		c.transport.Play()
	case noteStop:
		c.transport.Stop()
	case noteRecord:
		c.transport.Record()
	case noteUndo:
		c.transport.UndoLastTake()
	case noteArm1:
		c.transport.Arm(1)
	case noteArm2:
		c.transport.Arm(2)
	case noteArm3:
		c.transport.Arm(3)
	case noteArm4:
		c.transport.Arm(4)
	}
}
