package engine

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds the advisory, per-user state that survives across sessions:
// device choices, capture processing hints, export preferences and the last
// armed track. Everything here is a hint; the engine runs fine with the
// defaults when the file is missing or stale.
type Settings struct {
	Devices struct {
		Input  string `yaml:",omitempty"`
		Output string `yaml:",omitempty"`
	}
	Capture struct {
		EchoCancellation bool
		NoiseSuppression bool
		AutoGain         bool
	}
	Export struct {
		Multitrack bool
	}
	Metronome struct {
		Volume float64
	}
	Session struct {
		ArmedTrack       int
		LatencyDismissed bool `yaml:",omitempty"`
	}

	YmlError error `yaml:"-"`
}

const settingsFileName = "settings.yml"

// NewSettings returns the defaults overlaid with whatever the user config
// file holds. A malformed file is kept aside in YmlError instead of
// aborting.
func NewSettings() *Settings {
	s := &Settings{}
	s.Capture.EchoCancellation = false
	s.Capture.NoiseSuppression = false
	s.Capture.AutoGain = false
	s.Metronome.Volume = 1
	exists, err := readConfigYml(settingsFileName, s)
	if exists {
		s.YmlError = err
	}
	return s
}

func (s *Settings) InputDevice() string        { return s.Devices.Input }
func (s *Settings) SetInputDevice(id string)   { s.Devices.Input = id; s.save() }
func (s *Settings) OutputDevice() string       { return s.Devices.Output }
func (s *Settings) SetOutputDevice(id string)  { s.Devices.Output = id; s.save() }
func (s *Settings) ArmedTrack() int            { return s.Session.ArmedTrack }
func (s *Settings) SetArmedTrack(id int)       { s.Session.ArmedTrack = id; s.save() }
func (s *Settings) MetronomeVolume() float64   { return s.Metronome.Volume }
func (s *Settings) SetMetronomeVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.Metronome.Volume = v
	s.save()
}

// LatencyWarningDismissed reports whether the user asked not to see the
// count-in latency warning again.
func (s *Settings) LatencyWarningDismissed() bool { return s.Session.LatencyDismissed }
func (s *Settings) DismissLatencyWarning()        { s.Session.LatencyDismissed = true; s.save() }

// save is best effort; settings are advisory and losing them is harmless.
func (s *Settings) save() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}
	dir := filepath.Join(configDir, "tapefour")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return
	}
	os.WriteFile(filepath.Join(dir, settingsFileName), out, 0644)
}

// readConfigYml modifies the target argument, i.e. needs a pointer
func readConfigYml(filename string, target any) (exists bool, err error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return false, err
	}
	path := filepath.Join(configDir, "tapefour", filename)
	bytes, err2 := os.ReadFile(path)
	if err2 != nil {
		return false, err2
	}
	err = yaml.Unmarshal(bytes, target)
	return true, err
}
