package tapefour

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// NumTracks is the fixed number of recorder tracks. Track identities are
	// 1..NumTracks everywhere outside slice indexing.
	NumTracks = 4

	projectFileName = "project.yml"
)

type (
	// Project is the serializable state of a session: tempo, loop window,
	// per-track parameters and the audio takes. Audio is stored as WAV files
	// next to the project file and referenced by name, so the yaml stays
	// readable.
	Project struct {
		BPM              int
		LoopStart        float64 // seconds
		LoopEnd          float64 // seconds
		Looping          bool    `yaml:",omitempty"`
		QuantizedLooping bool    `yaml:",omitempty"`
		LoopBars         int     `yaml:",omitempty"`
		MasterFader      int
		MasterFile       string `yaml:",omitempty"`
		Tracks           []ProjectTrack

		// Master and clip buffers are loaded from / saved to the referenced
		// WAV files and never marshaled inline.
		Master AudioBuffer `yaml:"-"`
	}

	// ProjectTrack is the saved state of a single track.
	ProjectTrack struct {
		Fader     int
		Pan       int
		Reversed  bool    `yaml:",omitempty"`
		HalfSpeed bool    `yaml:",omitempty"`
		StartMs   float64 `yaml:",omitempty"`
		ClipFile  string  `yaml:",omitempty"`

		Clip AudioBuffer `yaml:"-"`
	}
)

// Copy makes a deep copy of a Project.
func (p *Project) Copy() Project {
	tracks := make([]ProjectTrack, len(p.Tracks))
	for i, t := range p.Tracks {
		tracks[i] = t
		tracks[i].Clip = t.Clip.Copy()
	}
	ret := *p
	ret.Tracks = tracks
	ret.Master = p.Master.Copy()
	return ret
}

// Validate checks that the project looks like something the engine can load.
func (p *Project) Validate() error {
	if p.BPM < 1 {
		return errors.New("BPM should be > 0")
	}
	if len(p.Tracks) != NumTracks {
		return fmt.Errorf("project should have exactly %d tracks", NumTracks)
	}
	if p.LoopEnd < p.LoopStart {
		return errors.New("loop end is before loop start")
	}
	return nil
}

// SaveProject writes the project yaml and its WAV sidecar files into dir,
// creating the directory if needed.
func SaveProject(p *Project, dir string) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("could not create project directory %v: %w", dir, err)
	}
	saved := *p
	saved.Tracks = append([]ProjectTrack(nil), p.Tracks...)
	for i := range saved.Tracks {
		t := &saved.Tracks[i]
		t.ClipFile = ""
		if len(t.Clip) == 0 {
			continue
		}
		t.ClipFile = fmt.Sprintf("track%d.wav", i+1)
		if err := writeWavFile(filepath.Join(dir, t.ClipFile), t.Clip); err != nil {
			return err
		}
	}
	saved.MasterFile = ""
	if len(p.Master) > 0 {
		saved.MasterFile = "master.wav"
		if err := writeWavFile(filepath.Join(dir, saved.MasterFile), p.Master); err != nil {
			return err
		}
	}
	contents, err := yaml.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("could not marshal project: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, projectFileName), contents, 0644); err != nil {
		return fmt.Errorf("could not write project file: %w", err)
	}
	return nil
}

// LoadProject reads a project and its referenced WAV files from dir.
func LoadProject(dir string) (*Project, error) {
	contents, err := os.ReadFile(filepath.Join(dir, projectFileName))
	if err != nil {
		return nil, fmt.Errorf("could not read project file: %w", err)
	}
	var p Project
	if err := yaml.Unmarshal(contents, &p); err != nil {
		return nil, fmt.Errorf("could not unmarshal project: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	for i := range p.Tracks {
		t := &p.Tracks[i]
		if t.ClipFile == "" {
			continue
		}
		t.Clip, err = readWavFile(filepath.Join(dir, t.ClipFile))
		if err != nil {
			return nil, err
		}
	}
	if p.MasterFile != "" {
		p.Master, err = readWavFile(filepath.Join(dir, p.MasterFile))
		if err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func writeWavFile(path string, buffer AudioBuffer) error {
	data, err := Wav(buffer, true)
	if err != nil {
		return fmt.Errorf("could not encode %v: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write %v: %w", path, err)
	}
	return nil
}

func readWavFile(path string) (AudioBuffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %v: %w", path, err)
	}
	buffer, err := ReadWav(data)
	if err != nil {
		return nil, fmt.Errorf("could not decode %v: %w", path, err)
	}
	return buffer, nil
}
