package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fxcircus/tapefour"
	"github.com/fxcircus/tapefour/engine"
	"github.com/fxcircus/tapefour/metronome"
	"github.com/fxcircus/tapefour/midi"
	"github.com/fxcircus/tapefour/oto"
	"github.com/fxcircus/tapefour/portaudio"
	"github.com/fxcircus/tapefour/version"
)

type tempo struct {
	bpm     int
	countIn bool
}

func (t *tempo) BPM() float64         { return float64(t.bpm) }
func (t *tempo) CountInEnabled() bool { return t.countIn }

func main() {
	projectDir := flag.String("p", "", "Project directory to load on start and save into with the save command.")
	listDevices := flag.Bool("l", false, "List capture devices and exit.")
	exportOut := flag.String("e", "", "Render the project's master mix to the given .wav file and exit.")
	multiOut := flag.String("m", "", "Render the project to the given multitrack .zip file and exit.")
	bpmFlag := flag.Int("bpm", 120, "Tempo in beats per minute; a loaded project overrides this.")
	countIn := flag.Bool("countin", false, "Play a one bar count-in before recording.")
	midiPrefix := flag.String("midi", "", "Open the first MIDI input whose name starts with this prefix.")
	versionFlag := flag.Bool("v", false, "Print version.")
	help := flag.Bool("h", false, "Show help.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *listDevices {
		os.Exit(printDevices())
	}

	tempo := &tempo{bpm: *bpmFlag, countIn: *countIn}
	settings := engine.NewSettings()
	broker := engine.NewBroker()
	met := metronome.New(tempo.BPM, settings.MetronomeVolume)
	e := engine.NewEngine(broker, engine.Options{
		Tempo:     tempo,
		Metronome: met,
		Listener:  printEvents,
		Settings:  settings,
	})
	if *projectDir != "" {
		p, err := tapefour.LoadProject(*projectDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not load project %v: %v\n", *projectDir, err)
			os.Exit(1)
		}
		tempo.bpm = p.BPM
		if err := e.ApplyProject(p); err != nil {
			fmt.Fprintf(os.Stderr, "could not apply project: %v\n", err)
			os.Exit(1)
		}
	}
	if *exportOut != "" || *multiOut != "" {
		os.Exit(export(e, *exportOut, *multiOut))
	}
	os.Exit(run(e, broker, tempo, settings, met, *midiPrefix, *projectDir))
}

// export renders offline; no audio devices are opened.
func export(e *engine.Engine, masterOut, multiOut string) int {
	retval := 0
	if masterOut != "" {
		if err := exportTo(masterOut, e.ExportMaster); err != nil {
			fmt.Fprintf(os.Stderr, "could not export master: %v\n", err)
			retval = 1
		}
	}
	if multiOut != "" {
		if err := exportTo(multiOut, e.ExportMultitrack); err != nil {
			fmt.Fprintf(os.Stderr, "could not export multitrack: %v\n", err)
			retval = 1
		}
	}
	return retval
}

func exportTo(path string, render func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func run(e *engine.Engine, broker *engine.Broker, tempo *tempo, settings *engine.Settings, met *metronome.Metronome, midiPrefix, projectDir string) int {
	audioContext, err := oto.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not acquire audio output: %v\n", err)
		return 1
	}
	defer audioContext.Close()
	var input tapefour.InputContext
	if inputContext, err := portaudio.NewContext(); err != nil {
		fmt.Fprintf(os.Stderr, "could not acquire audio input, recording disabled: %v\n", err)
	} else {
		input = inputContext
		defer inputContext.Close()
	}

	player := engine.NewPlayer(broker, met)
	recorder := engine.NewRecorder(broker, input)
	go recorder.Run()
	defer recorder.Close()
	go e.Run()
	defer e.Close()
	if err := audioContext.Start(player); err != nil {
		fmt.Fprintf(os.Stderr, "could not start audio output: %v\n", err)
		return 1
	}

	midiContext := midi.NewContext(e)
	defer midiContext.Close()
	if midiPrefix != "" {
		midiContext.TryToOpenBy(midiPrefix, false)
	}

	fmt.Println("tapefour - type help for commands")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return 0
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "help":
			printCommands()
		case "play":
			e.Play()
		case "pause":
			e.Pause()
		case "stop":
			e.Stop()
		case "rec":
			e.Record()
		case "seek":
			if ms, ok := floatArg(args, 0); ok {
				e.SetPlayhead(ms)
			}
		case "arm":
			if id, ok := trackArg(args); ok {
				e.Arm(id)
			}
		case "disarm":
			if id := e.ArmedTrack(); id != 0 {
				e.Disarm(id)
			}
		case "solo":
			if id, ok := trackArg(args); ok {
				e.SetSolo(id, !e.TrackState(id).Solo)
			}
		case "mute":
			if id, ok := trackArg(args); ok {
				e.SetManualMute(id, !e.TrackState(id).ManuallyMuted)
			}
		case "fader":
			if id, ok := trackArg(args); ok {
				if v, ok := intArg(args, 1); ok {
					e.SetFader(id, v)
				}
			}
		case "pan":
			if id, ok := trackArg(args); ok {
				if v, ok := intArg(args, 1); ok {
					e.SetPan(id, v)
				}
			}
		case "master":
			if v, ok := intArg(args, 0); ok {
				e.SetMasterFader(v)
			}
		case "loop":
			loop := e.LoopState()
			e.SetLooping(!loop.Enabled)
		case "qloop":
			if bars, ok := intArg(args, 0); ok {
				e.SetQuantizedLooping(true, bars)
			} else {
				e.SetQuantizedLooping(false, 0)
			}
		case "rev":
			if id, ok := trackArg(args); ok {
				e.ToggleReverse(id)
			}
		case "half":
			if id, ok := trackArg(args); ok {
				e.ToggleHalfSpeed(id)
			}
		case "undo":
			e.UndoLastTake()
		case "clear":
			if id, ok := trackArg(args); ok {
				e.ClearTrack(id)
			} else {
				e.ClearAll()
			}
		case "bounce":
			if err := e.Bounce(); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		case "import":
			importClip(e, args)
		case "export":
			name := engine.ExportName(false)
			if err := exportTo(name, e.ExportMaster); err != nil {
				fmt.Fprintf(os.Stderr, "could not export: %v\n", err)
			} else {
				fmt.Printf("wrote %v\n", name)
			}
		case "exportall":
			name := engine.ExportName(true)
			if err := exportTo(name, e.ExportMultitrack); err != nil {
				fmt.Fprintf(os.Stderr, "could not export: %v\n", err)
			} else {
				fmt.Printf("wrote %v\n", name)
			}
		case "save":
			dir := projectDir
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				fmt.Fprintln(os.Stderr, "no project directory; use save <dir>")
				continue
			}
			if err := tapefour.SaveProject(e.SnapshotProject(tempo.bpm), dir); err != nil {
				fmt.Fprintf(os.Stderr, "could not save project: %v\n", err)
			}
		case "bpm":
			if v, ok := intArg(args, 0); ok && v > 0 {
				tempo.bpm = v
			}
		case "devices":
			printDevices()
		case "input":
			if len(args) > 0 {
				settings.SetInputDevice(strings.Join(args, " "))
			} else {
				settings.SetInputDevice("")
			}
		case "status":
			printStatus(e, tempo)
		case "quit", "exit":
			return 0
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q; type help\n", cmd)
		}
	}
}

func importClip(e *engine.Engine, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: import <track> <file.wav>")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 1 || id > tapefour.NumTracks {
		fmt.Fprintf(os.Stderr, "bad track number %q\n", args[0])
		return
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not read %v: %v\n", args[1], err)
		return
	}
	buffer, err := tapefour.ReadWav(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not decode %v: %v\n", args[1], err)
		return
	}
	if err := e.ImportClip(id, buffer); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}

func printDevices() int {
	inputContext, err := portaudio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not acquire audio input: %v\n", err)
		return 1
	}
	defer inputContext.Close()
	devices, err := inputContext.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not list devices: %v\n", err)
		return 1
	}
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " [default]"
		}
		fmt.Printf("%s (%d in)%s\n", d.Name, d.MaxInputChannels, marker)
	}
	return 0
}

func printEvents(event engine.Event) {
	switch ev := event.(type) {
	case engine.AlertRaised:
		fmt.Fprintf(os.Stderr, "%v\n", ev.Alert.Message)
	case engine.TransportChanged:
		fmt.Printf("\r[%v]\n> ", ev.State)
	}
}

func printStatus(e *engine.Engine, tempo *tempo) {
	fmt.Printf("%v at %.1fs, %d bpm\n", e.State(), e.PlayheadMs()/1000, tempo.bpm)
	for id := 1; id <= tapefour.NumTracks; id++ {
		t := e.TrackState(id)
		flags := ""
		if t.Armed {
			flags += " armed"
		}
		if t.Solo {
			flags += " solo"
		}
		if t.Muted {
			flags += " muted"
		}
		if t.Reversed {
			flags += " rev"
		}
		if t.HalfSpeed {
			flags += " half"
		}
		fmt.Printf("track %d: %.1fs fader %d pan %d%s\n",
			id, t.Clip().Buffer.DurationMs()/1000, t.Fader, t.Pan, flags)
	}
}

func trackArg(args []string) (int, bool) {
	id, ok := intArg(args, 0)
	if !ok || id < 1 || id > tapefour.NumTracks {
		return 0, false
	}
	return id, true
}

func intArg(args []string, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatArg(args []string, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	v, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func printCommands() {
	fmt.Print(`play pause stop rec seek <ms>
arm <n> disarm solo <n> mute <n> undo
fader <n> <0-100> pan <n> <0-100> master <0-100>
loop qloop <bars> rev <n> half <n> clear [n]
bounce export exportall import <n> <file.wav> save [dir]
bpm <n> devices input [name] status quit
`)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "tapefour four track recorder.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
