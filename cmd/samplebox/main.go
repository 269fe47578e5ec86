// Command samplebox runs a headless sample player: it opens the audio
// device, listens on every MIDI input and plays the presets found in the
// samples directory.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/samplebox-go"
	intaudio "github.com/cbegin/samplebox-go/internal/audio"
	"github.com/cbegin/samplebox-go/internal/preset"
)

var logger = slog.Default()

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func main() {
	var (
		samplesDir = flag.String("samples", "samples", "directory holding one sub-directory per preset")
		backend    = flag.String("backend", "ebiten", "audio backend: ebiten|oto|none")
		sampleRate = flag.Int("sample-rate", 44100, "output sample rate")
		blockSize  = flag.Int("block", 512, "frames per audio block")
		polyphony  = flag.Int("polyphony", 80, "maximum voices mixed at once")
		channel    = flag.Int("channel", envInt("SAMPLEBOX_MIDI_CHANNEL", 1), "default MIDI channel (env SAMPLEBOX_MIDI_CHANNEL)")
		ramLimit   = flag.Float64("ram-limit", envFloat("SAMPLEBOX_RAM_LIMIT", 95), "used memory percent that stops preset prefetch (env SAMPLEBOX_RAM_LIMIT, 0 = off)")
		alternates = flag.String("alternates", "first", "sequence alternate policy: first|roundrobin|random")
		volumeDB   = flag.Float64("volume", -12, "master volume in dB")
		reverb     = flag.Float64("reverb", 0, "master reverb wet level (0..1)")
		limiter    = flag.Float64("limiter", 0, "master limiter ceiling in dBFS (0 = off)")
		preset0    = flag.Int("preset", 0, "preset selected at startup")
		midiFilter = flag.String("midi-in", "", "only open MIDI inputs whose name contains this text")
		serialDev  = flag.String("serial", "", "read raw MIDI from this serial device")
		keyboard   = flag.Bool("keyboard", false, "step presets with +/- on the terminal")
		noStep     = flag.Bool("no-step", false, "disable preset stepping by pitch-bend messages")
		debug      = flag.Bool("debug", false, "enable debug logging (adds source location)")
	)
	flag.Parse()
	initLogger(*debug)

	if err := run(config{
		samplesDir: *samplesDir,
		backend:    *backend,
		sampleRate: *sampleRate,
		blockSize:  *blockSize,
		polyphony:  *polyphony,
		channel:    *channel,
		ramLimit:   *ramLimit,
		alternates: *alternates,
		volumeDB:   *volumeDB,
		reverb:     *reverb,
		limiter:    *limiter,
		preset:     *preset0,
		midiFilter: *midiFilter,
		serialDev:  *serialDev,
		keyboard:   *keyboard,
		noStep:     *noStep,
	}); err != nil {
		logger.Error("samplebox stopped", "err", err)
		os.Exit(1)
	}
}

type config struct {
	samplesDir string
	backend    string
	sampleRate int
	blockSize  int
	polyphony  int
	channel    int
	ramLimit   float64
	alternates string
	volumeDB   float64
	reverb     float64
	limiter    float64
	preset     int
	midiFilter string
	serialDev  string
	keyboard   bool
	noStep     bool
}

func run(cfg config) error {
	backend, err := intaudio.ParseBackend(cfg.backend)
	if err != nil {
		return err
	}
	policy, ok := preset.ParseAlternatePolicy(cfg.alternates)
	if !ok {
		return errors.Errorf("invalid -alternates %q (expected first|roundrobin|random)", cfg.alternates)
	}
	step := samplebox.DefaultStepMapping()
	if cfg.noStep {
		step = samplebox.StepMapping{}
	}

	pl, err := samplebox.NewPlayer(cfg.samplesDir,
		samplebox.WithBackend(backend),
		samplebox.WithSampleRate(cfg.sampleRate),
		samplebox.WithBlockSize(cfg.blockSize),
		samplebox.WithPolyphony(cfg.polyphony),
		samplebox.WithMIDIChannel(cfg.channel),
		samplebox.WithMemoryLimit(cfg.ramLimit),
		samplebox.WithAlternatePolicy(policy),
		samplebox.WithStepMapping(step),
		samplebox.WithVolume(dbToLinear(cfg.volumeDB)),
		samplebox.WithPreset(cfg.preset),
		samplebox.WithLogger(logger),
		samplebox.WithHooks(samplebox.Hooks{
			OnPresetChange: func(i int, name string) {
				logger.Info("preset", "index", i, "name", name)
			},
			OnLoaded: func(i int, name string, assets int) {
				logger.Info("preset ready", "index", i, "name", name, "samples", assets)
			},
		}),
	)
	if err != nil {
		return err
	}
	pl.SetReverb(float32(cfg.reverb))
	pl.SetLimiter(cfg.limiter)
	if len(pl.Presets()) == 0 {
		logger.Warn("no presets found", "dir", cfg.samplesDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drv, err := openDriver()
	if err != nil {
		return errors.Wrapf(samplebox.ErrDeviceUnavailable, "midi driver: %v", err)
	}
	defer drv.Close()

	if err := pl.Start(); err != nil {
		return err
	}
	defer pl.Stop()
	logger.Info("samplebox running", "samples", cfg.samplesDir, "presets", len(pl.Presets()))

	g, ctx := errgroup.WithContext(ctx)
	watcher := newMIDIWatcher(drv, pl, cfg.midiFilter, 2*time.Second)
	g.Go(func() error { return watcher.Run(ctx) })
	if cfg.serialDev != "" {
		g.Go(func() error { return readSerial(ctx, cfg.serialDev, pl) })
	}
	if cfg.keyboard {
		g.Go(func() error { return runKeyboard(ctx, pl, stop) })
	}
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("ignoring invalid environment value", "name", name, "value", v)
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("ignoring invalid environment value", "name", name, "value", v)
		return def
	}
	return f
}
