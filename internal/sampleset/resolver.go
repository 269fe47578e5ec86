package sampleset

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cbegin/samplebox-go/internal/preset"
)

// Checkpoint is consulted between units of resolution work. A non-nil error
// aborts resolution and is returned unchanged; implementations may block
// while loading should yield to playback.
type Checkpoint interface {
	Check() error
}

// ProgressReporter may be implemented by a Checkpoint to receive the share
// of the current preset resolved so far.
type ProgressReporter interface {
	Progress(percent float64)
}

type nopCheckpoint struct{}

func (nopCheckpoint) Check() error { return nil }

// Strategy names the file convention a preset directory was resolved with.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyDefinition
	StrategyRegions
	StrategyImplicit
)

func (s Strategy) String() string {
	switch s {
	case StrategyDefinition:
		return "definition"
	case StrategyRegions:
		return "sfz"
	case StrategyImplicit:
		return "implicit"
	default:
		return "none"
	}
}

type Config struct {
	Channel int         // default MIDI channel, 1-based
	Release int         // release used for samples found without a definition file
	Mode    preset.Mode // box-wide playback mode, used when a preset sets none
	Logger  *slog.Logger
}

// Result summarises one resolution run.
type Result struct {
	Strategy    Strategy
	Assets      int
	LineErrors  []*LineError
	AssetErrors []error
}

// Resolver scans a preset directory and fills a Record with decoded samples.
type Resolver struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Resolver {
	if cfg.Channel <= 0 {
		cfg.Channel = 1
	}
	if cfg.Release <= 0 {
		cfg.Release = preset.DefaultRelease
	}
	if cfg.Mode == "" {
		cfg.Mode = preset.ModeKeyboard
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cfg: cfg, log: log}
}

func (r *Resolver) Channel() int { return r.cfg.Channel }

// Resolve picks the definition file, an sfz region file or implicitly named
// files, in that order, and adds every sample found to rec.
func (r *Resolver) Resolve(rec *preset.Record, cp Checkpoint) (*Result, error) {
	if cp == nil {
		cp = nopCheckpoint{}
	}
	entries, err := os.ReadDir(rec.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read preset dir %s", rec.Dir)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	res := &Result{}
	if slices.Contains(files, DefinitionFile) {
		res.Strategy = StrategyDefinition
		err = r.resolveDefinition(rec, files, cp, res)
	} else if sfz := firstWithExt(files, ".sfz"); sfz != "" {
		res.Strategy = StrategyRegions
		err = r.resolveRegions(rec, sfz, cp, res)
	} else {
		res.Strategy = StrategyImplicit
		err = r.resolveImplicit(rec, files, cp, res)
	}
	if err != nil {
		return nil, err
	}
	progress(cp, 100)
	return res, nil
}

func (r *Resolver) resolveDefinition(rec *preset.Record, files []string, cp Checkpoint, res *Result) error {
	f, err := os.Open(filepath.Join(rec.Dir, DefinitionFile))
	if err != nil {
		return errors.Wrap(err, "open definition")
	}
	def, err := ParseDefinition(f, r.cfg.Channel)
	f.Close()
	if err != nil {
		return err
	}
	for _, le := range def.Errors {
		r.log.Warn("skipping definition line", "preset", rec.Name, "line", le.Line, "err", le.Err)
	}
	res.LineErrors = def.Errors
	rec.Keywords = def.Keywords
	if err := cp.Check(); err != nil {
		return err
	}

	samples := make([]string, 0, len(files))
	for _, name := range files {
		if name != DefinitionFile {
			samples = append(samples, name)
		}
	}
	work := float64(len(samples) * max(len(def.Patterns), 1))
	done := 0
	for _, p := range def.Patterns {
		if err := cp.Check(); err != nil {
			return err
		}
		for _, name := range samples {
			if err := cp.Check(); err != nil {
				return err
			}
			done++
			progress(cp, float64(done)/work*100)

			params, ok, err := p.Match(name)
			if !ok {
				continue
			}
			if err != nil {
				le := &LineError{Line: p.Line, Text: p.Text, Err: err}
				r.log.Warn("skipping sample", "preset", rec.Name, "file", name, "err", err)
				res.LineErrors = append(res.LineErrors, le)
				continue
			}
			r.addMatch(rec, name, params, res)
		}
	}
	return nil
}

func (r *Resolver) addMatch(rec *preset.Record, name string, p Params, res *Result) {
	key := preset.Key{Note: p.Note, Velocity: p.Velocity, Voice: p.Voice, Channel: p.Channel}
	rec.AddVoice(p.Voice)
	if rec.HasSeq(key, p.Seq) {
		return
	}
	meta := preset.Meta{
		Note:      p.Note,
		Velocity:  p.Velocity,
		Seq:       p.Seq,
		Channel:   p.Channel,
		Release:   p.Release,
		MuteGroup: p.MuteGroup,
	}
	// A sample only carries its own mode when it or the preset plays once.
	presetMode := r.cfg.Mode
	if rec.Keywords.Has(preset.KeyMode) {
		presetMode = rec.Keywords.Mode
	}
	if m, ok := preset.ParseMode(p.Mode); ok && (m == preset.ModeOnce || presetMode == preset.ModeOnce) {
		meta.Mode = m
	}
	asset, err := preset.LoadAsset(filepath.Join(rec.Dir, name), meta)
	if err != nil {
		r.log.Warn("skipping sample", "preset", rec.Name, "file", name, "err", err)
		res.AssetErrors = append(res.AssetErrors, err)
		return
	}
	if rec.Add(key, asset, p.Fill) {
		res.Assets++
	}
}

func (r *Resolver) resolveImplicit(rec *preset.Record, files []string, cp Checkpoint, res *Result) error {
	byName := make(map[string]string, len(files))
	for _, name := range files {
		byName[strings.ToLower(name)] = name
	}
	rec.AddVoice(1)
	for note := 0; note < 128; note++ {
		if err := cp.Check(); err != nil {
			return err
		}
		progress(cp, float64(note)/128*100)

		name, ok := byName[strconv.Itoa(note)+".wav"]
		if !ok {
			name, ok = byName[preset.FileNoteName(note)+".wav"]
		}
		if ok {
			meta := preset.Meta{Note: note, Velocity: 127, Seq: 1, Channel: r.cfg.Channel, Release: r.cfg.Release}
			asset, err := preset.LoadAsset(filepath.Join(rec.Dir, name), meta)
			if err != nil {
				r.log.Warn("skipping sample", "preset", rec.Name, "file", name, "err", err)
				res.AssetErrors = append(res.AssetErrors, err)
			} else {
				key := preset.Key{Note: note, Velocity: 127, Voice: 1, Channel: r.cfg.Channel}
				if rec.Add(key, asset, preset.FillYes) {
					res.Assets++
				}
			}
		}
		rec.Fill[preset.FillKey{Note: note, Voice: 1}] = preset.FillYes
	}
	return nil
}

func progress(cp Checkpoint, pct float64) {
	if pr, ok := cp.(ProgressReporter); ok {
		pr.Progress(pct)
	}
}

func firstWithExt(files []string, ext string) string {
	for _, name := range files {
		if strings.EqualFold(filepath.Ext(name), ext) {
			return name
		}
	}
	return ""
}
