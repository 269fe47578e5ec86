package sampleset

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cbegin/samplebox-go/internal/preset"
)

// Section is one <header> block of a region file with its opcodes.
type Section struct {
	Header  string
	Opcodes map[string]string
}

// ParseSFZ reads the header/opcode structure of a region file. Opcodes
// appearing before the first header are ignored. The sample opcode keeps
// embedded spaces up to the next opcode.
func ParseSFZ(r io.Reader) ([]Section, error) {
	var sections []Section
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		for {
			line = strings.TrimSpace(line)
			if line == "" {
				break
			}
			if line[0] == '<' {
				end := strings.IndexByte(line, '>')
				if end < 0 {
					return nil, errors.Errorf("unterminated header %q", line)
				}
				sections = append(sections, Section{
					Header:  strings.ToLower(strings.TrimSpace(line[1:end])),
					Opcodes: make(map[string]string),
				})
				line = line[end+1:]
				continue
			}
			var key, value string
			key, value, line = nextOpcode(line)
			if key == "" {
				break
			}
			if len(sections) > 0 {
				sections[len(sections)-1].Opcodes[key] = value
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read sfz")
	}
	return sections, nil
}

// nextOpcode splits "key=value rest" at the start of line. The value runs
// until the next "name=" token or header, so file names may contain spaces.
func nextOpcode(line string) (key, value, rest string) {
	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return "", "", ""
	}
	key = strings.ToLower(strings.TrimSpace(line[:eq]))
	tail := line[eq+1:]
	end := len(tail)
	if i := strings.IndexByte(tail, '<'); i >= 0 {
		end = i
	}
	if i := strings.IndexByte(tail[:end], '='); i >= 0 {
		// Back up to the whitespace preceding the next opcode name.
		if sp := strings.LastIndexAny(tail[:i], " \t"); sp >= 0 {
			end = sp
		}
	}
	return key, strings.TrimSpace(tail[:end]), tail[end:]
}

// sfzNote accepts a MIDI number or a note name where c4 is 60.
func sfzNote(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, n >= 0 && n < 128
	}
	n, ok := preset.NoteFromName(s)
	if !ok {
		return 0, false
	}
	n -= 12
	return n, n >= 0 && n < 128
}

func (r *Resolver) resolveRegions(rec *preset.Record, name string, cp Checkpoint, res *Result) error {
	f, err := os.Open(filepath.Join(rec.Dir, name))
	if err != nil {
		return errors.Wrap(err, "open sfz")
	}
	sections, err := ParseSFZ(f)
	f.Close()
	if err != nil {
		return errors.Wrapf(err, "parse %s", name)
	}

	global := globalSection(sections)
	release := r.cfg.Release
	if v, ok := global["ampeg_release"]; ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			release = int(secs * 1000 / 17)
			rec.Keywords.SetRelease(release)
			release = rec.Keywords.Release
		}
	}
	if v, ok := global["volume"]; ok {
		if vol, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Keywords.SetGain(max(vol+1, 0))
		}
	}
	if err := cp.Check(); err != nil {
		return err
	}

	rec.AddVoice(1)
	regions := 0
	for _, s := range sections {
		if s.Header == "region" {
			regions++
		}
	}
	done := 0
	for _, s := range sections {
		if err := cp.Check(); err != nil {
			return err
		}
		if s.Header != "region" {
			continue
		}
		done++
		progress(cp, float64(done)/float64(regions)*100)

		sample := strings.ReplaceAll(s.Opcodes["sample"], `\`, "/")
		center, ok := s.Opcodes["pitch_keycenter"]
		if !ok {
			center = s.Opcodes["key"]
		}
		note, ok := sfzNote(center)
		if sample == "" || !ok {
			r.log.Warn("skipping region", "preset", rec.Name, "sample", sample, "keycenter", center)
			continue
		}
		hivel := 127
		if v, ok := s.Opcodes["hivel"]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				hivel = n
			}
		}
		meta := preset.Meta{Note: note, Velocity: hivel, Seq: 1, Channel: 1, Release: release}
		asset, err := preset.LoadAsset(filepath.Join(rec.Dir, filepath.FromSlash(sample)), meta)
		if err != nil {
			r.log.Warn("skipping sample", "preset", rec.Name, "file", sample, "err", err)
			res.AssetErrors = append(res.AssetErrors, err)
			continue
		}
		rec.Replace(preset.Key{Note: note, Velocity: hivel, Voice: 1, Channel: 1}, asset, preset.FillYes)
		res.Assets++
	}
	return nil
}

// globalSection returns the opcodes of the <global> header, or of the first
// section when the file has none.
func globalSection(sections []Section) map[string]string {
	for _, s := range sections {
		if s.Header == "global" {
			return s.Opcodes
		}
	}
	if len(sections) > 0 {
		return sections[0].Opcodes
	}
	return nil
}
