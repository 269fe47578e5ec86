package sampleset

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cbegin/samplebox-go/internal/preset"
)

// DefinitionFile is the pattern-definition file looked up in a preset directory.
const DefinitionFile = "definition.txt"

const keywordMarker = "%%"

var ErrDefinitionParse = errors.New("definition parse error")

// LineError isolates a failure to one line of a definition file.
type LineError struct {
	Line int // 1-based
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("definition line %d (%q): %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

func lineError(line int, text string, format string, args ...any) *LineError {
	return &LineError{Line: line, Text: text, Err: errors.Wrapf(ErrDefinitionParse, format, args...)}
}

// keywordSetters maps each %%keyword to a typed setter on the overrides.
var keywordSetters = map[string]func(k *preset.Keywords, v string) error{
	"gain": func(k *preset.Keywords, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		k.SetGain(f)
		return nil
	},
	"transpose": func(k *preset.Keywords, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		k.SetTranspose(n)
		return nil
	},
	"release": func(k *preset.Keywords, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		k.SetRelease(n)
		return nil
	},
	"fillnotes": func(k *preset.Keywords, v string) error {
		f, ok := preset.ParseFillFlag(v)
		if !ok || f == preset.FillGlobal {
			return errors.Errorf("fillnotes must be Y or N, got %q", v)
		}
		k.SetFillNotes(f)
		return nil
	},
	"pitchbend": func(k *preset.Keywords, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		k.SetPitchBend(n)
		return nil
	},
	"mode": func(k *preset.Keywords, v string) error {
		m, ok := preset.ParseMode(v)
		if !ok {
			return errors.Errorf("unknown mode %q", v)
		}
		k.SetMode(m)
		return nil
	},
	"velmode": func(k *preset.Keywords, v string) error {
		m, ok := preset.ParseVelMode(v)
		if !ok {
			return errors.Errorf("unknown velmode %q", v)
		}
		k.SetVelMode(m)
		return nil
	},
}

// Params are the per-file values a pattern line resolves to.
type Params struct {
	Note      int
	Velocity  int
	NoteName  string
	Voice     int
	Seq       int
	Channel   int
	Release   int
	Fill      preset.FillFlag
	Mode      string
	MuteGroup int
}

func defaultParams(channel int) Params {
	return Params{
		Velocity: 127,
		Voice:    1,
		Seq:      1,
		Channel:  channel,
		Release:  preset.NoRelease,
		Fill:     preset.FillGlobal,
		Mode:     string(preset.ModeKeyboard),
	}
}

// Pattern is one compiled filename pattern line.
type Pattern struct {
	Line     int
	Text     string
	re       *regexp.Regexp
	defaults Params
}

// Definition is a parsed definition file.
type Definition struct {
	Keywords preset.Keywords
	Patterns []*Pattern
	Errors   []*LineError
}

var placeholders = []struct{ token, expr string }{
	{"%midinote", `(?P<midinote>\d+)`},
	{"%channel", `(?P<channel>\d+)`},
	{"%velocity", `(?P<velocity>\d+)`},
	{"%voice", `(?P<voice>\d+)`},
	{"%release", `(?P<release>\d+)`},
	{"%fillnote", `(?P<fillnote>[YNGyng])`},
	{"%mode", `(?P<mode>\w+)`},
	{"%seq", `(?P<seq>\d+)`},
	{"%notename", `(?P<notename>[A-Ga-g]#?[0-9])`},
	{"%mutegroup", `(?P<mutegroup>\d+)`},
	{`\*`, `.*?`},
}

// ParseDefinition reads a definition file. Keyword lines set preset-wide
// overrides, every other non-blank line is compiled into a filename pattern.
// A bad line is reported in Definition.Errors and never stops the parse.
func ParseDefinition(r io.Reader, channel int) (*Definition, error) {
	def := &Definition{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if strings.Contains(text, keywordMarker) {
			if err := parseKeyword(&def.Keywords, line, text); err != nil {
				def.Errors = append(def.Errors, err)
			}
			continue
		}
		p, err := compilePattern(line, text, channel)
		if err != nil {
			def.Errors = append(def.Errors, err)
			continue
		}
		def.Patterns = append(def.Patterns, p)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read definition")
	}
	return def, nil
}

func parseKeyword(k *preset.Keywords, line int, text string) *LineError {
	_, rest, _ := strings.Cut(text, keywordMarker)
	name, value, ok := strings.Cut(rest, "=")
	if !ok {
		return lineError(line, text, "keyword without value")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	set, ok := keywordSetters[name]
	if !ok {
		return lineError(line, text, "unknown keyword %q", name)
	}
	if err := set(k, strings.TrimSpace(value)); err != nil {
		return lineError(line, text, "%s: %v", name, err)
	}
	return nil
}

func compilePattern(line int, text string, channel int) (*Pattern, *LineError) {
	params := defaultParams(channel)
	head, tail, hasTail := strings.Cut(text, ",")
	if hasTail {
		tail = strings.NewReplacer(" ", "", "\t", "", "%", "").Replace(tail)
		for _, item := range strings.Split(tail, ",") {
			if item == "" {
				continue
			}
			key, value, ok := strings.Cut(item, "=")
			if !ok {
				return nil, lineError(line, text, "parameter %q is not key=value", item)
			}
			if err := params.set(strings.ToLower(key), value); err != nil {
				return nil, lineError(line, text, "%s: %v", key, err)
			}
		}
	}

	expr := regexp.QuoteMeta(strings.TrimSpace(head))
	for _, ph := range placeholders {
		expr = strings.ReplaceAll(expr, ph.token, ph.expr)
	}
	re, err := regexp.Compile("^" + expr)
	if err != nil {
		return nil, lineError(line, text, "compile pattern: %v", err)
	}
	return &Pattern{Line: line, Text: text, re: re, defaults: params}, nil
}

func (p *Params) set(key, value string) error {
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
	switch key {
	case "midinote":
		return atoi(&p.Note)
	case "velocity":
		return atoi(&p.Velocity)
	case "voice":
		return atoi(&p.Voice)
	case "seq":
		return atoi(&p.Seq)
	case "channel":
		return atoi(&p.Channel)
	case "release":
		return atoi(&p.Release)
	case "mutegroup":
		return atoi(&p.MuteGroup)
	case "notename":
		p.NoteName = value
	case "fillnote":
		f, ok := preset.ParseFillFlag(value)
		if !ok {
			return errors.Errorf("invalid fillnote %q", value)
		}
		p.Fill = f
	case "mode":
		p.Mode = value
	}
	return nil
}

// Match tests a filename against the pattern and resolves its parameters,
// falling back to the line defaults for absent placeholders.
func (p *Pattern) Match(name string) (Params, bool, error) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return Params{}, false, nil
	}
	out := p.defaults
	for i, group := range p.re.SubexpNames() {
		if group == "" || i >= len(m) {
			continue
		}
		if err := out.set(group, m[i]); err != nil {
			return Params{}, true, errors.Wrapf(ErrDefinitionParse, "%s in %q: %v", group, name, err)
		}
	}
	if out.NoteName != "" {
		n, ok := preset.NoteFromName(out.NoteName)
		if !ok {
			return Params{}, true, errors.Wrapf(ErrDefinitionParse, "note name %q in %q", out.NoteName, name)
		}
		out.Note = n
	}
	return out, true, nil
}
