package preset

import "sort"

// Key addresses a preset's sample map.
type Key struct {
	Note     int
	Velocity int
	Voice    int
	Channel  int
}

// FillKey addresses the fill-eligibility table.
type FillKey struct {
	Note  int
	Voice int
}

// Record is everything resolved for one sample-set. A Record is built by a
// single loader goroutine and only shared once Loaded is set; after that it
// is read-only.
type Record struct {
	Index    int
	Name     string
	Dir      string
	Samples  map[Key][]*Asset
	Fill     map[FillKey]FillFlag
	Keywords Keywords
	Loaded   bool

	voices map[int]struct{}
}

func NewRecord(index int, name, dir string) *Record {
	return &Record{
		Index:   index,
		Name:    name,
		Dir:     dir,
		Samples: make(map[Key][]*Asset),
		Fill:    make(map[FillKey]FillFlag),
		voices:  make(map[int]struct{}),
	}
}

// Add stores asset under key. A key that already holds samples only accepts
// a new sequence id, which chains alternates for the same coordinate. Every new
// key overwrites the fill flag of its note/voice pair. Add reports
// whether the asset was stored.
func (r *Record) Add(key Key, asset *Asset, fill FillFlag) bool {
	r.AddVoice(key.Voice)
	if list, ok := r.Samples[key]; ok {
		for _, a := range list {
			if a.Seq == asset.Seq {
				return false
			}
		}
		r.Samples[key] = append(list, asset)
		return true
	}
	r.Samples[key] = []*Asset{asset}
	r.Fill[FillKey{Note: key.Note, Voice: key.Voice}] = fill
	return true
}

// Replace discards whatever key held and stores asset alone.
func (r *Record) Replace(key Key, asset *Asset, fill FillFlag) {
	r.AddVoice(key.Voice)
	r.Samples[key] = []*Asset{asset}
	r.Fill[FillKey{Note: key.Note, Voice: key.Voice}] = fill
}

// HasSeq reports whether key already holds a sample with sequence id seq.
func (r *Record) HasSeq(key Key, seq int) bool {
	for _, a := range r.Samples[key] {
		if a.Seq == seq {
			return true
		}
	}
	return false
}

// Lookup returns the samples stored at key, or nil.
func (r *Record) Lookup(key Key) []*Asset {
	if r == nil {
		return nil
	}
	return r.Samples[key]
}

func (r *Record) AddVoice(v int) { r.voices[v] = struct{}{} }

// Voices returns the distinct voice-layers in ascending order.
func (r *Record) Voices() []int {
	out := make([]int, 0, len(r.voices))
	for v := range r.voices {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// AssetCount returns the number of distinct assets held by the record.
func (r *Record) AssetCount() int {
	seen := make(map[*Asset]struct{})
	for _, list := range r.Samples {
		for _, a := range list {
			seen[a] = struct{}{}
		}
	}
	return len(seen)
}
