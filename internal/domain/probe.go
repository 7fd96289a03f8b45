package domain

import (
	"fmt"
	"math"
	"strconv"
)

// ProbeResult is the subset of `ffprobe -print_format json -show_format
// -show_streams` output the pipeline reads.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
	RawJSON string        `json:"-"`
}

type ProbeFormat struct {
	Duration string `json:"duration"`
}

type ProbeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	PixFmt       string            `json:"pix_fmt"`
	RFrameRate   string            `json:"r_frame_rate"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []ProbeSideData   `json:"side_data_list"`
}

type ProbeSideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

func (p *ProbeResult) VideoStream() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "video" {
			return &p.Streams[i]
		}
	}
	return nil
}

func (p *ProbeResult) AudioStream() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// Duration prefers the container duration and falls back to the longest
// stream duration.
func (p *ProbeResult) Duration() float64 {
	if d := ParseDuration(p.Format.Duration); d > 0 {
		return d
	}
	var longest float64
	for _, s := range p.Streams {
		if d := ParseDuration(s.Duration); d > longest {
			longest = d
		}
	}
	return longest
}

// Rotation reads the embedded rotation hint: the legacy "rotate" tag or the
// display matrix side data. The display matrix stores a counter-clockwise
// angle, so it is negated to match the tag convention.
func (p *ProbeResult) Rotation() int {
	vs := p.VideoStream()
	if vs == nil {
		return 0
	}
	if v, ok := vs.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(v); err == nil {
			return NormalizeRotation(roundToQuarter(float64(deg)))
		}
	}
	for _, sd := range vs.SideDataList {
		if sd.SideDataType == "Display Matrix" && sd.Rotation != 0 {
			return NormalizeRotation(roundToQuarter(-sd.Rotation))
		}
	}
	return 0
}

// Metadata converts the probe into the fields the pipeline uses.
func (p *ProbeResult) Metadata() Metadata {
	m := Metadata{
		Duration: p.Duration(),
		Rotation: p.Rotation(),
		HasAudio: p.AudioStream() != nil,
	}
	if vs := p.VideoStream(); vs != nil {
		m.Width, m.Height = vs.Width, vs.Height
		m.Codec = vs.CodecName
		m.PixFmt = vs.PixFmt
	} else if as := p.AudioStream(); as != nil {
		m.Codec = as.CodecName
	}
	return m
}

func roundToQuarter(deg float64) int {
	return int(math.Round(deg/90)) * 90
}

// ParseFrameRate reads an ffprobe rate fraction such as "30000/1001".
func ParseFrameRate(fraction string) float64 {
	if fraction == "" || fraction == "0/0" {
		return 0
	}
	var num, den int
	if _, err := fmt.Sscanf(fraction, "%d/%d", &num, &den); err == nil && den > 0 {
		return float64(num) / float64(den)
	}
	return 0
}

// ParseDuration reads an ffprobe seconds field. Missing, "N/A" and
// non-finite or malformed values are 0.
func ParseDuration(s string) float64 {
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}
