package domain

import "fmt"

// Profile is a quality tier. Every intermediate rendered under one profile
// shares container, codec, resolution, frame rate and audio layout, which is
// what allows stream-copy concatenation.
type Profile struct {
	Name         string `yaml:"name" json:"name"`
	Width        int    `yaml:"width" json:"width"`
	Height       int    `yaml:"height" json:"height"`
	FrameRate    int    `yaml:"frame_rate" json:"frame_rate"`
	Preset       string `yaml:"preset" json:"preset"`
	CRF          int    `yaml:"crf" json:"crf"`
	AudioBitrate string `yaml:"audio_bitrate" json:"audio_bitrate"`
	SampleRate   int    `yaml:"sample_rate" json:"sample_rate"`
}

func PreviewProfile() Profile {
	return Profile{
		Name:         "preview",
		Width:        640,
		Height:       360,
		FrameRate:    24,
		Preset:       "ultrafast",
		CRF:          30,
		AudioBitrate: "96k",
		SampleRate:   44100,
	}
}

func ExportProfile() Profile {
	return Profile{
		Name:         "export",
		Width:        1920,
		Height:       1080,
		FrameRate:    30,
		Preset:       "medium",
		CRF:          20,
		AudioBitrate: "192k",
		SampleRate:   48000,
	}
}

// Key identifies the profile in cache keys: two profiles with the same key
// produce interchangeable intermediates.
func (p Profile) Key() string {
	return fmt.Sprintf("%s:%dx%d@%d:%s:crf%d:%s:%d",
		p.Name, p.Width, p.Height, p.FrameRate, p.Preset, p.CRF, p.AudioBitrate, p.SampleRate)
}

func (p Profile) Validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("profile %s: resolution %dx%d must be positive and even", p.Name, p.Width, p.Height)
	}
	if p.FrameRate <= 0 {
		return fmt.Errorf("profile %s: frame rate must be positive", p.Name)
	}
	if p.CRF < 0 || p.CRF > 51 {
		return fmt.Errorf("profile %s: crf %d out of range", p.Name, p.CRF)
	}
	if p.Preset == "" || p.AudioBitrate == "" || p.SampleRate <= 0 {
		return fmt.Errorf("profile %s: preset, audio bitrate and sample rate are required", p.Name)
	}
	return nil
}
