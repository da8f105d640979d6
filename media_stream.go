package phone

import "github.com/vocalwire/gophone/audio"

type MediaStream struct {
}

// With control stream audio can be muted or unmuted
func NewControlStream(m *DialogMedia) *audio.PlaybackControl {
	playback := audio.NewPlaybackControl(m.RTPReader, m.RTPWriter)
	return playback
}
