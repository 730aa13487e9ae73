package domain

import (
	"fmt"
	"strings"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// CodecCapability identifies one codec configuration the local engine
// may support even though the endpoint's default offer omits it.
type CodecCapability struct {
	Kind      MediaKind
	Name      string // e.g. "multiopus", "AV1"
	ClockRate uint32
	Channels  uint16 // 0 for video
	Fmtp      string // channel-mapping / stream-coupling parameters
}

// RTPMap renders the capability as the value of an a=rtpmap attribute.
func (c CodecCapability) RTPMap() string {
	if c.Channels > 0 {
		return fmt.Sprintf("%s/%d/%d", c.Name, c.ClockRate, c.Channels)
	}
	return fmt.Sprintf("%s/%d", c.Name, c.ClockRate)
}

func (c CodecCapability) String() string {
	return strings.ToLower(string(c.Kind)) + ":" + c.RTPMap()
}

// MultichannelOpus returns the surround opus variants (3 to 6 channels)
// probed before the first session start. Channel mapping and coupled
// stream counts follow libwebrtc's multiopus conventions.
func MultichannelOpus() []CodecCapability {
	return []CodecCapability{
		{Kind: MediaAudio, Name: "multiopus", ClockRate: 48000, Channels: 3,
			Fmtp: "channel_mapping=0,2,1;coupled_streams=1;num_streams=2"},
		{Kind: MediaAudio, Name: "multiopus", ClockRate: 48000, Channels: 4,
			Fmtp: "channel_mapping=0,1,2,3;coupled_streams=2;num_streams=2"},
		{Kind: MediaAudio, Name: "multiopus", ClockRate: 48000, Channels: 5,
			Fmtp: "channel_mapping=0,4,1,2,3;coupled_streams=2;num_streams=3"},
		{Kind: MediaAudio, Name: "multiopus", ClockRate: 48000, Channels: 6,
			Fmtp: "channel_mapping=0,4,1,2,3,5;coupled_streams=2;num_streams=4"},
	}
}
