package sdpx

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/whep/internal/core"
	"github.com/dkeye/whep/internal/domain"
)

// ParseOffer extracts the ICE credentials and the ordered media
// section headers from an offer. The first occurrence of ice-ufrag and
// ice-pwd wins; by definition they are unique per offer.
func ParseOffer(offer string) (*domain.OfferInfo, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return nil, core.WrapError(core.KindSignaling, err, "parse offer")
	}

	info := &domain.OfferInfo{}

	for _, attr := range sd.Attributes {
		pickCredential(info, attr)
	}
	for _, md := range sd.MediaDescriptions {
		for _, attr := range md.Attributes {
			pickCredential(info, attr)
		}
		mid, _ := md.Attribute("mid")
		info.Media = append(info.Media, domain.MediaSection{
			Header: mediaHeader(md),
			MID:    mid,
		})
	}

	if info.UsernameFragment == "" || info.Password == "" {
		return nil, core.NewError(core.KindSignaling, "offer carries no ICE credentials")
	}
	return info, nil
}

func pickCredential(info *domain.OfferInfo, attr sdp.Attribute) {
	switch attr.Key {
	case "ice-ufrag":
		if info.UsernameFragment == "" {
			info.UsernameFragment = attr.Value
		}
	case "ice-pwd":
		if info.Password == "" {
			info.Password = attr.Value
		}
	}
}

// mediaHeader rebuilds the m= line body: "<media> <port> <proto> <fmts>".
func mediaHeader(md *sdp.MediaDescription) string {
	var b strings.Builder
	b.WriteString(md.MediaName.Media)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(md.MediaName.Port.Value))
	b.WriteByte(' ')
	b.WriteString(strings.Join(md.MediaName.Protos, "/"))
	for _, f := range md.MediaName.Formats {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}
