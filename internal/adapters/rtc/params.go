package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// Conversions between the wire protocol's transport descriptions and
// pion's ORTC types. The wire side mirrors mediasoup naming, pion is
// stricter about enums, so everything routes through here.

func iceParameters(p protocol.ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func iceCandidates(cs []protocol.ICECandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(cs))
	for _, c := range cs {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
		})
	}
	return out, nil
}

func dtlsParameters(p protocol.DTLSParameters) webrtc.DTLSParameters {
	fps := make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints))
	for _, fp := range p.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return webrtc.DTLSParameters{Role: dtlsRole(p.Role), Fingerprints: fps}
}

func dtlsRole(s string) webrtc.DTLSRole {
	switch s {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleAuto
}

// localDTLSParameters describes our side for the connect call. The
// client always takes the client role against an SFU.
func localDTLSParameters(p webrtc.DTLSParameters) protocol.DTLSParameters {
	fps := make([]protocol.DTLSFingerprint, 0, len(p.Fingerprints))
	for _, fp := range p.Fingerprints {
		fps = append(fps, protocol.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return protocol.DTLSParameters{Role: "client", Fingerprints: fps}
}

func routerCodec(c protocol.RTPCodecCapability) (webrtc.RTPCodecParameters, webrtc.RTPCodecType) {
	kind := webrtc.RTPCodecTypeAudio
	if c.Kind == domain.MediaVideo {
		kind = webrtc.RTPCodecTypeVideo
	}
	pt := c.Preferred
	if pt == 0 {
		if kind == webrtc.RTPCodecTypeVideo {
			pt = 96
		} else {
			pt = 111
		}
	}
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		},
		PayloadType: webrtc.PayloadType(pt),
	}, kind
}

func receiveParameters(p protocol.RTPParameters) webrtc.RTPReceiveParameters {
	encodings := make([]webrtc.RTPDecodingParameters, 0, len(p.Encodings))
	for _, e := range p.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(e.SSRC)},
		})
	}
	return webrtc.RTPReceiveParameters{Encodings: encodings}
}

func codecKind(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.MediaVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func localCodec(p webrtc.RTPCodecParameters) protocol.RTPCodecParameters {
	return protocol.RTPCodecParameters{
		MimeType:    p.MimeType,
		PayloadType: uint8(p.PayloadType),
		ClockRate:   p.ClockRate,
		Channels:    p.Channels,
	}
}

// dtlsState folds pion's DTLS progression onto the transport states
// the session reports.
func dtlsState(s webrtc.DTLSTransportState) domain.TransportState {
	switch s {
	case webrtc.DTLSTransportStateNew:
		return domain.TransportCreated
	case webrtc.DTLSTransportStateConnecting:
		return domain.TransportNegotiating
	case webrtc.DTLSTransportStateConnected:
		return domain.TransportConnected
	}
	return domain.TransportFailed
}
