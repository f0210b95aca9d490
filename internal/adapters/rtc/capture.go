package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	// Register the capture adapters.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

const senderMTU = 1200

// capture is one running local source: the device track, the static
// RTP track bound to the send transport and the pump between them.
type capture struct {
	source domain.MediaSource
	device mediadevices.Track
	local  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	cancel context.CancelFunc
}

func (c *capture) stop() {
	c.cancel()
	closeLogged("sender", c.sender.Stop)
	if err := c.device.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("source", string(c.source)).Msg("device close error")
	}
	log.Info().Str("module", "webrtc").Str("source", string(c.source)).Msg("capture stopped")
}

func newCodecSelector(opts Options) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = opts.VideoBitRate
	vpxParams.KeyFrameInterval = 15

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = opts.AudioBitRate
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func (e *Engine) StartCamera(ctx context.Context, deviceID string) (core.LocalTrack, error) {
	return e.startCapture(ctx, domain.SourceCamera, deviceID)
}

func (e *Engine) StopCamera() error {
	return e.stopCapture(domain.SourceCamera)
}

func (e *Engine) StartMicrophone(ctx context.Context, deviceID string) (core.LocalTrack, error) {
	return e.startCapture(ctx, domain.SourceMic, deviceID)
}

func (e *Engine) StopMicrophone() error {
	return e.stopCapture(domain.SourceMic)
}

func (e *Engine) startCapture(ctx context.Context, source domain.MediaSource, deviceID string) (core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return core.LocalTrack{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selector == nil {
		return core.LocalTrack{}, errNotLoaded
	}
	if e.send == nil {
		return core.LocalTrack{}, errors.New("send transport not ready")
	}
	if _, ok := e.captures[source]; ok {
		return core.LocalTrack{}, fmt.Errorf("%s capture already running", source)
	}

	device, err := e.openDevice(source, deviceID)
	if err != nil {
		return core.LocalTrack{}, err
	}

	capability := staticCapability(source.Kind())
	local, err := webrtc.NewTrackLocalStaticRTP(capability, string(source), "meet-local")
	if err != nil {
		closeDevice(device, source)
		return core.LocalTrack{}, fmt.Errorf("local track: %w", err)
	}

	sender, err := e.api.NewRTPSender(local, e.send.dtls)
	if err != nil {
		closeDevice(device, source)
		return core.LocalTrack{}, fmt.Errorf("rtp sender: %w", err)
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		closeLogged("sender", sender.Stop)
		closeDevice(device, source)
		return core.LocalTrack{}, fmt.Errorf("sender start: %w", err)
	}

	params := sender.GetParameters()
	if len(params.Encodings) == 0 || params.Encodings[0].SSRC == 0 {
		closeLogged("sender", sender.Stop)
		closeDevice(device, source)
		return core.LocalTrack{}, errors.New("sender has no ssrc")
	}
	ssrc := uint32(params.Encodings[0].SSRC)
	codec, err := pickCodec(params.Codecs, capability.MimeType)
	if err != nil {
		closeLogged("sender", sender.Stop)
		closeDevice(device, source)
		return core.LocalTrack{}, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	run := &capture{source: source, device: device, local: local, sender: sender, cancel: cancel}
	e.captures[source] = run
	go e.pump(pumpCtx, run, ssrc)

	log.Info().
		Str("module", "webrtc").
		Str("source", string(source)).
		Str("device_id", deviceID).
		Uint32("ssrc", ssrc).
		Str("codec", codec.MimeType).
		Msg("capture started")
	return core.LocalTrack{SSRC: ssrc, Codec: codec}, nil
}

func (e *Engine) openDevice(source domain.MediaSource, deviceID string) (mediadevices.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: e.selector}
	if source == domain.SourceCamera {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
			c.Width = prop.Int(e.opts.VideoWidth)
			c.Height = prop.Int(e.opts.VideoHeight)
			c.FrameRate = prop.Float(e.opts.VideoFrameRate)
		}
	} else {
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.Latency = prop.Duration(20 * time.Millisecond)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if source == domain.SourceCamera {
		tracks = stream.GetVideoTracks()
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("device gave no %s track", source.Kind())
	}
	return tracks[0], nil
}

// pump moves encoded RTP from the device track into the static track,
// which rewrites SSRC and payload type to the sender's binding.
func (e *Engine) pump(ctx context.Context, c *capture, ssrc uint32) {
	reader, err := c.device.NewRTPReader(c.local.Codec().MimeType, ssrc, senderMTU)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("source", string(c.source)).Msg("rtp reader")
		return
	}
	defer reader.Close()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		packets, _, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Str("module", "webrtc").Str("source", string(c.source)).Msg("capture track ended")
				return
			}
			if !warned {
				log.Warn().Err(err).Str("module", "webrtc").Str("source", string(c.source)).Msg("rtp read error")
				warned = true
			}
			continue
		}
		for _, packet := range packets {
			if err := c.local.WriteRTP(packet); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
			}
		}
	}
}

func (e *Engine) stopCapture(source domain.MediaSource) error {
	e.mu.Lock()
	c, ok := e.captures[source]
	if ok {
		delete(e.captures, source)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	c.stop()
	return nil
}

func staticCapability(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.MediaVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}

func pickCodec(codecs []webrtc.RTPCodecParameters, mimeType string) (protocol.RTPCodecParameters, error) {
	for _, c := range codecs {
		if strings.EqualFold(c.MimeType, mimeType) {
			return localCodec(c), nil
		}
	}
	return protocol.RTPCodecParameters{}, fmt.Errorf("no negotiated codec for %s", mimeType)
}

func closeDevice(t mediadevices.Track, source domain.MediaSource) {
	if err := t.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("source", string(source)).Msg("device close error")
	}
}
