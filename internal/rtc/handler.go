package rtc

import (
	"context"
	"encoding/binary"
	"errors"
	"log"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/dmdzco/donna2-sub000/internal/session"
)

// SessionDescription is a small DTO so HTTP handlers do not expose webrtc
// types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SessionFactory builds a call session bound to the given playback sink.
type SessionFactory func(callerID string, sink session.Sink) (*session.CallSession, error)

// Handler terminates the WebRTC leg used for supervised test calls. The
// browser's mic feeds the session; the session's audio plays back over the
// answer track.
type Handler struct {
	newSession SessionFactory
}

func NewHandler(newSession SessionFactory) *Handler {
	return &Handler{newSession: newSession}
}

// HandleOffer accepts an SDP offer and returns an SDP answer with the call
// wired up.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"companion-audio", "companion")
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("rtc: remote audio track, codec=%s", remote.Codec().MimeType)

		paced, err := NewOpusPacedWriter(outTrack)
		if err != nil {
			log.Printf("rtc: opus encoder: %v", err)
			return
		}
		sess, err := h.newSession("webrtc-test", paced)
		if err != nil {
			log.Printf("rtc: build session: %v", err)
			paced.Close()
			return
		}

		sessCtx, cancelSess := context.WithCancel(context.Background())
		go func() {
			if err := sess.Run(sessCtx); err != nil {
				log.Printf("rtc: session %s: %v", sess.ID, err)
			}
		}()

		dec, err := opus.NewDecoder(16000, 1)
		if err != nil {
			log.Printf("rtc: opus decoder: %v", err)
			cancelSess()
			return
		}
		go readMic(remote, dec, sess)

		peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			log.Printf("rtc: peer state %s", state)
			switch state {
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
				sess.Hangup("peer " + state.String())
				cancelSess()
				paced.Close()
				_ = peerConnection.Close()
			}
		})
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes the remote Opus track at 16kHz and feeds the session in
// 100ms chunks.
func readMic(remote *webrtc.TrackRemote, dec *opus.Decoder, sess *session.CallSession) {
	const chunkBytes = 3200 // 100ms of 16kHz PCM16
	buf := make([]byte, 0, chunkBytes*4)
	pcmSamples := make([]int16, 1920)
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Printf("rtc: rtp read: %v", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcmSamples)
		if err != nil {
			log.Printf("rtc: opus decode: %v", err)
			continue
		}
		start := len(buf)
		buf = append(buf, make([]byte, n*2)...)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[start+i*2:start+(i+1)*2], uint16(pcmSamples[i]))
		}
		for len(buf) >= chunkBytes {
			chunk := make([]byte, chunkBytes)
			copy(chunk, buf[:chunkBytes])
			sess.FeedCallerAudio(chunk)
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}
