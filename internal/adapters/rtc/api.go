package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

// Settings describes the fixed ICE server set and transport tuning for every call.
type Settings struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ICEServers: []webrtc.ICEServer{{URLs: []string{DefaultSTUN}}},
	}
}

// SettingsFromConfig builds STUN servers and, when configured, TURN servers with credentials.
func SettingsFromConfig(cfg config.ICEConfig) Settings {
	s := Settings{}
	if len(cfg.STUN) > 0 {
		s.ICEServers = append(s.ICEServers, webrtc.ICEServer{URLs: cfg.STUN})
	}
	if len(cfg.TURN) > 0 {
		s.ICEServers = append(s.ICEServers, webrtc.ICEServer{
			URLs:       cfg.TURN,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
		s.ForceRelay = cfg.ForceRelay
	}
	return s
}

func (s Settings) configuration() webrtc.Configuration {
	policy := webrtc.ICETransportPolicyAll
	if s.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         s.ICEServers,
		ICETransportPolicy: policy,
	}
}

// Factory builds one pion API shared by every call and hands out Connections.
type Factory struct {
	api      *webrtc.API
	settings Settings
}

var _ core.PeerConnectionFactory = (*Factory)(nil)

func NewFactory(s Settings) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if s.DisconnectedTimeout > 0 || s.FailedTimeout > 0 {
		disc, failed, keep := s.DisconnectedTimeout, s.FailedTimeout, s.KeepAliveInterval
		if disc == 0 {
			disc = 5 * time.Second
		}
		if failed == 0 {
			failed = 25 * time.Second
		}
		if keep == 0 {
			keep = 2 * time.Second
		}
		se.SetICETimeouts(disc, failed, keep)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, settings: s}, nil
}

func (f *Factory) NewConnection(callID domain.CallID, mode domain.Mode) (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.settings.configuration())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := newConnection(pc, callID, mode)
	c.start()
	return c, nil
}
