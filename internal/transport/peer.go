package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	pionnet "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/cast/internal/util"
)

// DefaultICEServers are used when none are configured. No TURN: the engine
// targets direct P2P connectivity.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// APIOptions configures the pion API shared by every Transport of a process.
type APIOptions struct {
	// Net replaces the OS network stack, e.g. with a pion vnet in tests.
	Net pionnet.Net

	// IncludeLoopback gathers loopback candidates, useful for same-host runs.
	IncludeLoopback bool
}

// NewAPI builds a pion API with the default codecs and interceptors and with
// pion's logs routed to the application logger.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

// newPeerConnection creates a PeerConnection using the given STUN/TURN URLs.
func newPeerConnection(api *webrtc.API, iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return api.NewPeerConnection(config)
}
