package interceptor

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// NewAPI returns a webrtc.API whose PeerConnections report their received
// media to factory's meter. The media engine carries pion's default codecs;
// the default interceptors (NACK, RTCP reports, TWCC) are registered next to
// the transfer interceptor.
func NewAPI(factory *TransferInterceptorFactory) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}
	registry.Add(factory)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
