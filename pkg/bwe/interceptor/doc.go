// Package interceptor connects a bwe.BandwidthMeter to Pion WebRTC.
//
// Every remote stream bound by a PeerConnection becomes an open network
// transfer on the meter, and every RTP packet read from it reports its size.
// The meter's estimate is sent back to the media sender as REMB (Receiver
// Estimated Maximum Bitrate) RTCP feedback.
//
// # Quick Start
//
//	meter, err := bwe.NewBandwidthMeter(bwe.WithRegistry(registry))
//	if err != nil {
//	    return err
//	}
//	factory, err := interceptor.NewTransferInterceptorFactory(meter)
//	if err != nil {
//	    return err
//	}
//	api, err := interceptor.NewAPI(factory)
//	if err != nil {
//	    return err
//	}
//	pc, err := api.NewPeerConnection(webrtc.Configuration{})
//
// # How It Works
//
// 1. BindRemoteStream opens a transfer on the meter and wraps the stream's
// reader. Reads holding a valid RTP header are reported with their size.
//
// 2. Every sample interval all open transfers are ended and restarted, so
// the meter's algorithm closes a sampling window covering all streams.
// Streams silent for longer than the stream timeout are ended and dropped.
//
// 3. Once the RTCP writer is bound, a background goroutine sends the meter's
// estimate as REMB at the feedback interval, and immediately when the
// estimate drops by 3% or more.
package interceptor
