// Package bwe estimates available network throughput from observed data
// transfers.
//
// Transfer events (start, bytes, end) are fed to a BandwidthMeter, which
// forwards them to exactly one active Algorithm. Algorithms turn transfers
// into weighted throughput samples, keep them in a SlidingPercentile window
// and publish the median as the bitrate estimate.
package bwe

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned when a caller passes a value outside the
	// accepted domain (non-positive weights, percentiles outside [0,1], ...).
	ErrInvalidArgument = errors.New("bwe: invalid argument")

	// ErrIllegalState is returned when transfer events arrive out of protocol
	// order, e.g. a transfer end without a matching start.
	ErrIllegalState = errors.New("bwe: illegal state")
)

// NetworkType identifies the kind of network connection transfers run over.
type NetworkType int

const (
	// NetworkUnknown means the connection type could not be determined.
	NetworkUnknown NetworkType = iota
	// NetworkOffline means there is no connectivity.
	NetworkOffline
	// NetworkWifi is a wireless LAN connection.
	NetworkWifi
	// NetworkEthernet is a wired connection.
	NetworkEthernet
	// NetworkCellular2G is a 2G mobile connection.
	NetworkCellular2G
	// NetworkCellular3G is a 3G mobile connection.
	NetworkCellular3G
	// NetworkCellular4G is a 4G mobile connection.
	NetworkCellular4G
	// NetworkOther is a connection of a known but unclassified type.
	NetworkOther
)

// String returns a string representation of the NetworkType.
func (t NetworkType) String() string {
	switch t {
	case NetworkUnknown:
		return "unknown"
	case NetworkOffline:
		return "offline"
	case NetworkWifi:
		return "wifi"
	case NetworkEthernet:
		return "ethernet"
	case NetworkCellular2G:
		return "2g"
	case NetworkCellular3G:
		return "3g"
	case NetworkCellular4G:
		return "4g"
	case NetworkOther:
		return "other"
	default:
		return "invalid"
	}
}

// ParseNetworkType converts a name produced by NetworkType.String back into
// a NetworkType. Matching is case-insensitive.
func ParseNetworkType(s string) (NetworkType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown", "":
		return NetworkUnknown, nil
	case "offline":
		return NetworkOffline, nil
	case "wifi":
		return NetworkWifi, nil
	case "ethernet":
		return NetworkEthernet, nil
	case "2g":
		return NetworkCellular2G, nil
	case "3g":
		return NetworkCellular3G, nil
	case "4g":
		return NetworkCellular4G, nil
	case "other":
		return NetworkOther, nil
	}
	return NetworkUnknown, fmt.Errorf("%w: unknown network type %q", ErrInvalidArgument, s)
}

// ambiguous reports whether a switch to t carries too little information to
// justify discarding accumulated throughput samples.
func (t NetworkType) ambiguous() bool {
	return t == NetworkOffline || t == NetworkUnknown || t == NetworkOther
}

// Listener receives events published by an Algorithm.
type Listener interface {
	// OnBandwidthEstimate is called when the algorithm produces a new
	// estimate in bits per second.
	OnBandwidthEstimate(bitsPerSecond int64)

	// OnBandwidthSample is called when the algorithm closes a sample with the
	// number of bytes it covered.
	OnBandwidthSample(bytesTransferred int64)
}

// EventListener receives throttled bandwidth samples from a BandwidthMeter.
type EventListener interface {
	// OnBandwidthSample reports the bytes transferred since the previous
	// report, the milliseconds elapsed since it, and the current estimate.
	OnBandwidthSample(elapsedMs int, bytesTransferred int64, bitrateEstimate int64)
}

// TransferListener observes data transfers. isNetwork is false for transfers
// served from local storage, which never contribute to estimates.
type TransferListener interface {
	OnTransferInitializing(isNetwork bool)
	OnTransferStart(isNetwork bool)
	OnBytesTransferred(isNetwork bool, bytes int)
	// OnTransferEnd returns ErrIllegalState when no transfer is open.
	OnTransferEnd(isNetwork bool) error
}
