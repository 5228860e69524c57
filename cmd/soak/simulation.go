package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pion/logging"
	"go.uber.org/zap"

	"github.com/thesyncim/livebwe/internal/config"
	"github.com/thesyncim/livebwe/pkg/bwe"
	"github.com/thesyncim/livebwe/pkg/playback"
)

const (
	stepInterval       = 20 * time.Millisecond
	segmentDuration    = time.Second
	linkChangeInterval = 5 * time.Second
	statusInterval     = time.Minute

	// The live stream has been running this long when the player joins.
	initialLiveEdge = 30 * time.Second

	// maxBufferAhead stops segment fetches once this much media is buffered.
	maxBufferAhead = 10 * time.Second

	// abrSafetyFactor is the share of the estimate a rendition may use.
	abrSafetyFactor = 0.7

	minLinkRate = 2_000_000
	maxLinkRate = 8_000_000
)

// bitrateLadder lists the renditions the simulated stream is encoded at.
var bitrateLadder = []int64{300_000, 750_000, 1_500_000, 3_000_000, 5_000_000}

// simClock is the simulation's virtual time. The meter measures transfers
// against it, so a ten minute session runs in well under a second.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSimClock() *simClock {
	return &simClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// link is a bottleneck whose rate drifts in a bounded random walk.
type link struct {
	rate   int64
	jitter float64
	rng    *rand.Rand
}

func newLink(seed int64, jitter float64) *link {
	s := uint64(seed)
	rng := rand.New(rand.NewPCG(s, s^0x5deece66d))
	return &link{
		rate:   minLinkRate + rng.Int64N(maxLinkRate-minLinkRate),
		jitter: jitter,
		rng:    rng,
	}
}

func (l *link) drift() {
	if l.jitter == 0 {
		return
	}
	factor := 1 + l.jitter*(2*l.rng.Float64()-1)
	l.rate = min(max(int64(float64(l.rate)*factor), minLinkRate), maxLinkRate)
}

// bytesPer returns how many bytes the link carries in d.
func (l *link) bytesPer(d time.Duration) int64 {
	return l.rate * d.Milliseconds() / 8000
}

// player plays buffered media at the commanded speed while the live edge
// advances in real time. It stalls when the buffer runs dry.
type player struct {
	mu          sync.Mutex
	positionUs  int64
	liveEdgeUs  int64
	bufferedUs  int64
	speed       float32
	stalled     bool
	stalls      int
	speedEvents int
}

func (p *player) PositionUs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionUs
}

func (p *player) LiveEdgePositionUs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveEdgeUs
}

func (p *player) SetPlaybackSpeed(speed float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if speed != p.speed {
		p.speedEvents++
	}
	p.speed = speed
}

func (p *player) advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liveEdgeUs += d.Microseconds()

	next := p.positionUs + int64(float64(d.Microseconds())*float64(p.speed))
	if next >= p.bufferedUs {
		next = max(p.bufferedUs, p.positionUs)
		if !p.stalled {
			p.stalls++
		}
		p.stalled = true
	} else {
		p.stalled = false
	}
	p.positionUs = next
}

func (p *player) appendSegment(d time.Duration) {
	p.mu.Lock()
	p.bufferedUs += d.Microseconds()
	p.mu.Unlock()
}

func (p *player) latencyMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.liveEdgeUs - p.positionUs) / 1000
}

// download is the segment currently being fetched.
type download struct {
	bitrate   int64
	remaining int64
}

// Result summarises a simulated session.
type Result struct {
	SessionID        string
	Duration         time.Duration
	Segments         int
	BytesTransferred int64
	FinalEstimate    int64
	MinEstimate      int64
	MaxEstimate      int64
	FinalLinkRate    int64
	FinalLatencyMs   int64
	TargetLatencyMs  int64
	BandMs           int64
	InBandRatio      float64
	Stalls           int
	SpeedChanges     int
	Failures         []string
}

// Passed reports whether the session met every criterion.
func (r Result) Passed() bool {
	return len(r.Failures) == 0
}

// simulationDeps are the collaborators the command wires in.
type simulationDeps struct {
	log           *zap.Logger
	loggerFactory logging.LoggerFactory
	listeners     []bwe.EventListener
	// wrapSpeed decorates the player's speed handler, for example to record
	// commanded speeds.
	wrapSpeed func(playback.SpeedHandler) playback.SpeedHandler
	sessionID string
}

// Simulation drives a bandwidth meter and a playback rate controller with a
// simulated live session: a player fetching one second segments over a
// drifting link and playing them back against a live edge.
type Simulation struct {
	cfg        config.SimulationConfig
	log        *zap.Logger
	clock      *simClock
	meter      *bwe.BandwidthMeter
	transfers  bwe.TransferListener
	driver     *playback.Driver
	player     *player
	link       *link
	bandMs     int64
	sessionID  string
	current    *download
	nextSegEnd time.Duration
	result     Result
}

// NewSimulation builds the meter, controller and driver for cfg.
func NewSimulation(cfg config.SimulationConfig, linkJitter float64, deps simulationDeps) (*Simulation, error) {
	if deps.log == nil {
		deps.log = zap.NewNop()
	}
	if deps.loggerFactory == nil {
		deps.loggerFactory = logging.NewDefaultLoggerFactory()
	}
	networkType, err := bwe.ParseNetworkType(cfg.NetworkType)
	if err != nil {
		return nil, err
	}

	clock := newSimClock()
	meter, err := bwe.NewBandwidthMeter(
		bwe.WithClock(clock),
		bwe.WithCountryCode(cfg.CountryCode),
		bwe.WithNetworkType(networkType),
		bwe.WithLoggerFactory(deps.loggerFactory),
	)
	if err != nil {
		return nil, fmt.Errorf("creating meter: %w", err)
	}
	meter.OnMediaSourceChanged(bwe.NameSelector(cfg.Algorithm))
	for _, l := range deps.listeners {
		meter.AddEventListener(l)
	}

	opts := append(cfg.ControllerOptions(), playback.WithLoggerFactory(deps.loggerFactory))
	controller, err := playback.NewController(cfg.Controller, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating controller: %w", err)
	}
	var maxDriftMs int64
	if c, ok := controller.(interface{ Config() playback.Config }); ok {
		maxDriftMs = c.Config().MaxDriftMs
	}

	// The player joins the stream at twice the target latency, so the
	// controller has to catch up before it can settle.
	startLatency := 2 * time.Duration(cfg.TargetLatencyMs) * time.Millisecond
	if startLatency < segmentDuration {
		startLatency = segmentDuration
	}
	joinAt := initialLiveEdge - startLatency
	joinSegment := joinAt.Truncate(segmentDuration)
	p := &player{
		positionUs: joinAt.Microseconds(),
		liveEdgeUs: initialLiveEdge.Microseconds(),
		bufferedUs: joinSegment.Microseconds(),
		speed:      1,
		// Waiting for the first segment is start-up, not a stall.
		stalled: true,
	}

	var handler playback.SpeedHandler = p
	if deps.wrapSpeed != nil {
		handler = deps.wrapSpeed(p)
	}
	driver, err := playback.NewDriver(p, controller, handler, cfg.Tick)
	if err != nil {
		return nil, err
	}

	// Controllers overshoot the band by at most one tick of catch-up.
	overshootMs := int64(float64(cfg.Tick.Milliseconds()) * (cfg.CatchupRate - 1))

	return &Simulation{
		cfg:        cfg,
		log:        deps.log,
		clock:      clock,
		meter:      meter,
		transfers:  meter.TransferListener(),
		driver:     driver,
		player:     p,
		link:       newLink(cfg.Seed, linkJitter),
		bandMs:     maxDriftMs + overshootMs + 1,
		sessionID:  deps.sessionID,
		nextSegEnd: joinSegment + segmentDuration,
		result: Result{
			SessionID:       deps.sessionID,
			TargetLatencyMs: cfg.TargetLatencyMs,
			MinEstimate:     meter.BitrateEstimate(),
			MaxEstimate:     meter.BitrateEstimate(),
		},
	}, nil
}

// Run simulates cfg.Duration of playback. With cfg.Realtime each step waits
// for the wall clock; otherwise the session runs as fast as possible.
// Cancelling ctx ends the session early with the results so far.
func (s *Simulation) Run(ctx context.Context) (Result, error) {
	steps := int(s.cfg.Duration / stepInterval)
	controlEvery := max(int(s.cfg.Tick/stepInterval), 1)
	linkEvery := int(linkChangeInterval / stepInterval)
	statusEvery := int(statusInterval / stepInterval)

	var pace <-chan time.Time
	if s.cfg.Realtime {
		ticker := time.NewTicker(stepInterval)
		defer ticker.Stop()
		pace = ticker.C
	}

	var controlTicks, inBand int
	var elapsed time.Duration
	for i := 1; i <= steps; i++ {
		if pace != nil {
			select {
			case <-ctx.Done():
				return s.finish(elapsed, controlTicks, inBand), nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return s.finish(elapsed, controlTicks, inBand), nil
		}

		if err := s.step(); err != nil {
			return s.result, err
		}
		elapsed += stepInterval

		if i%linkEvery == 0 {
			s.link.drift()
		}
		if i%controlEvery == 0 {
			s.driver.Tick()
			controlTicks++
			if errMs := s.latencyErrorMs(); errMs <= s.bandMs && errMs >= -s.bandMs {
				inBand++
			}
		}
		if i%statusEvery == 0 {
			s.logStatus(elapsed)
		}
	}
	return s.finish(elapsed, controlTicks, inBand), nil
}

// step advances the session by one step: it may start a segment fetch,
// moves time forward and delivers what the link carried meanwhile.
func (s *Simulation) step() error {
	if s.current == nil {
		s.maybeStartDownload()
	}

	s.clock.Advance(stepInterval)
	s.player.advance(stepInterval)

	if s.current != nil {
		chunk := min(s.link.bytesPer(stepInterval), s.current.remaining)
		s.current.remaining -= chunk
		s.result.BytesTransferred += chunk
		s.transfers.OnBytesTransferred(true, int(chunk))

		if s.current.remaining == 0 {
			if err := s.transfers.OnTransferEnd(true); err != nil {
				return fmt.Errorf("ending segment transfer: %w", err)
			}
			s.player.appendSegment(segmentDuration)
			s.nextSegEnd += segmentDuration
			s.result.Segments++
			s.current = nil
		}
	}

	estimate := s.meter.BitrateEstimate()
	s.result.MinEstimate = min(s.result.MinEstimate, estimate)
	s.result.MaxEstimate = max(s.result.MaxEstimate, estimate)
	return nil
}

func (s *Simulation) maybeStartDownload() {
	liveEdge := time.Duration(s.player.LiveEdgePositionUs()) * time.Microsecond
	position := time.Duration(s.player.PositionUs()) * time.Microsecond
	if s.nextSegEnd > liveEdge || s.nextSegEnd-position > maxBufferAhead {
		return
	}

	bitrate := selectRendition(s.meter.BitrateEstimate())
	s.current = &download{
		bitrate:   bitrate,
		remaining: bitrate * segmentDuration.Milliseconds() / 8000,
	}
	s.transfers.OnTransferInitializing(true)
	s.transfers.OnTransferStart(true)
	s.log.Debug("segment fetch",
		zap.Duration("segment_end", s.nextSegEnd),
		zap.Int64("rendition_bps", bitrate),
		zap.Int64("link_bps", s.link.rate),
	)
}

// selectRendition picks the highest rendition the estimate can sustain.
func selectRendition(estimate int64) int64 {
	budget := int64(float64(estimate) * abrSafetyFactor)
	chosen := bitrateLadder[0]
	for _, b := range bitrateLadder {
		if b <= budget {
			chosen = b
		}
	}
	return chosen
}

func (s *Simulation) latencyErrorMs() int64 {
	return s.player.latencyMs() - s.cfg.TargetLatencyMs
}

func (s *Simulation) logStatus(elapsed time.Duration) {
	s.log.Info("status",
		zap.String("session", s.sessionID),
		zap.Duration("elapsed", elapsed),
		zap.Int64("estimate_bps", s.meter.BitrateEstimate()),
		zap.Int64("link_bps", s.link.rate),
		zap.Int64("latency_ms", s.player.latencyMs()),
		zap.Int("segments", s.result.Segments),
		zap.Int("stalls", s.player.stalls),
	)
}

func (s *Simulation) finish(elapsed time.Duration, controlTicks, inBand int) Result {
	r := s.result
	r.Duration = elapsed
	r.FinalEstimate = s.meter.BitrateEstimate()
	r.FinalLinkRate = s.link.rate
	r.FinalLatencyMs = s.player.latencyMs()
	r.BandMs = s.bandMs
	r.Stalls = s.player.stalls
	s.player.mu.Lock()
	r.SpeedChanges = s.player.speedEvents
	s.player.mu.Unlock()
	if controlTicks > 0 {
		r.InBandRatio = float64(inBand) / float64(controlTicks)
	}

	if r.FinalEstimate <= 0 {
		r.Failures = append(r.Failures, fmt.Sprintf("non-positive final estimate %d", r.FinalEstimate))
	}
	if errMs := r.FinalLatencyMs - r.TargetLatencyMs; errMs > r.BandMs || errMs < -r.BandMs {
		r.Failures = append(r.Failures, fmt.Sprintf("latency %d ms outside %d±%d ms", r.FinalLatencyMs, r.TargetLatencyMs, r.BandMs))
	}
	return r
}
