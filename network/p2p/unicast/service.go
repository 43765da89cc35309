package unicast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-msgio"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/wholesum/bazaar/model/messages"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/network"
	"github.com/wholesum/bazaar/network/codec"
	"github.com/wholesum/bazaar/network/codec/cbor"
	"github.com/wholesum/bazaar/network/p2p"
	"github.com/wholesum/bazaar/network/p2p/unicast/ratelimit"
)

var _ Sender = (*Service)(nil)

// Service runs the request/response protocol: every exchange uses a fresh
// stream carrying one varint-framed request and one varint-framed response.
type Service struct {
	log      zerolog.Logger
	host     host.Host
	codec    network.Codec
	handler  RequestHandler
	limiter  p2p.RateLimiter
	reporter network.MisbehaviorReporter
	metrics  module.NetworkMetrics
	timeout  time.Duration
	attempts uint64
}

type Option func(*Service)

// WithHandler serves inbound requests. Without a handler inbound streams are refused.
func WithHandler(h RequestHandler) Option {
	return func(s *Service) {
		s.handler = h
	}
}

func WithRateLimiter(l p2p.RateLimiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

func WithMisbehaviorReporter(r network.MisbehaviorReporter) Option {
	return func(s *Service) {
		s.reporter = r
	}
}

func WithMetrics(m module.NetworkMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

func WithSendAttempts(n uint64) Option {
	return func(s *Service) {
		s.attempts = n
	}
}

// NewService creates the request/response service and, when a handler is
// given, registers it on the host.
func NewService(log zerolog.Logger, h host.Host, opts ...Option) *Service {
	s := &Service{
		log:      log.With().Str("component", "req_resp").Logger(),
		host:     h,
		codec:    cbor.NewCodec(),
		limiter:  ratelimit.NewNoopRateLimiter(),
		reporter: network.NoopMisbehaviorReporter{},
		metrics:  metrics.NewNoopCollector(),
		timeout:  DefaultRequestTimeout,
		attempts: DefaultSendAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.attempts == 0 {
		s.attempts = 1
	}
	if s.handler != nil {
		h.SetStreamHandler(network.ReqRespProtocolID, s.handleStream)
	}
	return s
}

// Close unregisters the stream handler.
func (s *Service) Close() {
	s.host.RemoveStreamHandler(network.ReqRespProtocolID)
}

func (s *Service) handleStream(stream libp2pnet.Stream) {
	from := stream.Conn().RemotePeer()
	log := s.log.With().Str("peer_id", from.String()).Logger()

	if !s.limiter.Allow(from, 0) {
		log.Debug().Msg("inbound request rate limited")
		s.metrics.MessageDropped(codec.CodeName(codec.CodeRequest), "rate_limited")
		_ = stream.Reset()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := stream.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		log.Debug().Err(err).Msg("could not set stream deadline")
	}

	reader := msgio.NewVarintReaderSize(stream, cbor.MaxMessageSize)
	data, err := reader.ReadMsg()
	if err != nil {
		log.Debug().Err(err).Msg("could not read inbound request")
		s.metrics.MessageDropped(codec.CodeName(codec.CodeRequest), "read_failed")
		_ = stream.Reset()
		return
	}
	decoded, err := s.codec.Decode(data)
	size := len(data)
	reader.ReleaseMsg(data)
	if err != nil {
		log.Debug().Err(err).Msg("dropped undecodable request")
		s.metrics.MessageDropped(codec.CodeName(codec.CodeRequest), codec.DecodeErrorLabel(err))
		s.penalize(from, network.DecodeFailure)
		_ = stream.Reset()
		return
	}
	req, ok := decoded.(messages.Request)
	if !ok {
		log.Warn().Str("type", fmt.Sprintf("%T", decoded)).Msg("dropped non-request message on request stream")
		s.metrics.MessageDropped(codec.CodeName(codec.CodeRequest), "unexpected_type")
		s.penalize(from, network.ProtocolViolation)
		_ = stream.Reset()
		return
	}
	s.metrics.MessageReceived(codec.CodeName(codec.CodeRequest), size)

	resp, err := s.handler(ctx, from, req)
	if err != nil {
		log.Warn().Err(err).Msg("request handler failed")
		_ = stream.Reset()
		return
	}

	out, err := s.codec.Encode(resp)
	if err != nil {
		log.Error().Err(err).Msg("could not encode response")
		_ = stream.Reset()
		return
	}
	if err := msgio.NewVarintWriter(stream).WriteMsg(out); err != nil {
		log.Debug().Err(err).Msg("could not write response")
		_ = stream.Reset()
		return
	}
	s.metrics.MessageSent(codec.CodeName(codec.CodeResponse), len(out))
	_ = stream.Close()
}

// Send delivers the request to the peer and waits for its response. Transport
// failures are retried with exponential backoff; undecodable responses are not.
func (s *Service) Send(ctx context.Context, to peer.ID, req messages.Request) (messages.Response, error) {
	data, err := s.codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("could not encode request: %w", err)
	}

	backoff := retry.WithMaxRetries(s.attempts-1, retry.WithCappedDuration(s.timeout, retry.NewExponential(time.Second)))
	var resp messages.Response
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		resp, err = s.exchange(ctx, to, data)
		if err != nil && !codec.IsDecodeError(err) {
			s.log.Debug().Err(err).Str("peer_id", to.String()).Msg("request failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not send request to %s: %w", to, err)
	}
	return resp, nil
}

func (s *Service) exchange(ctx context.Context, to peer.ID, data []byte) (messages.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stream, err := s.host.NewStream(ctx, to, network.ReqRespProtocolID)
	if err != nil {
		return nil, fmt.Errorf("could not open stream: %w", err)
	}
	deadline, _ := ctx.Deadline()
	if err := stream.SetDeadline(deadline); err != nil {
		s.log.Debug().Err(err).Msg("could not set stream deadline")
	}

	if err := msgio.NewVarintWriter(stream).WriteMsg(data); err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("could not write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("could not close request side: %w", err)
	}
	s.metrics.MessageSent(codec.CodeName(codec.CodeRequest), len(data))

	reader := msgio.NewVarintReaderSize(stream, cbor.MaxMessageSize)
	raw, err := reader.ReadMsg()
	if err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("could not read response: %w", err)
	}
	defer reader.ReleaseMsg(raw)
	_ = stream.Close()

	decoded, err := s.codec.Decode(raw)
	if err != nil {
		s.penalize(to, network.DecodeFailure)
		return nil, err
	}
	resp, ok := decoded.(messages.Response)
	if !ok {
		s.penalize(to, network.ProtocolViolation)
		return nil, codec.NewDecodeError(codec.Malformed, codec.CodeResponse, errors.New("stream answered with a non-response message"))
	}
	s.metrics.MessageReceived(codec.CodeName(codec.CodeResponse), len(raw))
	return resp, nil
}

func (s *Service) penalize(id peer.ID, reason network.Misbehavior) {
	report, err := network.NewMisbehaviorReport(reason)
	if err != nil {
		s.log.Error().Err(err).Msg("could not create misbehavior report")
		return
	}
	s.reporter.ReportMisbehavior(id, report)
}
