package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrSpoofedSender = errors.New("signal sender does not match connection")

// RelayService forwards signals between connected users. Delivery is
// at-most-once: a signal for an offline user is dropped.
type RelayService struct {
	gateway port.RealTimeGateway
	metrics *RelayMetrics
}

func NewRelayService(gateway port.RealTimeGateway, metrics *RelayMetrics) *RelayService {
	return &RelayService{
		gateway: gateway,
		metrics: metrics,
	}
}

func (s *RelayService) Relay(ctx context.Context, from, to domain.UserID, sig domain.Signal) error {
	if err := domain.ValidateSignal(sig); err != nil {
		s.metrics.drop("invalid")
		return err
	}
	if sig.Sender() != from {
		s.metrics.drop("spoofed")
		return ErrSpoofedSender
	}
	if to.IsZero() {
		s.metrics.drop("invalid")
		return fmt.Errorf("%w: missing recipient", domain.ErrInvalidSignal)
	}
	if inv, ok := sig.(domain.Invite); ok && inv.TargetUserID != to {
		s.metrics.drop("invalid")
		return fmt.Errorf("%w: invite target %s does not match recipient %s", domain.ErrInvalidSignal, inv.TargetUserID, to)
	}

	if err := s.gateway.SendSignal(ctx, to, sig); err != nil {
		if errors.Is(err, port.ErrRecipientOffline) {
			s.metrics.drop("offline")
			log.Debug().
				Str("signal", sig.Type().String()).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Recipient offline, dropping signal")
			return nil
		}
		s.metrics.drop("send_error")
		return fmt.Errorf("relay %s to %s: %w", sig.Type(), to, err)
	}
	s.metrics.relay(sig.Type().String())
	return nil
}
