package service

import (
	"context"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayService_Relay(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.UserID
		to      domain.UserID
		sig     domain.Signal
		gateErr error
		wantErr error
		relayed bool
		dropped string
	}{
		{
			name:    "invite",
			from:    "1",
			to:      "2",
			sig:     domain.NewInvite("1", "42", "2", domain.KindAudio),
			relayed: true,
		},
		{
			name:    "hangup",
			from:    "1",
			to:      "2",
			sig:     domain.NewHangup("1", "42", ""),
			relayed: true,
		},
		{
			name:    "spoofed sender",
			from:    "3",
			to:      "2",
			sig:     domain.NewAccept("1", "42"),
			wantErr: ErrSpoofedSender,
			dropped: "spoofed",
		},
		{
			name:    "missing recipient",
			from:    "1",
			sig:     domain.NewAccept("1", "42"),
			wantErr: domain.ErrInvalidSignal,
			dropped: "invalid",
		},
		{
			name:    "invite target mismatch",
			from:    "1",
			to:      "2",
			sig:     domain.NewInvite("1", "42", "3", domain.KindAudio),
			wantErr: domain.ErrInvalidSignal,
			dropped: "invalid",
		},
		{
			name:    "malformed",
			from:    "1",
			to:      "2",
			sig:     domain.NewAccept("1", ""),
			wantErr: domain.ErrInvalidSignal,
			dropped: "invalid",
		},
		{
			name:    "offline recipient is not an error",
			from:    "1",
			to:      "2",
			sig:     domain.NewReject("1", "42", "busy"),
			gateErr: port.ErrRecipientOffline,
			dropped: "offline",
		},
		{
			name:    "gateway failure",
			from:    "1",
			to:      "2",
			sig:     domain.NewReject("1", "42", "busy"),
			gateErr: errBoom,
			wantErr: errBoom,
			dropped: "send_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{err: tt.gateErr}
			m := NewRelayMetrics(prometheus.NewRegistry())
			s := NewRelayService(gw, m)

			err := s.Relay(context.Background(), tt.from, tt.to, tt.sig)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if tt.relayed {
				require.Len(t, gw.sent, 1)
				assert.Equal(t, tt.to, gw.sent[0].to)
				assert.Equal(t, tt.sig, gw.sent[0].sig)
				assert.Equal(t, 1.0, testutil.ToFloat64(m.relayed.WithLabelValues(tt.sig.Type().String())))
			} else {
				assert.Empty(t, gw.sent)
			}
			if tt.dropped != "" {
				assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues(tt.dropped)))
			}
		})
	}
}

func TestRelayService_NilMetrics(t *testing.T) {
	gw := &fakeGateway{}
	s := NewRelayService(gw, nil)
	require.NoError(t, s.Relay(context.Background(), "1", "2", domain.NewAccept("1", "42")))
	assert.Len(t, gw.sent, 1)
}
