package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockDialer struct {
	dialFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if m.dialFunc != nil {
		return m.dialFunc(ctx, network, address)
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWake_Success_NoAddress(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)

	result, err := svc.Wake(context.Background(), testConfig(), "")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)

	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, nil)
	cfg := testConfig()
	cfg.MACAddress = "invalid"

	result, err := svc.Wake(context.Background(), cfg, "")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network unreachable")
		},
	}
	svc := NewWithClients(testLogger(), wolClient, nil)

	result, err := svc.Wake(context.Background(), testConfig(), "nas.lan:22")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "network unreachable")
}

func TestWake_PortImmediatelyOpen(t *testing.T) {
	var dialedAddress, dialedNetwork string
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialedNetwork, dialedAddress = network, address
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	result, err := svc.Wake(context.Background(), testConfig(), "nas.lan:22")

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Equal(t, "tcp", dialedNetwork)
	assert.Equal(t, "nas.lan:22", dialedAddress)
}

func TestWake_PortOpensLater(t *testing.T) {
	attempts := 0
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	result, err := svc.Wake(context.Background(), testConfig(), "nas.lan:22")

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, 3, attempts)
}

func TestWake_Timeout(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond

	result, err := svc.Wake(context.Background(), cfg, "nas.lan:22")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout waiting for nas.lan:22")
}

func TestWake_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			cancel()
			return nil, errors.New("connection refused")
		},
	}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)
	cfg := testConfig()
	cfg.Timeout = time.Minute

	result, err := svc.Wake(ctx, cfg, "nas.lan:22")

	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestWake_WithStabilizeWait(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{})
	cfg := testConfig()
	cfg.StabilizeWait = 30 * time.Millisecond

	start := time.Now()
	result, err := svc.Wake(context.Background(), cfg, "nas.lan:22")

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
