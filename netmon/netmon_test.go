package netmon

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipNet(s string) net.Addr {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

type script struct {
	results [][]net.Addr
}

func (s *script) addrs(string) ([]net.Addr, error) {
	if len(s.results) == 0 {
		return nil, errors.New("no such interface")
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func next(t *testing.T, sub *bus.Subscription[bus.NetworkStateChange]) bus.NetworkStateChange {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestPollPublishesChanges(t *testing.T) {
	s := &script{results: [][]net.Addr{
		nil,
		{ipNet("fe80::1/64"), ipNet("192.168.1.20/24")},
		{ipNet("192.168.1.20/24")},
		{ipNet("192.168.1.21/24")},
		nil,
	}}
	network := bus.NewChannel[bus.NetworkStateChange]("network", 8, 0)
	sub := network.MustSubscribe()
	firstIP := 0
	m := &Monitor{Interface: "wlan0", Network: network, addrs: s.addrs, OnFirstIP: func() error {
		firstIP++
		return nil
	}}

	for i := 0; i < 5; i++ {
		m.poll()
	}

	ev := next(t, sub)
	assert.Equal(t, bus.IPAddressAssigned, ev.Event)
	assert.Equal(t, "192.168.1.20", ev.IP.String())
	ev = next(t, sub)
	assert.Equal(t, "192.168.1.21", ev.IP.String())
	ev = next(t, sub)
	assert.Equal(t, bus.WifiDisconnected, ev.Event)
	assert.Equal(t, 1, firstIP)

	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event [%v]", ev)
	default:
	}
}

func TestFirstIPv4(t *testing.T) {
	assert.Nil(t, firstIPv4(nil))
	assert.Nil(t, firstIPv4([]net.Addr{ipNet("127.0.0.1/8")}))
	assert.Equal(t, "2001:db8::5", firstIPv4([]net.Addr{ipNet("2001:db8::5/64")}).String())
	assert.Equal(t, "10.0.0.2", firstIPv4([]net.Addr{ipNet("2001:db8::5/64"), ipNet("10.0.0.2/8")}).String())
}

func TestRunStopsOnCancel(t *testing.T) {
	s := &script{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fabric := bus.NewFabric()
	m := &Monitor{Interface: "wlan0", Interval: time.Second, Network: fabric.Network, addrs: s.addrs}
	assert.ErrorIs(t, m.Run(ctx, fabric.Application.MustSubscribe()), context.Canceled)
}

func TestRunStopsOnOTA(t *testing.T) {
	s := &script{}
	fabric := bus.NewFabric()
	events := fabric.Application.MustSubscribe()
	m := &Monitor{Interface: "wlan0", Interval: time.Hour, Network: fabric.Network, addrs: s.addrs}

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), events) }()

	fabric.Application.Publish(bus.ApplicationStateChange{Event: bus.OTAUpdateRequest, Target: "fw"})
	fabric.Application.Publish(bus.ApplicationStateChange{Event: bus.OTAUpdateStarted, Target: "fw"})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor still running after OTA started")
	}
}
