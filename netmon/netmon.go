package netmon

import (
	"context"
	"net"
	"time"

	"github.com/gr-butler/anemometer/bus"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

// Monitor polls a network interface and publishes address changes.
type Monitor struct {
	Interface string
	Interval  time.Duration
	Clock     clockwork.Clock
	Network   *bus.Channel[bus.NetworkStateChange]
	// OnFirstIP runs once, the first time an address is assigned.
	OnFirstIP func() error

	addrs   func(name string) ([]net.Addr, error)
	current net.IP
	seenIP  bool
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, nil
	}
	return iface.Addrs()
}

// firstIPv4 picks the address reported for the interface, IPv4 preferred.
func firstIPv4(addrs []net.Addr) net.IP {
	var v6 net.IP
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() || ipn.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil {
			return ip4
		}
		if v6 == nil {
			v6 = ipn.IP
		}
	}
	return v6
}

func (m *Monitor) poll() {
	addrs := m.addrs
	if addrs == nil {
		addrs = interfaceAddrs
	}
	list, err := addrs(m.Interface)
	if err != nil {
		logger.Debugf("Interface [%v] not available [%v]", m.Interface, err)
	}
	ip := firstIPv4(list)

	switch {
	case ip == nil && m.current != nil:
		logger.Warnf("Interface [%v] lost address [%v]", m.Interface, m.current)
		m.current = nil
		m.Network.Publish(bus.NetworkStateChange{Event: bus.WifiDisconnected})
	case ip != nil && !ip.Equal(m.current):
		logger.Infof("Interface [%v] assigned address [%v]", m.Interface, ip)
		m.current = ip
		m.Network.Publish(bus.NetworkStateChange{Event: bus.IPAddressAssigned, IP: ip})
		if !m.seenIP {
			m.seenIP = true
			if m.OnFirstIP != nil {
				if err := m.OnFirstIP(); err != nil {
					logger.Errorf("First IP hook failed [%v]", err)
				}
			}
		}
	}
}

// Run polls until the context ends or an OTA update starts.
func (m *Monitor) Run(ctx context.Context, events *bus.Subscription[bus.ApplicationStateChange]) error {
	clock := m.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(m.Interval)
	defer ticker.Stop()
	logger.Infof("Monitoring interface [%v] every [%v]", m.Interface, m.Interval)

	m.poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				logger.Infof("OTA started, no longer monitoring [%v]", m.Interface)
				return nil
			}
		case <-ticker.Chan():
			m.poll()
		}
	}
}
