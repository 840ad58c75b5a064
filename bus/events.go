package bus

import (
	"fmt"
	"net"

	"github.com/gr-butler/anemometer/env"
)

type NetworkEvent int

const (
	WifiDisconnected NetworkEvent = iota
	IPAddressAssigned
)

type NetworkStateChange struct {
	Event NetworkEvent
	IP    net.IP
}

func (n NetworkStateChange) String() string {
	if n.Event == IPAddressAssigned {
		return fmt.Sprintf("IpAddressAssigned [%v]", n.IP)
	}
	return "WifiDisconnected"
}

type ApplicationEvent int

const (
	OTAUpdateRequest ApplicationEvent = iota
	OTAUpdateStarted
)

type ApplicationStateChange struct {
	Event ApplicationEvent
	// firmware url or object key, only set for OTAUpdateRequest
	Target string
}

func (a ApplicationStateChange) String() string {
	if a.Event == OTAUpdateRequest {
		return fmt.Sprintf("OTAUpdateRequest [%v]", a.Target)
	}
	return "OTAUpdateStarted"
}

func (a ApplicationStateChange) IsOTAStarted() bool {
	return a.Event == OTAUpdateStarted
}

type ApplicationDataChange int

const (
	ReportWindData ApplicationDataChange = iota
)

func (a ApplicationDataChange) String() string {
	return "ReportWindData"
}

// Fabric holds the device wide channels. It is built once by main and handed
// to each task.
type Fabric struct {
	Network     *Channel[NetworkStateChange]
	Application *Channel[ApplicationStateChange]
	Data        *Channel[ApplicationDataChange]
}

func NewFabric() *Fabric {
	return &Fabric{
		Network:     NewChannel[NetworkStateChange]("network", env.NetworkEventCapacity, 0),
		Application: NewChannel[ApplicationStateChange]("application", env.ApplicationEventCapacity, 0),
		Data:        NewChannel[ApplicationDataChange]("data", env.ApplicationDataCapacity, 0),
	}
}

// RequestOTA is the entry point for remote command handlers.
func (f *Fabric) RequestOTA(target string) {
	f.Application.Publish(ApplicationStateChange{Event: OTAUpdateRequest, Target: target})
}
