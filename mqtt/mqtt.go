package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gr-butler/anemometer/bus"
	"github.com/gr-butler/anemometer/ota"
	"github.com/gr-butler/anemometer/report"
	logger "github.com/sirupsen/logrus"
)

const (
	commandOTAUpdate = "ota_update"
	commandRestart   = "system_restart"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	ReportTopic string
	QoS         byte
	TLS         *tls.Config
}

// Client publishes wind reports and receives device commands under
// <prefix>/command/.
type Client struct {
	cfg       Config
	client    paho.Client
	fabric    *bus.Fabric
	restarter ota.Restarter
}

type shadowState struct {
	State struct {
		Reported report.Report `json:"reported"`
	} `json:"state"`
}

func New(cfg Config, fabric *bus.Fabric, restarter ota.Restarter) *Client {
	c := &Client{cfg: cfg, fabric: fabric, restarter: restarter}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(fmt.Sprintf("%v-%v", cfg.ClientID, uuid.NewString()[:8])).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second * 10).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warnf("MQTT connection lost [%v]", err)
		})
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}
	c.client = paho.NewClient(opts)
	return c
}

// Connect starts the connection. With connect retry enabled it keeps trying
// in the background, so only configuration errors are returned.
func (c *Client) Connect() error {
	logger.Infof("Connecting to MQTT broker [%v]", c.cfg.Broker)
	t := c.client.Connect()
	if t.WaitTimeout(time.Second*5) && t.Error() != nil {
		return t.Error()
	}
	return nil
}

func (c *Client) commandTopic() string {
	return c.cfg.TopicPrefix + "/command/#"
}

func (c *Client) onConnect(cl paho.Client) {
	logger.Infof("MQTT connected, subscribing to [%v]", c.commandTopic())
	t := cl.Subscribe(c.commandTopic(), c.cfg.QoS, func(_ paho.Client, m paho.Message) {
		c.handleCommand(m.Topic(), m.Payload())
	})
	go func() {
		if t.WaitTimeout(time.Second*10) && t.Error() != nil {
			logger.Errorf("MQTT subscribe failed [%v]", t.Error())
		}
	}()
}

func (c *Client) handleCommand(topic string, payload []byte) {
	cmd := topic[strings.LastIndex(topic, "/")+1:]
	switch cmd {
	case commandOTAUpdate:
		target := strings.TrimSpace(string(payload))
		if target == "" {
			logger.Warn("Ignoring OTA update command without a target")
			return
		}
		logger.Infof("OTA update command received [%v]", target)
		c.fabric.RequestOTA(target)
	case commandRestart:
		if len(payload) != 0 {
			logger.Warnf("Ignoring restart command with payload [%s]", payload)
			return
		}
		logger.Info("Restart command received")
		if err := c.restarter.Restart(); err != nil {
			logger.Errorf("Restart failed [%v]", err)
		}
	default:
		logger.Warnf("Unknown command [%v]", topic)
	}
}

func (c *Client) Name() string {
	return "mqtt"
}

func (c *Client) Send(ctx context.Context, r report.Report) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	var s shadowState
	s.State.Reported = r
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	t := c.client.Publish(c.cfg.ReportTopic, c.cfg.QoS, false, b)
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run keeps the connection until an OTA update starts or ctx is done.
func (c *Client) Run(ctx context.Context, events *bus.Subscription[bus.ApplicationStateChange]) error {
	defer c.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events.C():
			if ev.IsOTAStarted() {
				logger.Info("OTA Update started, disconnecting MQTT")
				return nil
			}
		}
	}
}
