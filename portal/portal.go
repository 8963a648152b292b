// Package portal provides the MQTT connection used for publishing status
// changes.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/event-status-server/errors"
	"go.uber.org/zap"
	"net/url"
	"sync"
	"time"
)

const defaultMQTTClientID = "event-status-server"
const mqttKeepAlive = 8

// mqttQOS is at-least-once so that retained status messages reach the broker
// after reconnects.
const mqttQOS = 1

// Topic is an MQTT topic.
type Topic string

// Config is the config for the Base.
type Config struct {
	// MQTTAddr is the address where the MQTT-server is found.
	MQTTAddr string
	// ClientID is the MQTT client id. Defaults to "event-status-server".
	ClientID string
}

// publisher is used for publishing MQTT events.
type publisher interface {
	Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error)
}

// Base is a wrapper for all connection related stuff for a Portal. Using the
// Base, you only need to Open the Base and then use portals via NewPortal.
type Base interface {
	// Open the connection. Stays opened until the given context.Context is done.
	Open(ctx context.Context) error
	// NewPortal creates a new Portal that uses the connection from the Base.
	NewPortal(name string) Portal
	// OnConnectionUp registers a handler that is called each time the
	// connection to the MQTT server is (re)established. Publishing works from
	// then on. Handlers must not block. Register them before calling Open.
	OnConnectionUp(handler func())
}

// connection holds the publisher once the Base is opened.
type connection struct {
	publisher publisher
	m         sync.RWMutex
}

func (c *connection) set(p publisher) {
	c.m.Lock()
	defer c.m.Unlock()
	c.publisher = p
}

func (c *connection) get() publisher {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.publisher
}

type basePortal struct {
	logger *zap.Logger
	config Config
	// brokerURL is the URL of the MQTT broker.
	brokerURL *url.URL
	// conn is shared with all created portals.
	conn *connection
	// connectionUpHandlers are called in connectionUp.
	connectionUpHandlers []func()
	// handlersMutex locks connectionUpHandlers.
	handlersMutex sync.RWMutex
}

func (p *basePortal) OnConnectionUp(handler func()) {
	p.handlersMutex.Lock()
	defer p.handlersMutex.Unlock()
	p.connectionUpHandlers = append(p.connectionUpHandlers, handler)
}

// connectionUp makes the given publisher available to all portals and calls
// the registered handlers.
func (p *basePortal) connectionUp(pub publisher) {
	p.conn.set(pub)
	p.handlersMutex.RLock()
	defer p.handlersMutex.RUnlock()
	for _, handler := range p.connectionUpHandlers {
		handler()
	}
}

// Portal publishes to MQTT topics.
type Portal interface {
	// Publish the given payload to the Topic. It will catch any errors during
	// publishing and log them using the Logger.
	Publish(ctx context.Context, topic Topic, payload interface{})
	// PublishRetained publishes like Publish but asks the broker to retain the
	// message for later subscribers.
	PublishRetained(ctx context.Context, topic Topic, payload interface{})
	// Logger returns the logger of the Portal.
	Logger() *zap.Logger
}

// NewBase creates a Base with the given Config. Open it with Base.Open.
func NewBase(logger *zap.Logger, config Config) (Base, error) {
	brokerURL, err := url.Parse(config.MQTTAddr)
	if err != nil {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Err:     err,
			Message: "invalid mqtt addr",
			Details: errors.Details{"was": config.MQTTAddr},
		}
	}
	if brokerURL.Scheme == "" || brokerURL.Host == "" {
		return nil, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindInvalidConfig,
			Message: "mqtt addr needs scheme and host like tcp://localhost:1883",
			Details: errors.Details{"was": config.MQTTAddr},
		}
	}
	if config.ClientID == "" {
		config.ClientID = defaultMQTTClientID
	}
	return &basePortal{
		logger:    logger,
		config:    config,
		brokerURL: brokerURL,
		conn:      &connection{},
	}, nil
}

// Open the base portal and keep the connection to the MQTT server until the
// given context.Context is done.
func (p *basePortal) Open(ctx context.Context) error {
	conn, err := autopaho.NewConnection(ctx, p.genClientConfig())
	if err != nil {
		return errors.Error{
			Code:    errors.ErrCommunication,
			Err:     err,
			Message: "create mqtt server connection failed",
		}
	}
	p.conn.set(conn)
	// Wait until we are done.
	<-ctx.Done()
	p.conn.set(nil)
	// Shutdown MQTT connection.
	disconnectTimeout, cancelDisconnectTimeout := context.WithTimeout(context.Background(), 3*time.Second)
	err = conn.Disconnect(disconnectTimeout)
	cancelDisconnectTimeout()
	if err != nil {
		return errors.Error{
			Code:    errors.ErrCommunication,
			Err:     err,
			Message: "disconnect from mqtt server failed",
		}
	}
	return nil
}

// genClientConfig generates the autopaho.ClientConfig that is ready to launch.
func (p *basePortal) genClientConfig() autopaho.ClientConfig {
	return autopaho.ClientConfig{
		BrokerUrls: []*url.URL{p.brokerURL},
		KeepAlive:  mqttKeepAlive,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt server connection established")
			p.connectionUp(cm)
		},
		OnConnectError: func(err error) {
			errors.Log(p.logger, errors.Error{
				Code:    errors.ErrCommunication,
				Err:     err,
				Message: "mqtt server connection failed",
			})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.config.ClientID,
			Router:   paho.NewStandardRouter(),
			OnServerDisconnect: func(disconnect *paho.Disconnect) {
				reason := fmt.Sprintf("reason code %d", disconnect.ReasonCode)
				if disconnect.Properties != nil && disconnect.Properties.ReasonString != "" {
					reason = disconnect.Properties.ReasonString
				}
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Message: fmt.Sprintf("mqtt server requested disconnect: %s", reason),
				})
			},
			OnClientError: func(err error) {
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Err:     err,
					Message: "mqtt server connection client error",
				})
			},
		},
	}
}

// NewPortal creates a new Portal that publishes using the connection of the
// Base.
func (p *basePortal) NewPortal(name string) Portal {
	return &portal{
		logger: p.logger.Named(name),
		conn:   p.conn,
	}
}

// portal provides a higher-level API for Base that makes it easier to conduct
// tests, etc.
type portal struct {
	logger *zap.Logger
	// conn provides the publisher.
	conn *connection
}

// Publish the given payload to the Topic.
func (p *portal) Publish(ctx context.Context, topic Topic, payload interface{}) {
	p.publish(ctx, topic, payload, false)
}

// PublishRetained publishes the given payload as retained message.
func (p *portal) PublishRetained(ctx context.Context, topic Topic, payload interface{}) {
	p.publish(ctx, topic, payload, true)
}

func (p *portal) publish(ctx context.Context, topic Topic, payload interface{}, retain bool) {
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		errors.Log(p.logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "marshal payload for publishing",
			Details: errors.Details{"topic": topic},
		})
		return
	}
	pub := p.conn.get()
	if pub == nil {
		p.logger.Debug("dropping message as mqtt connection is not open", zap.String("topic", string(topic)))
		return
	}
	_, err = pub.Publish(ctx, &paho.Publish{
		QoS:     mqttQOS,
		Retain:  retain,
		Topic:   string(topic),
		Payload: payloadRaw,
	})
	if err != nil {
		errors.Log(p.logger, errors.Error{
			Code:    errors.ErrCommunication,
			Err:     err,
			Message: "publish message failed",
			Details: errors.Details{"topic": topic},
		})
		return
	}
}

// Logger returns the portal's logger.
func (p *portal) Logger() *zap.Logger {
	return p.logger
}
