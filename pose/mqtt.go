package pose

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ResetHandler is called when a reset is requested on a camera's control topic
type ResetHandler func(cameraID string)

// MQTTClient manages the MQTT connection and per-camera frame subscriptions
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	messageHandler MessageHandler
	resetHandler   ResetHandler
	isConnected    bool
	mu             sync.RWMutex
}

// MessageHandler is called when a frame message is received
// Parameters: cameraID, rawPayload, frame, error
type MessageHandler func(cameraID string, rawPayload []byte, frame *Frame, err error)

// InitMQTT creates an MQTT client with the provided configuration and starts connecting
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this returns nil
func InitMQTT(config *Config, handler MessageHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] Disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Cameras) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no camera configuration provided")
	}

	client := &MQTTClient{
		config:         config,
		messageHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "scenepose"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	opts.SetOrderMatters(false) // frames from different cameras are independent

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry connects to the broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes every camera's frame topic and its reset topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] Connected, subscribing to camera topics...")
	c.setConnected(true)

	for _, cam := range c.config.Cameras {
		if cam.Topic == "" {
			log.Printf("[MQTT] Warning: camera %s has no topic configured", cam.ID)
			continue
		}

		log.Printf("[MQTT] Subscribing to %s for camera %s", cam.Topic, cam.ID)
		token := client.Subscribe(cam.Topic, 0, c.createMessageHandler(cam.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] Error subscribing to %s: %v", cam.Topic, token.Error())
		}

		if resetTopic, ok := deriveResetTopic(cam.Topic); ok {
			resetToken := client.Subscribe(resetTopic, 0, c.createResetHandler(cam.ID))
			if resetToken.WaitTimeout(5*time.Second) && resetToken.Error() != nil {
				log.Printf("[MQTT] Error subscribing to %s: %v", resetTopic, resetToken.Error())
			}
		}
	}
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// createMessageHandler decodes frames arriving on one camera's topic
func (c *MQTTClient) createMessageHandler(cameraID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] Frame for %s (topic: %s, size: %d bytes)", cameraID, msg.Topic(), len(payload))

		frame, err := DecodeFrame(payload)
		if err != nil {
			log.Printf("[MQTT] Error decoding frame for %s: %v", cameraID, err)
			if c.messageHandler != nil {
				c.messageHandler(cameraID, payload, nil, err)
			}
			return
		}
		if frame.CameraID == "" {
			frame.CameraID = cameraID
		}

		if c.messageHandler != nil {
			c.messageHandler(cameraID, payload, frame, nil)
		}
	}
}

// SetResetHandler registers a callback invoked on reset requests
func (c *MQTTClient) SetResetHandler(handler ResetHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetHandler = handler
}

func (c *MQTTClient) getResetHandler() ResetHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetHandler
}

// deriveResetTopic replaces the last segment of a frame topic with "reset".
// Example: "scenepose/cam-a/frames" -> "scenepose/cam-a/reset"
func deriveResetTopic(frameTopic string) (string, bool) {
	parts := strings.Split(frameTopic, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "reset" {
		return "", false
	}
	parts[len(parts)-1] = "reset"
	return strings.Join(parts, "/"), true
}

func (c *MQTTClient) createResetHandler(cameraID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		log.Printf("[MQTT] Reset requested for %s", cameraID)
		if handler := c.getResetHandler(); handler != nil {
			handler(cameraID)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided mqtt.Client; used by tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler MessageHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		messageHandler: handler,
	}
}
