package pose

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when none is configured
const DefaultPublishPrefix = "scenepose"

// Publisher publishes estimated camera poses to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	poses         map[string]CameraPose
	mu            sync.RWMutex
}

// NewPublisher creates a pose publisher. MQTT_PUBLISH_PREFIX overrides
// prefix; an empty prefix falls back to DefaultPublishPrefix.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // late subscribers get the latest pose
		poses:         make(map[string]CameraPose),
	}
}

// PublishPose publishes a camera pose to {prefix}/{cameraId} and the
// combined {prefix}/poses topic.
func (p *Publisher) PublishPose(pose CameraPose) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.poses[pose.CameraID] = pose
	p.mu.Unlock()

	if err := p.publishIndividual(pose); err != nil {
		log.Printf("[PUBLISH] Error publishing pose for %s: %v", pose.CameraID, err)
		return err
	}

	if err := p.publishCombined(); err != nil {
		log.Printf("[PUBLISH] Error publishing combined poses: %v", err)
		return err
	}
	return nil
}

func (p *Publisher) publishIndividual(pose CameraPose) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, pose.CameraID)

	payload, err := json.Marshal(pose)
	if err != nil {
		return fmt.Errorf("marshaling pose: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[PUBLISH] %s at (%.3f, %.3f, %.3f) loss=%.0f",
		pose.CameraID, pose.Position.X, pose.Position.Y, pose.Position.Z, pose.Loss)
	return nil
}

// combinedMessage is the payload of the {prefix}/poses topic
type combinedMessage struct {
	Cameras   []CameraPose `json:"cameras"`
	Timestamp int64        `json:"timestamp"`
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	msg := combinedMessage{
		Cameras:   make([]CameraPose, 0, len(p.poses)),
		Timestamp: time.Now().Unix(),
	}
	for _, pose := range p.poses {
		msg.Cameras = append(msg.Cameras, pose)
	}
	p.mu.RUnlock()

	if len(msg.Cameras) == 0 {
		return nil
	}
	sort.Slice(msg.Cameras, func(i, j int) bool {
		return msg.Cameras[i].CameraID < msg.Cameras[j].CameraID
	})

	topic := fmt.Sprintf("%s/poses", p.publishPrefix)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling combined poses: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetPose returns the last published pose for a camera
func (p *Publisher) GetPose(cameraID string) (CameraPose, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pose, ok := p.poses[cameraID]
	return pose, ok
}

// ClearPose forgets a camera so it drops out of the combined topic
func (p *Publisher) ClearPose(cameraID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.poses, cameraID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
