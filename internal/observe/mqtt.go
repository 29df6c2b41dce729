package observe

import (
	"context"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/jkaberg/ev-trip-tracker/internal/mqtt"
	"github.com/jkaberg/ev-trip-tracker/internal/sensors"
)

// MQTTSource follows Home Assistant's mqtt_statestream output. With
// publish_attributes enabled, statestream writes
//
//	<prefix>/<domain>/<object_id>/state        raw state string
//	<prefix>/<domain>/<object_id>/<attribute>  JSON encoded value
//
// and optionally last_changed/last_updated timestamps.
type MQTTSource struct {
	*hub
	client mqtt.Subscriber
	prefix string
	now    func() time.Time
}

// NewMQTTSource returns a source reading statestream topics below prefix.
func NewMQTTSource(client mqtt.Subscriber, prefix string, logger *logrus.Logger) *MQTTSource {
	return &MQTTSource{
		hub:    newHub(logger),
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		now:    time.Now,
	}
}

// Watch is a no-op; the source follows every entity under the prefix.
func (s *MQTTSource) Watch(...string) {}

// Run subscribes to the statestream tree and blocks until ctx is done.
func (s *MQTTSource) Run(ctx context.Context) error {
	topic := s.prefix + "/#"
	if err := s.client.Subscribe(topic, s.onMessage); err != nil {
		return fmt.Errorf("statestream subscribe: %w", err)
	}
	s.logger.WithField("topic", topic).Info("observe: following Home Assistant statestream")

	<-ctx.Done()
	if err := s.client.Unsubscribe(topic); err != nil {
		s.logger.WithError(err).Debug("observe: statestream unsubscribe failed")
	}
	return nil
}

func (s *MQTTSource) onMessage(_ paho.Client, msg paho.Message) {
	s.HandleMessage(msg.Topic(), msg.Payload())
}

// HandleMessage applies one statestream message.
func (s *MQTTSource) HandleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		s.logger.WithField("topic", topic).Debug("observe: ignoring unexpected statestream topic")
		return
	}
	id := parts[0] + "." + parts[1]

	switch parts[2] {
	case "state":
		if len(payload) == 0 {
			// An empty retained payload clears the entity.
			s.remove(id)
			return
		}
		s.setState(id, sensors.DecodeState(payload), s.now())
	case "last_changed", "last_updated":
	default:
		s.setAttribute(id, parts[2], sensors.DecodeValue(payload))
	}
}
