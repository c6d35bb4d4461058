package application

import "fmt"

type TopicID int

const (
	TopicTemperature TopicID = iota + 1
	TopicLuminosity
	TopicButton
)

var AllTopics = []TopicID{TopicTemperature, TopicLuminosity, TopicButton}

var topicNames = map[TopicID]string{
	TopicTemperature: "/temperatura",
	TopicLuminosity:  "/luminosidade",
	TopicButton:      "/botao",
}

var topicKeys = map[TopicID]string{
	TopicTemperature: "temperature",
	TopicLuminosity:  "luminosity",
	TopicButton:      "button",
}

// Name returns the broker topic the id is published on.
func (t TopicID) Name() string {
	if n, ok := topicNames[t]; ok {
		return n
	}
	return ""
}

// String returns the short key used in configuration and metric labels.
func (t TopicID) String() string {
	if k, ok := topicKeys[t]; ok {
		return k
	}
	return fmt.Sprintf("topic(%d)", int(t))
}

// Numeric reports whether payloads on the topic carry a float reading.
func (t TopicID) Numeric() bool {
	return t == TopicTemperature || t == TopicLuminosity
}

// TopicFromName resolves a broker topic, e.g. "/temperatura".
func TopicFromName(name string) (TopicID, bool) {
	for id, n := range topicNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// ParseTopicKey resolves a configuration key, e.g. "temperature".
func ParseTopicKey(key string) (TopicID, error) {
	for id, k := range topicKeys {
		if k == key {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, key)
}

func (t TopicID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
