// Package mqtt carries packets and device announcements over an MQTT
// broker.
package mqtt

import (
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is the callback when a message is received.
type Handler func(topic string, payload []byte)

// ConnectHandler is to handle connect/disconnect events.
type ConnectHandler func(*Queue)

// Queue wraps an MQTT client and routes messages to subscribers. All
// topics are relative to TopicPrefix.
type Queue struct {
	Client       paho.Client
	TopicPrefix  string
	QoS          byte
	OnConnect    ConnectHandler
	OnDisconnect ConnectHandler

	subsLock sync.RWMutex
	filters  map[string][]*Subscription
}

// Subscription is a subscribed topic filter.
type Subscription struct {
	Token paho.Token

	queue   *Queue
	filter  string
	handler Handler
}

// IsWildcard tells if a topic filter contains wildcards.
func IsWildcard(filter string) bool {
	return strings.Contains(filter, "+") || strings.HasSuffix(filter, "#")
}

// MatchTopic matches topic with pattern.
func MatchTopic(topic, pattern string) bool {
	tokensT, tokensP := strings.Split(topic, "/"), strings.Split(pattern, "/")
	for i, token := range tokensP {
		if token == "#" && i+1 == len(tokensP) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensP) == len(tokensT)
}

// ClientOptionsFromURL creates ClientOptions from URL. The path of the URL
// becomes the topic prefix, and the query parameter client-id sets the
// client ID.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	switch scheme {
	case "", "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}

	topicPrefix := strings.TrimPrefix(u.Path, "/")
	if topicPrefix != "" && !strings.HasSuffix(topicPrefix, "/") {
		topicPrefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, topicPrefix, nil
}

// NewQueue creates Queue.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix, filters: make(map[string][]*Subscription)}
	options.SetOnConnectHandler(q.onConnected)
	options.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates Queue from URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

// Connect connects the client.
func (q *Queue) Connect() paho.Token {
	return q.Client.Connect()
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Sub subscribes a topic filter. The broker subscription is made for the
// first handler of a filter.
func (q *Queue) Sub(filter string, handler Handler) *Subscription {
	sub := &Subscription{queue: q, filter: filter, handler: handler}
	q.subsLock.Lock()
	subs := q.filters[filter]
	q.filters[filter] = append(subs, sub)
	q.subsLock.Unlock()

	if len(subs) == 0 {
		glog.V(2).Infof("SUB %q", q.TopicPrefix+filter)
		sub.Token = q.Client.Subscribe(q.TopicPrefix+filter, q.QoS, q.dispatch)
	} else {
		sub.Token = &paho.DummyToken{}
	}
	return sub
}

// Pub publishes to a topic.
func (q *Queue) Pub(topic string, payload []byte) paho.Token {
	return q.PubWith(topic, payload, q.QoS, false)
}

// PubWith publishes with QoS and retain settings.
func (q *Queue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, qos, retain, payload)
}

// Resubscribe subscribes all existing filters after a reconnect.
func (q *Queue) Resubscribe() paho.Token {
	filters := make(map[string]byte)
	q.subsLock.RLock()
	for filter := range q.filters {
		filters[q.TopicPrefix+filter] = q.QoS
	}
	q.subsLock.RUnlock()
	if len(filters) == 0 {
		return &paho.DummyToken{}
	}
	glog.V(2).Infof("SUB %d filters", len(filters))
	return q.Client.SubscribeMultiple(filters, q.dispatch)
}

func (q *Queue) onConnected(paho.Client) {
	glog.Info("mqtt: connected")
	q.Resubscribe()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

func (q *Queue) onConnectionLost(_ paho.Client, err error) {
	glog.Warningf("mqtt: connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q)
	}
}

func (q *Queue) dispatch(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(4).Infof("RCV %q", topic)
	q.Deliver(topic, msg.Payload())
}

// Deliver invokes the handlers of every filter matching topic.
func (q *Queue) Deliver(topic string, payload []byte) {
	var handlers []Handler
	q.subsLock.RLock()
	for filter, subs := range q.filters {
		if filter == topic || (IsWildcard(filter) && MatchTopic(topic, filter)) {
			for _, sub := range subs {
				handlers = append(handlers, sub.handler)
			}
		}
	}
	q.subsLock.RUnlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}

// Close removes the handler, and unsubscribes the filter when it was the
// last one.
func (s *Subscription) Close() error {
	q := s.queue
	q.subsLock.Lock()
	subs := q.filters[s.filter]
	for i, sub := range subs {
		if sub == s {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	unsub := len(subs) == 0
	if unsub {
		delete(q.filters, s.filter)
	} else {
		q.filters[s.filter] = subs
	}
	q.subsLock.Unlock()
	if !unsub {
		return nil
	}
	glog.V(2).Infof("UNSUB %q", s.filter)
	token := q.Client.Unsubscribe(q.TopicPrefix + s.filter)
	token.Wait()
	return token.Error()
}
