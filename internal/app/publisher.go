// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/thrust_stand/internal/config"
	"github.com/relabs-tech/thrust_stand/internal/sequencer"
	"github.com/relabs-tech/thrust_stand/internal/telemetry"
)

// connectMQTT connects a client to broker.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	log.Printf("mqtt: connected to %s as %s", broker, clientID)
	return client, nil
}

type mqttMessage struct {
	topic    string
	retained bool
	payload  []byte
}

// Publisher sends snapshots and session results to MQTT from its own
// goroutine. Publish never blocks the control loop; when the queue is full
// the message is dropped.
type Publisher struct {
	client        mqtt.Client
	topicSnapshot string
	topicSession  string
	queue         chan mqttMessage
	dropping      atomic.Bool
}

func NewPublisher(client mqtt.Client, topicSnapshot, topicSession string) *Publisher {
	return &Publisher{
		client:        client,
		topicSnapshot: topicSnapshot,
		topicSession:  topicSession,
		queue:         make(chan mqttMessage, 64),
	}
}

// Publish implements sequencer.Sink.
func (p *Publisher) Publish(s telemetry.Snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		log.Printf("mqtt: snapshot marshal error: %v", err)
		return
	}
	p.enqueue(mqttMessage{topic: p.topicSnapshot, retained: true, payload: payload})
}

// Session publishes a finished session.
func (p *Publisher) Session(r sequencer.Result) {
	payload, err := json.Marshal(r)
	if err != nil {
		log.Printf("mqtt: session marshal error: %v", err)
		return
	}
	p.enqueue(mqttMessage{topic: p.topicSession, retained: true, payload: payload})
}

func (p *Publisher) enqueue(m mqttMessage) {
	select {
	case p.queue <- m:
		if p.dropping.CompareAndSwap(true, false) {
			log.Println("mqtt: publish queue drained")
		}
	default:
		if p.dropping.CompareAndSwap(false, true) {
			log.Println("mqtt: publish queue full, dropping messages")
		}
	}
}

// Run sends queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-p.queue:
			token := p.client.Publish(m.topic, 0, m.retained, m.payload)
			if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
				log.Printf("mqtt: publish %s error: %v", m.topic, token.Error())
			}
		}
	}
}

// subscribe registers handler for topic and waits for the broker to confirm.
func subscribe(client mqtt.Client, topic string, handler func(payload []byte)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	log.Printf("mqtt: subscribed to %s", topic)
	return nil
}

// mqttClientOrNil connects when MQTT_BROKER is set. A broker that cannot be
// reached disables MQTT instead of stopping the stand.
func mqttClientOrNil(cfg *config.Config) mqtt.Client {
	if cfg.MQTTBroker == "" {
		return nil
	}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Printf("mqtt: disabled: %v", err)
		return nil
	}
	return client
}
