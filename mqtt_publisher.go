package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MQTTPublisher periodically publishes pipeline status and metrics. All
// publishing is fire-and-forget: a broker outage costs status updates,
// never samples.
type MQTTPublisher struct {
	client   mqtt.Client
	config   *MQTTConfig
	pipeline *Pipeline
	stop     chan struct{}
	done     chan struct{}
}

// mqttStatusPayload is the JSON document published on <prefix>/pipeline/status.
type mqttStatusPayload struct {
	Timestamp int64            `json:"timestamp"`
	Status    ConnectionStatus `json:"status"`
	Health    SystemHealth     `json:"health"`
}

// generateClientID creates a random client ID for the MQTT connection.
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "eegstream_" + hex.EncodeToString(bytes)
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(config *MQTTConfig, pipeline *Pipeline) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout to %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	log.Printf("MQTT: connected to %s", config.Broker)
	return &MQTTPublisher{
		client:   client,
		config:   config,
		pipeline: pipeline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the periodic publishing loop.
func (mp *MQTTPublisher) Start() {
	go func() {
		defer close(mp.done)
		ticker := time.NewTicker(time.Duration(mp.config.Interval) * time.Second)
		defer ticker.Stop()

		mp.publishAll()
		for {
			select {
			case <-ticker.C:
				mp.publishAll()
			case <-mp.stop:
				return
			}
		}
	}()
}

// Stop ends the publishing loop and disconnects from the broker.
func (mp *MQTTPublisher) Stop() {
	close(mp.stop)
	<-mp.done
	mp.client.Disconnect(250)
	log.Printf("MQTT: disconnected")
}

func (mp *MQTTPublisher) publishAll() {
	mp.publishStatus()
	mp.publishMetrics()
}

func (mp *MQTTPublisher) publishStatus() {
	payload := mqttStatusPayload{
		Timestamp: time.Now().Unix(),
		Status:    mp.pipeline.Status(),
		Health:    CollectSystemHealth(mp.pipeline),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: failed to marshal status: %v", err)
		return
	}
	mp.publish(mp.config.TopicPrefix+"/pipeline/status", data)
}

// publishMetrics gathers the pipeline_ metrics from the Prometheus registry
// and publishes them as one flat JSON document.
func (mp *MQTTPublisher) publishMetrics() {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("MQTT: failed to gather metrics: %v", err)
		return
	}

	metrics := make(map[string]float64)
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "pipeline_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			value, ok := extractMetricValue(m)
			if !ok {
				continue
			}
			key := name
			for _, label := range m.GetLabel() {
				key += "_" + label.GetValue()
			}
			metrics[key] = value
		}
	}

	payload := map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"metrics":   metrics,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: failed to marshal metrics: %v", err)
		return
	}
	mp.publish(mp.config.TopicPrefix+"/pipeline/metrics", data)
}

func (mp *MQTTPublisher) publish(topic string, data []byte) {
	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("MQTT: publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("MQTT: publish to %s failed: %v", topic, err)
	}
}

// extractMetricValue pulls the scalar value out of a gauge or counter.
func extractMetricValue(m *dto.Metric) (float64, bool) {
	if g := m.GetGauge(); g != nil {
		return g.GetValue(), true
	}
	if c := m.GetCounter(); c != nil {
		return c.GetValue(), true
	}
	return 0, false
}
