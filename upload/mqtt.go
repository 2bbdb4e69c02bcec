package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"digiskimmer/config"
	"digiskimmer/spot"
	"digiskimmer/station"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const mqttWait = 10 * time.Second

// MQTTBatch is the payload published for each upload.
type MQTTBatch struct {
	Station  string      `json:"station"`
	Receiver string      `json:"receiver"`
	Locator  string      `json:"locator,omitempty"`
	Antenna  string      `json:"antenna,omitempty"`
	Software string      `json:"software"`
	Spots    []spot.Spot `json:"spots"`
}

// MQTT publishes each batch as one JSON message on <topic>/<station>.
type MQTT struct {
	cfg      config.MQTTConfig
	stations *station.Store

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTT creates the MQTT transport. The broker connection is opened on
// the first upload.
func NewMQTT(cfg config.MQTTConfig, stations *station.Store) *MQTT {
	return &MQTT{cfg: cfg, stations: stations}
}

// EncodeBatch builds the JSON payload for st.
func EncodeBatch(st station.Station, spots []spot.Spot) ([]byte, error) {
	return json.Marshal(MQTTBatch{
		Station:  st.Name,
		Receiver: st.Callsign,
		Locator:  st.Grid,
		Antenna:  st.Antenna,
		Software: config.DecodingSoftware,
		Spots:    spots,
	})
}

// Topic returns the topic a station publishes to.
func (m *MQTT) Topic(stationName string) string {
	return m.cfg.Topic + "/" + stationName
}

// Upload publishes spots for the station with QoS 1.
func (m *MQTT) Upload(ctx context.Context, stationName string, spots []spot.Spot) error {
	st, err := lookupStation(m.stations, stationName)
	if err != nil {
		return err
	}
	payload, err := EncodeBatch(st, spots)
	if err != nil {
		return fmt.Errorf("mqtt: encode: %w", err)
	}
	client, err := m.connect()
	if err != nil {
		return err
	}
	token := client.Publish(m.Topic(stationName), 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	return nil
}

func (m *MQTT) connect() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", m.cfg.Broker, m.cfg.Port)
	opts.AddBroker(brokerURL)
	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("digiskimmer-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(mqttWait)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	log.Printf("MQTT: connecting to %s", brokerURL)
	token := client.Connect()
	if !token.WaitTimeout(mqttWait) {
		return nil, errors.New("mqtt: connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", err)
	}
	m.client = client
	return client, nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
	return nil
}
