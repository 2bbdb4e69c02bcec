// Package upload sends batches of spots to the remote aggregation service.
// Three interchangeable transports are provided: the interactive cluster
// session, the binary receiver/sender packet format over UDP, and MQTT.
package upload

import (
	"context"
	"fmt"
	"time"

	"digiskimmer/config"
	"digiskimmer/spot"
	"digiskimmer/station"
)

// Uploader sends one batch of spots for a station.
type Uploader interface {
	Upload(ctx context.Context, station string, spots []spot.Spot) error
	Close() error
}

// New builds the transport selected by cfg.Upload.Transport.
func New(cfg *config.Config, stations *station.Store) (Uploader, error) {
	switch cfg.Upload.Transport {
	case config.TransportSession, "":
		return NewSession(SessionOptions{
			Host:             cfg.Session.Host,
			Port:             cfg.Session.Port,
			HandshakeTimeout: time.Duration(cfg.Session.HandshakeTimeoutSeconds) * time.Second,
			CommandTimeout:   time.Duration(cfg.Session.CommandTimeoutSeconds) * time.Second,
		}, stations), nil
	case config.TransportPacket:
		return NewPacketUploader(cfg.Packet, stations), nil
	case config.TransportMQTT:
		return NewMQTT(cfg.MQTT, stations), nil
	}
	return nil, fmt.Errorf("upload: unknown transport %q", cfg.Upload.Transport)
}

func lookupStation(stations *station.Store, name string) (station.Station, error) {
	st, ok := stations.Get(name)
	if !ok {
		return station.Station{}, fmt.Errorf("upload: unknown station %q", name)
	}
	return st, nil
}
