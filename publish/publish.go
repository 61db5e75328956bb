// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package publish republishes discovered devices and polled point values
// to an MQTT broker.
//
// Topics:
//
//	<prefix>/devices/<deviceKey>      device announcement, retained
//	<prefix>/<deviceKey>/<objectKey>  point value
//	<prefix>/errors                   engine errors, never retained
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/edgeo/drivers/bacnetgw/config"
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// Publish errors
var (
	ErrUnknownFormat  = errors.New("publish: unknown payload format")
	ErrConnectTimeout = errors.New("publish: connect timeout")
)

const (
	// DefaultPublishTimeout bounds the wait for one publish acknowledgement
	DefaultPublishTimeout = 2 * time.Second

	connectTimeout = 10 * time.Second
	disconnectWait = 250
)

// Client is the part of a paho client the publisher uses
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Codec encodes a payload
type Codec func(v interface{}) ([]byte, error)

var cborEncMode cbor.EncMode

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	cborEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

// CodecFor returns the codec of a configured format, "json" or "cbor"
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return json.Marshal, nil
	case "cbor":
		return cborEncMode.Marshal, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// DeviceMessage announces a device
type DeviceMessage struct {
	DeviceID  uint32    `json:"deviceId" cbor:"deviceId"`
	Name      string    `json:"name" cbor:"name"`
	Address   string    `json:"address" cbor:"address"`
	Kind      string    `json:"kind" cbor:"kind"`
	ParentID  *uint32   `json:"parentId,omitempty" cbor:"parentId,omitempty"`
	VendorID  uint16    `json:"vendorId" cbor:"vendorId"`
	MaxAPDU   uint16    `json:"maxApdu" cbor:"maxApdu"`
	Points    int       `json:"points" cbor:"points"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// PointMessage carries the value of one point
type PointMessage struct {
	DeviceID   uint32      `json:"deviceId" cbor:"deviceId"`
	Device     string      `json:"device" cbor:"device"`
	Object     string      `json:"object" cbor:"object"`
	ObjectType string      `json:"objectType" cbor:"objectType"`
	Name       string      `json:"name,omitempty" cbor:"name,omitempty"`
	Value      interface{} `json:"value" cbor:"value"`
	Units      string      `json:"units,omitempty" cbor:"units,omitempty"`
	Error      string      `json:"error,omitempty" cbor:"error,omitempty"`
	PollID     string      `json:"pollId,omitempty" cbor:"pollId,omitempty"`
	Timestamp  time.Time   `json:"timestamp" cbor:"timestamp"`
}

// ErrorMessage carries an engine error
type ErrorMessage struct {
	Error     string    `json:"error" cbor:"error"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// Publisher implements engine.Observer on top of an MQTT client
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	retain  bool
	codec   Codec
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New wraps an already connected client
func New(client Client, cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	codec, err := CodecFor(cfg.Format)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		codec:   codec,
		timeout: DefaultPublishTimeout,
		logger:  logger.With(slog.String("component", "mqtt")),
		now:     time.Now,
	}, nil
}

// Connect dials the broker and returns a publisher on the new connection
func Connect(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bacnetgw-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", slog.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("publish: connect %s: %w", cfg.Broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return nil, ErrConnectTimeout
	}

	return New(client, cfg, logger)
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(disconnectWait)
}

// DeviceTopic returns the announcement topic of a device
func (p *Publisher) DeviceTopic(deviceKey string) string {
	return p.prefix + "/devices/" + segment(deviceKey)
}

// PointTopic returns the value topic of a point
func (p *Publisher) PointTopic(deviceKey, objectKey string) string {
	return p.prefix + "/" + segment(deviceKey) + "/" + segment(objectKey)
}

// DeviceFound publishes a retained device announcement
func (p *Publisher) DeviceFound(dev *registry.Device) {
	msg := DeviceMessage{
		DeviceID:  dev.ID,
		Name:      dev.Name(),
		Address:   dev.Address.String(),
		Kind:      dev.Address.Kind.String(),
		ParentID:  dev.ParentID,
		VendorID:  dev.VendorID,
		MaxAPDU:   dev.MaxAPDU,
		Points:    len(dev.Points),
		Timestamp: p.now(),
	}
	p.publish(p.DeviceTopic(dev.Key()), true, msg)
}

// DeviceValues publishes every point of a device, in object key order
func (p *Publisher) DeviceValues(dev *registry.Device, points map[string]*model.Point) {
	keys := make([]string, 0, len(points))
	for k := range points {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	deviceKey := dev.Key()
	for _, k := range keys {
		pt := points[k]
		ts := pt.UpdatedAt
		if ts.IsZero() {
			ts = p.now()
		}
		p.publish(p.PointTopic(deviceKey, k), p.retain, PointMessage{
			DeviceID:   dev.ID,
			Device:     dev.Name(),
			Object:     pt.ObjectID.String(),
			ObjectType: pt.ObjectType,
			Name:       pt.DisplayName,
			Value:      pt.PresentValue,
			Units:      pt.Units,
			Error:      pt.Error,
			PollID:     pt.PollID,
			Timestamp:  ts,
		})
	}
}

// Error publishes an engine error
func (p *Publisher) Error(err error) {
	p.publish(p.prefix+"/errors", false, ErrorMessage{Error: err.Error(), Timestamp: p.now()})
}

func (p *Publisher) publish(topic string, retain bool, v interface{}) {
	payload, err := p.codec(v)
	if err != nil {
		p.logger.Warn("encoding payload", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(p.timeout) {
		p.logger.Warn("publish timeout", slog.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
	}
}

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// segment makes s usable as a single topic level
func segment(s string) string {
	return topicReplacer.Replace(s)
}
