package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"espdeploy/internal/codec"
	"espdeploy/internal/domain"
)

// Sink receives the finished report
type Sink interface {
	Name() string
	Publish(ctx context.Context, report *domain.Report) error
}

// FileSink exports the report to a file, format chosen by extension
type FileSink struct {
	Path string
}

// Name implements Sink
func (s FileSink) Name() string { return "file:" + s.Path }

// Publish implements Sink
func (s FileSink) Publish(_ context.Context, report *domain.Report) error {
	return codec.ExportFile(report, s.Path)
}

// WriterSink encodes the report onto a writer
type WriterSink struct {
	W     io.Writer
	Codec codec.Exporter
}

// Name implements Sink
func (s WriterSink) Name() string { return "writer:" + s.Codec.Format() }

// Publish implements Sink
func (s WriterSink) Publish(_ context.Context, report *domain.Report) error {
	return s.Codec.Export(report, s.W)
}

// MQTTSink publishes the JSON report to a broker topic
type MQTTSink struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retained bool
	Timeout  time.Duration
	Log      logr.Logger
}

// Name implements Sink
func (s MQTTSink) Name() string { return "mqtt:" + s.Broker + "/" + s.Topic }

// Publish connects, publishes once and disconnects
func (s MQTTSink) Publish(ctx context.Context, report *domain.Report) error {
	if s.Broker == "" || s.Topic == "" {
		return &domain.ConfigurationError{What: "mqtt sink needs a broker and a topic"}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	payload, err := reportPayload(report)
	if err != nil {
		return err
	}

	client, err := s.connect(timeout)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Publish(s.Topic, s.QoS, s.Retained, payload)
	if err := waitToken(ctx, token, timeout); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", s.Topic, err)
	}
	s.Log.V(1).Info("Report published to MQTT", "broker", s.Broker, "topic", s.Topic, "bytes", len(payload))
	return nil
}

func (s MQTTSink) connect(timeout time.Duration) (mqtt.Client, error) {
	clientID := s.ClientID
	if clientID == "" {
		clientID = "espdeploy"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(s.Broker).
		SetClientID(clientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(timeout); !ok {
		return nil, fmt.Errorf("mqtt connect to %s timed out", s.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", s.Broker, err)
	}
	return client, nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reportPayload(report *domain.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := codec.NewJSONCodec().Export(report, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
