package broker

import (
	"context"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	mqttQos            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttInflight       = 1024
)

type MqttDriver struct {
	server string
	topic  string
	user   *url.Userinfo
}

func NewMqttDriver(u *url.URL, topic string) *MqttDriver {
	scheme := u.Scheme
	if scheme == "mqtt" {
		scheme = "tcp"
	}
	return &MqttDriver{server: scheme + "://" + u.Host, topic: topic, user: u.User}
}

func (d *MqttDriver) connect(prefix string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(d.server).
		SetClientID(prefix + "-" + uuid.New().String()[:8]).
		SetAutoReconnect(false).
		SetConnectTimeout(mqttConnectTimeout)
	if d.user != nil {
		opts.SetUsername(d.user.Username())
		if password, ok := d.user.Password(); ok {
			opts.SetPassword(password)
		}
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, errors.Errorf("timed out connecting to %s", d.server)
	}
	if err := token.Error(); err != nil {
		return nil, errors.WithStack(err)
	}
	return client, nil
}

func (d *MqttDriver) NewProducer(_ context.Context) (Producer, error) {
	client, err := d.connect("maestro-sender")
	if err != nil {
		return nil, err
	}
	return &mqttProducer{client: client, topic: d.topic}, nil
}

func (d *MqttDriver) NewConsumer(_ context.Context) (Consumer, error) {
	messages := make(chan []byte, mqttInflight)
	client, err := d.connect("maestro-receiver")
	if err != nil {
		return nil, err
	}
	token := client.Subscribe(d.topic, mqttQos, func(_ mqtt.Client, msg mqtt.Message) {
		messages <- msg.Payload()
	})
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, errors.Errorf("timed out subscribing to %s", d.topic)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, errors.WithStack(err)
	}
	return &mqttConsumer{client: client, messages: messages}, nil
}

func (d *MqttDriver) Close() error {
	return nil
}

type mqttProducer struct {
	client mqtt.Client
	topic  string
}

func (p *mqttProducer) Send(ctx context.Context, payload []byte) error {
	token := p.client.Publish(p.topic, mqttQos, false, payload)
	select {
	case <-token.Done():
		return errors.WithStack(token.Error())
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (p *mqttProducer) Close() error {
	p.client.Disconnect(250)
	return nil
}

type mqttConsumer struct {
	client   mqtt.Client
	messages chan []byte
}

func (c *mqttConsumer) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-c.messages:
		return payload, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (c *mqttConsumer) Close() error {
	c.client.Disconnect(250)
	return nil
}
