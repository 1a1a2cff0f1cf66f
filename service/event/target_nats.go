package event

import (
	"encoding/json"
	"strings"
	"time"

	decode "WSChat/tools/decode"

	"github.com/nats-io/nats.go"
	pkgerrors "github.com/pkg/errors"
)

type natsTargetConfig struct {
	Servers []string `json:"servers"`
	Subject string   `json:"subject"`
	Name    string   `json:"name"`
}

type natsTarget struct {
	nc      *nats.Conn
	subject string
}

func newNatsTarget(data map[string]any) (Target, error) {
	tc, err := decode.DecodeMap[natsTargetConfig](data)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "nats target config")
	}
	if len(tc.Servers) == 0 || tc.Subject == "" {
		return nil, pkgerrors.New("nats target needs servers and subject")
	}
	if tc.Name == "" {
		tc.Name = "wschat-event"
	}

	opts := []nats.Option{
		nats.Name(tc.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	nc, err := nats.Connect(strings.Join(tc.Servers, ","), opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "nats connect")
	}
	return &natsTarget{nc: nc, subject: tc.Subject}, nil
}

func (t *natsTarget) Name() string { return "nats:" + t.subject }

func (t *natsTarget) Publish(ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal event")
	}
	return pkgerrors.Wrap(t.nc.Publish(t.subject, body), "nats publish")
}

func (t *natsTarget) Close() error {
	return t.nc.Drain()
}
