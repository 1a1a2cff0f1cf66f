package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	decode "WSChat/tools/decode"

	"github.com/Shopify/sarama"
	pkgerrors "github.com/pkg/errors"
)

func errUnknownTarget(t string) error {
	return fmt.Errorf("unknown event target type %q", t)
}

type kafkaTargetConfig struct {
	Brokers     []string `json:"brokers"`
	Topic       string   `json:"topic"`
	Compression string   `json:"compression"`
	Retries     int      `json:"retries"`
}

// kafkaTarget 同步生产者，Key 用发送者ID控制分区
type kafkaTarget struct {
	producer sarama.SyncProducer
	topic    string
}

func newKafkaTarget(data map[string]any) (Target, error) {
	tc, err := decode.DecodeMap[kafkaTargetConfig](data)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "kafka target config")
	}
	if len(tc.Brokers) == 0 || tc.Topic == "" {
		return nil, pkgerrors.New("kafka target needs brokers and topic")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if tc.Retries <= 0 {
		tc.Retries = 1
	}
	cfg.Producer.Retry.Max = tc.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(tc.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second

	producer, err := sarama.NewSyncProducer(tc.Brokers, cfg)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "kafka producer")
	}
	return &kafkaTarget{producer: producer, topic: tc.Topic}, nil
}

func (t *kafkaTarget) Name() string { return "kafka:" + t.topic }

func (t *kafkaTarget) Publish(ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal event")
	}
	_, _, err = t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(uint64(ev.Sender), 10)),
		Value: sarama.ByteEncoder(body),
	})
	return pkgerrors.Wrap(err, "kafka send")
}

func (t *kafkaTarget) Close() error { return t.producer.Close() }
