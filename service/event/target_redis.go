package event

import (
	"context"
	"encoding/json"
	"time"

	decode "WSChat/tools/decode"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type redisTargetConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

type redisTarget struct {
	rdb     *redis.Client
	channel string
}

func newRedisTarget(data map[string]any) (Target, error) {
	tc, err := decode.DecodeMap[redisTargetConfig](data)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "redis target config")
	}
	if tc.Addr == "" || tc.Channel == "" {
		return nil, pkgerrors.New("redis target needs addr and channel")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     tc.Addr,
		Password: tc.Password,
		DB:       tc.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "redis ping")
	}
	return &redisTarget{rdb: rdb, channel: tc.Channel}, nil
}

func (t *redisTarget) Name() string { return "redis:" + t.channel }

func (t *redisTarget) Publish(ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal event")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return pkgerrors.Wrap(t.rdb.Publish(ctx, t.channel, body).Err(), "redis publish")
}

func (t *redisTarget) Close() error { return t.rdb.Close() }
