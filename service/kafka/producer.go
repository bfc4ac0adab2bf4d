package kafka

import (
	"context"
	"encoding/json"

	"PChat/module/chat/model"
	"PChat/module/chat/service"
	"PChat/tools/errs"

	"github.com/Shopify/sarama"
)

// 会被镜像出去的事件
var PublishedEvents = []string{model.EventNew, model.EventPrivate, model.EventUsersUpdate}

// Producer 同步生产者，实现 service.Publisher。topic 为 <prefix>.<event>
type Producer struct {
	client sarama.Client
	sync   sarama.SyncProducer
	prefix string
}

var _ service.Publisher = (*Producer)(nil)

func NewProducer(c Config, prefix string) (*Producer, error) {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopics {
		if err := ensureEventTopics(client, prefix, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return newProducer(client, sp, prefix), nil
}

func newProducer(client sarama.Client, sp sarama.SyncProducer, prefix string) *Producer {
	return &Producer{client: client, sync: sp, prefix: prefix}
}

func ensureEventTopics(client sarama.Client, prefix string, c Config) error {
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return errs.WrapMsg(err, "kafka admin")
	}
	// admin.Close 会关掉底层 client，这里不关
	topics := make([]string, 0, len(PublishedEvents))
	for _, ev := range PublishedEvents {
		topics = append(topics, model.Subject(prefix, ev))
	}
	return EnsureTopics(admin, topics, c)
}

// Publish 同步发送；SyncProducer 不支持 ctx，超时由 sarama 的 Net/Producer 配置决定
func (p *Producer) Publish(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: model.Subject(p.prefix, ev.Type),
		Key:   sarama.StringEncoder(eventKey(ev)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("chat-event"), Value: []byte(ev.Type)},
		},
	}
	if _, _, err := p.sync.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", msg.Topic)
	}
	return nil
}

// eventKey 私聊按会话分区，保证同一会话内有序；其余事件走同一个 key
func eventKey(ev model.Event) string {
	if pm, ok := ev.Data.(*model.PrivateMessage); ok && pm != nil {
		return pm.ConversationID
	}
	return ev.Type
}

func (p *Producer) Close(_ context.Context) error {
	err := p.sync.Close()
	if p.client != nil && !p.client.Closed() {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
