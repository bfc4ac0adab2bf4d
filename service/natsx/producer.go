package natsx

import (
	"context"
	"encoding/json"

	"PChat/module/chat/model"
	"PChat/module/chat/service"
)

// HeaderEvent 消息头里带原始事件名
const HeaderEvent = "Chat-Event"

// NatsxProducer 把聊天事件发到 <prefix>.<event> 主题，实现 service.Publisher
type NatsxProducer struct {
	c      *NatsxClient
	prefix string
}

var _ service.Publisher = (*NatsxProducer)(nil)

func NewNatsxProducer(c *NatsxClient, prefix string) *NatsxProducer {
	return &NatsxProducer{c: c, prefix: prefix}
}

func (p *NatsxProducer) Publish(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.c.sendCore(model.Subject(p.prefix, ev.Type), data, map[string]string{HeaderEvent: ev.Type})
}

func (p *NatsxProducer) Close(_ context.Context) error { return p.c.Close() }
