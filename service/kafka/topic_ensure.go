package kafka

import (
	"errors"

	"PChat/logger"
	"PChat/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopics 不存在的 topic 按 c 创建；已存在的跳过
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c Config) error {
	parts, rf := c.PartitionsPerTopic, c.ReplicationFactor
	if parts <= 0 {
		parts = 1
	}
	if rf <= 0 {
		rf = 1
	}
	for _, t := range topics {
		desc, err := admin.DescribeTopics([]string{t})
		if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
			logger.Debug("[kafka] topic exists", zap.String("topic", t), zap.Int("partitions", len(desc[0].Partitions)))
			continue
		}
		td := &sarama.TopicDetail{
			NumPartitions:     parts,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":   strPtr("delete"),
				"compression.type": strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				continue
			}
			return errs.WrapMsg(err, "create topic", "topic", t)
		}
		logger.Info("[kafka] topic created", zap.String("topic", t), zap.Int32("partitions", parts))
	}
	return nil
}

func strPtr(s string) *string { return &s }
