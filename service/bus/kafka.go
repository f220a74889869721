package bus

import (
	"context"
	"sync"
	"time"

	"TMProject/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// KafkaTransport is the broker-backed transport. Invalidation topics
// need broadcast fan-out to every live instance, so consumption uses
// plain partition consumers at the newest offset instead of a consumer
// group: every process sees every frame.
type KafkaTransport struct {
	brokers  []string
	clientID string

	mu       sync.Mutex
	client   sarama.Client
	producer sarama.AsyncProducer
	partCons []sarama.PartitionConsumer
	consumer sarama.Consumer
}

func NewKafka(brokers []string, clientID string) *KafkaTransport {
	return &KafkaTransport{brokers: brokers, clientID: clientID}
}

func (t *KafkaTransport) buildConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = t.clientID

	// Producer: async fire-and-forget; errors are drained and logged
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Compression = sarama.CompressionSnappy

	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func (t *KafkaTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return nil
	}
	client, err := sarama.NewClient(t.brokers, t.buildConfig())
	if err != nil {
		return err
	}
	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return err
	}
	go func() {
		for perr := range producer.Errors() {
			logger.Debug("kafka publish dropped", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
		}
	}()
	t.client = client
	t.producer = producer
	return nil
}

func (t *KafkaTransport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.Lock()
	producer := t.producer
	t.mu.Unlock()
	if producer == nil {
		return sarama.ErrClosedClient
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	select {
	case producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *KafkaTransport) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, sarama.ErrClosedClient
	}
	consumer, err := sarama.NewConsumerFromClient(t.client)
	if err != nil {
		return nil, err
	}
	out := make(chan Message, 256)
	var wg sync.WaitGroup
	started := 0
	for _, topic := range topics {
		partitions, err := consumer.Partitions(topic)
		if err != nil {
			// topic may not exist yet; auto-create on first publish
			logger.Warn("kafka partitions lookup failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		for _, p := range partitions {
			pc, err := consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
			if err != nil {
				logger.Warn("kafka partition consume failed", zap.String("topic", topic), zap.Int32("partition", p), zap.Error(err))
				continue
			}
			t.partCons = append(t.partCons, pc)
			started++
			wg.Add(1)
			go func(pc sarama.PartitionConsumer) {
				defer wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case m, ok := <-pc.Messages():
						if !ok {
							return
						}
						out <- Message{Topic: m.Topic, Data: m.Value}
					case cerr, ok := <-pc.Errors():
						if !ok {
							return
						}
						logger.Debug("kafka consume error", zap.Error(cerr.Err))
					}
				}
			}(pc)
		}
	}
	if started == 0 {
		_ = consumer.Close()
		return nil, sarama.ErrOutOfBrokers
	}
	t.consumer = consumer
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pc := range t.partCons {
		_ = pc.Close()
	}
	t.partCons = nil
	if t.consumer != nil {
		_ = t.consumer.Close()
		t.consumer = nil
	}
	if t.producer != nil {
		t.producer.AsyncClose()
		t.producer = nil
	}
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}
