package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"
)

// maxMultiPublish bounds one MPUB frame; the ingestion endpoint accepts at most
// 100 signals per request, so a request maps to a single frame.
const maxMultiPublish = 100

type NSQPublisher struct {
	producer *nsq.Producer
	addr     string
}

func NewNSQPublisher(nsqdAddress string, logger *zap.Logger) (*NSQPublisher, error) {
	if nsqdAddress == "" {
		return nil, errors.New("nsqd address is empty")
	}
	cfg := nsq.NewConfig()
	cfg.DialTimeout = 2 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	// must stay above the 30s heartbeat
	cfg.ReadTimeout = 35 * time.Second
	producer, err := nsq.NewProducer(nsqdAddress, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer %s: %w", nsqdAddress, err)
	}
	if logger != nil {
		producer.SetLogger(zap.NewStdLog(logger.Named("nsq.producer")), nsq.LogLevelWarning)
	}
	return &NSQPublisher{producer: producer, addr: nsqdAddress}, nil
}

func (p *NSQPublisher) Publish(topic string, body []byte) error {
	if !nsq.IsValidTopicName(topic) {
		return fmt.Errorf("invalid topic %q", topic)
	}
	return p.producer.Publish(topic, body)
}

// MultiPublish sends bodies in frames of at most maxMultiPublish messages.
func (p *NSQPublisher) MultiPublish(topic string, bodies [][]byte) error {
	if !nsq.IsValidTopicName(topic) {
		return fmt.Errorf("invalid topic %q", topic)
	}
	for len(bodies) > 0 {
		n := min(len(bodies), maxMultiPublish)
		if err := p.producer.MultiPublish(topic, bodies[:n]); err != nil {
			return err
		}
		bodies = bodies[n:]
	}
	return nil
}

// Ping reports whether nsqd accepts connections.
func (p *NSQPublisher) Ping() error {
	if err := p.producer.Ping(); err != nil {
		return fmt.Errorf("nsqd %s: %w", p.addr, err)
	}
	return nil
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}
