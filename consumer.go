/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package ikv

import (
	"context"

	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog"
)

// batchSize is how many records the catch-up phase applies before it
// flushes a checkpoint; the live phase checkpoints after every record since
// it has no backlog to amortize the cost over.
const batchSize = 100

// Consumer drives one partition's Kafka topic-partition into its facade: a
// catch-up phase that drains the backlog up to the high watermark observed
// at start, then a live phase that applies records as they arrive until its
// context is cancelled.
type Consumer struct {
	cfg       Config
	reader    *kafka.Reader
	facade    *Facade
	processor *Processor
	offsets   *offsetStore
	log       zerolog.Logger

	lastOffset int64
}

// NewConsumer opens a reader positioned just after this partition's last
// committed offset (or at the beginning of the topic, if none was ever
// committed).
func NewConsumer(cfg Config, facade *Facade, offsets *offsetStore) (*Consumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{cfg.KafkaBootstrapServer},
		Topic:     cfg.KafkaTopic,
		Partition: cfg.Partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})

	committed, found, err := offsets.CommittedOffset(cfg.KafkaTopic, cfg.Partition)
	if err != nil {
		reader.Close()
		return nil, err
	}
	startOffset := kafka.FirstOffset
	last := int64(-1)
	if found {
		startOffset = committed + 1
		last = committed
	}
	if err := reader.SetOffset(startOffset); err != nil {
		reader.Close()
		return nil, err
	}

	return &Consumer{
		cfg:        cfg,
		reader:     reader,
		facade:     facade,
		processor:  NewProcessor(facade),
		offsets:    offsets,
		log:        newLogger(cfg, "consumer"),
		lastOffset: last,
	}, nil
}

// Run executes the catch-up phase to completion, then the live phase, which
// only returns when ctx is cancelled or a fatal error occurs.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.catchUp(ctx); err != nil {
		return err
	}
	c.log.Info().Msg("caught up to high watermark, entering live phase")
	return c.runLive(ctx)
}

// catchUp applies records until the reader's lag against the partition's
// high watermark reaches zero, checkpointing every batchSize records so a
// crash partway through only replays at most one batch.
func (c *Consumer) catchUp(ctx context.Context) error {
	applied := 0
	for {
		lag, err := c.reader.ReadLag(ctx)
		if err != nil {
			return err
		}
		if lag <= 0 {
			return c.checkpoint()
		}
		if err := c.readAndApplyOne(ctx); err != nil {
			return err
		}
		applied++
		if applied%batchSize == 0 {
			if err := c.checkpoint(); err != nil {
				return err
			}
		}
	}
}

// runLive applies one record at a time, checkpointing after each, until ctx
// is cancelled.
func (c *Consumer) runLive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.readAndApplyOne(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.checkpoint(); err != nil {
			return err
		}
	}
}

func (c *Consumer) readAndApplyOne(ctx context.Context) error {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return err
	}
	ev, err := DecodeEvent(msg.Value)
	if err != nil {
		c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("dropping malformed event")
		c.lastOffset = msg.Offset
		return nil
	}
	if err := c.processor.Apply(ev); err != nil {
		return err
	}
	c.lastOffset = msg.Offset
	return nil
}

// checkpoint flushes every shard's pending writes through the facade before
// persisting the offset, so a crash right after a checkpoint never leaves the
// committed offset ahead of durably-written data.
func (c *Consumer) checkpoint() error {
	if c.lastOffset < 0 {
		return nil
	}
	if err := c.facade.FlushAll(); err != nil {
		return err
	}
	return c.offsets.SetCommittedOffset(c.cfg.KafkaTopic, c.cfg.Partition, c.lastOffset)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
