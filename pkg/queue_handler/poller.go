// Package queue_handler applies region size report batches arriving on a
// queue to the report registry.
package queue_handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/rs/zerolog"

	"github.com/calderadb/quotad/pkg/reports"
)

const sleepAfterReceiveFailed = 2 * time.Second

// Poll repeatedly long-polls on client, and applies region size reports to
// rec, until ctx is cancelled.
func Poll(ctx context.Context, log zerolog.Logger, client *sqs.SQS, queueURL string, rec reports.Recorder) {
	for {
		in := &sqs.ReceiveMessageInput{
			MaxNumberOfMessages: aws.Int64(10),
			QueueUrl:            &queueURL,
			VisibilityTimeout:   aws.Int64(3),
			WaitTimeSeconds:     aws.Int64(10),
		}
		out, err := client.ReceiveMessageWithContext(ctx, in)
		if ctx.Err() != nil {
			log.Info().AnErr("cause", ctx.Err()).Msg("report queue poller done")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("receive report batches")
			time.Sleep(sleepAfterReceiveFailed)
			continue
		}
		for i, m := range out.Messages {
			err = ApplyMessage(m, rec)
			if err != nil {
				log.Error().Err(err).Int("index", i).Int("of", len(out.Messages)).
					Msg("apply report batch")
				continue // Don't delete, message may be retried or dead-lettered.
			}

			_, err = client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(queueURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			if err != nil {
				log.Error().Err(err).Str("handle", aws.StringValue(m.ReceiptHandle)).
					Msg("ack/delete report message")
				continue
			}
		}
	}
}

// ApplyMessage applies all region size reports in an SQS message to rec.
func ApplyMessage(message *sqs.Message, rec reports.Recorder) error {
	var batch reports.Batch
	if err := json.Unmarshal([]byte(*message.Body), &batch); err != nil {
		id := "[no ID]"
		if message.MessageId != nil {
			id = *message.MessageId
		}
		return fmt.Errorf("JSON parse failed for message %s: %w", id, err)
	}
	if err := reports.ApplyBatch(&batch, rec); err != nil {
		return fmt.Errorf("apply reports of message %s: %w", aws.StringValue(message.MessageId), err)
	}
	return nil
}
