package handlers

import (
	"context"
	"encoding/json"
	"log"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"orator-go/internal/docstore"
	"orator-go/internal/events"
	appKafka "orator-go/internal/kafka"
)

// NewDocumentChangeHandler returns a MessageHandler that feeds committed
// document change events from the change stream topic into the sync
// server's notifier, which fans them out to listening clients.
//
// Malformed messages are logged and committed rather than retried: the
// stream must keep moving, and a message that cannot be decoded now will
// not decode later either.
func NewDocumentChangeHandler(notifier *docstore.Notifier) appKafka.MessageHandler {
	return func(ctx context.Context, msg *confluentKafka.Message) error {
		var evt events.ChangeEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("DocumentChangeHandler: failed to unmarshal change event (offset %v): %v",
				msg.TopicPartition.Offset, err)
			return nil
		}
		if evt.Collection == "" || evt.DocID == "" {
			log.Printf("DocumentChangeHandler: dropping change event without document reference (offset %v)",
				msg.TopicPartition.Offset)
			return nil
		}
		notifier.Dispatch(evt)
		return nil
	}
}
