package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nelwhix/ragchat-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

var messagesBucket = []byte("messages")

// Bolt implements the conversation history store using a BoltDB backend. Messages are stored
// under sequence-prefixed keys so bucket iteration order is insertion order, which is also
// display order.
type Bolt struct {
	db *bolt.DB
}

// NewBolt creates a Bolt store at the specified file path. The database file is created with
// 0600 permissions if it doesn't exist.
func NewBolt(path string) (Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return Bolt{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})

	return Bolt{db: db}, err
}

// Close releases the underlying database file.
func (b Bolt) Close() error {
	return b.db.Close()
}

// Messages retrieves the stored conversation history in insertion order.
func (b Bolt) Messages(context.Context) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messagesBucket)
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the history. It generates the storage ID by prefixing the
// message's original ID with a zero-padded sequence number, and returns the new ID.
func (b Bolt) AddMessage(_ context.Context, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messagesBucket)
		if bkt == nil {
			return nil
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%016d-%s", seq, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(newID), v)
	})

	return newID, err
}

// UpdateMessage overwrites a stored message under its existing ID. An unknown ID is silently
// ignored.
func (b Bolt) UpdateMessage(_ context.Context, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messagesBucket)
		if bkt == nil {
			return nil
		}

		if bkt.Get([]byte(message.ID)) == nil {
			return nil
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(message.ID), v)
	})
}

// Reset discards the whole stored history.
func (b Bolt) Reset(context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(messagesBucket); err != nil {
			return fmt.Errorf("failed to delete messages bucket: %w", err)
		}
		_, err := tx.CreateBucket(messagesBucket)
		return err
	})
}
