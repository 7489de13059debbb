// Package queue carries job messages from enqueuers to workers with
// at-least-once delivery. A delivery stays owned by the consumer until it is
// acked; unacked deliveries are redelivered after a crash or timeout.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("queue closed")

// ErrMalformed wraps a body that is not a job message at all.
var ErrMalformed = errors.New("malformed job message")

// Queue is the transport between enqueuers and the dispatcher.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Receive blocks until a delivery is available or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is one received message.
type Delivery interface {
	Body() []byte
	// Ack removes the message for good.
	Ack(ctx context.Context) error
	// Nack hands the message back for redelivery, or dead-letters it when
	// requeue is false.
	Nack(ctx context.Context, requeue bool) error
}

// Message is the wire form of a job: job_id and job_type plus a flat set of
// fields (tenant_id, aoi_id, year, week, and type-specific keys).
type Message struct {
	JobID   uuid.UUID
	JobType models.JobType
	Fields  map[string]any
}

// NewMessage builds the message for a stored job.
func NewMessage(job *models.Job) Message {
	fields := make(map[string]any, len(job.Payload)+2)
	for k, v := range job.Payload {
		fields[k] = v
	}
	fields["tenant_id"] = job.TenantID.String()
	if job.AOIID != nil {
		fields["aoi_id"] = job.AOIID.String()
	}
	return Message{JobID: job.ID, JobType: job.Type, Fields: fields}
}

func (m Message) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Fields)+2)
	for k, v := range m.Fields {
		flat[k] = v
	}
	flat["job_id"] = m.JobID.String()
	flat["job_type"] = string(m.JobType)
	return json.Marshal(flat)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rawID, _ := flat["job_id"].(string)
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("%w: job_id %q", ErrMalformed, rawID)
	}
	jobType, _ := flat["job_type"].(string)
	delete(flat, "job_id")
	delete(flat, "job_type")
	*m = Message{JobID: id, JobType: models.JobType(jobType), Fields: flat}
	return nil
}

// Encode renders msg as a JSON body.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a delivery body. A body without a valid job_id cannot be
// tied to a job row and yields ErrMalformed.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// partitionKey groups one AOI's messages together on partitioned transports.
func partitionKey(msg Message) string {
	if aoi, ok := msg.Fields["aoi_id"].(string); ok && aoi != "" {
		return aoi
	}
	if tenant, ok := msg.Fields["tenant_id"].(string); ok && tenant != "" {
		return tenant
	}
	return msg.JobID.String()
}
