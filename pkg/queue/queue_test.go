package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestEnqueueDequeueEmail(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id := uuid.New()

	if err := q.EnqueueEmail(ctx, EmailPayload{EmailType: "client_confirmation", AppointmentID: &id, RecipientEmail: "rahim@example.com", Subject: "Booked"}); err != nil {
		t.Fatalf("EnqueueEmail: %v", err)
	}
	job, err := q.Dequeue(ctx)
	if err != nil || job == nil {
		t.Fatalf("Dequeue = %v, %v", job, err)
	}
	if job.Type != JobTypeEmail || job.ID == "" {
		t.Fatalf("job = %+v", job)
	}
	var p EmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.RecipientEmail != "rahim@example.com" || p.AppointmentID == nil || *p.AppointmentID != id {
		t.Fatalf("payload = %+v", p)
	}
}

func TestDequeueSkipsMalformedJob(t *testing.T) {
	q, mr := newTestQueue(t)
	if _, err := mr.Lpush(QueueEmails, "{not json"); err != nil {
		t.Fatal(err)
	}
	job, err := q.Dequeue(context.Background())
	if err != nil || job != nil {
		t.Fatalf("Dequeue = %v, %v", job, err)
	}
}

func TestDeadLetter(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	job := &Job{ID: "j-1", Type: JobTypeEmail}

	if err := q.DeadLetter(ctx, job, errors.New("smtp: 550 mailbox unavailable")); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}
	n, err := q.Len(ctx, QueueDLQ)
	if err != nil || n != 1 {
		t.Fatalf("dlq len = %d, %v", n, err)
	}
	items, _ := mr.List(QueueDLQ)
	var stored Job
	if err := json.Unmarshal([]byte(items[0]), &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Attempt != 1 || stored.LastError != "smtp: 550 mailbox unavailable" {
		t.Fatalf("stored = %+v", stored)
	}
}
