package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
)

// --- SQS ---

type fakeSQS struct {
	receive    *sqs.ReceiveMessageOutput
	receiveErr error
	lastRecv   *sqs.ReceiveMessageInput
	deleted    []string
	visibility map[string]int32
	sent       []*sqs.SendMessageInput
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.lastRecv = in
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if f.receive == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return f.receive, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("sent-1")}, nil
}

func TestSQSQueue_Receive(t *testing.T) {
	fake := &fakeSQS{receive: &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"videoId":"v"}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}}}
	q := NewSQSQueue(fake, SQSOptions{URL: "https://sqs/jobs", WaitTime: 20 * time.Second})

	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if msg.ID != "m-1" || msg.Handle != "rh-1" || string(msg.Body) != `{"videoId":"v"}` {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Deliveries != 3 {
		t.Errorf("Deliveries = %d, want 3", msg.Deliveries)
	}
	if fake.lastRecv.MaxNumberOfMessages != 1 {
		t.Errorf("MaxNumberOfMessages = %d, want 1", fake.lastRecv.MaxNumberOfMessages)
	}
	if fake.lastRecv.WaitTimeSeconds != 20 {
		t.Errorf("WaitTimeSeconds = %d, want 20", fake.lastRecv.WaitTimeSeconds)
	}
}

func TestSQSQueue_ReceiveEmptyAndError(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, SQSOptions{URL: "u", WaitTime: time.Second})

	msg, err := q.Receive(context.Background())
	if err != nil || msg != nil {
		t.Errorf("empty poll = (%v, %v), want (nil, nil)", msg, err)
	}

	fake.receiveErr = errors.New("throttled")
	if _, err := q.Receive(context.Background()); err == nil {
		t.Error("expected receive error")
	}
}

func TestSQSQueue_AckReleaseDeadLetter(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, SQSOptions{URL: "u", DeadLetterURL: "dlq"})
	msg := &Message{ID: "m-1", Handle: "rh-1", Body: []byte("{}"), Deliveries: 5}

	if err := q.Release(context.Background(), msg, 90*time.Second); err != nil {
		t.Fatal(err)
	}
	if fake.visibility["rh-1"] != 90 {
		t.Errorf("visibility = %d, want 90", fake.visibility["rh-1"])
	}

	if err := q.Release(context.Background(), msg, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if fake.visibility["rh-1"] != int32(maxVisibility/time.Second) {
		t.Errorf("visibility should be capped, got %d", fake.visibility["rh-1"])
	}

	if err := q.DeadLetter(context.Background(), msg, "too many deliveries"); err != nil {
		t.Fatal(err)
	}
	if len(fake.sent) != 1 || aws.ToString(fake.sent[0].QueueUrl) != "dlq" {
		t.Fatalf("expected one send to dlq, got %+v", fake.sent)
	}
	if got := aws.ToString(fake.sent[0].MessageAttributes["reason"].StringValue); got != "too many deliveries" {
		t.Errorf("reason attribute = %q", got)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "rh-1" {
		t.Errorf("dead-lettered message should be deleted, got %v", fake.deleted)
	}
}

func TestSQSQueue_Send(t *testing.T) {
	fake := &fakeSQS{}
	q := NewSQSQueue(fake, SQSOptions{URL: "jobs"})
	id, err := q.Send(context.Background(), []byte(`{"a":1}`))
	if err != nil || id != "sent-1" {
		t.Fatalf("Send = (%q, %v)", id, err)
	}
	if aws.ToString(fake.sent[0].MessageBody) != `{"a":1}` {
		t.Errorf("body = %q", aws.ToString(fake.sent[0].MessageBody))
	}
}

// --- Redis Streams ---

func newRedisQueue(t *testing.T, opts RedisOptions) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	if opts.Stream == "" {
		opts.Stream = "jobs"
	}
	if opts.Group == "" {
		opts.Group = "workers"
	}
	if opts.Consumer == "" {
		opts.Consumer = "c1"
	}
	if opts.WaitTime == 0 {
		opts.WaitTime = 50 * time.Millisecond
	}
	q, err := NewRedisQueue(context.Background(), rc, opts)
	if err != nil {
		t.Fatalf("NewRedisQueue error: %v", err)
	}
	return q, rc
}

func TestRedisQueue_SendReceiveAck(t *testing.T) {
	ctx := context.Background()
	q, rc := newRedisQueue(t, RedisOptions{})

	if _, err := q.Send(ctx, []byte(`{"videoId":"v1"}`)); err != nil {
		t.Fatal(err)
	}
	msg, err := q.Receive(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Receive = (%v, %v)", msg, err)
	}
	if string(msg.Body) != `{"videoId":"v1"}` || msg.Deliveries != 1 {
		t.Errorf("unexpected message %+v", msg)
	}

	if err := q.Ack(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if n := rc.XLen(ctx, "jobs").Val(); n != 0 {
		t.Errorf("stream length after ack = %d, want 0", n)
	}
}

func TestRedisQueue_EmptyPoll(t *testing.T) {
	q, _ := newRedisQueue(t, RedisOptions{})
	msg, err := q.Receive(context.Background())
	if err != nil || msg != nil {
		t.Errorf("empty poll = (%v, %v), want (nil, nil)", msg, err)
	}
}

func TestRedisQueue_ReleaseCountsDeliveries(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t, RedisOptions{})
	q.Send(ctx, []byte("body"))

	first, _ := q.Receive(ctx)
	if err := q.Release(ctx, first, 0); err != nil {
		t.Fatal(err)
	}
	second, err := q.Receive(ctx)
	if err != nil || second == nil {
		t.Fatalf("redelivery = (%v, %v)", second, err)
	}
	if second.Deliveries != 2 {
		t.Errorf("Deliveries = %d, want 2", second.Deliveries)
	}
	if second.ID != first.ID {
		t.Errorf("ID changed across redelivery: %q -> %q", first.ID, second.ID)
	}
}

func TestRedisQueue_DelayedRelease(t *testing.T) {
	ctx := context.Background()
	q, _ := newRedisQueue(t, RedisOptions{})
	q.Send(ctx, []byte("body"))

	msg, _ := q.Receive(ctx)
	if err := q.Release(ctx, msg, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if n := q.rc.ZCard(ctx, q.delayed).Val(); n != 1 {
		t.Fatalf("delayed set size = %d, want 1", n)
	}

	time.Sleep(30 * time.Millisecond)
	var again *Message
	for i := 0; i < 3 && again == nil; i++ {
		again, _ = q.Receive(ctx)
	}
	if again == nil {
		t.Fatal("delayed message was never promoted")
	}
	if string(again.Body) != "body" || again.Deliveries != 2 {
		t.Errorf("unexpected promoted message %+v", again)
	}
}

func TestRedisQueue_PromotionFailureKeepsDelayedEntry(t *testing.T) {
	ctx := context.Background()
	q, rc := newRedisQueue(t, RedisOptions{})
	q.Send(ctx, []byte("body"))

	msg, _ := q.Receive(ctx)
	if err := q.Release(ctx, msg, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	// A non-stream value under the stream key makes XADD fail with WRONGTYPE.
	rc.Del(ctx, "jobs")
	rc.Set(ctx, "jobs", "not a stream", 0)
	if err := q.promoteDue(ctx); err == nil {
		t.Fatal("expected promotion to fail while the stream key is broken")
	}
	if n := rc.ZCard(ctx, q.delayed).Val(); n != 1 {
		t.Fatalf("delayed set size after failed promotion = %d, want 1", n)
	}

	rc.Del(ctx, "jobs")
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatal(err)
	}
	var again *Message
	for i := 0; i < 3 && again == nil; i++ {
		again, _ = q.Receive(ctx)
	}
	if again == nil {
		t.Fatal("released message lost after the stream recovered")
	}
	if string(again.Body) != "body" || again.Deliveries != 2 || again.ID != msg.ID {
		t.Errorf("unexpected promoted message %+v", again)
	}
	if n := rc.ZCard(ctx, q.delayed).Val(); n != 0 {
		t.Errorf("delayed set size after promotion = %d, want 0", n)
	}
}

func TestRedisQueue_PromotionIsSingleOwner(t *testing.T) {
	ctx := context.Background()
	q, rc := newRedisQueue(t, RedisOptions{})
	q.Send(ctx, []byte("body"))

	msg, _ := q.Receive(ctx)
	if err := q.Release(ctx, msg, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := q.promoteDue(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := rc.XLen(ctx, "jobs").Val(); n != 1 {
		t.Errorf("stream length after repeated promotion = %d, want 1", n)
	}
}

func TestRedisQueue_DeadLetter(t *testing.T) {
	ctx := context.Background()
	q, rc := newRedisQueue(t, RedisOptions{DeadLetterStream: "jobs:dead"})
	q.Send(ctx, []byte("poison"))

	msg, _ := q.Receive(ctx)
	if err := q.DeadLetter(ctx, msg, "max deliveries exceeded"); err != nil {
		t.Fatal(err)
	}
	if n := rc.XLen(ctx, "jobs").Val(); n != 0 {
		t.Errorf("work stream length = %d, want 0", n)
	}
	dead := rc.XRange(ctx, "jobs:dead", "-", "+").Val()
	if len(dead) != 1 {
		t.Fatalf("dead-letter stream has %d entries, want 1", len(dead))
	}
	if dead[0].Values["reason"] != "max deliveries exceeded" || dead[0].Values["payload"] != "poison" {
		t.Errorf("dead-letter entry = %v", dead[0].Values)
	}
}

func TestNewRedisQueue_RejectsZeroWait(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	if _, err := NewRedisQueue(context.Background(), rc, RedisOptions{Stream: "s", Group: "g"}); err == nil {
		t.Error("expected error for zero wait time")
	}
}

func TestNewRedisQueue_GroupAlreadyExists(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	opts := RedisOptions{Stream: "s", Group: "g", Consumer: "c", WaitTime: time.Millisecond}
	if _, err := NewRedisQueue(context.Background(), rc, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRedisQueue(context.Background(), rc, opts); err != nil {
		t.Errorf("second NewRedisQueue should tolerate BUSYGROUP: %v", err)
	}
}
