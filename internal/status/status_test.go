package status

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/fpang/video-summary-worker/internal/jobs"
)

type recordingWriter struct {
	updates []Update
	err     error
}

func (w *recordingWriter) Name() string { return "recording" }

func (w *recordingWriter) Write(_ context.Context, u Update) error {
	w.updates = append(w.updates, u)
	return w.err
}

func TestReporter_Writes(t *testing.T) {
	w := &recordingWriter{}
	r := New(w)
	ctx := context.Background()

	if err := r.SetProcessing(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetCompleted(ctx, "v1", "summaries/v1-summary.txt"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFailed(ctx, "v2"); err != nil {
		t.Fatal(err)
	}

	want := []Update{
		{ID: "v1", Status: jobs.StatusProcessing},
		{ID: "v1", Status: jobs.StatusCompleted, SummaryKey: "summaries/v1-summary.txt"},
		{ID: "v2", Status: jobs.StatusFailed},
	}
	if len(w.updates) != len(want) {
		t.Fatalf("got %d updates, want %d", len(w.updates), len(want))
	}
	for i, u := range w.updates {
		if u.ID != want[i].ID || u.Status != want[i].Status || u.SummaryKey != want[i].SummaryKey {
			t.Errorf("update %d = %+v, want %+v", i, u, want[i])
		}
		if u.At.IsZero() {
			t.Errorf("update %d has no timestamp", i)
		}
	}
}

func TestReporter_Validation(t *testing.T) {
	w := &recordingWriter{}
	r := New(w)
	if err := r.SetFailed(context.Background(), ""); !errors.Is(err, ErrMissingID) {
		t.Errorf("expected ErrMissingID, got %v", err)
	}
	if err := r.SetCompleted(context.Background(), "v1", ""); err == nil {
		t.Error("expected error for missing summary key")
	}
	if len(w.updates) != 0 {
		t.Errorf("invalid writes reached the backend: %v", w.updates)
	}
}

func TestReporter_WrapsBackendError(t *testing.T) {
	boom := errors.New("connection refused")
	r := New(&recordingWriter{err: boom})
	err := r.SetProcessing(context.Background(), "v1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if !strings.Contains(err.Error(), "processing") {
		t.Errorf("error should name the status: %v", err)
	}
}

// --- postgres ---

type fakeExec struct {
	sql  []string
	args [][]any
	tag  string
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag(f.tag), f.err
}

func TestPostgres_Write(t *testing.T) {
	db := &fakeExec{tag: "UPDATE 1"}
	p := NewPostgres(db, "Videos")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := p.Write(context.Background(), Update{ID: "v1", Status: jobs.StatusProcessing, At: at}); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(context.Background(), Update{ID: "v1", Status: jobs.StatusCompleted, SummaryKey: "summaries/v1-summary.txt", At: at}); err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(db.sql[0], `UPDATE "Videos" SET status = $1`) || strings.Contains(db.sql[0], "summary_file_id") {
		t.Errorf("processing sql = %q", db.sql[0])
	}
	if !strings.Contains(db.sql[1], "summary_file_id = $4") {
		t.Errorf("completed sql = %q", db.sql[1])
	}
	if got := db.args[1]; got[0] != "completed" || got[1] != "v1" || got[3] != "summaries/v1-summary.txt" {
		t.Errorf("completed args = %v", got)
	}
}

func TestPostgres_MissingRowIsNotError(t *testing.T) {
	p := NewPostgres(&fakeExec{tag: "UPDATE 0"}, "Videos")
	if err := p.Write(context.Background(), Update{ID: "gone", Status: jobs.StatusFailed}); err != nil {
		t.Errorf("missing row should not fail: %v", err)
	}
}

func TestPostgres_ExecError(t *testing.T) {
	p := NewPostgres(&fakeExec{err: errors.New("conn closed")}, "Videos")
	if err := p.Write(context.Background(), Update{ID: "v1", Status: jobs.StatusFailed}); err == nil {
		t.Error("expected exec error")
	}
}

// --- dynamodb ---

type fakeDynamo struct {
	inputs []*dynamodb.UpdateItemInput
	err    error
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.inputs = append(f.inputs, in)
	return &dynamodb.UpdateItemOutput{}, f.err
}

func TestDynamo_Write(t *testing.T) {
	client := &fakeDynamo{}
	d := NewDynamo(client, "videos")
	at := time.Now().UTC()

	if err := d.Write(context.Background(), Update{ID: "v1", Status: jobs.StatusFailed, At: at}); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(context.Background(), Update{ID: "v1", Status: jobs.StatusCompleted, SummaryKey: "summaries/v1-summary.txt", At: at}); err != nil {
		t.Fatal(err)
	}

	failed := client.inputs[0]
	if *failed.TableName != "videos" {
		t.Errorf("table = %q", *failed.TableName)
	}
	if key := failed.Key["id"].(*types.AttributeValueMemberS).Value; key != "v1" {
		t.Errorf("key = %q", key)
	}
	if *failed.UpdateExpression != "SET #s = :s, updatedAt = :u" {
		t.Errorf("expression = %q", *failed.UpdateExpression)
	}
	if _, ok := failed.ExpressionAttributeValues[":f"]; ok {
		t.Error(":f must be omitted without a summary key")
	}
	if s := failed.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberS).Value; s != "failed" {
		t.Errorf(":s = %q", s)
	}

	completed := client.inputs[1]
	if !strings.HasSuffix(*completed.UpdateExpression, ", summary_file_id = :f") {
		t.Errorf("expression = %q", *completed.UpdateExpression)
	}
	if f := completed.ExpressionAttributeValues[":f"].(*types.AttributeValueMemberS).Value; f != "summaries/v1-summary.txt" {
		t.Errorf(":f = %q", f)
	}
}

func TestDynamo_Error(t *testing.T) {
	d := NewDynamo(&fakeDynamo{err: errors.New("throttled")}, "videos")
	if err := d.Write(context.Background(), Update{ID: "v1", Status: jobs.StatusFailed}); err == nil {
		t.Error("expected error")
	}
}

// --- redis ---

func TestRedis_WriteIsLastWriterWins(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	r := New(NewRedis(rc, "video:"))
	ctx := context.Background()
	if err := r.SetCompleted(ctx, "v1", "summaries/v1-summary.txt"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetCompleted(ctx, "v1", "summaries/v1-summary.txt"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetFailed(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	if got := mr.HGet("video:v1", "status"); got != "failed" {
		t.Errorf("status = %q, want failed", got)
	}
	if got := mr.HGet("video:v1", "summary_file_id"); got != "summaries/v1-summary.txt" {
		t.Errorf("summary_file_id = %q", got)
	}
	if mr.HGet("video:v1", "updated_at") == "" {
		t.Error("updated_at not set")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 1 {
		t.Fatal("no migrations embedded")
	}
	for _, f := range files {
		data, _ := fs.ReadFile(migrations, f)
		if !strings.Contains(string(data), "-- +goose Up") || !strings.Contains(string(data), "-- +goose Down") {
			t.Errorf("%s is missing goose annotations", f)
		}
	}
}
