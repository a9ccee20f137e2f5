package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/alertflow/internal/alert"
)

type fakeNotifier struct {
	name string
	err  error
	got  int
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, alerts []alert.Alert) error {
	f.got += len(alerts)
	return f.err
}

func TestRegistry_DispatchContinuesPastFailures(t *testing.T) {
	r := NewRegistry(nil)
	bad := &fakeNotifier{name: "bad", err: errors.New("broker down")}
	good := &fakeNotifier{name: "good"}
	r.Register(bad)
	r.Register(good)

	alerts := []alert.Alert{{Draft: alert.Draft{ID: uuid.New()}}, {Draft: alert.Draft{ID: uuid.New()}}}
	r.Dispatch(context.Background(), alerts)

	if bad.got != 2 || good.got != 2 {
		t.Fatalf("every notifier should see the batch: bad=%d good=%d", bad.got, good.got)
	}
}

func TestRegistry_EmptyBatchIsSkipped(t *testing.T) {
	r := NewRegistry(nil)
	n := &fakeNotifier{name: "n"}
	r.Register(n)
	r.Dispatch(context.Background(), nil)
	if n.got != 0 {
		t.Fatalf("empty batch dispatched")
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeNotifier{name: "websocket"})
	r.Register(&fakeNotifier{name: "amqp"})

	if got := r.Names(); len(got) != 2 || got[0] != "amqp" {
		t.Fatalf("Names() = %v", got)
	}
	if _, err := r.Get("websocket"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get("sms"); err == nil {
		t.Fatal("expected error for unknown notifier")
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry(nil)
	r.Register(&fakeNotifier{name: "x"})
	r.Register(&fakeNotifier{name: "x"})
}
