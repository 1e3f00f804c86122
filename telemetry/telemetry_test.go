package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rencelibrando/infoma-sub004/internal/live"
	"github.com/rencelibrando/infoma-sub004/ride"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	name string
	err  error

	mu   sync.Mutex
	seqs []int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(ctx context.Context, f ride.Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, f.Seq)
	return s.err
}

func (s *recordingSink) written() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.seqs...)
}

func fixes(rideID uuid.UUID, n int) []ride.Fix {
	out := make([]ride.Fix, n)
	for i := range out {
		out[i] = ride.Fix{RideID: rideID, UserID: "user-1", Seq: i + 1}
	}
	return out
}

func TestEveryNth(t *testing.T) {
	p := EveryNth(10)

	var admitted []int
	for _, f := range fixes(uuid.New(), 25) {
		if p.Admit(f) {
			admitted = append(admitted, f.Seq)
		}
	}
	if len(admitted) != 2 || admitted[0] != 10 || admitted[1] != 20 {
		t.Errorf("expected [10 20], got %v", admitted)
	}

	if !p.Admit(ride.Fix{Seq: 23, Terminal: true}) {
		t.Error("expected terminal fix to be admitted")
	}
	if !EveryNth(1).Admit(ride.Fix{Seq: 7}) {
		t.Error("expected EveryNth(1) to admit everything")
	}
}

func TestReplicator_ThrottlesDurableOnly(t *testing.T) {
	ephemeral := &recordingSink{name: "live"}
	durable := &recordingSink{name: "durable"}
	r := NewReplicator(discard, nil, 2, ephemeral, Throttle(durable, EveryNth(10)))

	id := uuid.New()
	all := fixes(id, 21)
	for _, f := range all[:20] {
		r.Publish(context.Background(), f)
	}
	last := all[20]
	last.Terminal = true
	if err := r.Flush(context.Background(), last); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	r.Close()

	got := ephemeral.written()
	if len(got) != 21 {
		t.Fatalf("expected 21 ephemeral writes, got %d", len(got))
	}
	for i, seq := range got {
		if seq != i+1 {
			t.Fatalf("expected in-order writes, got %v", got)
		}
	}

	if d := durable.written(); len(d) != 3 || d[0] != 10 || d[1] != 20 || d[2] != 21 {
		t.Errorf("expected durable writes [10 20 21], got %v", d)
	}
}

func TestReplicator_SinkFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingSink{name: "live", err: boom}
	durable := &recordingSink{name: "durable"}
	r := NewReplicator(discard, nil, 1, failing, durable)
	defer r.Close()

	err := r.Flush(context.Background(), ride.Fix{RideID: uuid.New(), Seq: 1, Terminal: true})
	if !errors.Is(err, boom) {
		t.Errorf("expected Flush to report the failing sink, got %v", err)
	}
	if len(durable.written()) != 1 {
		t.Errorf("expected durable sink to still be written")
	}
}

func TestReplicator_ClosedRejectsFlush(t *testing.T) {
	r := NewReplicator(discard, nil, 1)
	r.Close()

	r.Publish(context.Background(), ride.Fix{RideID: uuid.New()})
	if err := r.Flush(context.Background(), ride.Fix{RideID: uuid.New()}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestLiveSink_WritesAndClears(t *testing.T) {
	ctx := context.Background()
	store := live.NewMemory()
	s := NewLiveSink(store)

	id := uuid.New()
	f := ride.Fix{
		RideID:    id,
		BikeID:    uuid.New(),
		UserID:    "user-1",
		StartTime: time.Now(),
		Seq:       1,
		Sample:    ride.LocationSample{Latitude: 14, Longitude: 120, Speed: 3, Timestamp: ride.At(time.Now())},
		Status:    ride.StatusActive,
	}
	if err := s.Write(ctx, f); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var loc liveLocation
	if err := store.Get(ctx, live.LiveLocation("user-1"), &loc); err != nil {
		t.Fatalf("expected live location: %v", err)
	}
	if loc.RideID != id || !loc.IsActive || loc.Latitude != 14 {
		t.Errorf("unexpected live location %+v", loc)
	}
	var active map[string]any
	if err := store.Get(ctx, live.ActiveRide("user-1"), &active); err != nil {
		t.Fatalf("expected active ride entry: %v", err)
	}
	if hist, _ := store.List(ctx, live.RideLocationHistory(id)); len(hist) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(hist))
	}

	f.Terminal = true
	if err := s.Write(ctx, f); err != nil {
		t.Fatalf("terminal Write: %v", err)
	}
	if err := store.Get(ctx, live.LiveLocation("user-1"), &loc); !errors.Is(err, live.ErrNotFound) {
		t.Errorf("expected live location to be removed, got %v", err)
	}
	if err := store.Get(ctx, live.ActiveRide("user-1"), &active); !errors.Is(err, live.ErrNotFound) {
		t.Errorf("expected active ride to be removed, got %v", err)
	}
}

type fakeWriter struct {
	appended []int
	progress []int
}

func (w *fakeWriter) AppendSample(ctx context.Context, rideID uuid.UUID, seq int, s ride.LocationSample) error {
	w.appended = append(w.appended, seq)
	return nil
}

func (w *fakeWriter) SaveProgress(ctx context.Context, rideID uuid.UUID, st ride.Stats) error {
	w.progress = append(w.progress, st.SampleCount)
	return nil
}

func TestDurableSink(t *testing.T) {
	w := &fakeWriter{}
	s := NewDurableSink(w)
	ctx := context.Background()

	s.Write(ctx, ride.Fix{Seq: 10, Stats: ride.Stats{SampleCount: 10}})
	s.Write(ctx, ride.Fix{Seq: 14, Stats: ride.Stats{SampleCount: 14}, Terminal: true})

	if len(w.appended) != 2 {
		t.Errorf("expected 2 samples appended, got %v", w.appended)
	}
	if len(w.progress) != 1 || w.progress[0] != 10 {
		t.Errorf("expected progress saved only for the active fix, got %v", w.progress)
	}
}
