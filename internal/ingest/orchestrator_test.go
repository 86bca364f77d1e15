package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
	"github.com/localpages/directory/internal/progress"
	"github.com/localpages/directory/internal/publisher"
	pubmem "github.com/localpages/directory/internal/publisher/memory"
	"github.com/localpages/directory/internal/store/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

// fakeSource serves canned places per category and fails the listed ones.
type fakeSource struct {
	places map[string][]directory.RawPlace
	fail   map[string]error
	calls  []string
}

func (s *fakeSource) SearchCategory(_ context.Context, query string) ([]directory.RawPlace, error) {
	s.calls = append(s.calls, query)
	if err, ok := s.fail[query]; ok {
		return nil, err
	}
	return s.places[query], nil
}

func rawPlace(id, name string) directory.RawPlace {
	raw := directory.RawPlace{}
	raw["id"] = mustRaw(id)
	raw["name"] = mustRaw(name)
	raw["rating"] = json.RawMessage(`4.2`)
	return raw
}

func mustRaw(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func newOrchestrator(
	cfg Config,
	source directory.PlaceSource,
	store directory.Store,
	tracker *progress.Tracker,
	pub publisher.Publisher,
) *Orchestrator {
	return New(cfg, source, store, tracker, nil, pub,
		&fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
}

func TestRunContinuesPastFailedCategory(t *testing.T) {
	t.Parallel()

	categories := []string{"plumbers", "electricians", "roofers", "bakeries", "florists"}
	source := &fakeSource{
		places: map[string][]directory.RawPlace{},
		fail: map[string]error{
			"roofers": &directory.NetworkError{Kind: directory.NetworkTimeout},
		},
	}
	for i, cat := range categories {
		if cat == "roofers" {
			continue
		}
		source.places[cat] = []directory.RawPlace{
			rawPlace(fmt.Sprintf("%s-1", cat), fmt.Sprintf("%s One", cat)),
			rawPlace(fmt.Sprintf("%s-%d", cat, i+2), fmt.Sprintf("%s Two", cat)),
		}
	}

	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())
	orch := newOrchestrator(Config{Categories: categories, Delay: time.Millisecond},
		source, store, tracker, nil)

	report, err := orch.Run(context.Background(), 7)

	var partial *directory.PartialBatchFailure
	require.ErrorAs(t, err, &partial)
	require.Equal(t, []string{"roofers"}, partial.Failed)

	require.Equal(t, 7, report.BatchNumber)
	require.Len(t, report.Succeeded, 4)
	require.Len(t, report.Failed, 1)
	require.Equal(t, "roofers", report.Failed[0].Category)
	require.True(t, report.Failed[0].Retryable)
	require.Equal(t, 8, report.Created)
	require.Equal(t, 0, report.Updated)

	// Every category was attempted, in order.
	require.Equal(t, categories, source.calls)

	// The final tracker state is completed and carries the failure message.
	final := tracker.State()
	require.Equal(t, progress.StatusCompleted, final.Status)
	require.Equal(t, 8, final.TotalBusinesses)
	require.Equal(t,
		[]string{"roofers: the data source took too long to respond"},
		final.Errors)
}

func TestRunCleanBatchHasNoError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{places: map[string][]directory.RawPlace{
		"plumbers": {rawPlace("p1", "Pipes R Us")},
	}}
	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())
	orch := newOrchestrator(Config{Categories: []string{"plumbers"}, Delay: time.Millisecond},
		source, store, tracker, nil)

	report, err := orch.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total())
	require.Empty(t, report.Failed)

	// The record landed with defaults applied.
	items, _, err := store.Query(context.Background(), directory.Filter{},
		directory.PageRequest{All: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Pipes R Us", items[0].Name)
	require.Equal(t, directory.StatusOperational, items[0].Status)
}

func TestRunSecondBatchReportsUpdates(t *testing.T) {
	t.Parallel()

	source := &fakeSource{places: map[string][]directory.RawPlace{
		"plumbers": {rawPlace("p1", "Pipes R Us"), rawPlace("p2", "Drain Kings")},
	}}
	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())
	orch := newOrchestrator(Config{Categories: []string{"plumbers"}, Delay: time.Millisecond},
		source, store, tracker, nil)

	_, err := orch.Run(context.Background(), 1)
	require.NoError(t, err)

	report, err := orch.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 0, report.Created)
	require.Equal(t, 2, report.Updated)
}

func TestRunSkipsMalformedRecordsAndCounts(t *testing.T) {
	t.Parallel()

	noID := directory.RawPlace{}
	noID["name"] = mustRaw("Nameless Plumbing")

	source := &fakeSource{places: map[string][]directory.RawPlace{
		"plumbers": {rawPlace("p1", "Pipes R Us"), noID},
	}}
	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())
	orch := newOrchestrator(Config{Categories: []string{"plumbers"}, Delay: time.Millisecond},
		source, store, tracker, nil)

	report, err := orch.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total())
	require.Equal(t, 1, report.Errors)
	require.Empty(t, report.Failed)

	final := tracker.State()
	require.Len(t, final.Errors, 1)
	require.Contains(t, final.Errors[0], "malformed place record in plumbers")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	source := &fakeSource{places: map[string][]directory.RawPlace{
		"plumbers":     {rawPlace("p1", "Pipes R Us")},
		"electricians": {rawPlace("e1", "Sparks Bros")},
	}}
	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())
	orch := newOrchestrator(
		Config{Categories: []string{"plumbers", "electricians"}, Delay: 5 * time.Second},
		source, store, tracker, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := orch.Run(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// The second category was never reached; the delay was interrupted.
	require.Equal(t, []string{"plumbers"}, source.calls)
}

func TestRunPublishesBatchNotification(t *testing.T) {
	t.Parallel()

	source := &fakeSource{places: map[string][]directory.RawPlace{
		"plumbers": {rawPlace("p1", "Pipes R Us")},
	}}
	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())
	pub := pubmem.New()
	orch := newOrchestrator(
		Config{Categories: []string{"plumbers"}, Delay: time.Millisecond, Topic: "directory-batches"},
		source, store, tracker, pub)

	_, err := orch.Run(context.Background(), 3)
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "directory-batches", msgs[0].Topic)
	note, ok := msgs[0].Payload.(publisher.BatchNotification)
	require.True(t, ok)
	require.Equal(t, 3, note.BatchNumber)
	require.Equal(t, 1, note.Succeeded)
	require.Equal(t, 1, note.TotalBusinesses)
}

func TestRunEmitsTransitionNotes(t *testing.T) {
	t.Parallel()

	source := &fakeSource{places: map[string][]directory.RawPlace{
		"plumbers":     {rawPlace("p1", "Pipes R Us")},
		"electricians": {rawPlace("e1", "Sparks Bros")},
	}}
	store := memory.New()
	tracker := progress.NewTracker(zap.NewNop())

	var notes []string
	tracker.Subscribe(func(s progress.State) {
		if s.Note != "" {
			notes = append(notes, s.Note)
		}
	})

	orch := newOrchestrator(
		Config{Categories: []string{"plumbers", "electricians"}, Delay: time.Millisecond},
		source, store, tracker, nil)
	_, err := orch.Run(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, notes, 6)
	require.Contains(t, notes[0], "Processing category 1/2: plumbers")
	require.Contains(t, notes[1], "plumbers done: 1 businesses")
	require.Contains(t, notes[2], "Waiting before next category")
	require.Contains(t, notes[3], "Processing category 2/2: electricians")
	require.Contains(t, notes[4], "electricians done: 1 businesses")
	require.Contains(t, notes[5], "Batch 1 completed")
}
