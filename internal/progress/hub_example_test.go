package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// ExampleHub_Emit tallies fetched bytes through a custom sink.
func ExampleHub_Emit() {
	var fetched int64
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Phase == acquisition.PhaseFetch && evt.Outcome == acquisition.OutcomeSuccess {
				fetched += evt.Bytes
			}
		}
		return nil
	})
	hub := NewHub(Config{Queue: 4}, capture)

	run := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hub.Emit(ItemDone(run, acquisition.Event{
		ItemID:     1,
		SubjectURL: "https://example.com/report.pdf",
		Phase:      acquisition.PhaseFetch,
		Outcome:    acquisition.OutcomeSuccess,
		Detail:     acquisition.Detail{Size: 512, StatusCode: 200},
		Timestamp:  time.Unix(0, 0),
	}, 0))
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bytes fetched: %d\n", fetched)
	// Output:
	// bytes fetched: 512
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
