package store

import (
	"context"
	"errors"
	"testing"
)

// testState is a stand-in for an inference snapshot.
type testState struct {
	Round int       `json:"round"`
	Loss  float64   `json:"loss"`
	Mean  []float64 `json:"mean"`
}

// runStoreConformance exercises the Store contract against any
// implementation.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store[testState]) {
	t.Helper()

	t.Run("load missing run", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Load(context.Background(), "nope", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
		if _, _, err := s.LoadLatest(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("save and load round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := testState{Round: 1, Loss: 2.5, Mean: []float64{0.1, -0.2}}

		if err := s.Save(ctx, "run-1", 1, want); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := s.Load(ctx, "run-1", 1)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Round != want.Round || got.Loss != want.Loss {
			t.Errorf("got %+v, want %+v", got, want)
		}
		if len(got.Mean) != 2 || got.Mean[0] != 0.1 || got.Mean[1] != -0.2 {
			t.Errorf("mean = %v, want %v", got.Mean, want.Mean)
		}
	})

	t.Run("save overwrites same round", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Save(ctx, "run-1", 1, testState{Round: 1, Loss: 5}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Save(ctx, "run-1", 1, testState{Round: 1, Loss: 3}); err != nil {
			t.Fatalf("Save overwrite: %v", err)
		}
		got, err := s.Load(ctx, "run-1", 1)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Loss != 3 {
			t.Errorf("Loss = %g after overwrite, want 3", got.Loss)
		}
	})

	t.Run("latest picks the highest round", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, r := range []int{2, 3, 1} {
			if err := s.Save(ctx, "run-1", r, testState{Round: r}); err != nil {
				t.Fatalf("Save round %d: %v", r, err)
			}
		}
		got, round, err := s.LoadLatest(ctx, "run-1")
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if round != 3 || got.Round != 3 {
			t.Errorf("latest round = %d (state %d), want 3", round, got.Round)
		}
	})

	t.Run("rounds are sorted and scoped to the run", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, r := range []int{3, 1, 2} {
			if err := s.Save(ctx, "run-a", r, testState{Round: r}); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		if err := s.Save(ctx, "run-b", 9, testState{Round: 9}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		rounds, err := s.Rounds(ctx, "run-a")
		if err != nil {
			t.Fatalf("Rounds: %v", err)
		}
		want := []int{1, 2, 3}
		if len(rounds) != len(want) {
			t.Fatalf("got rounds %v, want %v", rounds, want)
		}
		for i := range want {
			if rounds[i] != want[i] {
				t.Fatalf("got rounds %v, want %v", rounds, want)
			}
		}

		empty, err := s.Rounds(ctx, "unknown")
		if err != nil {
			t.Fatalf("Rounds for unknown run: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("unknown run has rounds %v, want none", empty)
		}
	})

	t.Run("delete removes the whole run", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Save(ctx, "run-1", 1, testState{Round: 1}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Save(ctx, "run-2", 1, testState{Round: 1}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := s.Delete(ctx, "run-1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}

		if _, err := s.Load(ctx, "run-1", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v after delete, want ErrNotFound", err)
		}
		if _, err := s.Load(ctx, "run-2", 1); err != nil {
			t.Errorf("sibling run was deleted too: %v", err)
		}

		if err := s.Delete(ctx, "never-existed"); err != nil {
			t.Errorf("deleting an unknown run returned %v, want nil", err)
		}
	})
}
