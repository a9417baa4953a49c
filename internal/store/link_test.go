package store

import (
	"context"
	"testing"
)

func TestLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, "conv-a", sampleState("kubernetes"))

	links, err := s.Links(ctx, "conv-a", "s1")
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	// s1 covers r0, r1 and is covered by s3
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d: %+v", len(links), links)
	}
	if links[0].SummaryID != "s1" || links[0].CoveredID != "r0" || links[1].CoveredID != "r1" {
		t.Errorf("unexpected order %+v", links)
	}
	if links[2].SummaryID != "s3" || links[2].Seq != 0 {
		t.Errorf("expected parent link last, got %+v", links[2])
	}
}

func TestLinksScopedToConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Save(ctx, "conv-a", sampleState("kubernetes"))

	links, err := s.Links(ctx, "conv-b", "s1")
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("expected no links, got %d", len(links))
	}
}
