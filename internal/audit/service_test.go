package audit

import (
	"context"
	"testing"
	"time"
)

type fakeRepo struct {
	entries    []Entry
	total      int
	lastLimit  int
	lastOffset int
}

func (f *fakeRepo) Window(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, int, error) {
	f.lastLimit = limit
	f.lastOffset = offset
	return f.entries, f.total, nil
}

func TestTimelineDefaultsPaging(t *testing.T) {
	repo := &fakeRepo{entries: []Entry{{Action: "rbac.role.create"}}, total: 41}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 20 || repo.lastOffset != 0 {
		t.Fatalf("expected limit 20 offset 0, got %d/%d", repo.lastLimit, repo.lastOffset)
	}
	if result.Pagination.TotalPages != 3 {
		t.Fatalf("expected 3 pages for 41 rows, got %d", result.Pagination.TotalPages)
	}
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)

	if _, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastLimit != 50 {
		t.Fatalf("expected page size clamped to 50, got %d", repo.lastLimit)
	}
	if repo.lastOffset != 100 {
		t.Fatalf("expected offset 100, got %d", repo.lastOffset)
	}
}

func TestTimelineRequiresRepository(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Timeline(context.Background(), TimelineFilters{From: time.Now()}); err == nil {
		t.Fatal("expected an error without a repository")
	}
}
