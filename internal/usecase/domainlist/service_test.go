package domainlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/triage/internal/domain"
	domlist "github.com/kailas-cloud/triage/internal/domain/domainlist"
)

// --- Mocks ---

type mockRepo struct {
	entries   []domlist.Entry
	added     domlist.Entry
	addErr    error
	removeErr error
	listCalls int
}

func (m *mockRepo) Add(_ context.Context, e domlist.Entry) error {
	m.added = e
	if m.addErr != nil {
		return m.addErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRepo) Remove(_ context.Context, _, _ string) error {
	return m.removeErr
}

func (m *mockRepo) List(_ context.Context, _ string) ([]domlist.Entry, error) {
	m.listCalls++
	return m.entries, nil
}

func entry(id, pattern string, lt domlist.ListType, reason string) domlist.Entry {
	return domlist.Reconstruct(id, "acme", pattern, lt, reason, time.Time{})
}

// --- Tests ---

func TestAdd_NormalizesPattern(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo)

	e, err := svc.Add(context.Background(), "acme", "  @Spam.COM ", "blacklist", "bulk mail")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Pattern() != "spam.com" || e.ListType() != domlist.Blacklist || e.ID() == "" {
		t.Errorf("unexpected entry %+v", e)
	}
	if repo.added.ID() != e.ID() {
		t.Error("entry was not stored")
	}
}

func TestAdd_Invalid(t *testing.T) {
	svc := New(&mockRepo{})
	tests := []struct {
		name, org, pattern, list string
		want                     error
	}{
		{"no org", "", "a.com", "VIP", domain.ErrTenantRequired},
		{"bad list", "acme", "a.com", "GREY", domain.ErrInvalidInput},
		{"whitespace", "acme", "a b.com", "VIP", domain.ErrInvalidInput},
		{"empty", "acme", "  ", "VIP", domain.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Add(context.Background(), tc.org, tc.pattern, tc.list, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAdd_Duplicate(t *testing.T) {
	svc := New(&mockRepo{addErr: domain.ErrAlreadyExists})
	_, err := svc.Add(context.Background(), "acme", "a.com", "VIP", "")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestLookup_MultipleLists(t *testing.T) {
	repo := &mockRepo{entries: []domlist.Entry{
		entry("1", "acme.com", domlist.Whitelist, ""),
		entry("2", "*.acme.com", domlist.VIP, "board"),
		entry("3", "acme.com", domlist.VIP, ""),
	}}
	svc := New(repo)

	m, err := svc.Lookup(context.Background(), "acme", "ACME.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Has(domlist.Whitelist) || !m.Has(domlist.VIP) || m.Has(domlist.Blacklist) {
		t.Errorf("unexpected membership %v", m.Types())
	}

	m, _ = svc.Lookup(context.Background(), "acme", "")
	if len(m) != 0 {
		t.Errorf("empty domain should have no membership, got %v", m.Types())
	}
}

func TestLookup_CacheInvalidatedOnWrite(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, WithCache(8, time.Minute))
	ctx := context.Background()

	if m, _ := svc.Lookup(ctx, "acme", "spam.com"); m.Has(domlist.Blacklist) {
		t.Fatal("nothing listed yet")
	}
	if _, err := svc.Lookup(ctx, "acme", "spam.com"); err != nil {
		t.Fatal(err)
	}
	if repo.listCalls != 1 {
		t.Fatalf("second lookup should hit cache, list calls = %d", repo.listCalls)
	}

	if _, err := svc.Add(ctx, "acme", "spam.com", "BLACKLIST", ""); err != nil {
		t.Fatal(err)
	}
	m, _ := svc.Lookup(ctx, "acme", "spam.com")
	if !m.Has(domlist.Blacklist) {
		t.Error("lookup after add must see the new entry")
	}
}

func TestSearch(t *testing.T) {
	repo := &mockRepo{entries: []domlist.Entry{
		entry("1", "spam.com", domlist.Blacklist, "Bulk"),
		entry("2", "acme.com", domlist.VIP, "key account"),
		entry("3", "bulk.io", domlist.Blacklist, ""),
	}}
	svc := New(repo)

	got, err := svc.Search(context.Background(), "acme", "bulk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID() != "3" || got[1].ID() != "1" {
		t.Errorf("unexpected results %v", got)
	}

	all, _ := svc.Search(context.Background(), "acme", "")
	if len(all) != 3 || all[0].Pattern() != "acme.com" {
		t.Errorf("empty query should list everything ordered by pattern, got %v", all)
	}

	vip, _ := svc.Search(context.Background(), "acme", "vip")
	if len(vip) != 1 || vip[0].ID() != "2" {
		t.Errorf("search by list type failed: %v", vip)
	}
}
