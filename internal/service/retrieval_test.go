package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/judicore/casevault/access-module/internal/domain/model"
	"github.com/judicore/casevault/access-module/internal/ledgerclient"
	"github.com/judicore/casevault/access-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLinkRepo — in-memory реализация repository.LinkRepository.
type fakeLinkRepo struct {
	records   map[string]model.DocumentRecord
	order     []string
	upsertErr error
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{records: make(map[string]model.DocumentRecord)}
}

func (f *fakeLinkRepo) Upsert(_ context.Context, record *model.DocumentRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if _, exists := f.records[record.CID]; !exists {
		f.order = append([]string{record.CID}, f.order...)
	}
	f.records[record.CID] = *record
	return nil
}

func (f *fakeLinkRepo) GetByCID(_ context.Context, cid string) (*model.DocumentRecord, error) {
	record, ok := f.records[cid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &record, nil
}

func (f *fakeLinkRepo) All(_ context.Context) ([]model.DocumentRecord, error) {
	records := make([]model.DocumentRecord, 0, len(f.order))
	for _, cid := range f.order {
		records = append(records, f.records[cid])
	}
	return records, nil
}

func (f *fakeLinkRepo) Remove(_ context.Context, cid string) error {
	delete(f.records, cid)
	for i, c := range f.order {
		if c == cid {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeLinkRepo) Clear(_ context.Context) error {
	f.records = make(map[string]model.DocumentRecord)
	f.order = nil
	return nil
}

// fakeIssuer — заглушка LinkIssuer со счётчиком вызовов.
type fakeIssuer struct {
	calls int
	err   error
	ttl   int64
}

func (f *fakeIssuer) IssueLink(_ context.Context, _, cid string) (*model.DocumentRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = 864000
	}
	return &model.DocumentRecord{
		CID:         cid,
		DownloadURL: "https://gw.example.com/signed/" + cid,
		IssuedAt:    time.Unix(time.Now().Unix(), 0).UTC(),
		TTLSeconds:  ttl,
		DisplayName: "doc.pdf",
		ContentType: "application/pdf",
	}, nil
}

// fakeLister — заглушка CaseLister.
type fakeLister struct {
	calls     int
	documents []model.CaseDocument
	err       error
}

func (f *fakeLister) ListCaseDocuments(_ context.Context, _, _ string) ([]model.CaseDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.documents, nil
}

func newTestRetrieval(repo repository.LinkRepository, issuer LinkIssuer, lister CaseLister) *RetrievalService {
	return NewRetrievalService(repo, issuer, lister, NewCaseIndexService(16, time.Minute), testLogger())
}

func TestRetrieve(t *testing.T) {
	repo := newFakeLinkRepo()
	issuer := &fakeIssuer{}
	svc := newTestRetrieval(repo, issuer, &fakeLister{})

	link, err := svc.Retrieve(context.Background(), "bafy1", "token")
	if err != nil {
		t.Fatalf("Retrieve вернул ошибку: %v", err)
	}
	if link.CID != "bafy1" {
		t.Errorf("CID = %q, ожидался %q", link.CID, "bafy1")
	}
	if link.Expired {
		t.Error("свежая ссылка помечена как expired")
	}
	if want := link.IssuedAt.Add(864000 * time.Second); !link.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, ожидался %v", link.ExpiresAt, want)
	}

	if _, err := repo.GetByCID(context.Background(), "bafy1"); err != nil {
		t.Errorf("запись не зафиксирована в кэше: %v", err)
	}
}

func TestRetrieveDeduplicates(t *testing.T) {
	repo := newFakeLinkRepo()
	issuer := &fakeIssuer{}
	svc := newTestRetrieval(repo, issuer, &fakeLister{})
	ctx := context.Background()

	if _, err := svc.Retrieve(ctx, "bafy1", "token"); err != nil {
		t.Fatalf("Retrieve вернул ошибку: %v", err)
	}
	if _, err := svc.Retrieve(ctx, "bafy1", "token"); err != nil {
		t.Fatalf("повторный Retrieve вернул ошибку: %v", err)
	}

	if issuer.calls != 2 {
		t.Errorf("количество выдач = %d, ожидалось 2", issuer.calls)
	}
	links, err := svc.ListCached(ctx)
	if err != nil {
		t.Fatalf("ListCached вернул ошибку: %v", err)
	}
	if len(links) != 1 {
		t.Errorf("количество записей = %d, ожидалась 1 (дедупликация по CID)", len(links))
	}
}

func TestRetrieveValidation(t *testing.T) {
	issuer := &fakeIssuer{}
	svc := newTestRetrieval(newFakeLinkRepo(), issuer, &fakeLister{})
	ctx := context.Background()

	if _, err := svc.Retrieve(ctx, "", "token"); !errors.Is(err, ErrValidation) {
		t.Errorf("ошибка при пустом CID = %v, ожидался ErrValidation", err)
	}
	if _, err := svc.Retrieve(ctx, "bafy1", ""); !errors.Is(err, ErrNoCredential) {
		t.Errorf("ошибка при пустом credential = %v, ожидался ErrNoCredential", err)
	}
	// Отказ валидации не приводит к сетевым вызовам
	if issuer.calls != 0 {
		t.Errorf("количество выдач = %d, ожидалось 0", issuer.calls)
	}
}

func TestRetrieveIssueError(t *testing.T) {
	issueErr := errors.New("хранилище недоступно")
	svc := newTestRetrieval(newFakeLinkRepo(), &fakeIssuer{err: issueErr}, &fakeLister{})

	_, err := svc.Retrieve(context.Background(), "bafy1", "token")
	if !errors.Is(err, issueErr) {
		t.Errorf("ошибка = %v, ожидалась ошибка выдачи", err)
	}

	links, _ := svc.ListCached(context.Background())
	if len(links) != 0 {
		t.Errorf("кэш изменился при сбое выдачи: %d записей", len(links))
	}
}

func TestRetrievePersistenceError(t *testing.T) {
	repo := newFakeLinkRepo()
	repo.upsertErr = errors.New("disk full")
	svc := newTestRetrieval(repo, &fakeIssuer{}, &fakeLister{})

	_, err := svc.Retrieve(context.Background(), "bafy1", "token")
	var persistErr *PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("тип ошибки = %T, ожидался *PersistenceError", err)
	}
	if persistErr.Op != "upsert" {
		t.Errorf("Op = %q, ожидался %q", persistErr.Op, "upsert")
	}
}

func TestRetrieveCanceledContext(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := newTestRetrieval(repo, &fakeIssuer{}, &fakeLister{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Заглушка выдаёт ссылку мгновенно, но контекст уже отменён:
	// поздний результат отбрасывается без записи в кэш
	_, err := svc.Retrieve(ctx, "bafy1", "token")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ошибка = %v, ожидался context.Canceled", err)
	}
	if len(repo.records) != 0 {
		t.Error("поздний результат зафиксирован в кэше при отменённом контексте")
	}
}

func TestRegenerateReplacesRecord(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := newTestRetrieval(repo, &fakeIssuer{ttl: 1}, &fakeLister{})
	ctx := context.Background()

	first, err := svc.Retrieve(ctx, "bafy1", "token")
	if err != nil {
		t.Fatalf("Retrieve вернул ошибку: %v", err)
	}

	// Подменяем запись на заведомо истёкшую
	stale := first.DocumentRecord
	stale.IssuedAt = time.Now().Add(-time.Hour).UTC()
	if err := repo.Upsert(ctx, &stale); err != nil {
		t.Fatalf("Upsert вернул ошибку: %v", err)
	}

	regenerated, err := svc.Regenerate(ctx, "bafy1", "token")
	if err != nil {
		t.Fatalf("Regenerate вернул ошибку: %v", err)
	}

	stored, err := repo.GetByCID(ctx, "bafy1")
	if err != nil {
		t.Fatalf("GetByCID вернул ошибку: %v", err)
	}
	if !stored.IssuedAt.Equal(regenerated.IssuedAt) {
		t.Error("запись в кэше не заменена перевыпущенной")
	}
	if len(repo.records) != 1 {
		t.Errorf("количество записей = %d, ожидалась 1", len(repo.records))
	}
}

func TestListCachedMarksExpired(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := newTestRetrieval(repo, &fakeIssuer{}, &fakeLister{})
	ctx := context.Background()

	expired := model.DocumentRecord{
		CID:        "bafy-old",
		IssuedAt:   time.Now().Add(-2 * time.Hour).UTC(),
		TTLSeconds: 3600,
	}
	fresh := model.DocumentRecord{
		CID:        "bafy-new",
		IssuedAt:   time.Now().UTC(),
		TTLSeconds: 3600,
	}
	_ = repo.Upsert(ctx, &expired)
	_ = repo.Upsert(ctx, &fresh)

	links, err := svc.ListCached(ctx)
	if err != nil {
		t.Fatalf("ListCached вернул ошибку: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("количество записей = %d, ожидалось 2", len(links))
	}

	// Самая свежая первой, expired запись присутствует и помечена
	if links[0].CID != "bafy-new" || links[0].Expired {
		t.Errorf("links[0] = {%s, expired=%v}, ожидался {bafy-new, false}", links[0].CID, links[0].Expired)
	}
	if links[1].CID != "bafy-old" || !links[1].Expired {
		t.Errorf("links[1] = {%s, expired=%v}, ожидался {bafy-old, true}", links[1].CID, links[1].Expired)
	}
}

func TestRemoveAndClear(t *testing.T) {
	repo := newFakeLinkRepo()
	svc := newTestRetrieval(repo, &fakeIssuer{}, &fakeLister{})
	ctx := context.Background()

	if _, err := svc.Retrieve(ctx, "bafy1", "token"); err != nil {
		t.Fatalf("Retrieve вернул ошибку: %v", err)
	}
	if _, err := svc.Retrieve(ctx, "bafy2", "token"); err != nil {
		t.Fatalf("Retrieve вернул ошибку: %v", err)
	}

	if err := svc.Remove(ctx, "bafy1"); err != nil {
		t.Fatalf("Remove вернул ошибку: %v", err)
	}
	links, _ := svc.ListCached(ctx)
	if len(links) != 1 {
		t.Errorf("количество записей после Remove = %d, ожидалась 1", len(links))
	}

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear вернул ошибку: %v", err)
	}
	links, _ = svc.ListCached(ctx)
	if len(links) != 0 {
		t.Errorf("количество записей после Clear = %d, ожидалось 0", len(links))
	}
}

func TestListForCase(t *testing.T) {
	repo := newFakeLinkRepo()
	lister := &fakeLister{documents: []model.CaseDocument{
		{CID: "bafy1", Name: "protocol.pdf", Timestamp: time.Now().UTC()},
		{CID: "bafy2", Name: "expertise.docx", Timestamp: time.Now().UTC()},
	}}
	svc := newTestRetrieval(repo, &fakeIssuer{}, lister)
	ctx := context.Background()

	// Для bafy1 есть кэшированная ссылка
	_ = repo.Upsert(ctx, &model.DocumentRecord{
		CID:        "bafy1",
		IssuedAt:   time.Now().UTC(),
		TTLSeconds: 3600,
	})

	views, err := svc.ListForCase(ctx, "jwt", "case-7")
	if err != nil {
		t.Fatalf("ListForCase вернул ошибку: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("количество документов = %d, ожидалось 2", len(views))
	}
	if !views[0].Resolved || views[0].Record == nil {
		t.Error("документ с кэшированной ссылкой не помечен как resolved")
	}
	if views[1].Resolved || views[1].Record != nil {
		t.Error("документ без кэшированной ссылки помечен как resolved")
	}
}

func TestListForCaseUsesIndex(t *testing.T) {
	lister := &fakeLister{documents: []model.CaseDocument{{CID: "bafy1", Name: "a.pdf"}}}
	svc := newTestRetrieval(newFakeLinkRepo(), &fakeIssuer{}, lister)
	ctx := context.Background()

	if _, err := svc.ListForCase(ctx, "jwt", "case-7"); err != nil {
		t.Fatalf("ListForCase вернул ошибку: %v", err)
	}
	if _, err := svc.ListForCase(ctx, "jwt", "case-7"); err != nil {
		t.Fatalf("повторный ListForCase вернул ошибку: %v", err)
	}

	if lister.calls != 1 {
		t.Errorf("количество вызовов реестра = %d, ожидался 1 (кэш дел)", lister.calls)
	}
}

func TestListForCaseLedgerError(t *testing.T) {
	ledgerErr := &ledgerclient.LedgerError{StatusCode: 502, Reason: "unavailable"}
	svc := newTestRetrieval(newFakeLinkRepo(), &fakeIssuer{}, &fakeLister{err: ledgerErr})

	_, err := svc.ListForCase(context.Background(), "jwt", "case-7")
	var got *ledgerclient.LedgerError
	if !errors.As(err, &got) {
		t.Errorf("тип ошибки = %T, ожидался *ledgerclient.LedgerError", err)
	}
}
