package service

import (
	"context"
	"errors"
	"sync"

	"github.com/Monthlyaway/qr-link/internal/geo"
	"github.com/Monthlyaway/qr-link/internal/model"
)

var errStoreDown = errors.New("store down")

type fakeStore struct {
	mu    sync.Mutex
	codes map[string]*model.QRCode
	scans []*model.ScanEvent

	getErr       error
	insertErr    error
	incrementErr error
	panicInsert  bool
}

func newFakeStore(codes ...*model.QRCode) *fakeStore {
	s := &fakeStore{codes: make(map[string]*model.QRCode)}
	for _, qr := range codes {
		s.codes[qr.ID] = qr
	}
	return s
}

func (s *fakeStore) GetQRCode(_ context.Context, id string) (*model.QRCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	qr, ok := s.codes[id]
	if !ok {
		return nil, nil
	}
	cp := *qr
	return &cp, nil
}

func (s *fakeStore) CreateQRCode(_ context.Context, qr *model.QRCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *qr
	s.codes[qr.ID] = &cp
	return nil
}

func (s *fakeStore) CreateScanEvent(_ context.Context, scan *model.ScanEvent) error {
	if s.panicInsert {
		panic("insert exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.scans = append(s.scans, scan)
	return nil
}

func (s *fakeStore) IncrementUsageCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return s.incrementErr
	}
	qr, ok := s.codes[id]
	if !ok {
		return errors.New("missing")
	}
	qr.UsageCount++
	return nil
}

func (s *fakeStore) ScanStats(_ context.Context, id string) (*model.ScanStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &model.ScanStats{QRID: id, Devices: map[string]int64{}}
	for _, scan := range s.scans {
		if scan.QRID == id {
			stats.TotalScans++
			stats.Devices[scan.DeviceType]++
		}
	}
	return stats, nil
}

func (s *fakeStore) ListQRCodeIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.codes))
	for id := range s.codes {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, id)
}

func (s *fakeStore) usage(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[id].UsageCount
}

func (s *fakeStore) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scans)
}

type fakeLocator struct {
	loc   geo.Location
	calls int
	mu    sync.Mutex
}

func (l *fakeLocator) Locate(_ context.Context, _ string) geo.Location {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.loc
}

type report struct {
	op  string
	err error
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *fakeReporter) Report(_ context.Context, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{op: op, err: err})
}

func (r *fakeReporter) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, 0, len(r.reports))
	for _, rep := range r.reports {
		ops = append(ops, rep.op)
	}
	return ops
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]string)}
}

func (c *mapCache) GetDestination(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.data[id], nil
}

func (c *mapCache) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
}

func (c *mapCache) SetDestination(_ context.Context, id, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[id] = dest
	return nil
}

// setFilter is an exact Filter
type setFilter struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newSetFilter(ids ...string) *setFilter {
	f := &setFilter{ids: make(map[string]bool)}
	for _, id := range ids {
		f.ids[id] = true
	}
	return f
}

func (f *setFilter) Test(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

func (f *setFilter) Add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[id] = true
}

func (f *setFilter) Rebuild(load func() ([]string, error)) error {
	ids, err := load()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = make(map[string]bool, len(ids))
	for _, id := range ids {
		f.ids[id] = true
	}
	return nil
}

type seqIDs struct {
	ids []string
	n   int
}

func (s *seqIDs) NewQRID() string {
	id := s.ids[s.n%len(s.ids)]
	s.n++
	return id
}
