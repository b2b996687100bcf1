package sale

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same conditional-update
// semantics as the PostgreSQL store. It backs tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*Sale
	byTx  map[string]string // transaction id -> sale id
	order []string
}

// NewMemoryStore creates an empty in-memory sale store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Sale),
		byTx: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, sl *Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTx[sl.TransactionID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, sl.TransactionID)
	}
	cp := *sl
	m.byID[cp.ID] = &cp
	m.byTx[cp.TransactionID] = cp.ID
	m.order = append(m.order, cp.ID)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sl
	return &cp, nil
}

func (m *MemoryStore) GetByTransactionID(_ context.Context, txID string) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byTx[txID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) ReplaceTransactionID(_ context.Context, saleID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.byID[saleID]
	if !ok {
		return ErrNotFound
	}
	if other, exists := m.byTx[txID]; exists && other != saleID {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, txID)
	}
	delete(m.byTx, sl.TransactionID)
	sl.TransactionID = txID
	sl.UpdatedAt = time.Now().UTC()
	m.byTx[txID] = saleID
	return nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, txID string, status PaymentStatus) (bool, error) {
	if status == PaymentPending {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byTx[txID]
	if !ok {
		return false, nil
	}
	sl := m.byID[id]
	if sl.PaymentStatus != PaymentPending {
		return false, nil
	}

	now := time.Now().UTC()
	sl.PaymentStatus = status
	if next := OrderStatusFor(status); next != "" {
		sl.Status = next
	}
	sl.ProcessedAt = &now
	sl.UpdatedAt = now
	return true, nil
}

func (f Filter) matches(sl *Sale) bool {
	if f.Status != "" && sl.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && sl.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.Method != "" && sl.Method != f.Method {
		return false
	}
	if f.ProductID != "" && sl.ProductID != f.ProductID {
		return false
	}
	if f.BuyerEmail != "" && !strings.EqualFold(sl.Buyer.Email, f.BuyerEmail) {
		return false
	}
	if f.From != nil && sl.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && sl.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Sale
	for _, id := range m.order {
		sl := m.byID[id]
		if f.matches(sl) {
			cp := *sl
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, sl := range m.byID {
		if f.matches(sl) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &Stats{}
	buyers := make(map[string]bool)
	for _, sl := range m.byID {
		st.TotalSales++
		switch sl.PaymentStatus {
		case PaymentApproved:
			st.Approved++
			st.Revenue += sl.FinalAmount
		case PaymentPending:
			st.Pending++
		case PaymentRejected:
			st.Rejected++
		}
		if sl.Buyer.Email != "" {
			buyers[strings.ToLower(sl.Buyer.Email)] = true
		}
	}
	st.DistinctBuyers = int64(len(buyers))
	return st, nil
}

func (m *MemoryStore) RevenueByDay(_ context.Context, days int) ([]DayRevenue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	byDay := make(map[string]*DayRevenue)
	for _, sl := range m.byID {
		if sl.CreatedAt.Before(cutoff) {
			continue
		}
		day := sl.CreatedAt.Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DayRevenue{Day: day}
			byDay[day] = d
		}
		d.Count++
		if sl.PaymentStatus == PaymentApproved {
			d.Revenue += sl.FinalAmount
		}
	}

	out := make([]DayRevenue, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MemoryStore) MethodBreakdown(_ context.Context) ([]MethodStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byMethod := make(map[PaymentMethod]*MethodStats)
	for _, sl := range m.byID {
		if sl.PaymentStatus != PaymentApproved {
			continue
		}
		ms, ok := byMethod[sl.Method]
		if !ok {
			ms = &MethodStats{Method: sl.Method}
			byMethod[sl.Method] = ms
		}
		ms.Count++
		ms.Total += sl.FinalAmount
	}

	out := make([]MethodStats, 0, len(byMethod))
	for _, ms := range byMethod {
		out = append(out, *ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (m *MemoryStore) ProductsSold(_ context.Context) ([]ProductSales, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byProduct := make(map[string]*ProductSales)
	for _, sl := range m.byID {
		if sl.PaymentStatus != PaymentApproved {
			continue
		}
		ps, ok := byProduct[sl.ProductID]
		if !ok {
			ps = &ProductSales{ProductID: sl.ProductID}
			byProduct[sl.ProductID] = ps
		}
		ps.Count++
		ps.Revenue += sl.FinalAmount
	}

	out := make([]ProductSales, 0, len(byProduct))
	for _, ps := range byProduct {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
