package payment

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dercio258/ratixpay/internal/common/events"
	"github.com/dercio258/ratixpay/internal/common/money"
	"github.com/dercio258/ratixpay/internal/gateway/pagamoz"
	"github.com/dercio258/ratixpay/internal/notify"
	"github.com/dercio258/ratixpay/internal/product"
	"github.com/dercio258/ratixpay/internal/sale"
)

type fakeGateway struct {
	initiateResp *pagamoz.InitiateResponse
	initiateErr  error
	status       sale.PaymentStatus
	statusErr    error
	initiated    atomic.Int64
}

func (f *fakeGateway) Name() string { return "pagamoz" }

func (f *fakeGateway) Initiate(context.Context, pagamoz.InitiateRequest) (*pagamoz.InitiateResponse, error) {
	f.initiated.Add(1)
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return f.initiateResp, nil
}

func (f *fakeGateway) FetchStatus(context.Context, string) (sale.PaymentStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	content []string
	admin   []string
}

func (r *recordingNotifier) SendContentLink(_ context.Context, s *sale.Sale, _ *product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = append(r.content, s.TransactionID)
	return nil
}

func (r *recordingNotifier) SendAdminAlert(_ context.Context, s *sale.Sale, _ *product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admin = append(r.admin, s.TransactionID)
	return nil
}

type recordingRecorder struct {
	mu        sync.Mutex
	purchases int
}

func (r *recordingRecorder) RecordPurchase(context.Context, string, string, string, money.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases++
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []*events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, ev *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) last(subject string) *events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.subjects) - 1; i >= 0; i-- {
		if r.subjects[i] == subject {
			return r.events[i]
		}
	}
	return nil
}

func (r *recordingPublisher) count(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fixture struct {
	svc       *Service
	sales     *sale.MemoryStore
	products  *product.MemoryStore
	gateway   *fakeGateway
	notifier  *recordingNotifier
	customers *recordingRecorder
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sales: sale.NewMemoryStore(),
		products: product.NewMemoryStore(&product.Product{
			ID:          "prod-1",
			Name:        "Curso de Marketing",
			Price:       money.FromMZN(300),
			ContentLink: "https://cdn.example/curso",
			Active:      true,
		}),
		gateway: &fakeGateway{
			initiateResp: &pagamoz.InitiateResponse{
				TransactionID: "TX123",
				CheckoutURL:   "https://opay.example/checkout/TX123",
			},
		},
		notifier:  &recordingNotifier{},
		customers: &recordingRecorder{},
		publisher: &recordingPublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(Config{CallbackURL: "https://ratixpay.example/api/v1/payments/callback"},
		f.sales, f.products, f.gateway, f.notifier, f.customers, f.publisher, logger)
	return f
}

func checkoutReq() *CheckoutRequest {
	return &CheckoutRequest{
		ProductID:  "prod-1",
		Value:      300,
		Method:     "Mpesa",
		BuyerName:  "Maria Jose",
		BuyerEmail: "maria@example.co.mz",
		BuyerPhone: "845551234",
	}
}

func TestCheckoutCreatesPendingSale(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	assert.Equal(t, "TX123", res.Sale.TransactionID)
	assert.Equal(t, "https://opay.example/checkout/TX123", res.CheckoutURL)
	assert.Equal(t, sale.PaymentPending, res.Sale.PaymentStatus)
	assert.Equal(t, sale.OrderAwaitingPayment, res.Sale.Status)
	assert.Equal(t, money.FromMZN(300), res.Sale.FinalAmount)
	assert.Equal(t, "300,00 MZN", res.Amount)

	stored, err := f.sales.GetByTransactionID(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, res.Sale.ID, stored.ID)
	assert.Equal(t, 1, f.publisher.count(events.SubjectSaleCreated))
}

func TestCheckoutAppliesBestDiscount(t *testing.T) {
	f := newFixture(t)
	f.products = product.NewMemoryStore(&product.Product{
		ID:              "prod-2",
		Name:            "eBook",
		Price:           money.FromMZN(1000),
		DiscountPercent: 15,
		Active:          true,
	})
	f.svc = NewService(Config{}, f.sales, f.products, f.gateway, f.notifier, f.customers, f.publisher,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := checkoutReq()
	req.ProductID = "prod-2"
	req.Value = 700
	req.Coupon = "blackfriday"

	res, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	// Coupon beats the product's own discount; the larger one wins, they
	// never stack.
	assert.Equal(t, money.FromMZN(1000), res.Sale.OriginalAmount)
	assert.Equal(t, float64(30), res.Sale.DiscountPercent)
	assert.Equal(t, "BLACKFRIDAY", res.Sale.CouponCode)
	assert.Equal(t, money.FromMZN(700), res.Sale.FinalAmount)
}

func TestCheckoutUnknownCouponFallsBack(t *testing.T) {
	f := newFixture(t)

	req := checkoutReq()
	req.Coupon = "NOPE"

	res, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Sale.CouponCode)
	assert.Equal(t, money.FromMZN(300), res.Sale.FinalAmount)
}

func TestCheckoutRejectsOutOfRangeAmount(t *testing.T) {
	f := newFixture(t)

	req := checkoutReq()
	req.Value = 60_000

	_, err := f.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, sale.ErrInvalidAmount)
	assert.Equal(t, int64(0), f.gateway.initiated.Load())

	n, err := f.sales.Count(context.Background(), sale.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckoutRejectsBadPhone(t *testing.T) {
	f := newFixture(t)

	req := checkoutReq()
	req.BuyerPhone = "915551234"

	_, err := f.svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, sale.ErrInvalidPhone)
	assert.Equal(t, int64(0), f.gateway.initiated.Load())
}

func TestCheckoutInactiveProduct(t *testing.T) {
	f := newFixture(t)
	f.products = product.NewMemoryStore(&product.Product{ID: "prod-1", Price: money.FromMZN(300)})
	f.svc = NewService(Config{}, f.sales, f.products, f.gateway, f.notifier, f.customers, f.publisher,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	assert.ErrorIs(t, err, ErrProductInactive)
}

func TestCheckoutGatewayFailureLeavesSalePending(t *testing.T) {
	f := newFixture(t)
	f.gateway.initiateErr = &pagamoz.GatewayError{Op: "initiate", StatusCode: 502, Err: errors.New("bad gateway")}

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.Error(t, err)

	var gerr *pagamoz.GatewayError
	assert.ErrorAs(t, err, &gerr)

	// The attempt is recorded but never settled, and no approval side
	// effects ran.
	sales, err := f.sales.List(context.Background(), sale.Filter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, sale.PaymentPending, sales[0].PaymentStatus)
	assert.Empty(t, f.notifier.content)
	assert.Equal(t, int64(0), f.products.SaleCount("prod-1"))
}

func TestCallbackApprovalRunsSideEffectsOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	err = f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: pagamoz.MapStatus("completed")})
	require.NoError(t, err)

	sl, err := f.sales.GetByTransactionID(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentApproved, sl.PaymentStatus)
	assert.Equal(t, sale.OrderPaid, sl.Status)
	require.NotNil(t, sl.ProcessedAt)

	assert.Equal(t, int64(1), f.products.SaleCount("prod-1"))
	assert.Equal(t, []string{"TX123"}, f.notifier.content)
	assert.Equal(t, []string{"TX123"}, f.notifier.admin)
	assert.Equal(t, 1, f.customers.purchases)
	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentApproved))
}

func TestCallbackReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentApproved}))
	}

	assert.Equal(t, int64(1), f.products.SaleCount("prod-1"))
	assert.Equal(t, []string{"TX123"}, f.notifier.content)
	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentApproved))
}

func TestCallbackCannotFlipTerminalState(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentApproved}))
	require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentRejected}))

	sl, err := f.sales.GetByTransactionID(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentApproved, sl.PaymentStatus)
	assert.Equal(t, sale.OrderPaid, sl.Status)
	assert.Equal(t, 0, f.publisher.count(events.SubjectPaymentRejected))
}

func TestCallbackUnknownTransactionDropped(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TXUNKNOWN", Status: sale.PaymentApproved})
	assert.NoError(t, err)
	assert.Empty(t, f.notifier.content)
}

func TestCallbackRejection(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: pagamoz.MapStatus("failed")}))

	sl, err := f.sales.GetByTransactionID(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentRejected, sl.PaymentStatus)
	assert.Equal(t, sale.OrderCancelled, sl.Status)

	// Rejections never deliver content or bump counters.
	assert.Empty(t, f.notifier.content)
	assert.Equal(t, int64(0), f.products.SaleCount("prod-1"))
	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentRejected))
}

func TestCallbackFieldMismatchIsLoggedNotBlocking(t *testing.T) {
	f := newFixture(t)
	var logBuf bytes.Buffer
	f.svc = NewService(Config{}, f.sales, f.products, f.gateway, f.notifier, f.customers, f.publisher,
		slog.New(slog.NewTextHandler(&logBuf, nil)))

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	// A garbled echo never blocks settlement; the stored sale is the truth
	// and the discrepancy only has to surface in the logs.
	err = f.svc.HandleCallback(context.Background(), Callback{
		TransactionID: "TX123",
		Status:        sale.PaymentApproved,
		Value:         250,
		Method:        "emola",
		Phone:         "867779999",
	})
	require.NoError(t, err)

	sl, err := f.sales.GetByTransactionID(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentApproved, sl.PaymentStatus)
	assert.Equal(t, []string{"TX123"}, f.notifier.content)

	logged := logBuf.String()
	assert.Contains(t, logged, "callback value does not match stored sale")
	assert.Contains(t, logged, "callback method does not match stored sale")
	assert.Contains(t, logged, "callback phone does not match stored sale")
}

func TestCallbackEchoInGatewayDialectMatches(t *testing.T) {
	f := newFixture(t)
	var logBuf bytes.Buffer
	f.svc = NewService(Config{}, f.sales, f.products, f.gateway, f.notifier, f.customers, f.publisher,
		slog.New(slog.NewTextHandler(&logBuf, nil)))

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	// The gateway echoes its own lowercase method and a 258-prefixed phone;
	// neither counts as a mismatch.
	err = f.svc.HandleCallback(context.Background(), Callback{
		TransactionID: "TX123",
		Status:        sale.PaymentApproved,
		Value:         300,
		Method:        "mpesa",
		Phone:         "258845551234",
	})
	require.NoError(t, err)

	assert.NotContains(t, logBuf.String(), "does not match stored sale")
}

func TestApprovedEventCarriesSale(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentApproved}))

	ev := f.publisher.last(events.SubjectPaymentApproved)
	require.NotNil(t, ev)
	assert.Equal(t, events.TypePaymentApproved, ev.Type)

	var payload sale.Sale
	require.NoError(t, ev.DecodeData(&payload))
	assert.Equal(t, "TX123", payload.TransactionID)
	assert.Equal(t, money.FromMZN(300), payload.FinalAmount)
	assert.Equal(t, sale.PaymentApproved, payload.PaymentStatus)
}

func TestResolveStatusAppliesApproval(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = sale.PaymentApproved

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	sl, err := f.svc.ResolveStatus(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentApproved, sl.PaymentStatus)
	assert.Equal(t, int64(1), f.products.SaleCount("prod-1"))
}

func TestResolveStatusGatewayDownReportsLastKnown(t *testing.T) {
	f := newFixture(t)
	f.gateway.statusErr = &pagamoz.GatewayError{Op: "fetch status", StatusCode: 502, Err: errors.New("bad gateway")}

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	sl, err := f.svc.ResolveStatus(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentPending, sl.PaymentStatus)
}

func TestResolveStatusTerminalSkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = sale.PaymentRejected

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentApproved}))

	// A contradictory gateway answer after settlement changes nothing.
	sl, err := f.svc.ResolveStatus(context.Background(), "TX123")
	require.NoError(t, err)
	assert.Equal(t, sale.PaymentApproved, sl.PaymentStatus)
}

func TestResolveStatusUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResolveStatus(context.Background(), "TXUNKNOWN")
	assert.ErrorIs(t, err, sale.ErrNotFound)
}

func TestConcurrentCallbackAndPollSettleOnce(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = sale.PaymentApproved

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentApproved})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.ResolveStatus(context.Background(), "TX123")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.products.SaleCount("prod-1"))
	assert.Equal(t, []string{"TX123"}, f.notifier.content)
	assert.Equal(t, 1, f.customers.purchases)
	assert.Equal(t, 1, f.publisher.count(events.SubjectPaymentApproved))
}

func TestResendContentEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), checkoutReq())
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ResendContentEmail(context.Background(), "TX123"), ErrNotApproved)

	require.NoError(t, f.svc.HandleCallback(context.Background(), Callback{TransactionID: "TX123", Status: sale.PaymentApproved}))
	require.NoError(t, f.svc.ResendContentEmail(context.Background(), "TX123"))
	assert.Equal(t, []string{"TX123", "TX123"}, f.notifier.content)

	assert.ErrorIs(t, f.svc.ResendContentEmail(context.Background(), "TXMISSING"), sale.ErrNotFound)
}

var _ notify.Notifier = (*recordingNotifier)(nil)
