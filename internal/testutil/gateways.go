package testutil

import (
	"context"
	"fmt"
	"sync"

	"creditengine/internal/payment"
)

// FakeCheckout 内存版收银台网关
type FakeCheckout struct {
	mu        sync.Mutex
	seq       int
	Sessions  map[string]*payment.Session
	CreateErr error
	GetErr    error
}

func NewFakeCheckout() *FakeCheckout {
	return &FakeCheckout{Sessions: make(map[string]*payment.Session)}
}

func (f *FakeCheckout) CreateSession(ctx context.Context, req *payment.SessionRequest) (*payment.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	s := &payment.Session{
		ID:            fmt.Sprintf("cs_%d", f.seq),
		URL:           fmt.Sprintf("https://checkout.test/pay/cs_%d", f.seq),
		Status:        "open",
		PaymentStatus: "unpaid",
		Reference:     req.Reference,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}
	f.Sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *FakeCheckout) GetSession(ctx context.Context, id string) (*payment.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	s, ok := f.Sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *FakeCheckout) MarkPaid(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Sessions[id]; ok {
		s.Status = "complete"
		s.PaymentStatus = payment.SessionPaid
	}
}

func (f *FakeCheckout) Expire(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Sessions[id]; ok {
		s.Status = payment.SessionStatusExpired
	}
}

// FakeIntent 内存版卡支付网关
type FakeIntent struct {
	mu        sync.Mutex
	seq       int
	Intents   map[string]*payment.Intent
	CreateErr error
	GetErr    error
}

func NewFakeIntent() *FakeIntent {
	return &FakeIntent{Intents: make(map[string]*payment.Intent)}
}

func (f *FakeIntent) CreateIntent(ctx context.Context, req *payment.IntentRequest) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	in := &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", f.seq),
		ClientSecret: fmt.Sprintf("pi_%d_secret", f.seq),
		Status:       "requires_confirmation",
		Reference:    req.Reference,
		Amount:       req.Amount,
		Currency:     req.Currency,
	}
	f.Intents[in.ID] = in
	cp := *in
	return &cp, nil
}

func (f *FakeIntent) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	in, ok := f.Intents[id]
	if !ok {
		return nil, fmt.Errorf("intent %s not found", id)
	}
	cp := *in
	return &cp, nil
}

func (f *FakeIntent) SetStatus(id, status, lastError string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.Intents[id]; ok {
		in.Status = status
		in.LastError = lastError
	}
}

// FakeWallet 内存版钱包网关
type FakeWallet struct {
	mu         sync.Mutex
	seq        int
	Orders     map[string]*payment.WalletOrder
	CaptureErr error
	Captures   int
}

func NewFakeWallet() *FakeWallet {
	return &FakeWallet{Orders: make(map[string]*payment.WalletOrder)}
}

func (f *FakeWallet) CreateOrder(ctx context.Context, req *payment.WalletOrderRequest) (*payment.WalletOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	o := &payment.WalletOrder{
		ID:         fmt.Sprintf("wo_%d", f.seq),
		ApproveURL: fmt.Sprintf("https://wallet.test/approve/wo_%d", f.seq),
		Status:     payment.WalletCreated,
		Reference:  req.Reference,
		Amount:     req.Amount,
		Currency:   req.Currency,
	}
	f.Orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (f *FakeWallet) GetOrder(ctx context.Context, id string) (*payment.WalletOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.Orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (f *FakeWallet) CaptureOrder(ctx context.Context, id string) (*payment.WalletOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	o, ok := f.Orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	f.Captures++
	o.Status = payment.WalletCompleted
	cp := *o
	return &cp, nil
}

func (f *FakeWallet) Approve(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.Orders[id]; ok {
		o.Status = payment.WalletApproved
	}
}

// Registry 四个渠道全部接内存网关
func NewFakeRegistry(checkout *FakeCheckout, intent *FakeIntent, wallet *FakeWallet) *payment.Registry {
	return payment.NewRegistry(
		payment.NewCheckoutChannel(checkout, "https://app.test/return", "https://app.test/cancel"),
		payment.NewIntentChannel(intent),
		payment.NewWalletChannel(wallet, "https://app.test/wallet/return", "https://app.test/wallet/cancel"),
		payment.NewBankTransferChannel(BankTransferConfig()),
	)
}
