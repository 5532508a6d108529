package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"cycleport/internal/domain"
	"cycleport/internal/payment"
	"cycleport/internal/repository"

	"github.com/google/uuid"
)

// Mock repositories for testing
type mockUserRepository struct {
	users map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, exists := m.users[user.Email]; exists {
		return repository.ErrUserAlreadyExists
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	for email, existing := range m.users {
		if existing.ID != user.ID && email == user.Email {
			return repository.ErrUserAlreadyExists
		}
	}
	for email, existing := range m.users {
		if existing.ID == user.ID {
			delete(m.users, email)
			m.users[user.Email] = user
			return nil
		}
	}
	return repository.ErrUserNotFound
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, exists := m.users[email]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	users := []*domain.User{}
	for _, user := range m.users {
		users = append(users, user)
	}
	return users, nil
}

func (m *mockUserRepository) ToggleActive(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.IsActive = !user.IsActive
	return user, nil
}

type mockPasswordResetRepository struct {
	tokens map[string]*domain.PasswordResetToken
}

func newMockPasswordResetRepository() *mockPasswordResetRepository {
	return &mockPasswordResetRepository{
		tokens: make(map[string]*domain.PasswordResetToken),
	}
}

func (m *mockPasswordResetRepository) Create(ctx context.Context, token *domain.PasswordResetToken) error {
	m.tokens[token.Token] = token
	return nil
}

func (m *mockPasswordResetRepository) FindByToken(ctx context.Context, token string) (*domain.PasswordResetToken, error) {
	resetToken, exists := m.tokens[token]
	if !exists {
		return nil, repository.ErrResetTokenNotFound
	}
	if resetToken.Used {
		return nil, repository.ErrResetTokenUsed
	}
	return resetToken, nil
}

func (m *mockPasswordResetRepository) MarkUsed(ctx context.Context, token string) error {
	resetToken, exists := m.tokens[token]
	if !exists || resetToken.Used {
		return repository.ErrResetTokenUsed
	}
	resetToken.Used = true
	return nil
}

type mockProductRepository struct {
	mu       sync.Mutex
	products map[uuid.UUID]*domain.Product
	calls    map[string]int
	// beforeUpdate runs between the service's read and its write
	beforeUpdate func()
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products: make(map[uuid.UUID]*domain.Product),
		calls:    make(map[string]int),
	}
}

func (m *mockProductRepository) add(name string, price float64, stock int) *domain.Product {
	p := &domain.Product{
		ID:           uuid.New(),
		Name:         name,
		Slug:         name,
		Category:     domain.CategoryMountain,
		Price:        price,
		Brand:        "Trek",
		CountInStock: stock,
		Reviews:      []domain.Review{},
		CreatedAt:    time.Now(),
	}
	m.products[p.ID] = p
	return p
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	for _, p := range m.products {
		if p.Slug == product.Slug {
			return repository.ErrSlugTaken
		}
	}
	m.products[product.ID] = product
	return nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product, stock *int) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	stored, ok := m.products[product.ID]
	if !ok {
		return repository.ErrProductNotFound
	}
	for _, p := range m.products {
		if p.ID != product.ID && p.Slug == product.Slug {
			return repository.ErrSlugTaken
		}
	}
	count := stored.CountInStock
	if stock != nil {
		count = *stock
	}
	*stored = *product
	stored.CountInStock = count
	product.CountInStock = count
	return nil
}

func (m *mockProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *mockProductRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	out := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		p, err := m.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProductRepository) List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	out := []*domain.Product{}
	for _, p := range m.products {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepository) Categories(ctx context.Context) ([]domain.Category, error) {
	m.calls["categories"]++
	seen := map[domain.Category]bool{}
	out := []domain.Category{}
	for _, p := range m.products {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *mockProductRepository) PriceRange(ctx context.Context) (domain.PriceRange, error) {
	m.calls["price-range"]++
	var r domain.PriceRange
	first := true
	for _, p := range m.products {
		if first || p.Price < r.MinPrice {
			r.MinPrice = p.Price
		}
		if first || p.Price > r.MaxPrice {
			r.MaxPrice = p.Price
		}
		first = false
	}
	return r, nil
}

func (m *mockProductRepository) AddReview(ctx context.Context, review *domain.Review) error {
	p, ok := m.products[review.ProductID]
	if !ok {
		return repository.ErrProductNotFound
	}
	for _, r := range p.Reviews {
		if r.UserID == review.UserID {
			return repository.ErrAlreadyReviewed
		}
	}
	p.Reviews = append(p.Reviews, *review)
	p.ApplyAggregate(domain.RecomputeAggregate(p.Reviews))
	return nil
}

func (m *mockProductRepository) UpdateReview(ctx context.Context, update repository.ReviewUpdate) (*domain.Review, error) {
	p, ok := m.products[update.ProductID]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	for i := range p.Reviews {
		r := &p.Reviews[i]
		if r.ID != update.ReviewID {
			continue
		}
		if r.UserID != update.UserID {
			return nil, repository.ErrReviewForbidden
		}
		if update.Rating != nil {
			r.Rating = *update.Rating
		}
		if update.Comment != nil {
			r.Comment = *update.Comment
		}
		at := update.At
		r.UpdatedAt = &at
		p.ApplyAggregate(domain.RecomputeAggregate(p.Reviews))
		copied := *r
		return &copied, nil
	}
	return nil, repository.ErrReviewNotFound
}

func (m *mockProductRepository) DeleteReview(ctx context.Context, productID, reviewID, userID uuid.UUID) error {
	p, ok := m.products[productID]
	if !ok {
		return repository.ErrProductNotFound
	}
	for i, r := range p.Reviews {
		if r.ID != reviewID {
			continue
		}
		if r.UserID != userID {
			return repository.ErrReviewForbidden
		}
		p.Reviews = append(p.Reviews[:i], p.Reviews[i+1:]...)
		p.ApplyAggregate(domain.RecomputeAggregate(p.Reviews))
		return nil
	}
	return repository.ErrReviewNotFound
}

// mockOrderRepository keeps orders keyed by correlation id and applies stock
// changes to the shared product mock
type mockOrderRepository struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	products *mockProductRepository
	markErr  error
}

func newMockOrderRepository(products *mockProductRepository) *mockOrderRepository {
	return &mockOrderRepository{
		orders:   make(map[string]*domain.Order),
		products: products,
	}
}

func (m *mockOrderRepository) CreateWithStock(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products.mu.Lock()
	defer m.products.mu.Unlock()

	quantities := order.Quantities()
	for _, item := range order.Items {
		p, ok := m.products.products[item.ProductID]
		if !ok {
			return repository.ErrProductNotFound
		}
		if quantities[item.ProductID] > p.CountInStock {
			return &domain.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: quantities[item.ProductID],
				Available: p.CountInStock,
			}
		}
	}
	if _, exists := m.orders[order.CustomOrderID]; exists {
		return repository.ErrOrderExists
	}

	for id, q := range quantities {
		p := m.products.products[id]
		p.CountInStock -= q
		if p.CountInStock < 0 {
			p.CountInStock = 0
		}
	}

	copied := *order
	m.orders[order.CustomOrderID] = &copied
	return nil
}

func (m *mockOrderRepository) ConfirmReservation(ctx context.Context, order *domain.Order, requested domain.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[order.CustomOrderID]
	if !ok || !stored.IsReservation() {
		return repository.ErrReservationInactive
	}

	stored.PaymentMethod = order.PaymentMethod
	if order.ShippingInfo != nil {
		stored.ShippingInfo = order.ShippingInfo
	}
	if order.BillingDetails != nil {
		stored.BillingDetails = order.BillingDetails
	}
	if !stored.IsPaid {
		stored.ApplyStatus(requested, at)
	}
	stored.ReservedUntil = nil

	*order = *stored
	return nil
}

func (m *mockOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			copied := *o
			return &copied, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *mockOrderRepository) FindByCorrelationID(ctx context.Context, correlationID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[correlationID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *mockOrderRepository) MarkPaid(ctx context.Context, correlationID string, at time.Time) (bool, error) {
	if m.markErr != nil {
		return false, m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[correlationID]
	if !ok {
		return false, repository.ErrOrderNotFound
	}
	if o.IsPaid {
		return false, nil
	}
	o.ApplyStatus(domain.OrderStatusPaid, at)
	return true, nil
}

func (m *mockOrderRepository) SetPaymentIntent(ctx context.Context, correlationID, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[correlationID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.PaymentIntentID = intentID
	return nil
}

func (m *mockOrderRepository) SaveStatus(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[order.CustomOrderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCancelled {
		if o.Status == domain.OrderStatusPending && o.ReservedUntil != nil {
			m.restore(o)
		}
		o.ReservedUntil = nil
	}
	o.Status, o.IsPaid, o.PaidAt = order.Status, order.IsPaid, order.PaidAt
	order.ReservedUntil = o.ReservedUntil
	return nil
}

func (m *mockOrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderRepository) ListAll(ctx context.Context) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

func (m *mockOrderRepository) ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for _, o := range m.orders {
		if released == limit {
			break
		}
		if o.Status != domain.OrderStatusPending || o.ReservedUntil == nil || !o.ReservedUntil.Before(now) {
			continue
		}
		m.restore(o)
		o.Status = domain.OrderStatusCancelled
		o.ReservedUntil = nil
		released++
	}
	return released, nil
}

// restore gives an order's item quantities back to the product mock
func (m *mockOrderRepository) restore(o *domain.Order) {
	m.products.mu.Lock()
	defer m.products.mu.Unlock()
	for id, q := range o.Quantities() {
		if p, ok := m.products.products[id]; ok {
			p.CountInStock += q
		}
	}
}

type mockGateway struct {
	requests []payment.IntentRequest
	err      error
	event    *payment.Event
}

func (g *mockGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	return &payment.Intent{ID: "pi_" + req.OrderID, ClientSecret: "secret_" + req.OrderID}, nil
}

func (g *mockGateway) ParseWebhookEvent(payload []byte, signature string) (*payment.Event, error) {
	if signature != "valid" || g.event == nil {
		return nil, payment.ErrInvalidSignature
	}
	return g.event, nil
}
