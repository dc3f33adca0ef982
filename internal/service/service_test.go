package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/avolkhov/studiomarket/internal/cache"
	"github.com/avolkhov/studiomarket/internal/model"
	"github.com/avolkhov/studiomarket/internal/repository"
)

// memRepo — репозиторий в памяти с той же арифметикой резервирования,
// что и у PostgresRepository: нулевая сумма, проверка остатка, исчерпание строк.
type memRepo struct {
	minCut   int64
	nextID   int64
	products map[int64]*model.Product
	carts    map[int64]map[int64]int64 // userID -> productID -> qty
	orders   []model.OrderItem
	users    map[int64]model.User
}

func newMemRepo(minCut int64, products ...model.Product) *memRepo {
	r := &memRepo{
		minCut:   minCut,
		products: make(map[int64]*model.Product),
		carts:    make(map[int64]map[int64]int64),
		users:    make(map[int64]model.User),
	}
	for i := range products {
		p := products[i]
		r.products[p.ID] = &p
	}
	return r
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) UpsertUser(_ context.Context, u model.User) error {
	r.users[u.UserID] = u
	return nil
}

func (r *memRepo) GetUsers(_ context.Context) ([]model.User, error) {
	var out []model.User
	for _, u := range r.users {
		out = append(out, u)
	}
	return out, nil
}

func (r *memRepo) GetCategories(_ context.Context) ([]model.Category, error) {
	return nil, nil
}

func (r *memRepo) GetProducts(_ context.Context, categoryID int64) ([]model.Product, error) {
	var out []model.Product
	for _, p := range r.products {
		if p.CategoryID == categoryID && p.Quantity > 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) GetProduct(_ context.Context, productID int64) (*model.Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) userCart(userID int64) map[int64]int64 {
	c, ok := r.carts[userID]
	if !ok {
		c = make(map[int64]int64)
		r.carts[userID] = c
	}
	return c
}

func (r *memRepo) AddToCart(_ context.Context, userID, productID, qty int64) (*model.CartLine, error) {
	p, ok := r.products[productID]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	if p.Quantity < qty {
		return nil, repository.ErrInsufficientStock
	}

	c := r.userCart(userID)
	c[productID] += qty
	p.Quantity -= qty

	cp := *p
	r.nextID++
	return &model.CartLine{ID: r.nextID, UserID: userID, ProductID: productID, Quantity: c[productID], Product: &cp}, nil
}

func (r *memRepo) SetCartQuantity(_ context.Context, userID, productID, qty int64) (*model.CartLine, error) {
	c := r.userCart(userID)
	oldQty, ok := c[productID]
	if !ok {
		return nil, repository.ErrCartLineNotFound
	}
	p := r.products[productID]

	diff := qty - oldQty
	if diff > 0 && p.Quantity < diff {
		return nil, repository.ErrInsufficientStock
	}

	c[productID] = qty
	p.Quantity -= diff

	cp := *p
	return &model.CartLine{UserID: userID, ProductID: productID, Quantity: qty, Product: &cp}, nil
}

func (r *memRepo) ReduceCartLine(_ context.Context, userID, productID, step int64) (bool, error) {
	c := r.userCart(userID)
	oldQty, ok := c[productID]
	if !ok {
		return false, repository.ErrCartLineNotFound
	}
	p := r.products[productID]

	newQty := oldQty - step
	if model.Exhausted(p.Unit, newQty, r.minCut) {
		delete(c, productID)
		p.Quantity += oldQty
		return false, nil
	}

	c[productID] = newQty
	p.Quantity += step
	return true, nil
}

func (r *memRepo) DeleteCartLine(_ context.Context, userID, productID int64) error {
	c := r.userCart(userID)
	qty, ok := c[productID]
	if !ok {
		return nil
	}
	delete(c, productID)
	r.products[productID].Quantity += qty
	return nil
}

func (r *memRepo) GetUserCartLines(_ context.Context, userID int64) ([]model.CartLine, error) {
	c := r.userCart(userID)

	ids := make([]int64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var lines []model.CartLine
	for _, id := range ids {
		cp := *r.products[id]
		lines = append(lines, model.CartLine{UserID: userID, ProductID: id, Quantity: c[id], Product: &cp})
	}
	return lines, nil
}

func (r *memRepo) ClearUserCart(_ context.Context, userID int64) error {
	for productID, qty := range r.userCart(userID) {
		r.products[productID].Quantity += qty
	}
	delete(r.carts, userID)
	return nil
}

func (r *memRepo) ClearAllCarts(_ context.Context) ([]int64, error) {
	var affected []int64
	for userID, c := range r.carts {
		if len(c) == 0 {
			continue
		}
		affected = append(affected, userID)
		for productID, qty := range c {
			r.products[productID].Quantity += qty
		}
	}
	r.carts = make(map[int64]map[int64]int64)
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected, nil
}

func (r *memRepo) CreateOrdersFromCart(_ context.Context, userID int64) (int64, error) {
	lines, _ := r.GetUserCartLines(context.Background(), userID)
	if len(lines) == 0 {
		return 0, repository.ErrEmptyCart
	}

	totalKop := model.TotalCostKop(lines)

	created := time.Now().UTC()
	for i := range lines {
		l := &lines[i]
		r.orders = append(r.orders, model.OrderItem{
			UserID:   userID,
			Product:  model.ProductToken(l.Product.ID, l.Product.Name),
			Quantity: model.QuantityToken(l.Quantity, l.Product.Unit),
			CostKop:  totalKop,
			Created:  created,
		})
	}
	delete(r.carts, userID)
	return totalKop, nil
}

func (r *memRepo) GetUserOrders(_ context.Context, userID int64) ([]model.OrderGroup, error) {
	var items []model.OrderGroupItem
	for _, o := range r.orders {
		if o.UserID == userID {
			items = append(items, model.OrderGroupItem{Product: o.Product, Quantity: o.Quantity})
		}
	}
	if items == nil {
		return nil, nil
	}
	return []model.OrderGroup{{Items: items}}, nil
}

func (r *memRepo) DeleteUserOrders(_ context.Context, userID, costKop int64) error {
	kept := r.orders[:0]
	for _, o := range r.orders {
		if o.UserID == userID && o.CostKop == costKop {
			continue
		}
		kept = append(kept, o)
	}
	r.orders = kept
	return nil
}

// totalStock возвращает сумму остатков и резервов по товару: инвариант
// нулевой суммы требует её неизменности при любых операциях с корзиной.
func (r *memRepo) totalStock(productID int64) int64 {
	total := r.products[productID].Quantity
	for _, c := range r.carts {
		total += c[productID]
	}
	return total
}

// memCache — кэш в памяти без TTL.
type memCache struct {
	states map[int64]model.SessionState
	orders map[int64][]model.OrderGroup

	orderReads int
	ordersErr  error
}

func newMemCache() *memCache {
	return &memCache{
		states: make(map[int64]model.SessionState),
		orders: make(map[int64][]model.OrderGroup),
	}
}

func (c *memCache) SaveState(_ context.Context, userID int64, state model.SessionState) error {
	c.states[userID] = state
	return nil
}

func (c *memCache) GetState(_ context.Context, userID int64) (*model.SessionState, error) {
	s, ok := c.states[userID]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return &s, nil
}

func (c *memCache) DeleteState(_ context.Context, userID int64) error {
	delete(c.states, userID)
	return nil
}

func (c *memCache) GetOrderGroups(_ context.Context, userID int64) ([]model.OrderGroup, error) {
	if c.ordersErr != nil {
		return nil, c.ordersErr
	}
	groups, ok := c.orders[userID]
	if !ok {
		return nil, cache.ErrNotFound
	}
	c.orderReads++
	return groups, nil
}

func (c *memCache) SetOrderGroups(_ context.Context, userID int64, groups []model.OrderGroup) error {
	c.orders[userID] = groups
	return nil
}

func fabricProduct() model.Product {
	return model.Product{
		ID:         7,
		Name:       "Лён васильковый",
		PriceKop:   120000, // 1200.00₽ за метр
		Quantity:   300,    // 3.00 м
		Unit:       model.UnitMeter,
		CategoryID: 2,
	}
}

func pieceProduct() model.Product {
	return model.Product{
		ID:         3,
		Name:       "Молния 50 см",
		PriceKop:   15000,
		Discount:   "10%",
		Quantity:   500, // 5 шт
		Unit:       model.UnitPiece,
		CategoryID: 4,
	}
}

func TestReserve_InsufficientStock(t *testing.T) {
	repo := newMemRepo(10, fabricProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 7, 350); !errors.Is(err, repository.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	// Неудачное резервирование не меняет состояние.
	if got := repo.totalStock(7); got != 300 {
		t.Fatalf("total stock = %d, want 300", got)
	}
	if repo.products[7].Quantity != 300 {
		t.Fatalf("available = %d, want 300", repo.products[7].Quantity)
	}
}

func TestReserve_ZeroSum(t *testing.T) {
	repo := newMemRepo(10, fabricProduct(), pieceProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 7, 65); err != nil {
		t.Fatalf("Reserve fabric: %v", err)
	}
	if _, err := svc.Reserve(ctx, 100, 3, 200); err != nil {
		t.Fatalf("Reserve pieces: %v", err)
	}
	if _, err := svc.SetQuantity(ctx, 100, 7, 120); err != nil {
		t.Fatalf("SetQuantity: %v", err)
	}
	if _, err := svc.DecrementLine(ctx, 100, 3, 100); err != nil {
		t.Fatalf("DecrementLine: %v", err)
	}

	if got := repo.totalStock(7); got != 300 {
		t.Fatalf("fabric total = %d, want 300", got)
	}
	if got := repo.totalStock(3); got != 500 {
		t.Fatalf("pieces total = %d, want 500", got)
	}
	if repo.products[7].Quantity != 180 {
		t.Fatalf("fabric available = %d, want 180", repo.products[7].Quantity)
	}
}

func TestDecrementLine_MissingLineIsBenign(t *testing.T) {
	repo := newMemRepo(10, pieceProduct())
	svc := NewService(repo, newMemCache())

	survived, err := svc.DecrementLine(context.Background(), 100, 3, 100)
	if err != nil {
		t.Fatalf("DecrementLine: %v", err)
	}
	if survived {
		t.Fatalf("survived = true, want false for missing line")
	}
}

func TestDecrementLine_MeterBelowMinCut(t *testing.T) {
	repo := newMemRepo(10, fabricProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 7, 65); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// 0.65 - 0.60 = 0.05 м — меньше минимального отреза 0.10 м:
	// строка удаляется, весь резерв возвращается.
	survived, err := svc.DecrementLine(ctx, 100, 7, 60)
	if err != nil {
		t.Fatalf("DecrementLine: %v", err)
	}
	if survived {
		t.Fatalf("survived = true, want false below min cut")
	}
	if repo.products[7].Quantity != 300 {
		t.Fatalf("available = %d, want full restore 300", repo.products[7].Quantity)
	}
}

func TestRemoveLine_RestoresReserve(t *testing.T) {
	repo := newMemRepo(10, pieceProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 3, 300); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := svc.RemoveLine(ctx, 100, 3); err != nil {
		t.Fatalf("RemoveLine: %v", err)
	}
	if repo.products[3].Quantity != 500 {
		t.Fatalf("available = %d, want 500", repo.products[3].Quantity)
	}

	// Повторное удаление отсутствующей строки — не ошибка.
	if err := svc.RemoveLine(ctx, 100, 3); err != nil {
		t.Fatalf("RemoveLine repeat: %v", err)
	}
}

func TestCartLines_TotalAndState(t *testing.T) {
	repo := newMemRepo(10, fabricProduct(), pieceProduct())
	c := newMemCache()
	svc := NewService(repo, c)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 7, 65); err != nil {
		t.Fatalf("Reserve fabric: %v", err)
	}
	if _, err := svc.Reserve(ctx, 100, 3, 200); err != nil {
		t.Fatalf("Reserve pieces: %v", err)
	}

	lines, total, err := svc.CartLines(ctx, 100)
	if err != nil {
		t.Fatalf("CartLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}

	// 0.65 м * 1200.00 = 780.00; 2 шт * 135.00 (скидка 10%) = 270.00.
	if total != 1050.00 {
		t.Fatalf("total = %.2f, want 1050.00", total)
	}

	amount, ok := svc.ExpectedAmount(ctx, 100)
	if !ok || amount != 1050.00 {
		t.Fatalf("expected amount = %.2f, %v; want 1050.00, true", amount, ok)
	}
}

func TestCheckout(t *testing.T) {
	repo := newMemRepo(10, pieceProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, 100); !errors.Is(err, repository.ErrEmptyCart) {
		t.Fatalf("err = %v, want ErrEmptyCart", err)
	}

	if _, err := svc.Reserve(ctx, 100, 3, 200); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	cost, err := svc.Checkout(ctx, 100)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if cost != 270.00 {
		t.Fatalf("cost = %.2f, want 270.00", cost)
	}

	// Корзина очищена, остаток не восстановлен: резерв стал заказом.
	lines, _, err := svc.CartLines(ctx, 100)
	if err != nil {
		t.Fatalf("CartLines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("cart not cleared: %d lines", len(lines))
	}
	if repo.products[3].Quantity != 300 {
		t.Fatalf("available = %d, want 300", repo.products[3].Quantity)
	}
}

func TestCheckoutTotal_MatchesCartTotal(t *testing.T) {
	// Две строки метража с дробной стоимостью (0.33 м по 99.99₽):
	// итог корзины и стоимость заказа считаются округлением суммы
	// и обязаны совпадать — итог корзины становится ожидаемой суммой оплаты.
	cutA := model.Product{ID: 11, Name: "Лён отрез", PriceKop: 9999, Quantity: 100, Unit: model.UnitMeter, CategoryID: 2}
	cutB := model.Product{ID: 12, Name: "Хлопок отрез", PriceKop: 9999, Quantity: 100, Unit: model.UnitMeter, CategoryID: 2}
	repo := newMemRepo(10, cutA, cutB)
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 11, 33); err != nil {
		t.Fatalf("Reserve cutA: %v", err)
	}
	if _, err := svc.Reserve(ctx, 100, 12, 33); err != nil {
		t.Fatalf("Reserve cutB: %v", err)
	}

	_, total, err := svc.CartLines(ctx, 100)
	if err != nil {
		t.Fatalf("CartLines: %v", err)
	}
	if total != 65.99 {
		t.Fatalf("total = %.2f, want 65.99", total)
	}

	cost, err := svc.Checkout(ctx, 100)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if cost != total {
		t.Fatalf("checkout cost %.2f differs from cart total %.2f", cost, total)
	}
}

func TestOrders_Cached(t *testing.T) {
	repo := newMemRepo(10, pieceProduct())
	c := newMemCache()
	svc := NewService(repo, c)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 3, 200); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Checkout(ctx, 100); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	first, err := svc.Orders(ctx, 100)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(first) != 1 || len(first[0].Items) != 1 {
		t.Fatalf("unexpected groups: %+v", first)
	}
	if first[0].Items[0].Product != "3//Молния 50 см" {
		t.Fatalf("product token = %q", first[0].Items[0].Product)
	}
	if first[0].Items[0].Quantity != "2шт" {
		t.Fatalf("quantity token = %q", first[0].Items[0].Quantity)
	}

	// Второй вызов обслуживается из кэша.
	if _, err := svc.Orders(ctx, 100); err != nil {
		t.Fatalf("Orders from cache: %v", err)
	}
	if c.orderReads != 1 {
		t.Fatalf("cache reads = %d, want 1", c.orderReads)
	}
}

func TestOrders_CacheFailureFallsThrough(t *testing.T) {
	repo := newMemRepo(10, pieceProduct())
	c := newMemCache()
	c.ordersErr = errors.New("redis down")
	svc := NewService(repo, c)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 3, 200); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := svc.Checkout(ctx, 100); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Сбой кэша не мешает прочитать заказы из БД.
	groups, err := svc.Orders(ctx, 100)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("groups = %+v, want one group", groups)
	}
}

func TestDeleteOrders_RubToKop(t *testing.T) {
	repo := newMemRepo(10, pieceProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 3, 200); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	cost, err := svc.Checkout(ctx, 100)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := svc.DeleteOrders(ctx, 100, cost); err != nil {
		t.Fatalf("DeleteOrders: %v", err)
	}
	if len(repo.orders) != 0 {
		t.Fatalf("orders not deleted: %d left", len(repo.orders))
	}

	// Остаток не восстанавливается: заказ был подтверждён.
	if repo.products[3].Quantity != 300 {
		t.Fatalf("available = %d, want 300", repo.products[3].Quantity)
	}
}

func TestSweepExpiredCarts(t *testing.T) {
	repo := newMemRepo(10, fabricProduct(), pieceProduct())
	svc := NewService(repo, newMemCache())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, 100, 7, 65); err != nil {
		t.Fatalf("Reserve user 100: %v", err)
	}
	if _, err := svc.Reserve(ctx, 200, 3, 100); err != nil {
		t.Fatalf("Reserve user 200: %v", err)
	}

	affected, err := svc.SweepExpiredCarts(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(affected) != 2 || affected[0] != 100 || affected[1] != 200 {
		t.Fatalf("affected = %v, want [100 200]", affected)
	}
	if repo.products[7].Quantity != 300 || repo.products[3].Quantity != 500 {
		t.Fatalf("stock not restored: %d, %d", repo.products[7].Quantity, repo.products[3].Quantity)
	}

	// Повторная уборка пустых корзин ничего не находит.
	affected, err = svc.SweepExpiredCarts(ctx)
	if err != nil {
		t.Fatalf("Sweep repeat: %v", err)
	}
	if len(affected) != 0 {
		t.Fatalf("affected = %v, want empty", affected)
	}
}

func TestMarkProcessing(t *testing.T) {
	c := newMemCache()
	svc := NewService(newMemRepo(10), c)
	ctx := context.Background()

	if err := c.SaveState(ctx, 100, model.SessionState{OrderAmount: 270}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := svc.MarkProcessing(ctx, 100, "file-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	state, err := c.GetState(ctx, 100)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if !state.Processing || state.ProcessingFile != "file-1" {
		t.Fatalf("state = %+v", state)
	}
	if state.OrderAmount != 270 {
		t.Fatalf("order amount lost: %+v", state)
	}
}
