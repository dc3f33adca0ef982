// Package service реализует бизнес-логику магазина studiomarket.
package service

import (
	"context"
	"errors"

	"github.com/avolkhov/studiomarket/internal/cache"
	"github.com/avolkhov/studiomarket/internal/model"
	"github.com/avolkhov/studiomarket/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	UpsertUser(ctx context.Context, u model.User) error
	GetUsers(ctx context.Context) ([]model.User, error)

	GetCategories(ctx context.Context) ([]model.Category, error)
	GetProducts(ctx context.Context, categoryID int64) ([]model.Product, error)
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)

	AddToCart(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error)
	SetCartQuantity(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error)
	ReduceCartLine(ctx context.Context, userID, productID, step int64) (bool, error)
	DeleteCartLine(ctx context.Context, userID, productID int64) error
	GetUserCartLines(ctx context.Context, userID int64) ([]model.CartLine, error)
	ClearUserCart(ctx context.Context, userID int64) error
	ClearAllCarts(ctx context.Context) ([]int64, error)

	CreateOrdersFromCart(ctx context.Context, userID int64) (int64, error)
	GetUserOrders(ctx context.Context, userID int64) ([]model.OrderGroup, error)
	DeleteUserOrders(ctx context.Context, userID, costKop int64) error
}

// StateCache описывает контракт кэша и эфемерных записей, используемый сервисом.
type StateCache interface {
	SaveState(ctx context.Context, userID int64, state model.SessionState) error
	GetState(ctx context.Context, userID int64) (*model.SessionState, error)
	DeleteState(ctx context.Context, userID int64) error

	GetOrderGroups(ctx context.Context, userID int64) ([]model.OrderGroup, error)
	SetOrderGroups(ctx context.Context, userID int64, groups []model.OrderGroup) error
}

// Service содержит бизнес-логику магазина studiomarket.
type Service struct {
	repo  Repository
	cache StateCache
}

// NewService создаёт сервис с указанным репозиторием и кэшем.
func NewService(repo Repository, c StateCache) *Service {
	return &Service{
		repo:  repo,
		cache: c,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser сохраняет пользователя при первом обращении.
func (s *Service) RegisterUser(ctx context.Context, u model.User) error {
	return s.repo.UpsertUser(ctx, u)
}

// Users возвращает всех известных пользователей.
func (s *Service) Users(ctx context.Context) ([]model.User, error) {
	return s.repo.GetUsers(ctx)
}

// Categories возвращает категории каталога.
func (s *Service) Categories(ctx context.Context) ([]model.Category, error) {
	return s.repo.GetCategories(ctx)
}

// Products возвращает товары категории, имеющиеся в наличии.
func (s *Service) Products(ctx context.Context, categoryID int64) ([]model.Product, error) {
	return s.repo.GetProducts(ctx, categoryID)
}

// Product возвращает товар по идентификатору.
func (s *Service) Product(ctx context.Context, productID int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, productID)
}

// Reserve резервирует количество qty товара за пользователем.
// Возвращает repository.ErrInsufficientStock, если остатка недостаточно.
func (s *Service) Reserve(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error) {
	return s.repo.AddToCart(ctx, userID, productID, qty)
}

// SetQuantity выставляет точное количество в строке корзины (метраж).
func (s *Service) SetQuantity(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error) {
	return s.repo.SetCartQuantity(ctx, userID, productID, qty)
}

// DecrementLine уменьшает резерв строки корзины на step.
// Возвращает true, если строка сохранилась. Отсутствие строки — не ошибка:
// строка считается уже удалённой.
func (s *Service) DecrementLine(ctx context.Context, userID, productID, step int64) (bool, error) {
	survived, err := s.repo.ReduceCartLine(ctx, userID, productID, step)
	if err != nil {
		if errors.Is(err, repository.ErrCartLineNotFound) {
			return false, nil
		}
		return false, err
	}
	return survived, nil
}

// RemoveLine удаляет строку корзины, возвращая резерв в остаток.
func (s *Service) RemoveLine(ctx context.Context, userID, productID int64) error {
	return s.repo.DeleteCartLine(ctx, userID, productID)
}

// CartLines возвращает строки корзины пользователя и итоговую стоимость
// в рублях. Итог запоминается в состоянии пользователя как ожидаемая
// сумма оплаты для последующей проверки чека.
func (s *Service) CartLines(ctx context.Context, userID int64) ([]model.CartLine, float64, error) {
	lines, err := s.repo.GetUserCartLines(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	total := model.KopToRub(model.TotalCostKop(lines))

	if len(lines) > 0 {
		// Потеря состояния не мешает показать корзину: сумма будет
		// записана заново при следующем просмотре.
		_ = s.cache.SaveState(ctx, userID, model.SessionState{OrderAmount: total})
	}

	return lines, total, nil
}

// ClearCart удаляет все строки корзины пользователя.
func (s *Service) ClearCart(ctx context.Context, userID int64) error {
	return s.repo.ClearUserCart(ctx, userID)
}

// Checkout оформляет заказ из корзины пользователя и возвращает его
// стоимость в рублях. Остатки товаров не меняются: резерв уже списан.
func (s *Service) Checkout(ctx context.Context, userID int64) (float64, error) {
	costKop, err := s.repo.CreateOrdersFromCart(ctx, userID)
	if err != nil {
		return 0, err
	}
	return model.KopToRub(costKop), nil
}

// Orders возвращает заказы пользователя, сгруппированные по оформлению.
// Результат кэшируется на несколько минут; кэш инвалидируется только по
// TTL, поэтому сразу после изменения заказов возможна краткая рассинхронизация.
func (s *Service) Orders(ctx context.Context, userID int64) ([]model.OrderGroup, error) {
	// Кэш не является источником истины: любой сбой чтения равносилен промаху.
	if groups, err := s.cache.GetOrderGroups(ctx, userID); err == nil {
		return groups, nil
	}

	groups, err := s.repo.GetUserOrders(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.SetOrderGroups(ctx, userID, groups)

	return groups, nil
}

// DeleteOrders удаляет заказы пользователя с указанной стоимостью в рублях.
// Остатки товаров не восстанавливаются.
func (s *Service) DeleteOrders(ctx context.Context, userID int64, cost float64) error {
	return s.repo.DeleteUserOrders(ctx, userID, model.RubToKop(cost))
}

// SweepExpiredCarts освобождает резервы всех неоплаченных корзин и
// возвращает идентификаторы затронутых пользователей.
func (s *Service) SweepExpiredCarts(ctx context.Context) ([]int64, error) {
	return s.repo.ClearAllCarts(ctx)
}

// ExpectedAmount возвращает ожидаемую сумму оплаты пользователя из
// состояния, если она была записана при просмотре корзины.
func (s *Service) ExpectedAmount(ctx context.Context, userID int64) (float64, bool) {
	state, err := s.cache.GetState(ctx, userID)
	if err != nil || state == nil {
		return 0, false
	}
	return state.OrderAmount, state.OrderAmount > 0
}

// MarkProcessing отмечает, что чек пользователя находится в обработке.
func (s *Service) MarkProcessing(ctx context.Context, userID int64, fileRef string) error {
	state, err := s.cache.GetState(ctx, userID)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			return err
		}
		state = &model.SessionState{}
	}

	state.Processing = true
	state.ProcessingFile = fileRef

	return s.cache.SaveState(ctx, userID, *state)
}
