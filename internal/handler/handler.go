// Package handler содержит HTTP-обработчики API сервиса studiomarket.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avolkhov/studiomarket/internal/cache"
	"github.com/avolkhov/studiomarket/internal/middleware"
	"github.com/avolkhov/studiomarket/internal/model"
	"github.com/avolkhov/studiomarket/internal/notify"
	"github.com/avolkhov/studiomarket/internal/repository"
	"github.com/avolkhov/studiomarket/internal/validation"
	"github.com/avolkhov/studiomarket/internal/verification"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, u model.User) error
	Users(ctx context.Context) ([]model.User, error)

	Categories(ctx context.Context) ([]model.Category, error)
	Products(ctx context.Context, categoryID int64) ([]model.Product, error)
	Product(ctx context.Context, productID int64) (*model.Product, error)

	Reserve(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error)
	SetQuantity(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error)
	DecrementLine(ctx context.Context, userID, productID, step int64) (bool, error)
	RemoveLine(ctx context.Context, userID, productID int64) error
	CartLines(ctx context.Context, userID int64) ([]model.CartLine, float64, error)
	ClearCart(ctx context.Context, userID int64) error
	Checkout(ctx context.Context, userID int64) (float64, error)

	Orders(ctx context.Context, userID int64) ([]model.OrderGroup, error)
	DeleteOrders(ctx context.Context, userID int64, cost float64) error
}

// Verifier определяет контракт процесса проверки чеков.
type Verifier interface {
	SubmitProof(ctx context.Context, userID, chatID int64, fileRef string, expectedAmount float64) (verification.Outcome, error)
	Resolve(ctx context.Context, verificationID string, decision notify.Decision) error
}

// CartSweeper запускает уборку корзин по требованию администратора.
type CartSweeper interface {
	Sweep(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса studiomarket.
type Handler struct {
	service   Service
	verifier  Verifier
	sweeper   CartSweeper
	logger    *zap.Logger
	adminAuth *middleware.AdminAuth
	minCut    int64
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, v Verifier, sw CartSweeper, logger *zap.Logger, adminAuth *middleware.AdminAuth, minCut int64) *Handler {
	return &Handler{
		service:   s,
		verifier:  v,
		sweeper:   sw,
		logger:    logger,
		adminAuth: adminAuth,
		minCut:    minCut,
	}
}

// parseQuantity разбирает количество из пользовательского ввода с учётом
// единицы измерения товара: "2" для штучного, "65см" или "0,65м" для метража.
func (h *Handler) parseQuantity(ctx context.Context, productID int64, raw string) (int64, error) {
	product, err := h.service.Product(ctx, productID)
	if err != nil {
		return 0, err
	}

	if product.Unit.Discrete() {
		return validation.ParsePieces(raw)
	}
	return validation.ParseLength(raw, h.minCut)
}

type userRequest struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserName  string `json:"username"`
	Phone     string `json:"phone"`
}

// RegisterUser сохраняет пользователя при первом обращении.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.RegisterUser(r.Context(), model.User{
		UserID:    req.UserID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		UserName:  req.UserName,
		Phone:     req.Phone,
	})
	if err != nil {
		h.logger.Error("register user error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type categoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GetCategories возвращает категории каталога.
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.logger.Error("get categories error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(categories) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		resp = append(resp, categoryResponse{ID: c.ID, Name: c.Name})
	}

	writeJSON(w, h.logger, resp)
}

type productResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	FinalPrice  float64 `json:"final_price"`
	Discount    float64 `json:"discount_percent,omitempty"`
	Quantity    string  `json:"quantity"`
	Unit        string  `json:"unit"`
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       model.KopToRub(p.PriceKop),
		FinalPrice:  model.KopToRub(p.FinalPriceKop()),
		Discount:    p.DiscountPercent(),
		Quantity:    model.FormatQuantity(p.Quantity),
		Unit:        string(p.Unit),
	}
}

// GetProducts возвращает товары категории, имеющиеся в наличии.
func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	categoryID, err := strconv.ParseInt(r.URL.Query().Get("category_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	products, err := h.service.Products(r.Context(), categoryID)
	if err != nil {
		h.logger.Error("get products error", zap.Error(err), zap.Int64("categoryID", categoryID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		if model.MalformedDiscount(products[i].Discount) {
			h.logger.Warn("malformed product discount, selling at full price",
				zap.Int64("productID", products[i].ID),
				zap.String("discount", products[i].Discount),
			)
		}
		resp = append(resp, toProductResponse(&products[i]))
	}

	writeJSON(w, h.logger, resp)
}

type cartRequest struct {
	UserID    int64  `json:"user_id"`
	ProductID int64  `json:"product_id"`
	Quantity  string `json:"quantity"`
	Step      string `json:"step"`
}

type cartLineResponse struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  string  `json:"quantity"`
	Unit      string  `json:"unit"`
	Cost      float64 `json:"cost"`
}

// Reserve резервирует количество товара за пользователем.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.ProductID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	qty, err := h.parseQuantity(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.writeQuantityError(w, err, req)
		return
	}

	line, err := h.service.Reserve(r.Context(), req.UserID, req.ProductID, qty)
	if err != nil {
		h.writeCartError(w, err, "reserve error", req)
		return
	}

	writeJSON(w, h.logger, toCartLineResponse(line))
}

// SetQuantity выставляет точное количество в строке корзины.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.ProductID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	qty, err := h.parseQuantity(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.writeQuantityError(w, err, req)
		return
	}

	line, err := h.service.SetQuantity(r.Context(), req.UserID, req.ProductID, qty)
	if err != nil {
		h.writeCartError(w, err, "set quantity error", req)
		return
	}

	writeJSON(w, h.logger, toCartLineResponse(line))
}

// Decrement уменьшает резерв строки корзины на шаг.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.ProductID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	step, err := h.parseQuantity(r.Context(), req.ProductID, req.Step)
	if err != nil {
		h.writeQuantityError(w, err, req)
		return
	}

	survived, err := h.service.DecrementLine(r.Context(), req.UserID, req.ProductID, step)
	if err != nil {
		h.writeCartError(w, err, "decrement error", req)
		return
	}

	writeJSON(w, h.logger, map[string]bool{"survived": survived})
}

// RemoveLine удаляет строку корзины. Нулевой product_id очищает корзину целиком.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var err error
	if req.ProductID == 0 {
		err = h.service.ClearCart(r.Context(), req.UserID)
	} else {
		err = h.service.RemoveLine(r.Context(), req.UserID, req.ProductID)
	}
	if err != nil {
		h.writeCartError(w, err, "remove line error", req)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type cartResponse struct {
	Lines []cartLineResponse `json:"lines"`
	Total float64            `json:"total"`
}

// GetCart возвращает корзину пользователя с итоговой стоимостью.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	lines, total, err := h.service.CartLines(r.Context(), userID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(lines) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := cartResponse{Lines: make([]cartLineResponse, 0, len(lines)), Total: total}
	for i := range lines {
		resp.Lines = append(resp.Lines, toCartLineResponse(&lines[i]))
	}

	writeJSON(w, h.logger, resp)
}

type checkoutRequest struct {
	UserID int64 `json:"user_id"`
}

// Checkout оформляет заказ из корзины пользователя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cost, err := h.service.Checkout(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrEmptyCart) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("checkout error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, map[string]float64{"order_cost": cost})
}

// GetOrders возвращает заказы пользователя, сгруппированные по оформлению.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	groups, err := h.service.Orders(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(groups) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, h.logger, groups)
}

type proofRequest struct {
	UserID         int64   `json:"user_id"`
	ChatID         int64   `json:"chat_id"`
	FileRef        string  `json:"file_ref"`
	ExpectedAmount float64 `json:"expected_amount"`
}

// SubmitProof принимает чек об оплате на проверку.
func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.FileRef == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	chatID := req.ChatID
	if chatID == 0 {
		chatID = req.UserID
	}

	outcome, err := h.verifier.SubmitProof(r.Context(), req.UserID, chatID, req.FileRef, req.ExpectedAmount)
	if err != nil {
		// Сбой уже сообщён пользователю и администраторам внутри процесса.
		h.logger.Error("submit proof error", zap.Error(err), zap.Int64("userID", req.UserID))
	}

	writeJSON(w, h.logger, map[string]string{"outcome": string(outcome)})
}

// GetUsers возвращает всех известных пользователей (административный маршрут).
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Users(r.Context())
	if err != nil {
		h.logger.Error("get users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(users) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	type userResponse struct {
		UserID    int64  `json:"user_id"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
		UserName  string `json:"username,omitempty"`
		Phone     string `json:"phone,omitempty"`
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{
			UserID:    u.UserID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			UserName:  u.UserName,
			Phone:     u.Phone,
		})
	}

	writeJSON(w, h.logger, resp)
}

type deleteOrdersRequest struct {
	UserID int64   `json:"user_id"`
	Cost   float64 `json:"cost"`
}

// DeleteOrders удаляет заказы пользователя с указанной стоимостью.
func (h *Handler) DeleteOrders(w http.ResponseWriter, r *http.Request) {
	var req deleteOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 || req.Cost <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteOrders(r.Context(), req.UserID, req.Cost); err != nil {
		h.logger.Error("delete orders error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

// ResolveVerification применяет решение администратора по чеку.
func (h *Handler) ResolveVerification(w http.ResponseWriter, r *http.Request) {
	verificationID := chi.URLParam(r, "id")
	if verificationID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Decision == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.verifier.Resolve(r.Context(), verificationID, notify.Decision(req.Decision))
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, verification.ErrUnknownDecision):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("resolve verification error", zap.Error(err), zap.String("verificationID", verificationID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Sweep запускает уборку корзин немедленно.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if err := h.sweeper.Sweep(r.Context()); err != nil {
		h.logger.Error("manual sweep error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func toCartLineResponse(l *model.CartLine) cartLineResponse {
	resp := cartLineResponse{
		ProductID: l.ProductID,
		Quantity:  model.FormatQuantity(l.Quantity),
		Cost:      model.KopToRub(l.CostKop()),
	}
	if l.Product != nil {
		resp.Name = l.Product.Name
		resp.Unit = string(l.Product.Unit)
	}
	return resp
}

// writeQuantityError переводит ошибки разбора количества в HTTP-статусы.
func (h *Handler) writeQuantityError(w http.ResponseWriter, err error, req cartRequest) {
	switch {
	case errors.Is(err, validation.ErrMalformedQuantity), errors.Is(err, validation.ErrBelowMinimum):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, repository.ErrProductNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error("parse quantity error", zap.Error(err), zap.Int64("productID", req.ProductID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// writeCartError переводит ошибки операций с корзиной в HTTP-статусы.
func (h *Handler) writeCartError(w http.ResponseWriter, err error, logMsg string, req cartRequest) {
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, repository.ErrCartLineNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error(logMsg, zap.Error(err), zap.Int64("userID", req.UserID), zap.Int64("productID", req.ProductID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
