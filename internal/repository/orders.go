package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avolkhov/studiomarket/internal/model"
)

// CreateOrdersFromCart переносит корзину пользователя в заказ: на каждую
// строку корзины создаётся строка заказа с общим order_uid, временем и
// итоговой стоимостью, после чего корзина очищается. Остатки товаров не
// меняются — резерв был списан в момент добавления в корзину.
// Возвращает итоговую стоимость заказа в копейках.
func (r *PostgresRepository) CreateOrdersFromCart(ctx context.Context, userID int64) (int64, error) {
	var totalKop int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT c.quantity, p.id, p.name, p.price, p.discount, p.unit
			 FROM carts c
			 JOIN products p ON p.id = c.product_id
			 WHERE c.user_id = $1
			 ORDER BY c.id`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select cart lines: %w", err)
		}

		var lines []model.CartLine
		for rows.Next() {
			var (
				l model.CartLine
				p model.Product
			)
			if err := rows.Scan(&l.Quantity, &p.ID, &p.Name, &p.PriceKop, &p.Discount, &p.Unit); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart line: %w", err)
			}
			l.Product = &p
			lines = append(lines, l)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(lines) == 0 {
			return ErrEmptyCart
		}

		totalKop = model.TotalCostKop(lines)

		orderUID := uuid.NewString()
		created := time.Now().UTC()

		for _, l := range lines {
			if _, err := tx.Exec(ctx,
				`INSERT INTO orders (order_uid, user_id, product, quantity, cost, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				orderUID,
				userID,
				model.ProductToken(l.Product.ID, l.Product.Name),
				model.QuantityToken(l.Quantity, l.Product.Unit),
				totalKop,
				created,
			); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return totalKop, nil
}

// GetUserOrders возвращает заказы пользователя, сгруппированные по order_uid,
// от новых к старым.
func (r *PostgresRepository) GetUserOrders(ctx context.Context, userID int64) ([]model.OrderGroup, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_uid, product, quantity, cost, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, cost ASC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var groups []model.OrderGroup
	for rows.Next() {
		var (
			uid      string
			product  string
			quantity string
			costKop  int64
			created  time.Time
		)
		if err := rows.Scan(&uid, &product, &quantity, &costKop, &created); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		// Сортировка кладёт строки одного заказа подряд, поэтому
		// группировка по соседним строкам корректна.
		if len(groups) == 0 || groups[len(groups)-1].OrderUID != uid {
			groups = append(groups, model.OrderGroup{
				OrderUID: uid,
				Created:  created,
				Cost:     model.KopToRub(costKop),
			})
		}
		last := &groups[len(groups)-1]
		last.Items = append(last.Items, model.OrderGroupItem{
			Product:  product,
			Quantity: quantity,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return groups, nil
}

// DeleteUserOrders удаляет все строки заказов пользователя с указанной
// стоимостью. Остатки товаров не восстанавливаются: заказ на этой стадии
// уже считается проданным.
func (r *PostgresRepository) DeleteUserOrders(ctx context.Context, userID, costKop int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`DELETE FROM orders WHERE user_id = $1 AND cost = $2`,
			userID, costKop,
		)
		if err != nil {
			return fmt.Errorf("delete orders: %w", err)
		}
		return nil
	})
}
