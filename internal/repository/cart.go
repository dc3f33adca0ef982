package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avolkhov/studiomarket/internal/model"
)

// Резервирование работает по принципу нулевой суммы: любое изменение строки
// корзины сопровождается зеркальным изменением остатка товара в той же
// транзакции. Строка товара блокируется через SELECT ... FOR UPDATE, проверка
// неотрицательности остатка выполняется до записи.

// lockProduct читает и блокирует строку товара в рамках транзакции.
func lockProduct(ctx context.Context, tx pgx.Tx, productID int64) (*model.Product, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, name, description, price, discount, quantity, unit, category_id
		 FROM products WHERE id = $1 FOR UPDATE`,
		productID,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceKop, &p.Discount, &p.Quantity, &p.Unit, &p.CategoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	return &p, nil
}

// addProductQuantity изменяет остаток заблокированного товара на delta (может быть отрицательной).
func addProductQuantity(ctx context.Context, tx pgx.Tx, productID, delta int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1`,
		productID, delta,
	)
	if err != nil {
		return fmt.Errorf("update product quantity: %w", err)
	}
	return nil
}

// AddToCart резервирует qty товара за пользователем: создаёт строку корзины
// или увеличивает существующую, одновременно уменьшая остаток.
// Возвращает ErrInsufficientStock, если остатка недостаточно; в этом случае
// состояние не меняется.
func (r *PostgresRepository) AddToCart(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %d", qty)
	}

	var line *model.CartLine

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		product, err := lockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		if product.Quantity < qty {
			return ErrInsufficientStock
		}

		var (
			lineID int64
			newQty int64
		)
		err = tx.QueryRow(ctx,
			`INSERT INTO carts (user_id, product_id, quantity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id, product_id)
			 DO UPDATE SET quantity = carts.quantity + EXCLUDED.quantity, updated_at = now()
			 RETURNING id, quantity`,
			userID, productID, qty,
		).Scan(&lineID, &newQty)
		if err != nil {
			return fmt.Errorf("upsert cart line: %w", err)
		}

		if err := addProductQuantity(ctx, tx, productID, -qty); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		product.Quantity -= qty
		line = &model.CartLine{
			ID:        lineID,
			UserID:    userID,
			ProductID: productID,
			Quantity:  newQty,
			Product:   product,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return line, nil
}

// SetCartQuantity выставляет точное количество в строке корзины.
// Разница с прежним значением переносится в остаток товара или из него.
func (r *PostgresRepository) SetCartQuantity(ctx context.Context, userID, productID, qty int64) (*model.CartLine, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %d", qty)
	}

	var line *model.CartLine

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			lineID int64
			oldQty int64
		)
		err = tx.QueryRow(ctx,
			`SELECT id, quantity FROM carts WHERE user_id = $1 AND product_id = $2 FOR UPDATE`,
			userID, productID,
		).Scan(&lineID, &oldQty)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCartLineNotFound
			}
			return fmt.Errorf("select cart line: %w", err)
		}

		product, err := lockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		diff := qty - oldQty
		if diff == 0 {
			line = &model.CartLine{ID: lineID, UserID: userID, ProductID: productID, Quantity: oldQty, Product: product}
			return nil
		}

		if diff > 0 && product.Quantity < diff {
			return ErrInsufficientStock
		}

		if _, err := tx.Exec(ctx,
			`UPDATE carts SET quantity = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
			lineID, userID, qty,
		); err != nil {
			return fmt.Errorf("update cart line: %w", err)
		}

		if err := addProductQuantity(ctx, tx, productID, -diff); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		product.Quantity -= diff
		line = &model.CartLine{ID: lineID, UserID: userID, ProductID: productID, Quantity: qty, Product: product}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return line, nil
}

// ReduceCartLine уменьшает резерв на step. Если после уменьшения строка
// исчерпана (для штучного товара — количество <= 0, для метража — меньше
// минимального отреза), строка удаляется и весь резерв возвращается в остаток.
// Возвращает true, если строка сохранилась.
func (r *PostgresRepository) ReduceCartLine(ctx context.Context, userID, productID, step int64) (bool, error) {
	if step <= 0 {
		return false, fmt.Errorf("step must be positive: %d", step)
	}

	var survived bool

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			lineID int64
			oldQty int64
		)
		err = tx.QueryRow(ctx,
			`SELECT id, quantity FROM carts WHERE user_id = $1 AND product_id = $2 FOR UPDATE`,
			userID, productID,
		).Scan(&lineID, &oldQty)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCartLineNotFound
			}
			return fmt.Errorf("select cart line: %w", err)
		}

		product, err := lockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		newQty := oldQty - step
		if model.Exhausted(product.Unit, newQty, r.minCut) {
			if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE id = $1`, lineID); err != nil {
				return fmt.Errorf("delete cart line: %w", err)
			}
			if err := addProductQuantity(ctx, tx, productID, oldQty); err != nil {
				return err
			}
			survived = false
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE carts SET quantity = $2, updated_at = now() WHERE id = $1`,
				lineID, newQty,
			); err != nil {
				return fmt.Errorf("update cart line: %w", err)
			}
			if err := addProductQuantity(ctx, tx, productID, step); err != nil {
				return err
			}
			survived = true
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return survived, nil
}

// DeleteCartLine удаляет строку корзины, возвращая весь резерв в остаток.
// Отсутствующая строка не считается ошибкой.
func (r *PostgresRepository) DeleteCartLine(ctx context.Context, userID, productID int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := lockProduct(ctx, tx, productID); err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return nil
			}
			return err
		}

		var qty int64
		err = tx.QueryRow(ctx,
			`DELETE FROM carts WHERE user_id = $1 AND product_id = $2 RETURNING quantity`,
			userID, productID,
		).Scan(&qty)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("delete cart line: %w", err)
		}

		if err := addProductQuantity(ctx, tx, productID, qty); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetUserCartLines возвращает строки корзины пользователя со снимком товара.
func (r *PostgresRepository) GetUserCartLines(ctx context.Context, userID int64) ([]model.CartLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.user_id, c.product_id, c.quantity, c.created_at,
		        p.id, p.name, p.description, p.price, p.discount, p.quantity, p.unit, p.category_id
		 FROM carts c
		 JOIN products p ON p.id = c.product_id
		 WHERE c.user_id = $1
		 ORDER BY c.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart lines: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var (
			l model.CartLine
			p model.Product
		)
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.Created,
			&p.ID, &p.Name, &p.Description, &p.PriceKop, &p.Discount, &p.Quantity, &p.Unit, &p.CategoryID,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		l.Product = &p
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// ClearUserCart удаляет все строки корзины пользователя, возвращая резервы в остатки.
func (r *PostgresRepository) ClearUserCart(ctx context.Context, userID int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := releaseCartLines(ctx, tx, `SELECT product_id, quantity FROM carts WHERE user_id = $1 ORDER BY product_id`, userID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("delete cart lines: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// ClearAllCarts освобождает резервы всех пользователей и возвращает
// идентификаторы затронутых пользователей. Повторный вызов на пустых
// корзинах возвращает пустое множество.
func (r *PostgresRepository) ClearAllCarts(ctx context.Context) ([]int64, error) {
	var affected []int64

	err := r.withRetry(ctx, func() error {
		affected = affected[:0]

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, `SELECT DISTINCT user_id FROM carts ORDER BY user_id`)
		if err != nil {
			return fmt.Errorf("select cart users: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan user id: %w", err)
			}
			affected = append(affected, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(affected) == 0 {
			return tx.Commit(ctx)
		}

		if err := releaseCartLines(ctx, tx, `SELECT product_id, quantity FROM carts ORDER BY product_id`); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM carts`); err != nil {
			return fmt.Errorf("delete cart lines: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return affected, nil
}

// releaseCartLines возвращает резервы выбранных строк корзины в остатки товаров.
// Строки выбираются в порядке product_id, чтобы блокировки брались детерминированно.
func releaseCartLines(ctx context.Context, tx pgx.Tx, query string, args ...any) error {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("select reservations: %w", err)
	}

	type reserve struct {
		productID int64
		qty       int64
	}
	var reserves []reserve
	for rows.Next() {
		var rv reserve
		if err := rows.Scan(&rv.productID, &rv.qty); err != nil {
			rows.Close()
			return fmt.Errorf("scan reservation: %w", err)
		}
		reserves = append(reserves, rv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for _, rv := range reserves {
		if _, err := lockProduct(ctx, tx, rv.productID); err != nil {
			if errors.Is(err, ErrProductNotFound) {
				continue
			}
			return err
		}
		if err := addProductQuantity(ctx, tx, rv.productID, rv.qty); err != nil {
			return err
		}
	}

	return nil
}
