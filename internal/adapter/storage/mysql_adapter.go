package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mallkit/cart/internal/core/domain"
)

// MySQLAdapter stores carts in a cart_items table:
//
//	CREATE TABLE cart_items (
//	    id         BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    cart_id    VARCHAR(64)  NOT NULL,
//	    product_id VARCHAR(64)  NOT NULL,
//	    size       VARCHAR(8)   NOT NULL,
//	    name       VARCHAR(255) NOT NULL,
//	    unit_price BIGINT       NOT NULL,
//	    quantity   INT          NOT NULL,
//	    images     TEXT         NOT NULL,
//	    updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP
//	                            ON UPDATE CURRENT_TIMESTAMP,
//	    UNIQUE KEY uniq_cart_line (cart_id, product_id, size)
//	);
//
// The unique key is the (product, size) line-item identity; insertion
// order comes from the auto-increment id, which an upsert on an existing
// row leaves untouched.
type MySQLAdapter struct {
	db      *sql.DB
	ownerID string
}

func NewMySQLAdapter(db *sql.DB, ownerID string) *MySQLAdapter {
	return &MySQLAdapter{db: db, ownerID: ownerID}
}

func (m *MySQLAdapter) Load(ctx context.Context) ([]domain.LineItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, size, name, unit_price, quantity, images
		FROM cart_items WHERE cart_id = ? ORDER BY id`, m.ownerID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		var images string
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Name, &it.UnitPrice, &it.Quantity, &images); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if images != "" {
			if err := json.Unmarshal([]byte(images), &it.Images); err != nil {
				return nil, fmt.Errorf("decode item images: %w", err)
			}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) Upsert(ctx context.Context, item domain.LineItem) error {
	images, err := json.Marshal(item.Images)
	if err != nil {
		return fmt.Errorf("encode item images: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, size, name, unit_price, quantity, images)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			unit_price = VALUES(unit_price),
			quantity = VALUES(quantity),
			images = VALUES(images)`,
		m.ownerID, item.ProductID, string(item.Size), item.Name, item.UnitPrice, item.Quantity, images,
	)
	if err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Delete(ctx context.Context, key domain.ItemKey) error {
	_, err := m.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE cart_id = ? AND product_id = ? AND size = ?`,
		m.ownerID, key.ProductID, string(key.Size),
	)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Clear(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, m.ownerID)
	if err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	return nil
}
