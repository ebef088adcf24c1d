package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/moshe-connectio/car-template-demo/internal/id/uuid"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

const imageColumns = 6

// ListByVehicle returns the vehicle's images ordered by position.
func (s *Store) ListByVehicle(ctx context.Context, vehicleID string) ([]inventory.VehicleImage, error) {
	if !uuid.Valid(vehicleID) {
		return nil, nil
	}
	const query = `
SELECT id::text, vehicle_id::text, image_url, position, alt_text, uploaded_at
FROM vehicle_images WHERE vehicle_id = $1
ORDER BY position`
	rows, err := s.db.Query(ctx, query, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var out []inventory.VehicleImage
	for rows.Next() {
		var img inventory.VehicleImage
		if err := rows.Scan(&img.ID, &img.VehicleID, &img.ImageURL, &img.Position, &img.AltText, &img.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}

// ReplaceImages swaps the vehicle's image rows for images in one
// transaction. A failed insert leaves the previous rows in place.
func (s *Store) ReplaceImages(ctx context.Context, vehicleID string, images []inventory.VehicleImage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin image swap: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // no-op once committed

	tag, err := tx.Exec(ctx, `DELETE FROM vehicle_images WHERE vehicle_id = $1`, vehicleID)
	if err != nil {
		return 0, fmt.Errorf("delete images: %w", err)
	}
	if err := insertImages(ctx, tx, images); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit image swap: %w", err)
	}
	return tag.RowsAffected(), nil
}

// insertImages writes all images in one statement.
func insertImages(ctx context.Context, tx pgx.Tx, images []inventory.VehicleImage) error {
	if len(images) == 0 {
		return nil
	}
	values := make([]string, 0, len(images))
	args := make([]any, 0, len(images)*imageColumns)
	for i, img := range images {
		base := i * imageColumns
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, img.ID, img.VehicleID, img.ImageURL, img.Position, img.AltText, img.UploadedAt)
	}
	query := `INSERT INTO vehicle_images (id, vehicle_id, image_url, position, alt_text, uploaded_at) VALUES ` +
		strings.Join(values, ", ")
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert images: %w", err)
	}
	return nil
}
