package jobrunner

import (
	"context"
	"fmt"

	"geoaudit/internal/ports"
)

// Handle adapts a handler for one concrete job type to a HandlerFunc.
func Handle[J ports.Job](fn func(ctx context.Context, job J) error) HandlerFunc {
	return func(ctx context.Context, job ports.Job) error {
		j, ok := job.(J)
		if !ok {
			return fmt.Errorf("handler for %T got %T", *new(J), job)
		}
		return fn(ctx, j)
	}
}
