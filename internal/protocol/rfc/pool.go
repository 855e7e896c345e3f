package rfc

import (
	"context"

	"erpmigrate/pkg/pool"
)

// NewPool returns a pool of opened clients. build is called once per pool slot.
func NewPool(cfg pool.Config, build func() (*Client, error)) *pool.Pool[*Client] {
	return pool.New(cfg,
		func(ctx context.Context) (*Client, error) {
			c, err := build()
			if err != nil {
				return nil, err
			}
			if err := c.Open(ctx); err != nil {
				return nil, err
			}
			return c, nil
		},
		func(c *Client) error {
			c.Close()
			return nil
		},
	)
}
