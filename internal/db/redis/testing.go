package redis

import "github.com/redis/rueidis"

// NewStoreForTest wraps an existing client. Intended for tests with rueidis/mock.
func NewStoreForTest(c rueidis.Client) *Store {
	return &Store{client: c}
}
