package rest

import "github.com/oklog/ulid/v2"

// NewClientOrderID returns a sortable, unique client order id (26 chars, alphanumeric).
func NewClientOrderID() string {
	return ulid.Make().String()
}
