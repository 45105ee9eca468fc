package domain

import "time"

type Client struct {
	ID    string
	Name  string
	Phone string
	Email *string

	IDNumber *string
	Address  *string

	CreatedAt *time.Time
}
