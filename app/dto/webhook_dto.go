package dto

// OrderDiscountCode is a discount application inside an order payload
type OrderDiscountCode struct {
	Code string `json:"code" example:"SPIN-ABC123"`
}

// OrderCustomer is the customer block of an order payload
type OrderCustomer struct {
	ID    int64  `json:"id" example:"8123456789"`
	Email string `json:"email" example:"visitor@example.com"`
}

// OrderCreatePayload mirrors the fields consumed from a Shopify
// orders/create webhook. Unknown fields are ignored.
type OrderCreatePayload struct {
	ID            int64               `json:"id" example:"5678901234"`
	Email         string              `json:"email" example:"visitor@example.com"`
	Customer      *OrderCustomer      `json:"customer,omitempty"`
	DiscountCodes []OrderDiscountCode `json:"discount_codes"`
	TotalPrice    string              `json:"total_price" example:"75.00"`
	Currency      string              `json:"currency" example:"USD"`
	CreatedAt     string              `json:"created_at" example:"2024-02-01T08:00:00-05:00"`
}

// WebhookAckResponse is the body returned for accepted webhooks
type WebhookAckResponse struct {
	Status string `json:"status" example:"ok"`
}
