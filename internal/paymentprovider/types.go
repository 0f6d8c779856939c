package paymentprovider

import "time"

// Payment представляет платеж в ответе провайдера.
type Payment struct {
	ID     string `json:"id"`     // ID платежа у провайдера
	Status string `json:"status"` // статус платежа, например "captured"
	Amount struct {
		Value    string `json:"value"`    // сумма, например "499.00"
		Currency string `json:"currency"` // валюта
	} `json:"amount"`
	Metadata  map[string]string `json:"metadata,omitempty"` // order_id, user_uid, plan_type
	CreatedAt time.Time         `json:"created_at"`
}
