package saga

const (
	// TableResponseOutbox хранит исходящие ApprovalResponse. Дедупликация
	// ключом (sagaId) — в отличие от Payment, у Restaurant нет второго
	// дискриминатора, потому что на один заказ приходится ровно одно решение
	// об одобрении.
	TableResponseOutbox = "restaurant_response_outbox"
)
