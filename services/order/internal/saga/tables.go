// Package saga реализует choreography-шаги саги заказа на стороне Order
// Service: реакторы подписываются на ответы Payment и Restaurant и решают,
// какой следующий запрос поставить в очередь, не имея центрального
// координатора.
package saga

// Имена таблиц outbox, которыми владеет Order Service. Каждая обслуживается
// отдельным экземпляром pkg/outbox.Repository и pkg/outbox.Sweeper.
const (
	// TablePaymentOutbox хранит исходящие PaymentRequest (списание и возврат).
	TablePaymentOutbox = "order_payment_outbox"

	// TableApprovalOutbox хранит исходящие ApprovalRequest.
	TableApprovalOutbox = "order_approval_outbox"
)
