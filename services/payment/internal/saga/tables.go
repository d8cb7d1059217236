package saga

const (
	// TableResponseOutbox хранит исходящие PaymentResponse (и для списания,
	// и для возврата — дедупликация различает их по saga_status PAY/CANCEL).
	TableResponseOutbox = "payment_response_outbox"
)
