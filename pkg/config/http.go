package config

import "fmt"

// HTTPConfig содержит настройки HTTP портов сервисов, предоставляющих
// собственный REST API. Сервисы, работающие только через Kafka (Payment,
// Restaurant, Customer), этой конфигурации не используют.
type HTTPConfig struct {
	OrderService OrderServiceConfig
}

// OrderServiceConfig содержит настройки HTTP edge Order Service.
type OrderServiceConfig struct {
	Host string `env:"ORDER_SERVICE_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"ORDER_SERVICE_PORT" envDefault:"8080"`
}

// Addr возвращает адрес Order Service.
func (c OrderServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
