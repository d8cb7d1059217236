package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/money"
	"example.com/foodorder/services/restaurant/internal/domain"
	"example.com/foodorder/services/restaurant/internal/repository"
)

// seedProduct — запись продукта в JSON-файле сидирования.
type seedProduct struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Available bool   `json:"available"`
}

// seedRestaurant — запись ресторана в JSON-файле сидирования.
type seedRestaurant struct {
	ID       string        `json:"id"`
	Active   bool          `json:"active"`
	Products []seedProduct `json:"products"`
}

// SeedRestaurants читает JSON-файл path (массив seedRestaurant) и применяет
// каждую запись через Upsert. Вызывается один раз при старте сервиса, если
// RestaurantConfig.SeedFile задан — заменяет отсутствующую административную
// HTTP-поверхность (§4.5 не предусматривает её).
func SeedRestaurants(ctx context.Context, repo repository.RestaurantRepository, path string) error {
	if path == "" {
		return nil
	}
	log := logger.FromContext(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения файла сидирования %s: %w", path, err)
	}

	var records []seedRestaurant
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("ошибка разбора файла сидирования %s: %w", path, err)
	}

	for _, record := range records {
		restaurant, err := record.toDomain()
		if err != nil {
			return fmt.Errorf("некорректная запись ресторана %s: %w", record.ID, err)
		}
		if err := repo.Upsert(ctx, restaurant); err != nil {
			return fmt.Errorf("ошибка сохранения ресторана %s: %w", record.ID, err)
		}
	}

	log.Info().Int("count", len(records)).Str("file", path).Msg("Каталог ресторанов засеян из файла")
	return nil
}

func (r seedRestaurant) toDomain() (*domain.Restaurant, error) {
	products := make([]domain.Product, 0, len(r.Products))
	for _, p := range r.Products {
		price, err := money.New(p.Price, p.Currency)
		if err != nil {
			return nil, fmt.Errorf("некорректная цена продукта %s: %w", p.ID, err)
		}
		products = append(products, domain.Product{
			ID:        p.ID,
			Name:      p.Name,
			Price:     price,
			Available: p.Available,
		})
	}

	return &domain.Restaurant{ID: r.ID, Active: r.Active, Products: products}, nil
}
