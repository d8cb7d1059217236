// Package domain содержит unit тесты для доменных сущностей Order Service.
package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/foodorder/pkg/money"
)

func mustMoney(t *testing.T, amount, currency string) money.Money {
	t.Helper()
	m, err := money.New(amount, currency)
	require.NoError(t, err)
	return m
}

func validItem(t *testing.T) OrderItem {
	return OrderItem{
		ProductID:   "product-1",
		ProductName: "Пицца Маргарита",
		Quantity:    2,
		UnitPrice:   mustMoney(t, "25.00", "USD"),
		SubTotal:    mustMoney(t, "50.00", "USD"),
	}
}

// =====================================
// Тесты OrderItem.Validate (инвариант I2)
// =====================================

func TestOrderItem_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*OrderItem)
		expectedErr error
	}{
		{name: "валидные данные", mutate: func(*OrderItem) {}, expectedErr: nil},
		{name: "пустой ProductID", mutate: func(i *OrderItem) { i.ProductID = "" }, expectedErr: ErrInvalidProductID},
		{name: "нулевое количество", mutate: func(i *OrderItem) { i.Quantity = 0 }, expectedErr: ErrInvalidQuantity},
		{name: "отрицательное количество", mutate: func(i *OrderItem) { i.Quantity = -1 }, expectedErr: ErrInvalidQuantity},
		{name: "нулевая цена", mutate: func(i *OrderItem) { i.UnitPrice = mustMoney(t, "0", "USD") }, expectedErr: ErrInvalidPrice},
		{
			name:        "subTotal не равен quantity*unitPrice",
			mutate:      func(i *OrderItem) { i.SubTotal = mustMoney(t, "999.00", "USD") },
			expectedErr: ErrSubTotalMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem(t)
			tt.mutate(&item)
			err := item.Validate()
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =====================================
// Тесты Order.Initialize (инварианты I1, I2)
// =====================================

func TestOrder_Initialize(t *testing.T) {
	base := func() *Order {
		return &Order{
			ID:         "order-1",
			CustomerID: "customer-1",
			RestaurantID: "restaurant-1",
			DeliveryAddress: DeliveryAddress{
				Street: "Ленина 1", PostalCode: "101000", City: "Москва",
			},
			Items: []OrderItem{validItem(t)},
			Price: mustMoney(t, "50.00", "USD"),
		}
	}

	t.Run("валидный заказ переходит в PENDING", func(t *testing.T) {
		o := base()
		err := o.Initialize(true, true)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusPending, o.Status)
	})

	t.Run("неактивный ресторан", func(t *testing.T) {
		o := base()
		err := o.Initialize(false, true)
		assert.ErrorIs(t, err, ErrRestaurantInactive)
	})

	t.Run("цена не совпадает с каталогом ресторана", func(t *testing.T) {
		o := base()
		err := o.Initialize(true, false)
		assert.ErrorIs(t, err, ErrPriceMismatch)
	})

	t.Run("заявленная цена не равна сумме позиций (I1)", func(t *testing.T) {
		o := base()
		o.Price = mustMoney(t, "999.00", "USD")
		err := o.Initialize(true, true)
		assert.ErrorIs(t, err, ErrPriceMismatch)
	})

	t.Run("пустой список позиций", func(t *testing.T) {
		o := base()
		o.Items = nil
		err := o.Initialize(true, true)
		assert.ErrorIs(t, err, ErrEmptyOrderItems)
	})

	t.Run("пустой клиент", func(t *testing.T) {
		o := base()
		o.CustomerID = ""
		err := o.Initialize(true, true)
		assert.ErrorIs(t, err, ErrInvalidCustomerID)
	})
}

// =====================================
// Тесты переходов состояния (§4.1, инварианты I3/I4)
// =====================================

func TestOrder_Pay(t *testing.T) {
	tests := []struct {
		name        string
		from        OrderStatus
		expectedErr error
	}{
		{"PENDING -> PAID", OrderStatusPending, nil},
		{"PAID не может быть оплачен повторно", OrderStatusPaid, ErrIllegalTransition},
		{"APPROVED поглощающее состояние", OrderStatusApproved, ErrIllegalTransition},
		{"CANCELLED поглощающее состояние", OrderStatusCancelled, ErrIllegalTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Status: tt.from}
			err := o.Pay()
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Equal(t, tt.from, o.Status)
			} else {
				require.NoError(t, err)
				assert.Equal(t, OrderStatusPaid, o.Status)
			}
		})
	}
}

func TestOrder_Approve(t *testing.T) {
	o := &Order{Status: OrderStatusPaid}
	require.NoError(t, o.Approve())
	assert.Equal(t, OrderStatusApproved, o.Status)
	assert.True(t, o.IsTerminal())

	// Поглощающее состояние: повторный Approve запрещён (I4).
	err := o.Approve()
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestOrder_InitCancel(t *testing.T) {
	t.Run("из PENDING сразу в CANCELLED", func(t *testing.T) {
		o := &Order{Status: OrderStatusPending}
		require.NoError(t, o.InitCancel([]string{"платёж отклонён"}))
		assert.Equal(t, OrderStatusCancelled, o.Status)
		assert.Equal(t, []string{"платёж отклонён"}, o.FailureMessages)
	})

	t.Run("из PAID в промежуточное CANCELLING", func(t *testing.T) {
		o := &Order{Status: OrderStatusPaid}
		require.NoError(t, o.InitCancel([]string{"товар недоступен"}))
		assert.Equal(t, OrderStatusCancelling, o.Status)
	})

	t.Run("из APPROVED запрещено (I4)", func(t *testing.T) {
		o := &Order{Status: OrderStatusApproved}
		err := o.InitCancel(nil)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

func TestOrder_Cancel(t *testing.T) {
	o := &Order{Status: OrderStatusCancelling, FailureMessages: []string{"a"}}
	require.NoError(t, o.Cancel([]string{"b"}))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.Equal(t, []string{"a", "b"}, o.FailureMessages)
	assert.True(t, o.IsTerminal())

	// Повторная отмена запрещена — CANCELLED поглощающее.
	err := o.Cancel([]string{"c"})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestOrder_AppendFailures_SetSemantics(t *testing.T) {
	o := &Order{Status: OrderStatusPending}
	require.NoError(t, o.InitCancel([]string{"дубликат", "дубликат", "уникальная"}))
	assert.Equal(t, []string{"дубликат", "уникальная"}, o.FailureMessages)

	// Добавление пустого списка идемпотентно: ничего не меняется.
	o.Status = OrderStatusCancelling
	require.NoError(t, func() error {
		o.appendFailures(nil)
		return nil
	}())
	assert.Equal(t, []string{"дубликат", "уникальная"}, o.FailureMessages)
}
