package service

import "github.com/utafrali/LoyaltyGo/internal/domain"

var templates = []domain.Template{
	{
		ID:                 "welcome-bonus",
		Name:               "Приветственный бонус",
		Description:        "Баллы новым клиентам за первую покупку",
		Kind:               domain.KindVoucher,
		ValueType:          domain.ValuePoints,
		Value:              100,
		Quantity:           100,
		ValidityDays:       30,
		MaxUsesPerCustomer: 1,
	},
	{
		ID:                 "birthday-gift",
		Name:               "Подарок на день рождения",
		Description:        "Бонусные баллы в день рождения клиента",
		Kind:               domain.KindVoucher,
		ValueType:          domain.ValuePoints,
		Value:              500,
		Quantity:           50,
		ValidityDays:       7,
		MaxUsesPerCustomer: 1,
	},
	{
		ID:                 "percent-discount",
		Name:               "Скидка 10%",
		Description:        "Процентная скидка на покупку",
		Kind:               domain.KindCoupon,
		ValueType:          domain.ValuePercent,
		Value:              10,
		Quantity:           200,
		ValidityDays:       14,
		MaxUsesPerCustomer: 1,
	},
	{
		ID:                 "fixed-discount",
		Name:               "Скидка 300 ₽",
		Description:        "Фиксированная скидка на покупку",
		Kind:               domain.KindCoupon,
		ValueType:          domain.ValueFixedAmount,
		Value:              300,
		Quantity:           100,
		ValidityDays:       30,
		MaxUsesPerCustomer: 1,
	},
	{
		ID:                 "gift-card-500",
		Name:               "Подарочная карта на 500 баллов",
		Kind:               domain.KindGiftCard,
		ValueType:          domain.ValuePoints,
		Value:              500,
		Quantity:           1,
		ValidityDays:       365,
		MaxUsesPerCustomer: 1,
	},
	{
		ID:                 "gift-card-1000",
		Name:               "Подарочная карта на 1000 баллов",
		Kind:               domain.KindGiftCard,
		ValueType:          domain.ValuePoints,
		Value:              1000,
		Quantity:           1,
		ValidityDays:       365,
		MaxUsesPerCustomer: 1,
	},
}

// Templates returns the starter campaign presets.
func (s *VoucherService) Templates() []domain.Template {
	out := make([]domain.Template, len(templates))
	copy(out, templates)
	return out
}
