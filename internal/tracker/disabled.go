package tracker

import (
	"context"
	"errors"

	"findout-affiliate/internal/model"

	"github.com/shopspring/decimal"
)

var errStorageDisabled = errors.New("存储未启用")

// disabledLedger 未配置账本时使用，所有写入都失败，由调用方吞掉
type disabledLedger struct{}

func (disabledLedger) SaveClick(context.Context, *model.ClickEvent) error {
	return errStorageDisabled
}

func (disabledLedger) FindClick(context.Context, string) (*model.ClickEvent, error) {
	return nil, errStorageDisabled
}

func (disabledLedger) MarkConverted(context.Context, string, *model.Conversion) error {
	return errStorageDisabled
}

func (disabledLedger) AddEarnings(context.Context, string, decimal.Decimal) error {
	return errStorageDisabled
}

func (disabledLedger) GetEarnings(_ context.Context, userID string) (model.EarningsLedger, error) {
	return model.EarningsLedger{UserID: userID}, errStorageDisabled
}

func (disabledLedger) RecordPayout(context.Context, string, decimal.Decimal) (*model.Payout, error) {
	return nil, errStorageDisabled
}
