package repository

import (
	"context"
	"errors"

	"github.com/eidos-exchange/eidos/eidos-campaign/internal/model"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountRepository 账户仓储接口
type AccountRepository interface {
	// Ensure 账户不存在时创建，返回是否新建
	Ensure(ctx context.Context, account *model.Account) (bool, error)
	GetByAddress(ctx context.Context, address string) (*model.Account, error)
	Count(ctx context.Context) (int64, error)
}

type accountRepository struct {
	*Repository
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{
		Repository: NewRepository(db),
	}
}

func (r *accountRepository) Ensure(ctx context.Context, account *model.Account) (bool, error) {
	return insertIgnore(r.DB(ctx), account)
}

func (r *accountRepository) GetByAddress(ctx context.Context, address string) (*model.Account, error) {
	var account model.Account
	err := r.DB(ctx).Where("address = ?", address).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&model.Account{}).Count(&n).Error
	return n, err
}
